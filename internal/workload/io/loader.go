package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/workload"
)

// ScenarioYAMLRepository loads workload scenarios from YAML files.
type ScenarioYAMLRepository struct {
	fs fs.FS
}

// NewScenarioYAMLRepository creates a new YAML scenario repository.
func NewScenarioYAMLRepository(filesystem fs.FS) *ScenarioYAMLRepository {
	return &ScenarioYAMLRepository{fs: filesystem}
}

// GetScenario loads a scenario from a YAML file and returns a validated domain model.
func (r *ScenarioYAMLRepository) GetScenario(ctx context.Context, path string) (workload.Scenario, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return workload.Scenario{}, fmt.Errorf("reading scenario file: %w", err)
	}

	if ctx.Err() != nil {
		return workload.Scenario{}, ctx.Err()
	}

	var scn Scenario
	if err := yaml.Unmarshal(data, &scn); err != nil {
		return workload.Scenario{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := scn.validate(); err != nil {
		return workload.Scenario{}, fmt.Errorf("invalid scenario: %w", err)
	}

	m := scn.toModel()
	if err := m.Validate(); err != nil {
		return workload.Scenario{}, fmt.Errorf("invalid scenario: %w", err)
	}

	return m, nil
}

// Scenario represents the YAML structure for a workload scenario.
type Scenario struct {
	Name      string     `yaml:"name"`
	Workloads []Workload `yaml:"workloads"`
}

// Workload represents the YAML structure for one scripted workload.
// Durations are Go duration strings ("400ms", "2s").
type Workload struct {
	Name       string       `yaml:"name"`
	Key        string       `yaml:"key"`
	Type       string       `yaml:"type"`
	Priority   string       `yaml:"priority"`
	Duration   string       `yaml:"duration"`
	Steps      []Step       `yaml:"steps"`
	Timeout    string       `yaml:"timeout"`
	MaxRetries int          `yaml:"max_retries"`
	Retry      *RetryPolicy `yaml:"retry,omitempty"`
	Failure    *Failure     `yaml:"failure,omitempty"`
}

// Step represents the YAML structure for a progress milestone.
type Step struct {
	Percent int    `yaml:"percent"`
	Message string `yaml:"message"`
}

// RetryPolicy represents the YAML structure for a retry policy override.
type RetryPolicy struct {
	Strategy   string  `yaml:"strategy"`
	Delay      string  `yaml:"delay"`
	Base       string  `yaml:"base"`
	Multiplier float64 `yaml:"multiplier"`
	MaxDelay   string  `yaml:"max_delay"`
	Jitter     string  `yaml:"jitter"`
}

// Failure represents the YAML structure for scripted misbehavior.
type Failure struct {
	Mode     string `yaml:"mode"`
	Attempts int    `yaml:"attempts"`
	Kind     string `yaml:"kind"`
	Message  string `yaml:"message"`
}

func (s Scenario) validate() error {
	for _, w := range s.Workloads {
		if err := w.validate(); err != nil {
			return fmt.Errorf("workload %q: %w", w.Name, err)
		}
	}
	return nil
}

func (w Workload) validate() error {
	if err := checkDuration("duration", w.Duration); err != nil {
		return err
	}
	if err := checkDuration("timeout", w.Timeout); err != nil {
		return err
	}

	if w.Retry != nil {
		if err := w.Retry.validate(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}
	return nil
}

func (p RetryPolicy) validate() error {
	if err := checkDuration("delay", p.Delay); err != nil {
		return err
	}
	if err := checkDuration("base", p.Base); err != nil {
		return err
	}
	if err := checkDuration("max_delay", p.MaxDelay); err != nil {
		return err
	}
	return checkDuration("jitter", p.Jitter)
}

func (s Scenario) toModel() workload.Scenario {
	scn := workload.Scenario{Name: s.Name}
	for _, w := range s.Workloads {
		scn.Workloads = append(scn.Workloads, w.toModel())
	}
	return scn
}

func (w Workload) toModel() workload.Workload {
	m := workload.Workload{
		Name:       w.Name,
		Key:        w.Key,
		Type:       model.OperationType(w.Type),
		Priority:   model.OperationPriority(w.Priority),
		Duration:   parseDuration(w.Duration),
		Timeout:    parseDuration(w.Timeout),
		MaxRetries: w.MaxRetries,
	}

	for _, s := range w.Steps {
		m.Steps = append(m.Steps, workload.Step{Percent: s.Percent, Message: s.Message})
	}

	if w.Retry != nil {
		m.Policy = &model.RetryPolicy{
			Strategy:   model.RetryStrategy(w.Retry.Strategy),
			Delay:      parseDuration(w.Retry.Delay),
			Base:       parseDuration(w.Retry.Base),
			Multiplier: w.Retry.Multiplier,
			MaxDelay:   parseDuration(w.Retry.MaxDelay),
			Jitter:     parseDuration(w.Retry.Jitter),
		}
	}

	if w.Failure != nil {
		m.Failure = &workload.Failure{
			Mode:     workload.FailureMode(w.Failure.Mode),
			Attempts: w.Failure.Attempts,
			Kind:     model.ErrorKind(w.Failure.Kind),
			Message:  w.Failure.Message,
		}
	}

	return m
}

func checkDuration(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// parseDuration converts an already validated duration string, empty meaning
// zero.
func parseDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
