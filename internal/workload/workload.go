// Package workload defines simulated dashboard workloads: scripted
// operations with scripted failures, used to exercise the tracking and
// recovery machinery end to end.
package workload

import (
	"errors"
	"fmt"
	"time"

	"github.com/salerhq/optrack/internal/model"
)

// FailureMode selects how a workload misbehaves.
type FailureMode string

const (
	// FailureModeAttempts fails the first N attempts and then succeeds.
	FailureModeAttempts FailureMode = "fail_attempts"
	// FailureModeAlways fails every attempt.
	FailureModeAlways FailureMode = "always_fail"
	// FailureModePanic panics while building the view subtree, so the
	// workload runs under a failure boundary instead of a plain operation.
	FailureModePanic FailureMode = "panic_on_build"
)

// Failure scripts a workload's misbehavior.
type Failure struct {
	Mode FailureMode
	// Attempts is how many attempts fail before success, for fail_attempts.
	Attempts int
	// Kind classifies the scripted error. Empty means unclassified.
	Kind    model.ErrorKind
	Message string
}

// Validate validates the scripted failure.
func (f *Failure) Validate() error {
	switch f.Mode {
	case FailureModeAttempts:
		if f.Attempts < 1 {
			return fmt.Errorf("fail_attempts needs attempts >= 1: %w", model.ErrNotValid)
		}
	case FailureModeAlways, FailureModePanic:
	default:
		return fmt.Errorf("unknown failure mode %q: %w", f.Mode, model.ErrNotValid)
	}

	switch f.Kind {
	case "", model.ErrorKindValidation, model.ErrorKindNetwork, model.ErrorKindTimeout,
		model.ErrorKindRender, model.ErrorKindUnknown:
	default:
		return fmt.Errorf("unknown error kind %q: %w", f.Kind, model.ErrNotValid)
	}

	return nil
}

// ShouldFail returns true when the scripted failure applies to the given
// attempt, counted from 1. Panic mode never fails through here, it breaks the
// render instead.
func (f *Failure) ShouldFail(attempt int) bool {
	switch f.Mode {
	case FailureModeAlways:
		return true
	case FailureModeAttempts:
		return attempt <= f.Attempts
	default:
		return false
	}
}

// Err builds the scripted error, carrying the class sentinel that matches the
// configured kind so classification round-trips.
func (f *Failure) Err() error {
	msg := f.Message
	if msg == "" {
		msg = "scripted failure"
	}

	var sentinel error
	switch f.Kind {
	case model.ErrorKindValidation:
		sentinel = model.ErrValidation
	case model.ErrorKindNetwork:
		sentinel = model.ErrNetwork
	case model.ErrorKindTimeout:
		sentinel = model.ErrTimeout
	case model.ErrorKindRender:
		sentinel = model.ErrRender
	default:
		// Unclassified on purpose: exercises the unknown kind path.
		return errors.New(msg)
	}

	return fmt.Errorf("%s: %w", msg, sentinel)
}

// Step is a progress milestone the workload reports while running.
type Step struct {
	Percent int
	Message string
}

// Workload is one scripted unit of dashboard work.
type Workload struct {
	Name     string
	Key      string // operation key, defaults to Name.
	Type     model.OperationType
	Priority model.OperationPriority

	// Duration is how long a successful attempt takes, spread evenly over
	// the steps.
	Duration time.Duration
	Steps    []Step

	Timeout    time.Duration
	MaxRetries int
	Policy     *model.RetryPolicy

	Failure *Failure
}

// OperationKey returns the registry key the workload runs under.
func (w *Workload) OperationKey() string {
	if w.Key != "" {
		return w.Key
	}
	return w.Name
}

// Rendered returns true when the workload runs under a failure boundary
// instead of a plain tracked operation.
func (w *Workload) Rendered() bool {
	return w.Failure != nil && w.Failure.Mode == FailureModePanic
}

// Validate validates the workload.
func (w *Workload) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("name is required: %w", model.ErrNotValid)
	}
	if w.Duration < 0 {
		return fmt.Errorf("duration must not be negative: %w", model.ErrNotValid)
	}
	if w.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %w", model.ErrNotValid)
	}
	if w.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative: %w", model.ErrNotValid)
	}

	switch w.Type {
	case "", model.OperationTypeNetwork, model.OperationTypeFormSubmit,
		model.OperationTypeCompute, model.OperationTypeWorkflow:
	default:
		return fmt.Errorf("unknown operation type %q: %w", w.Type, model.ErrNotValid)
	}

	switch w.Priority {
	case "", model.OperationPriorityLow, model.OperationPriorityMedium, model.OperationPriorityHigh:
	default:
		return fmt.Errorf("unknown priority %q: %w", w.Priority, model.ErrNotValid)
	}

	prev := -1
	for _, s := range w.Steps {
		if s.Percent < 0 || s.Percent > 100 {
			return fmt.Errorf("step percent must be within 0-100: %w", model.ErrNotValid)
		}
		if s.Percent <= prev {
			return fmt.Errorf("step percents must be ascending: %w", model.ErrNotValid)
		}
		prev = s.Percent
	}

	if w.Policy != nil {
		if err := w.Policy.Validate(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	if w.Failure != nil {
		if err := w.Failure.Validate(); err != nil {
			return fmt.Errorf("failure: %w", err)
		}
	}

	return nil
}

// Scenario is a named set of workloads that run together.
type Scenario struct {
	Name      string
	Workloads []Workload
}

// Validate validates the scenario.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required: %w", model.ErrNotValid)
	}
	if len(s.Workloads) == 0 {
		return fmt.Errorf("at least one workload is required: %w", model.ErrNotValid)
	}

	seen := map[string]bool{}
	for i := range s.Workloads {
		w := &s.Workloads[i]
		if err := w.Validate(); err != nil {
			return fmt.Errorf("workload %q: %w", w.Name, err)
		}
		key := w.OperationKey()
		if seen[key] {
			return fmt.Errorf("duplicate workload key %q: %w", key, model.ErrNotValid)
		}
		seen[key] = true
	}

	return nil
}

// DefaultScenario returns the built-in sales dashboard scenario: a lead
// refresh that recovers after one network failure, an analytics rollup that
// times out, a form submit that fails validation, a pipeline sync that just
// works, and a revenue chart whose build panics until its boundary gives up.
func DefaultScenario() Scenario {
	return Scenario{
		Name: "dashboard",
		Workloads: []Workload{
			{
				Name:     "leads_refresh",
				Type:     model.OperationTypeNetwork,
				Priority: model.OperationPriorityHigh,
				Duration: 1200 * time.Millisecond,
				Steps: []Step{
					{Percent: 25, Message: "Contacting CRM"},
					{Percent: 60, Message: "Downloading lead pages"},
					{Percent: 90, Message: "Normalizing records"},
				},
				Timeout:    10 * time.Second,
				MaxRetries: 2,
				Failure: &Failure{
					Mode:     FailureModeAttempts,
					Attempts: 1,
					Kind:     model.ErrorKindNetwork,
					Message:  "fetch leads: upstream CRM unreachable",
				},
			},
			{
				Name:     "analytics_rollup",
				Type:     model.OperationTypeCompute,
				Priority: model.OperationPriorityMedium,
				Duration: 2 * time.Second,
				Steps: []Step{
					{Percent: 30, Message: "Aggregating deals"},
					{Percent: 70, Message: "Computing conversion rates"},
				},
				Timeout:    time.Second,
				MaxRetries: 1,
			},
			{
				Name:     "form_submit",
				Type:     model.OperationTypeFormSubmit,
				Priority: model.OperationPriorityMedium,
				Duration: 400 * time.Millisecond,
				Timeout:  5 * time.Second,
				// Validation failures never retry, whatever the budget says.
				MaxRetries: 3,
				Failure: &Failure{
					Mode:    FailureModeAlways,
					Kind:    model.ErrorKindValidation,
					Message: "save lead: email is required",
				},
			},
			{
				Name:     "pipeline_sync",
				Type:     model.OperationTypeWorkflow,
				Priority: model.OperationPriorityLow,
				Duration: 1500 * time.Millisecond,
				Steps: []Step{
					{Percent: 40, Message: "Diffing stages"},
					{Percent: 80, Message: "Applying moves"},
				},
				Timeout: 10 * time.Second,
			},
			{
				Name:       "revenue_chart",
				Priority:   model.OperationPriorityLow,
				Duration:   300 * time.Millisecond,
				MaxRetries: 1,
				Failure: &Failure{
					Mode:    FailureModePanic,
					Kind:    model.ErrorKindRender,
					Message: "revenue series is nil",
				},
			},
		},
	}
}
