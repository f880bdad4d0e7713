package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/salerhq/optrack/internal/model"
)

// JSONPrinter prints tracking state in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter returns a printer that emits machine-readable JSON.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// statusOutput represents the full status output.
type statusOutput struct {
	GlobalLoading bool            `json:"global_loading"`
	Counts        map[string]int  `json:"counts"`
	Operations    []operationItem `json:"operations"`
}

// operationItem represents a tracked operation in the output.
type operationItem struct {
	Key        string    `json:"key"`
	Type       string    `json:"type,omitempty"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Priority   string    `json:"priority"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// errorItem represents an archived error event in the output.
type errorItem struct {
	ID            string    `json:"id"`
	Fingerprint   string    `json:"fingerprint"`
	Kind          string    `json:"kind"`
	Source        string    `json:"source"`
	Severity      string    `json:"severity"`
	Message       string    `json:"message"`
	ComponentPath string    `json:"component_path,omitempty"`
	Count         int       `json:"count"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	Resolved      bool      `json:"resolved"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintStatus prints the loading summary and the tracked operations in JSON
// format.
func (j *JSONPrinter) PrintStatus(view StatusView) error {
	output := statusOutput{
		GlobalLoading: view.GlobalLoading,
		Counts:        make(map[string]int, len(view.Counts)),
		Operations:    make([]operationItem, 0, len(view.Operations)),
	}

	for priority, n := range view.Counts {
		output.Counts[string(priority)] = n
	}

	for _, op := range view.Operations {
		output.Operations = append(output.Operations, operationItem{
			Key:        op.Key,
			Type:       string(op.Type),
			Status:     string(op.Status),
			Progress:   op.Progress,
			Message:    op.Message,
			Error:      op.Error,
			ErrorKind:  string(op.ErrorKind),
			Priority:   string(op.Priority),
			RetryCount: op.RetryCount,
			MaxRetries: op.MaxRetries,
			StartedAt:  op.StartedAt.UTC(),
			UpdatedAt:  op.UpdatedAt.UTC(),
		})
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// PrintErrors prints archived error events in JSON format.
func (j *JSONPrinter) PrintErrors(events []model.ErrorEvent) error {
	items := make([]errorItem, len(events))
	for i, e := range events {
		items[i] = errorItem{
			ID:            e.ID,
			Fingerprint:   e.Fingerprint,
			Kind:          string(e.Kind),
			Source:        e.Source,
			Severity:      string(e.Severity),
			Message:       e.Message,
			ComponentPath: e.ComponentPath,
			Count:         e.Count,
			FirstSeenAt:   e.FirstSeenAt.UTC(),
			LastSeenAt:    e.LastSeenAt.UTC(),
			Resolved:      e.Resolved,
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintMessage wraps a plain confirmation in a JSON object.
func (j *JSONPrinter) PrintMessage(msg string) error {
	output := messageOutput{Message: msg}
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
