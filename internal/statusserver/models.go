package statusserver

import (
	"time"

	"github.com/salerhq/optrack/internal/model"
)

// HealthResponse is the payload of GET /healthz.
type HealthResponse struct {
	// Status is the worst check status: ok, warning or error.
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// CheckResult is one health check in API payloads.
type CheckResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusResponse is the payload of GET /status.
type StatusResponse struct {
	GlobalLoading bool           `json:"global_loading"`
	Counts        map[string]int `json:"counts"`
	Operations    []Operation    `json:"operations"`
}

// Operation is a tracked operation record in API payloads.
type Operation struct {
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
	TimeoutMS  int64     `json:"timeout_ms,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrorsResponse is the payload of GET /errors.
type ErrorsResponse struct {
	Events []ErrorEvent `json:"events"`
}

// ErrorEvent is an archived error event in API payloads.
type ErrorEvent struct {
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

func toCheckResult(res model.CheckResult) CheckResult {
	return CheckResult{
		ID:      res.ID,
		Status:  string(res.Status),
		Message: res.Message,
	}
}

func toOperation(op model.Operation) Operation {
	return Operation{
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
		TimeoutMS:  op.Timeout.Milliseconds(),
		StartedAt:  op.StartedAt.UTC(),
		UpdatedAt:  op.UpdatedAt.UTC(),
	}
}

// ToModel converts the payload record back into the domain record, for
// clients that render remote state through the regular printers.
func (o Operation) ToModel() model.Operation {
	return model.Operation{
		Key:        o.Key,
		Type:       model.OperationType(o.Type),
		Status:     model.OperationStatus(o.Status),
		Progress:   o.Progress,
		Message:    o.Message,
		Error:      o.Error,
		ErrorKind:  model.ErrorKind(o.ErrorKind),
		Priority:   model.OperationPriority(o.Priority),
		RetryCount: o.RetryCount,
		MaxRetries: o.MaxRetries,
		Timeout:    time.Duration(o.TimeoutMS) * time.Millisecond,
		StartedAt:  o.StartedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func toErrorEvent(event model.ErrorEvent) ErrorEvent {
	return ErrorEvent{
		ID:            event.ID,
		Fingerprint:   event.Fingerprint,
		Kind:          string(event.Kind),
		Source:        event.Source,
		Severity:      string(event.Severity),
		Message:       event.Message,
		ComponentPath: event.ComponentPath,
		Count:         event.Count,
		FirstSeenAt:   event.FirstSeenAt.UTC(),
		LastSeenAt:    event.LastSeenAt.UTC(),
		Resolved:      event.Resolved,
	}
}

// ToModel converts the payload event back into the domain event.
func (e ErrorEvent) ToModel() model.ErrorEvent {
	return model.ErrorEvent{
		ID:            e.ID,
		Fingerprint:   e.Fingerprint,
		Kind:          model.ErrorKind(e.Kind),
		Source:        e.Source,
		Severity:      model.ErrorSeverity(e.Severity),
		Message:       e.Message,
		ComponentPath: e.ComponentPath,
		Count:         e.Count,
		FirstSeenAt:   e.FirstSeenAt,
		LastSeenAt:    e.LastSeenAt,
		Resolved:      e.Resolved,
	}
}
