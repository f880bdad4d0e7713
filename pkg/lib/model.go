package lib

import (
	"errors"
	"time"

	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
)

// Sentinel errors returned by the SDK. Inspect them with [errors.Is].
var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotValid is returned when an input or configuration is invalid.
	ErrNotValid = errors.New("not valid")
	// ErrAlreadyRunning is returned when starting a key that already holds an
	// active operation without requesting supersede.
	ErrAlreadyRunning = errors.New("operation already running")
	// ErrFinished is returned when a lifecycle call reaches an operation that
	// already settled.
	ErrFinished = errors.New("operation already finished")
	// ErrRetryExhausted is returned when no retry budget remains.
	ErrRetryExhausted = errors.New("retries exhausted")
)

// Failure taxonomy sentinels. Wrap one into the error your work function
// returns (fmt.Errorf with %w) so the failure classifies for retry and
// severity decisions. Unwrapped errors classify as [ErrorKindUnknown] and are
// never auto-retried.
var (
	// ErrNetwork marks a transport-level failure. Retryable.
	ErrNetwork = model.ErrNetwork
	// ErrValidation marks rejected input. Never retried.
	ErrValidation = model.ErrValidation
	// ErrTimeout marks a deadline expiry.
	ErrTimeout = model.ErrTimeout
	// ErrRender marks a failure raised while building a view subtree.
	ErrRender = model.ErrRender
)

// OperationStatus represents the lifecycle state of a tracked operation.
//
// The regular lifecycle is:
//
//	running -> succeeded | failed | timed_out | cancelled
//
// A failed operation transitions back to running when a retry is granted.
type OperationStatus string

const (
	// OperationStatusIdle indicates the operation is known but not started.
	OperationStatusIdle OperationStatus = "idle"
	// OperationStatusRunning indicates the operation is in flight.
	OperationStatusRunning OperationStatus = "running"
	// OperationStatusSucceeded indicates the operation finished successfully.
	OperationStatusSucceeded OperationStatus = "succeeded"
	// OperationStatusFailed indicates the operation failed terminally.
	OperationStatusFailed OperationStatus = "failed"
	// OperationStatusTimedOut indicates the deadline expired before completion.
	OperationStatusTimedOut OperationStatus = "timed_out"
	// OperationStatusCancelled indicates the operation was cancelled by its
	// owner.
	OperationStatusCancelled OperationStatus = "cancelled"
)

// OperationType categorizes an operation. Informational only, it never
// changes tracking behavior.
type OperationType string

const (
	// OperationTypeNetwork is a remote data fetch.
	OperationTypeNetwork OperationType = "network"
	// OperationTypeFormSubmit is a user-facing form submission.
	OperationTypeFormSubmit OperationType = "form_submit"
	// OperationTypeCompute is a local computation.
	OperationTypeCompute OperationType = "compute"
	// OperationTypeWorkflow is a multi-step background workflow.
	OperationTypeWorkflow OperationType = "workflow"
)

// OperationPriority drives the global loading summary: medium and high
// priority operations raise it, low ones don't.
type OperationPriority string

const (
	OperationPriorityLow    OperationPriority = "low"
	OperationPriorityMedium OperationPriority = "medium"
	OperationPriorityHigh   OperationPriority = "high"
)

// ErrorKind classifies a failure for retry and reporting decisions.
type ErrorKind string

const (
	// ErrorKindValidation is rejected input. Never retried.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindNetwork is a transport-level failure. Retried with backoff.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindTimeout is an exceeded deadline.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindRender is a failure raised while building a view subtree.
	ErrorKindRender ErrorKind = "render"
	// ErrorKindUnknown is anything unclassified. Never auto-retried.
	ErrorKindUnknown ErrorKind = "unknown"
)

// Operation is a read-only snapshot of a tracked operation at the time of
// the call.
type Operation struct {
	// Key is the caller-chosen identity. A key holds at most one active
	// operation at a time.
	Key string
	// Type is the informational category.
	Type OperationType
	// Status is the current lifecycle state.
	Status OperationStatus
	// Progress is 0-100. It never decreases within a running span.
	Progress int
	// Message is the current human-readable step description.
	Message string
	// Error is the last failure message. Empty unless failed or timed out.
	Error string
	// ErrorKind is the classified kind of the last failure.
	ErrorKind ErrorKind
	// Priority drives the global loading summary.
	Priority OperationPriority
	// RetryCount is the number of retries consumed so far.
	RetryCount int
	// MaxRetries bounds automatic retries.
	MaxRetries int
	// Timeout is the per-attempt deadline. Zero means none.
	Timeout time.Duration
	// StartedAt is when the current operation began.
	StartedAt time.Time
	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time
}

// Finished returns true when the operation reached a terminal status.
func (o Operation) Finished() bool {
	switch o.Status {
	case OperationStatusSucceeded, OperationStatusFailed, OperationStatusTimedOut, OperationStatusCancelled:
		return true
	}
	return false
}

// RetryStrategy selects how retry delays grow between attempts.
type RetryStrategy string

const (
	// RetryStrategyFixed waits the same delay before every retry.
	RetryStrategyFixed RetryStrategy = "fixed"
	// RetryStrategyExponential multiplies the delay on every retry, capped.
	RetryStrategyExponential RetryStrategy = "exponential"
)

// RetryPolicy describes how failures are retried. Delay computation is
// deterministic: same inputs, same delays.
type RetryPolicy struct {
	// Strategy selects the delay curve. Required.
	Strategy RetryStrategy
	// Delay is the constant wait for [RetryStrategyFixed].
	Delay time.Duration
	// Base, Multiplier and MaxDelay configure [RetryStrategyExponential]:
	// delay(n) = min(Base*Multiplier^(n-1), MaxDelay) for attempt n.
	Base       time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter is added to every computed delay.
	Jitter time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured:
// exponential backoff with 1s base, doubling, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return fromInternalRetryPolicy(model.DefaultRetryPolicy())
}

// BoundaryTier identifies a failure containment tier. Tiers nest from
// network (outermost) through application down to component.
type BoundaryTier string

const (
	BoundaryTierNetwork     BoundaryTier = "network"
	BoundaryTierApplication BoundaryTier = "application"
	BoundaryTierComponent   BoundaryTier = "component"
)

// BoundaryState represents the state machine of a failure boundary.
type BoundaryState string

const (
	// BoundaryStateHealthy means the last render succeeded.
	BoundaryStateHealthy BoundaryState = "healthy"
	// BoundaryStateCaught means a failure was just contained.
	BoundaryStateCaught BoundaryState = "caught"
	// BoundaryStateRetrying means the subtree is being reconstructed.
	BoundaryStateRetrying BoundaryState = "retrying"
	// BoundaryStateExhausted means retries ran out. Terminal until
	// [Boundary.Reset].
	BoundaryStateExhausted BoundaryState = "exhausted"
)

// FailureRecord describes a failure caught by a boundary.
type FailureRecord struct {
	// ID is the unique identifier (ULID) assigned at catch time.
	ID string
	// Kind is the classified failure kind.
	Kind ErrorKind
	// Message is the failure message.
	Message string
	// Tier is the tier of the catching boundary.
	Tier BoundaryTier
	// ComponentPath is the boundary path, outermost first.
	ComponentPath string
	// Attempts is the number of failed construction attempts observed so far.
	Attempts int
	// FirstSeenAt is when this failure was first caught.
	FirstSeenAt time.Time
	// LastSeenAt is when this failure was last caught.
	LastSeenAt time.Time
}

// ErrorSeverity grades a captured error for triage.
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// ErrorEvent is a captured error in the telemetry archive. Repeated captures
// of the same fingerprint bump Count and LastSeenAt instead of creating a
// new event.
type ErrorEvent struct {
	// ID is the unique identifier (ULID) assigned at first capture.
	ID string
	// Fingerprint groups equivalent errors (same kind, source and message).
	Fingerprint string
	// Kind is the classified failure kind.
	Kind ErrorKind
	// Source is the operation key or boundary component path that produced
	// the error.
	Source string
	// Severity is the triage grade.
	Severity ErrorSeverity
	// Message is the error message.
	Message string
	// ComponentPath is set when a boundary caught the error.
	ComponentPath string
	// Count is how many times this fingerprint was captured.
	Count int
	// FirstSeenAt is the first capture time.
	FirstSeenAt time.Time
	// LastSeenAt is the most recent capture time.
	LastSeenAt time.Time
	// Resolved marks the event as handled. Recapturing reopens it.
	Resolved bool
}

// EventKind identifies the kind of a registry change.
type EventKind string

const (
	// EventKindSet indicates a record was created or updated.
	EventKindSet EventKind = "set"
	// EventKindRemove indicates a record was deleted.
	EventKindRemove EventKind = "remove"
)

// Event describes one registry change delivered to subscribers. Operation is
// a snapshot of the record after the change (for removals, the record as it
// was just before).
type Event struct {
	Kind      EventKind
	Key       string
	Operation Operation
}

// CheckStatus represents the status of a preflight check.
type CheckStatus string

const (
	// CheckStatusOK indicates the check passed.
	CheckStatusOK CheckStatus = "ok"
	// CheckStatusWarning indicates the check passed with a warning.
	CheckStatusWarning CheckStatus = "warning"
	// CheckStatusError indicates the check failed.
	CheckStatusError CheckStatus = "error"
)

// CheckResult represents the result of a single preflight check.
type CheckResult struct {
	// ID is a unique identifier for the check (e.g. "data_dir").
	ID string
	// Message is a human-readable description of the result.
	Message string
	// Status is the check status.
	Status CheckStatus
}

func fromInternalOperation(op model.Operation) Operation {
	return Operation{
		Key:        op.Key,
		Type:       OperationType(op.Type),
		Status:     OperationStatus(op.Status),
		Progress:   op.Progress,
		Message:    op.Message,
		Error:      op.Error,
		ErrorKind:  ErrorKind(op.ErrorKind),
		Priority:   OperationPriority(op.Priority),
		RetryCount: op.RetryCount,
		MaxRetries: op.MaxRetries,
		Timeout:    op.Timeout,
		StartedAt:  op.StartedAt,
		UpdatedAt:  op.UpdatedAt,
	}
}

func fromInternalOperationList(ops []model.Operation) []Operation {
	result := make([]Operation, len(ops))
	for i, op := range ops {
		result[i] = fromInternalOperation(op)
	}
	return result
}

func toInternalRetryPolicy(p RetryPolicy) model.RetryPolicy {
	return model.RetryPolicy{
		Strategy:   model.RetryStrategy(p.Strategy),
		Delay:      p.Delay,
		Base:       p.Base,
		Multiplier: p.Multiplier,
		MaxDelay:   p.MaxDelay,
		Jitter:     p.Jitter,
	}
}

func fromInternalRetryPolicy(p model.RetryPolicy) RetryPolicy {
	return RetryPolicy{
		Strategy:   RetryStrategy(p.Strategy),
		Delay:      p.Delay,
		Base:       p.Base,
		Multiplier: p.Multiplier,
		MaxDelay:   p.MaxDelay,
		Jitter:     p.Jitter,
	}
}

func fromInternalFailureRecord(rec model.FailureRecord) FailureRecord {
	return FailureRecord{
		ID:            rec.ID,
		Kind:          ErrorKind(rec.Kind),
		Message:       rec.Message,
		Tier:          BoundaryTier(rec.Tier),
		ComponentPath: rec.ComponentPath,
		Attempts:      rec.Attempts,
		FirstSeenAt:   rec.FirstSeenAt,
		LastSeenAt:    rec.LastSeenAt,
	}
}

func fromInternalErrorEvent(event model.ErrorEvent) ErrorEvent {
	return ErrorEvent{
		ID:            event.ID,
		Fingerprint:   event.Fingerprint,
		Kind:          ErrorKind(event.Kind),
		Source:        event.Source,
		Severity:      ErrorSeverity(event.Severity),
		Message:       event.Message,
		ComponentPath: event.ComponentPath,
		Count:         event.Count,
		FirstSeenAt:   event.FirstSeenAt,
		LastSeenAt:    event.LastSeenAt,
		Resolved:      event.Resolved,
	}
}

func fromInternalErrorEventList(events []model.ErrorEvent) []ErrorEvent {
	result := make([]ErrorEvent, len(events))
	for i, event := range events {
		result[i] = fromInternalErrorEvent(event)
	}
	return result
}

func fromInternalEvent(ev registry.Event) Event {
	return Event{
		Kind:      EventKind(ev.Kind),
		Key:       ev.Key,
		Operation: fromInternalOperation(ev.Operation),
	}
}

func fromInternalCheckResults(results []model.CheckResult) []CheckResult {
	out := make([]CheckResult, len(results))
	for i, r := range results {
		out[i] = CheckResult{
			ID:      r.ID,
			Message: r.Message,
			Status:  CheckStatus(r.Status),
		}
	}
	return out
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case errors.Is(err, model.ErrAlreadyRunning):
		return joinErrors(err, ErrAlreadyRunning)
	case errors.Is(err, model.ErrFinished):
		return joinErrors(err, ErrFinished)
	case errors.Is(err, model.ErrRetryExhausted):
		return joinErrors(err, ErrRetryExhausted)
	case errors.Is(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	default:
		return err
	}
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

// mappedError surfaces a public sentinel through errors.Is while keeping the
// original message and chain intact.
type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
