package model

import (
	"fmt"
	"time"
)

// OperationStatus represents the lifecycle state of a tracked operation.
type OperationStatus string

const (
	// OperationStatusIdle indicates the operation is known but not started.
	OperationStatusIdle OperationStatus = "idle"
	// OperationStatusRunning indicates the operation is in flight.
	OperationStatusRunning OperationStatus = "running"
	// OperationStatusSucceeded indicates the operation finished successfully.
	OperationStatusSucceeded OperationStatus = "succeeded"
	// OperationStatusFailed indicates the operation failed. It may transition
	// back to running if a retry is granted.
	OperationStatusFailed OperationStatus = "failed"
	// OperationStatusTimedOut indicates the operation deadline expired before
	// completion. Terminal.
	OperationStatusTimedOut OperationStatus = "timed_out"
	// OperationStatusCancelled indicates the operation was cancelled by its
	// owner. Never persisted, cancelling removes the record instead.
	OperationStatusCancelled OperationStatus = "cancelled"
)

// Finished returns true when the status is past running (successfully or not).
func (s OperationStatus) Finished() bool {
	switch s {
	case OperationStatusSucceeded, OperationStatusFailed, OperationStatusTimedOut, OperationStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition returns true if the status transition is legal.
// The only way out of a finished status is failed -> running (retry).
func CanTransition(from, to OperationStatus) bool {
	switch from {
	case OperationStatusIdle:
		return to == OperationStatusRunning
	case OperationStatusRunning:
		return to.Finished()
	case OperationStatusFailed:
		return to == OperationStatusRunning
	default:
		return false
	}
}

// OperationType categorizes an operation. Informational only, it never
// changes tracking behavior.
type OperationType string

const (
	OperationTypeNetwork    OperationType = "network"
	OperationTypeFormSubmit OperationType = "form_submit"
	OperationTypeCompute    OperationType = "compute"
	OperationTypeWorkflow   OperationType = "workflow"
)

// OperationPriority drives the global loading summary: medium and high
// priority operations surface the blocking overlay, low ones don't.
type OperationPriority string

const (
	OperationPriorityLow    OperationPriority = "low"
	OperationPriorityMedium OperationPriority = "medium"
	OperationPriorityHigh   OperationPriority = "high"
)

var priorityRank = map[OperationPriority]int{
	OperationPriorityLow:    0,
	OperationPriorityMedium: 1,
	OperationPriorityHigh:   2,
}

// AtLeast returns true if the priority is equal or higher than min.
func (p OperationPriority) AtLeast(min OperationPriority) bool {
	return priorityRank[p] >= priorityRank[min]
}

// Operation is a tracked unit of asynchronous work, identified by a
// caller-chosen key. A key holds at most one active operation at a time.
type Operation struct {
	Key        string
	Type       OperationType
	Status     OperationStatus
	Progress   int // 0-100, never decreases within a running span.
	Message    string
	Error      string // last failure message, empty unless failed or timed out.
	ErrorKind  ErrorKind
	Priority   OperationPriority
	RetryCount int
	MaxRetries int
	Timeout    time.Duration // zero means no deadline.
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// Validate validates the operation record.
func (o *Operation) Validate() error {
	if o.Key == "" {
		return fmt.Errorf("key is required: %w", ErrNotValid)
	}
	if o.Progress < 0 || o.Progress > 100 {
		return fmt.Errorf("progress must be within 0-100: %w", ErrNotValid)
	}
	switch o.Status {
	case OperationStatusIdle, OperationStatusRunning, OperationStatusSucceeded,
		OperationStatusFailed, OperationStatusTimedOut, OperationStatusCancelled:
	default:
		return fmt.Errorf("unknown status %q: %w", o.Status, ErrNotValid)
	}
	if _, ok := priorityRank[o.Priority]; !ok {
		return fmt.Errorf("unknown priority %q: %w", o.Priority, ErrNotValid)
	}
	return nil
}
