// Package registry defines the keyed store of in-flight operation records.
// It is the single source of truth for "is X loading": controllers write
// records into it, views and the aggregator subscribe to changes.
package registry

import (
	"time"

	"github.com/salerhq/optrack/internal/model"
)

// EventKind is the kind of store mutation an event describes.
type EventKind string

const (
	// EventKindSet indicates a record was created or merged.
	EventKindSet EventKind = "set"
	// EventKindRemove indicates a record was deleted.
	EventKindRemove EventKind = "remove"
)

// Event describes one store mutation. Operation is a snapshot of the record
// after the mutation (for removals, the record as it was just before).
type Event struct {
	Kind      EventKind
	Key       string
	Operation model.Operation
}

// Patch is a partial operation record. Nil fields are left untouched, set
// fields win over the stored value (last write wins per field within one Set).
type Patch struct {
	Type       *model.OperationType
	Status     *model.OperationStatus
	Progress   *int
	Message    *string
	Error      *string
	ErrorKind  *model.ErrorKind
	Priority   *model.OperationPriority
	RetryCount *int
	MaxRetries *int
	Timeout    *time.Duration
	StartedAt  *time.Time
}

// Store is the operation registry contract.
//
// Mutations never block on subscriber work for correctness: events are
// delivered synchronously, in mutation order, and subscribers receive every
// mutation of every key (they filter the keys they care about themselves).
type Store interface {
	// Set merges the patch into the keyed record, creating it if absent, and
	// notifies subscribers.
	Set(key string, patch Patch) error
	// Get returns a copy of the keyed record. ok is false when the key is not
	// tracked (absence is a normal state, not an error).
	Get(key string) (op *model.Operation, ok bool)
	// IsActive returns true if the keyed record exists and is running.
	IsActive(key string) bool
	// Remove deletes the keyed record and notifies subscribers. Removing an
	// absent key is a no-op, so teardown paths stay idempotent.
	Remove(key string)
	// Snapshot returns a copy of every tracked record.
	Snapshot() []model.Operation
	// Len returns the number of tracked records.
	Len() int
	// Subscribe registers a callback fired on every mutation. The returned
	// function unregisters it, subscribers must call it on teardown.
	Subscribe(fn func(Event)) (unsubscribe func())
}
