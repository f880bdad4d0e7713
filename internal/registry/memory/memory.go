package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
)

// StoreConfig is the configuration for the memory store.
type StoreConfig struct {
	Logger log.Logger
	// Now is the clock used to stamp record updates.
	Now func() time.Time
}

func (c *StoreConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "registry.Memory"})

	if c.Now == nil {
		c.Now = time.Now
	}

	return nil
}

type subscriber struct {
	id int
	fn func(registry.Event)
}

// Store is an in-memory implementation of registry.Store.
type Store struct {
	ops    map[string]model.Operation
	subs   []subscriber
	subSeq int

	// Mutations append their event here and a single goroutine drains it, so
	// subscribers always observe events in mutation order and callbacks that
	// mutate the store again don't deadlock.
	queue    []registry.Event
	draining bool

	mu     sync.RWMutex
	now    func() time.Time
	logger log.Logger
}

// NewStore creates a new memory store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Store{
		ops:    make(map[string]model.Operation),
		now:    cfg.Now,
		logger: cfg.Logger,
	}, nil
}

var _ registry.Store = (*Store)(nil)

// Set merges the patch into the keyed record, creating it if absent. New
// records start idle with medium priority. The merged record is validated
// before being stored, an invalid patch leaves the store untouched.
func (s *Store) Set(key string, patch registry.Patch) error {
	if key == "" {
		return fmt.Errorf("operation key is required: %w", model.ErrNotValid)
	}

	s.mu.Lock()

	op, ok := s.ops[key]
	if !ok {
		op = model.Operation{
			Key:      key,
			Status:   model.OperationStatusIdle,
			Priority: model.OperationPriorityMedium,
		}
	}
	applyPatch(&op, patch)
	op.UpdatedAt = s.now().UTC()

	if err := op.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid operation: %w", err)
	}

	s.ops[key] = op
	s.logger.Debugf("Set operation %q (status %s)", key, op.Status)
	s.queue = append(s.queue, registry.Event{Kind: registry.EventKindSet, Key: key, Operation: op})
	s.dispatchLocked()

	return nil
}

// Get retrieves an operation by key.
func (s *Store) Get(key string) (*model.Operation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[key]
	if !ok {
		return nil, false
	}

	// Return a copy
	opCopy := op
	return &opCopy, true
}

// IsActive returns true if the keyed operation exists and is running.
func (s *Store) IsActive(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[key]
	return ok && op.Status == model.OperationStatusRunning
}

// Remove deletes an operation. Removing an absent key is a no-op.
func (s *Store) Remove(key string) {
	s.mu.Lock()

	op, ok := s.ops[key]
	if !ok {
		s.mu.Unlock()
		return
	}

	delete(s.ops, key)
	s.logger.Debugf("Removed operation %q", key)
	s.queue = append(s.queue, registry.Event{Kind: registry.EventKindRemove, Key: key, Operation: op})
	s.dispatchLocked()
}

// Snapshot returns all tracked operations.
func (s *Store) Snapshot() []model.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops := make([]model.Operation, 0, len(s.ops))
	for _, op := range s.ops {
		ops = append(ops, op)
	}

	return ops
}

// Len returns the number of tracked operations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.ops)
}

// Subscribe registers a change callback and returns its unsubscribe function.
func (s *Store) Subscribe(fn func(registry.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subSeq++
	id := s.subSeq
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// dispatchLocked delivers queued events in order. It must be called with the
// write lock held and returns with it released. Only the first goroutine to
// enter drains, later mutations (including ones made by subscriber callbacks)
// just enqueue and let the active drainer deliver them.
func (s *Store) dispatchLocked() {
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		subs := make([]subscriber, len(s.subs))
		copy(subs, s.subs)

		// Callbacks run without the lock so they can read or mutate the store.
		s.mu.Unlock()
		for _, sub := range subs {
			sub.fn(ev)
		}
		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}

func applyPatch(op *model.Operation, p registry.Patch) {
	if p.Type != nil {
		op.Type = *p.Type
	}
	if p.Status != nil {
		op.Status = *p.Status
	}
	if p.Progress != nil {
		op.Progress = *p.Progress
	}
	if p.Message != nil {
		op.Message = *p.Message
	}
	if p.Error != nil {
		op.Error = *p.Error
	}
	if p.ErrorKind != nil {
		op.ErrorKind = *p.ErrorKind
	}
	if p.Priority != nil {
		op.Priority = *p.Priority
	}
	if p.RetryCount != nil {
		op.RetryCount = *p.RetryCount
	}
	if p.MaxRetries != nil {
		op.MaxRetries = *p.MaxRetries
	}
	if p.Timeout != nil {
		op.Timeout = *p.Timeout
	}
	if p.StartedAt != nil {
		op.StartedAt = *p.StartedAt
	}
}
