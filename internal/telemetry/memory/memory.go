// Package memory implements a bounded in-memory error event archive.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/telemetry"
)

const defaultMaxEvents = 1000

// StoreConfig is the configuration of Store.
type StoreConfig struct {
	// MaxEvents bounds the archive. Inserting past the bound evicts the
	// oldest resolved event, or the oldest event outright when none are
	// resolved.
	MaxEvents int
	Logger    log.Logger
}

func (c *StoreConfig) defaults() error {
	if c.MaxEvents < 0 {
		return fmt.Errorf("max events must be positive")
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = defaultMaxEvents
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "telemetry.Memory"})

	return nil
}

// Store is a bounded in-memory telemetry.Store. Safe for concurrent use.
type Store struct {
	maxEvents int
	events    map[string]model.ErrorEvent // Keyed by event ID.
	byFinger  map[string]string           // Fingerprint to event ID.
	mu        sync.RWMutex
	logger    log.Logger
}

// NewStore returns a new in-memory error event store.
func NewStore(cfg StoreConfig) (*Store, error) {
	err := cfg.defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Store{
		maxEvents: cfg.MaxEvents,
		events:    map[string]model.ErrorEvent{},
		byFinger:  map[string]string{},
		logger:    cfg.Logger,
	}, nil
}

// Upsert archives a new occurrence, folding it into the existing event with
// the same fingerprint when there is one.
func (s *Store) Upsert(_ context.Context, event model.ErrorEvent) (*model.ErrorEvent, error) {
	err := event.Validate()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byFinger[event.Fingerprint]; ok {
		merged := telemetry.MergeOccurrence(s.events[id], event)
		s.events[id] = merged
		return &merged, nil
	}

	if len(s.events) >= s.maxEvents {
		s.evictLocked()
	}

	s.events[event.ID] = event
	s.byFinger[event.Fingerprint] = event.ID

	s.logger.Debugf("Archived error event: %s", event.ID)
	return &event, nil
}

// Get retrieves an event by ID.
func (s *Store) Get(_ context.Context, id string) (*model.ErrorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("error event %s: %w", id, model.ErrNotFound)
	}

	return &event, nil
}

// List returns all archived events, most recently seen first.
func (s *Store) List(_ context.Context) ([]model.ErrorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]model.ErrorEvent, 0, len(s.events))
	for _, event := range s.events {
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].LastSeenAt.Equal(events[j].LastSeenAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].LastSeenAt.After(events[j].LastSeenAt)
	})

	return events, nil
}

// Resolve marks an event as resolved.
func (s *Store) Resolve(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return fmt.Errorf("error event %s: %w", id, model.ErrNotFound)
	}

	event.Resolved = true
	s.events[id] = event

	s.logger.Debugf("Resolved error event: %s", id)
	return nil
}

// Purge removes events last seen before the cutoff.
func (s *Store) Purge(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, event := range s.events {
		if event.LastSeenAt.Before(before) {
			delete(s.events, id)
			delete(s.byFinger, event.Fingerprint)
			removed++
		}
	}

	s.logger.Debugf("Purged %d error events", removed)
	return removed, nil
}

// Len returns the number of archived events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events)
}

// evictLocked frees one slot. Resolved events go first, oldest last seen
// wins; when everything is unresolved the oldest event goes regardless.
func (s *Store) evictLocked() {
	victim := ""
	victimResolved := false
	var victimSeen time.Time

	for id, event := range s.events {
		older := victim == "" || event.LastSeenAt.Before(victimSeen)
		switch {
		case event.Resolved && !victimResolved:
			victim, victimResolved, victimSeen = id, true, event.LastSeenAt
		case event.Resolved == victimResolved && older:
			victim, victimResolved, victimSeen = id, event.Resolved, event.LastSeenAt
		}
	}

	if victim == "" {
		return
	}

	delete(s.byFinger, s.events[victim].Fingerprint)
	delete(s.events, victim)
	s.logger.Debugf("Evicted error event to stay within %d events: %s", s.maxEvents, victim)
}
