// Package aggregator derives the global loading summary from the registry:
// whether anything important enough to block top-level chrome is running,
// and which operations are in flight.
package aggregator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
)

// Summary is the derived view over the registry's running operations.
type Summary struct {
	// GlobalLoading is true while any running operation has at least medium
	// priority. Low priority work never blocks global chrome.
	GlobalLoading bool
	// Active holds the running operations, sorted by key.
	Active []model.Operation
	// Counts holds the number of running operations per priority.
	Counts map[model.OperationPriority]int
}

// AggregatorConfig is the configuration for the aggregator.
type AggregatorConfig struct {
	Store  registry.Store
	Logger log.Logger
}

func (c *AggregatorConfig) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "aggregator.Aggregator"})

	return nil
}

// Aggregator keeps a Summary in sync with the registry. Recomputation is
// O(n) over tracked records on every registry mutation, n is bounded by the
// number of concurrent operations, not data volume.
type Aggregator struct {
	store  registry.Store
	logger log.Logger

	mu      sync.RWMutex
	summary Summary

	unsubscribe func()
	closeOnce   sync.Once
}

// NewAggregator creates an aggregator and subscribes it to the store. Close
// must be called to unsubscribe.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &Aggregator{
		store:  cfg.Store,
		logger: cfg.Logger,
	}

	// Operations started before the aggregator existed count too.
	a.recompute()
	a.unsubscribe = cfg.Store.Subscribe(func(registry.Event) { a.recompute() })

	return a, nil
}

// GlobalLoading returns true while anything of at least medium priority is
// running.
func (a *Aggregator) GlobalLoading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.summary.GlobalLoading
}

// Active returns the running operations, sorted by key.
func (a *Aggregator) Active() []model.Operation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	active := make([]model.Operation, len(a.summary.Active))
	copy(active, a.summary.Active)
	return active
}

// Summary returns a copy of the full derived summary.
func (a *Aggregator) Summary() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Summary{
		GlobalLoading: a.summary.GlobalLoading,
		Active:        make([]model.Operation, len(a.summary.Active)),
		Counts:        make(map[model.OperationPriority]int, len(a.summary.Counts)),
	}
	copy(s.Active, a.summary.Active)
	for p, n := range a.summary.Counts {
		s.Counts[p] = n
	}

	return s
}

// Close unsubscribes from the store. Idempotent.
func (a *Aggregator) Close() {
	a.closeOnce.Do(a.unsubscribe)
}

func (a *Aggregator) recompute() {
	summary := Summary{Counts: map[model.OperationPriority]int{}}

	for _, op := range a.store.Snapshot() {
		if op.Status != model.OperationStatusRunning {
			continue
		}

		summary.Active = append(summary.Active, op)
		summary.Counts[op.Priority]++
		if op.Priority.AtLeast(model.OperationPriorityMedium) {
			summary.GlobalLoading = true
		}
	}

	sort.Slice(summary.Active, func(i, j int) bool { return summary.Active[i].Key < summary.Active[j].Key })

	a.mu.Lock()
	a.summary = summary
	a.mu.Unlock()
}
