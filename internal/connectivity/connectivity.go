// Package connectivity watches whether the process can reach its backend.
// Probe results feed a circuit breaker: consecutive failures trip it and the
// process is considered offline until a probe succeeds again. Network tier
// failure boundaries subscribe to suspend retries while offline.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/salerhq/optrack/internal/log"
)

// WatcherConfig is the configuration for the watcher.
type WatcherConfig struct {
	// Target is the URL probed with an HTTP HEAD request. Ignored when a
	// custom Probe is set.
	Target string
	// Probe overrides the HTTP probe. It must return nil when the backend is
	// reachable.
	Probe func(ctx context.Context) error

	// Interval between probes.
	Interval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	// FailureThreshold is the number of consecutive probe failures that trips
	// the breaker into offline.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before allowing a
	// recovery probe.
	RecoveryTimeout time.Duration

	Logger log.Logger
}

func (c *WatcherConfig) defaults() error {
	if c.Probe == nil {
		if c.Target == "" {
			return fmt.Errorf("target or probe is required")
		}
		c.Probe = HTTPProbe(c.Target, c.ProbeTimeout)
	}

	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "connectivity.Watcher"})

	return nil
}

type subscriber struct {
	id int
	fn func(online bool)
}

// Watcher probes the backend on an interval and publishes online/offline
// transitions. It starts optimistic: online until the breaker trips.
type Watcher struct {
	probe    func(ctx context.Context) error
	breaker  *gobreaker.CircuitBreaker
	interval time.Duration
	logger   log.Logger

	mu     sync.Mutex
	online bool
	subs   []subscriber
	subSeq int
}

// NewWatcher creates a new watcher. Run must be called to start probing.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	threshold := uint32(cfg.FailureThreshold)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "connectivity",
		MaxRequests: 1,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Watcher{
		probe:    cfg.Probe,
		breaker:  breaker,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		online:   true,
	}, nil
}

// Run probes until the context is cancelled. The first probe happens
// immediately.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Infof("Connectivity watcher running (interval %s)", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Connectivity watcher stopped")
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Online returns the current connectivity verdict.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.online
}

// Subscribe registers a callback fired on every online/offline transition
// and returns its unsubscribe function. Callbacks run on the watcher's probe
// goroutine.
func (w *Watcher) Subscribe(fn func(online bool)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.subSeq++
	id := w.subSeq
	w.subs = append(w.subs, subscriber{id: id, fn: fn})

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		for i, sub := range w.subs {
			if sub.id == id {
				w.subs = append(w.subs[:i], w.subs[i+1:]...)
				return
			}
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	_, err := w.breaker.Execute(func() (interface{}, error) {
		return nil, w.probe(ctx)
	})
	if err != nil {
		w.logger.Debugf("Probe failed: %s", err)
	}

	// Online means the breaker is closed: failures below the threshold stay
	// optimistic, a half-open breaker stays offline until a probe succeeds.
	w.setOnline(w.breaker.State() == gobreaker.StateClosed)
}

func (w *Watcher) setOnline(online bool) {
	w.mu.Lock()
	if w.online == online {
		w.mu.Unlock()
		return
	}
	w.online = online
	subs := make([]subscriber, len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	if online {
		w.logger.Infof("Connectivity restored")
	} else {
		w.logger.Warningf("Connectivity lost")
	}

	for _, sub := range subs {
		sub.fn(online)
	}
}

// HTTPProbe builds the default probe: HEAD the target and treat any response
// below 500 as reachable (a 4xx still proves connectivity).
func HTTPProbe(target string, timeout time.Duration) func(ctx context.Context) error {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return fmt.Errorf("could not build probe request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("probe target unhealthy: %s", resp.Status)
		}

		return nil
	}
}
