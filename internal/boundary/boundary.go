// Package boundary implements failure containment tiers: supervisors that
// run view construction inside a guarded call, catch errors and panics from
// their direct subtree, and either reconstruct it with bounded retries or
// substitute a fallback view. Operation failures never travel through here,
// they are resolved on the operation records themselves.
package boundary

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/retry"
)

// Renderer builds a view subtree. Returning an error (or panicking) means
// the construction failed and the enclosing boundary decides what happens.
type Renderer interface {
	Render(ctx context.Context) (string, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context) (string, error)

func (f RendererFunc) Render(ctx context.Context) (string, error) { return f(ctx) }

// Connectivity is the slice of the connectivity watcher the network tier
// consumes to suspend retries while offline.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) func()
}

// BoundaryConfig is the configuration for a boundary.
type BoundaryConfig struct {
	// Tier places the boundary in the hierarchy. Required.
	Tier model.BoundaryTier
	// Path identifies the guarded subtree in failure records, outermost
	// first (e.g. "app/leads-panel"). Defaults to the tier name.
	Path string
	// Renderer is the guarded subtree. Required.
	Renderer Renderer

	// MaxRetries bounds reconstruction attempts after a catch.
	MaxRetries int
	// Policy is the retry policy. Empty means the shared default.
	Policy model.RetryPolicy
	// Fallback renders the tier's substitute view once retries are exhausted.
	// A boundary without one escalates the failure to its enclosing boundary
	// instead. Defaults to a per-tier message.
	Fallback func(rec model.FailureRecord) string
	// NoFallback disables the default fallback so exhaustion escalates.
	NoFallback bool

	// OnError reports every caught failure, typically into telemetry. It must
	// not call back into the boundary.
	OnError func(rec model.FailureRecord)
	// OnDiscard runs after a catch, before the subtree is reconstructed. This
	// is the place to cancel operations owned by the discarded subtree so
	// they don't leak into the registry as orphans.
	OnDiscard func()

	// Connectivity enables offline suspension. Only the network tier may set
	// it: while offline, retries wait without consuming attempts.
	Connectivity Connectivity

	Logger log.Logger
	Now    func() time.Time
}

func (c *BoundaryConfig) defaults() error {
	switch c.Tier {
	case model.BoundaryTierNetwork, model.BoundaryTierApplication, model.BoundaryTierComponent:
	default:
		return fmt.Errorf("unknown tier %q", c.Tier)
	}

	if c.Renderer == nil {
		return fmt.Errorf("renderer is required")
	}

	if c.Path == "" {
		c.Path = string(c.Tier)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}

	if c.Policy.Strategy == "" {
		c.Policy = model.DefaultRetryPolicy()
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}

	if c.Connectivity != nil && c.Tier != model.BoundaryTierNetwork {
		return fmt.Errorf("only the network tier watches connectivity")
	}

	if c.NoFallback {
		if c.Fallback != nil {
			return fmt.Errorf("fallback and no fallback are mutually exclusive")
		}
	} else if c.Fallback == nil {
		c.Fallback = defaultFallback(c.Tier)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "boundary.Boundary", "tier": string(c.Tier), "path": c.Path})

	if c.Now == nil {
		c.Now = time.Now
	}

	return nil
}

// Boundary is one containment tier instance. It owns its failure record
// exclusively.
//
// Render runs the try/reconstruct loop in the calling goroutine, state
// accessors are safe to use from others (e.g. a display loop). Render itself
// is not meant to be called concurrently.
type Boundary struct {
	tier         model.BoundaryTier
	path         string
	renderer     Renderer
	maxRetries   int
	policy       model.RetryPolicy
	fallback     func(rec model.FailureRecord) string
	onError      func(rec model.FailureRecord)
	onDiscard    func()
	connectivity Connectivity
	logger       log.Logger
	now          func() time.Time

	mu         sync.Mutex
	state      model.BoundaryState
	failure    *model.FailureRecord
	suspended  bool
	exhaustErr error
}

// NewBoundary creates a new boundary.
func NewBoundary(cfg BoundaryConfig) (*Boundary, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Boundary{
		tier:         cfg.Tier,
		path:         cfg.Path,
		renderer:     cfg.Renderer,
		maxRetries:   cfg.MaxRetries,
		policy:       cfg.Policy,
		fallback:     cfg.Fallback,
		onError:      cfg.OnError,
		onDiscard:    cfg.OnDiscard,
		connectivity: cfg.Connectivity,
		logger:       cfg.Logger,
		now:          cfg.Now,
		state:        model.BoundaryStateHealthy,
	}, nil
}

// Render builds the guarded subtree. On failure it catches, classifies,
// reports, and reconstructs the subtree with bounded retries. It returns the
// subtree's view on success, the fallback view once retries are exhausted,
// or an error when the boundary has no fallback and the failure escalates to
// the enclosing tier.
func (b *Boundary) Render(ctx context.Context) (string, error) {
	for {
		b.mu.Lock()
		if b.state == model.BoundaryStateExhausted {
			out, err := b.terminalView()
			b.mu.Unlock()
			return out, err
		}
		b.mu.Unlock()

		out, rerr := guardedRender(ctx, b.renderer)
		if rerr == nil {
			b.heal()
			return out, nil
		}
		if ctx.Err() != nil {
			// Cancellation is not a subtree failure.
			return "", ctx.Err()
		}

		rec := b.catchFailure(rerr)

		// Offline retries wait for the connection without consuming attempts.
		if err := b.awaitOnline(ctx); err != nil {
			return "", err
		}

		dec := retry.Decide(rec.Attempts-1, b.maxRetries, b.policy)
		if !dec.Retry {
			return b.exhaust(rerr, rec)
		}

		b.discard()
		b.setState(model.BoundaryStateRetrying)
		b.logger.Infof("Reconstructing subtree in %s (attempt %d/%d)", dec.Delay, rec.Attempts, b.maxRetries+1)
		if err := wait(ctx, dec.Delay); err != nil {
			return "", err
		}
	}
}

// Reset re-arms an exhausted boundary: the failure record is dismissed and
// the retry budget starts over. This is the "try again" action after
// exhaustion.
func (b *Boundary) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = model.BoundaryStateHealthy
	b.failure = nil
	b.exhaustErr = nil
	b.logger.Debugf("Boundary reset")
}

// Tier returns the boundary's tier.
func (b *Boundary) Tier() model.BoundaryTier { return b.tier }

// State returns the current supervisor state.
func (b *Boundary) State() model.BoundaryState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Failure returns a copy of the current failure record, nil while healthy.
func (b *Boundary) Failure() *model.FailureRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure == nil {
		return nil
	}
	rec := *b.failure
	return &rec
}

// Suspended returns true while retries are held back waiting for
// connectivity.
func (b *Boundary) Suspended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.suspended
}

// FallbackView renders the fallback for the current failure, for displays
// that want to show it while the boundary is still retrying. Empty when
// healthy or when the boundary escalates instead of falling back.
func (b *Boundary) FallbackView() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure == nil || b.fallback == nil {
		return ""
	}
	return b.fallback(*b.failure)
}

// catchFailure records a caught failure and reports it. Returns a copy of
// the record.
func (b *Boundary) catchFailure(rerr error) model.FailureRecord {
	now := b.now().UTC()

	b.mu.Lock()
	if b.failure == nil {
		b.failure = &model.FailureRecord{
			ID:            ulid.Make().String(),
			Tier:          b.tier,
			ComponentPath: b.path,
			FirstSeenAt:   now,
		}
	}
	b.failure.Kind = model.Classify(rerr)
	b.failure.Message = rerr.Error()
	b.failure.Attempts++
	b.failure.LastSeenAt = now
	b.state = model.BoundaryStateCaught
	rec := *b.failure
	b.mu.Unlock()

	b.logger.Warningf("Caught %s failure (attempt %d): %s", rec.Kind, rec.Attempts, rec.Message)

	if b.onError != nil {
		b.onError(rec)
	}

	return rec
}

// heal clears the failure after a successful construction.
func (b *Boundary) heal() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure != nil {
		b.logger.Infof("Subtree recovered after %d failed attempts", b.failure.Attempts)
	}
	b.state = model.BoundaryStateHealthy
	b.failure = nil
	b.exhaustErr = nil
}

// exhaust marks the boundary terminal: fallback view when it has one,
// escalation error otherwise.
func (b *Boundary) exhaust(rerr error, rec model.FailureRecord) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = model.BoundaryStateExhausted
	b.logger.Errorf("Retries exhausted after %d attempts: %s", rec.Attempts, rec.Message)

	if b.fallback != nil {
		return b.fallback(rec), nil
	}

	b.exhaustErr = fmt.Errorf("%s boundary %q exhausted after %d attempts: %w", b.tier, b.path, rec.Attempts, rerr)
	return "", b.exhaustErr
}

// terminalView is the result of rendering an exhausted boundary. Lock must
// be held.
func (b *Boundary) terminalView() (string, error) {
	if b.fallback != nil && b.failure != nil {
		return b.fallback(*b.failure), nil
	}
	return "", b.exhaustErr
}

// discard runs the orphan cleanup hook between a catch and the
// reconstruction of the subtree.
func (b *Boundary) discard() {
	if b.onDiscard != nil {
		b.onDiscard()
	}
}

// awaitOnline blocks while the watcher reports offline. No retry budget is
// consumed during the wait.
func (b *Boundary) awaitOnline(ctx context.Context) error {
	if b.connectivity == nil || b.connectivity.Online() {
		return nil
	}

	b.setSuspended(true)
	defer b.setSuspended(false)

	ch := make(chan struct{}, 1)
	unsubscribe := b.connectivity.Subscribe(func(online bool) {
		if online {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	// The connection may have come back between the check and the
	// subscription.
	if b.connectivity.Online() {
		return nil
	}

	b.logger.Infof("Offline, suspending retries until the connection is back")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		b.logger.Infof("Back online, resuming retries")
		return nil
	}
}

func (b *Boundary) setState(s model.BoundaryState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = s
}

func (b *Boundary) setSuspended(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.suspended = v
}

// guardedRender runs one construction attempt, turning panics into render
// errors so they classify and contain like any other subtree failure.
func guardedRender(ctx context.Context, r Renderer) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render panicked: %v: %w", rec, model.ErrRender)
		}
	}()

	return r.Render(ctx)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func defaultFallback(tier model.BoundaryTier) func(rec model.FailureRecord) string {
	switch tier {
	case model.BoundaryTierComponent:
		return func(rec model.FailureRecord) string {
			return "This section failed to load."
		}
	case model.BoundaryTierApplication:
		return func(rec model.FailureRecord) string {
			return "Something went wrong. Try reloading the page."
		}
	default:
		return func(rec model.FailureRecord) string {
			if rec.Kind == model.ErrorKindNetwork {
				return "You appear to be offline. We'll keep trying."
			}
			return "Something went wrong. Try reloading the page."
		}
	}
}
