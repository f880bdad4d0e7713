package lib

import (
	"context"
	"fmt"

	"github.com/salerhq/optrack/internal/boundary"
	"github.com/salerhq/optrack/internal/model"
)

// BoundaryOpts configures a failure boundary.
type BoundaryOpts struct {
	// Tier places the boundary in the hierarchy. Required.
	Tier BoundaryTier

	// Path identifies the guarded subtree in failure records, outermost first
	// (e.g. "app/leads-panel"). Defaults to the tier name.
	Path string

	// Render builds the guarded subtree. Required. Returning an error (or
	// panicking) means the construction failed and the boundary decides what
	// happens.
	Render func(ctx context.Context) (string, error)

	// MaxRetries bounds reconstruction attempts after a catch. Zero (default)
	// means the first catch already exhausts the boundary.
	MaxRetries int

	// RetryPolicy overrides the client's retry policy for this boundary.
	RetryPolicy *RetryPolicy

	// Fallback renders the substitute view once retries are exhausted. A
	// boundary without one escalates the failure out of Render instead.
	// Defaults to a per-tier message.
	Fallback func(rec FailureRecord) string

	// NoFallback disables the default fallback so exhaustion escalates.
	NoFallback bool

	// OnError reports every caught failure, on top of the automatic capture
	// into the client's error archive. It must not call back into the
	// boundary.
	OnError func(rec FailureRecord)

	// OnDiscard runs after a catch, before the subtree is reconstructed. This
	// is the place to cancel operations owned by the discarded subtree.
	OnDiscard func()
}

// Boundary is one failure containment tier instance. Tiers nest from network
// (outermost) through application down to component: create one boundary per
// guarded subtree and call the inner boundary's Render from the outer one's
// Render function.
//
// Render runs the try/reconstruct loop in the calling goroutine, state
// accessors are safe to use from others. Render itself is not meant to be
// called concurrently.
type Boundary struct {
	b *boundary.Boundary
}

// NewBoundary creates a failure boundary wired into the client: every caught
// failure is archived, and network tier boundaries suspend their retries
// while the client's connectivity probe reports offline.
func (c *Client) NewBoundary(opts BoundaryOpts) (*Boundary, error) {
	var renderer boundary.Renderer
	if opts.Render != nil {
		renderer = boundary.RendererFunc(opts.Render)
	}

	policy := c.policy
	if opts.RetryPolicy != nil {
		policy = toInternalRetryPolicy(*opts.RetryPolicy)
	}

	var fallback func(rec model.FailureRecord) string
	if opts.Fallback != nil {
		userFallback := opts.Fallback
		fallback = func(rec model.FailureRecord) string {
			return userFallback(fromInternalFailureRecord(rec))
		}
	}

	userOnError := opts.OnError
	onError := func(rec model.FailureRecord) {
		_, err := c.capture.CaptureFailure(context.Background(), rec)
		if err != nil {
			c.logger.Errorf("Could not archive failure of %q: %s", rec.ComponentPath, err)
		}
		if userOnError != nil {
			userOnError(fromInternalFailureRecord(rec))
		}
	}

	var conn boundary.Connectivity
	if c.watcher != nil && opts.Tier == BoundaryTierNetwork {
		conn = c.watcher
	}

	b, err := boundary.NewBoundary(boundary.BoundaryConfig{
		Tier:         model.BoundaryTier(opts.Tier),
		Path:         opts.Path,
		Renderer:     renderer,
		MaxRetries:   opts.MaxRetries,
		Policy:       policy,
		Fallback:     fallback,
		NoFallback:   opts.NoFallback,
		OnError:      onError,
		OnDiscard:    opts.OnDiscard,
		Connectivity: conn,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create boundary: %w", err))
	}

	return &Boundary{b: b}, nil
}

// Render builds the guarded subtree, catching failures and retrying per the
// boundary's policy. It returns the subtree output, the fallback view once
// retries are exhausted, or the escalated failure when the boundary has no
// fallback. Cancelling the context stops the loop with the context's error.
func (b *Boundary) Render(ctx context.Context) (string, error) {
	return b.b.Render(ctx)
}

// Reset re-arms an exhausted boundary: the failure record is dismissed and
// the retry budget starts over. This is the "try again" action after
// exhaustion.
func (b *Boundary) Reset() {
	b.b.Reset()
}

// Tier returns the boundary's tier.
func (b *Boundary) Tier() BoundaryTier {
	return BoundaryTier(b.b.Tier())
}

// State returns the current boundary state.
func (b *Boundary) State() BoundaryState {
	return BoundaryState(b.b.State())
}

// Failure returns a copy of the current failure record, nil while healthy.
func (b *Boundary) Failure() *FailureRecord {
	rec := b.b.Failure()
	if rec == nil {
		return nil
	}

	out := fromInternalFailureRecord(*rec)
	return &out
}

// Suspended returns true while retries are held back waiting for
// connectivity.
func (b *Boundary) Suspended() bool {
	return b.b.Suspended()
}

// FallbackView renders the fallback for the current failure, for displays
// that want to show it while the boundary is still retrying. Empty when
// healthy or when the boundary escalates instead of falling back.
func (b *Boundary) FallbackView() string {
	return b.b.FallbackView()
}
