package boundary_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salerhq/optrack/internal/boundary"
	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
)

// immediatePolicy retries without waiting so tests never sleep.
var immediatePolicy = model.RetryPolicy{Strategy: model.RetryStrategyFixed, Delay: 0}

// flakyRenderer fails its first failures renders, then succeeds.
type flakyRenderer struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (r *flakyRenderer) Render(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.calls <= r.failures {
		return "", r.err
	}
	return "lead table rendered", nil
}

func (r *flakyRenderer) rendered() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

// fakeConnectivity is a manually driven Connectivity implementation.
type fakeConnectivity struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

func (f *fakeConnectivity) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.online
}

func (f *fakeConnectivity) Subscribe(fn func(online bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeConnectivity) set(online bool) {
	f.mu.Lock()
	f.online = online
	subs := make([]func(bool), len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

func TestBoundaryRecovery(t *testing.T) {
	t.Run("A subtree failing once should end healthy with one retry budget", func(t *testing.T) {
		assert := assert.New(t)

		renderer := &flakyRenderer{failures: 1, err: fmt.Errorf("lead table build: %w", model.ErrRender)}
		b, err := boundary.NewBoundary(boundary.BoundaryConfig{
			Tier:       model.BoundaryTierComponent,
			Renderer:   renderer,
			MaxRetries: 1,
			Policy:     immediatePolicy,
			Logger:     log.Noop,
		})
		require.NoError(t, err)

		out, err := b.Render(context.Background())
		require.NoError(t, err)

		assert.Equal("lead table rendered", out)
		assert.Equal(model.BoundaryStateHealthy, b.State())
		assert.Nil(b.Failure())
		assert.Equal(2, renderer.rendered())
	})

	t.Run("A subtree that always fails with zero retries should stay in fallback without reconstruction", func(t *testing.T) {
		assert := assert.New(t)

		renderer := &flakyRenderer{failures: 100, err: fmt.Errorf("chart build: %w", model.ErrRender)}
		b, err := boundary.NewBoundary(boundary.BoundaryConfig{
			Tier:       model.BoundaryTierComponent,
			Renderer:   renderer,
			MaxRetries: 0,
			Policy:     immediatePolicy,
			Logger:     log.Noop,
		})
		require.NoError(t, err)

		out, err := b.Render(context.Background())
		require.NoError(t, err)
		assert.Equal("This section failed to load.", out)
		assert.Equal(model.BoundaryStateExhausted, b.State())
		assert.Equal(1, renderer.rendered())

		// Rendering again never reconstructs.
		out, err = b.Render(context.Background())
		require.NoError(t, err)
		assert.Equal("This section failed to load.", out)
		assert.Equal(1, renderer.rendered())
	})

	t.Run("Exhaustion should be terminal until an explicit reset re-arms the budget", func(t *testing.T) {
		assert := assert.New(t)

		renderer := &flakyRenderer{failures: 100, err: fmt.Errorf("panel build: %w", model.ErrRender)}
		b, err := boundary.NewBoundary(boundary.BoundaryConfig{
			Tier:       model.BoundaryTierApplication,
			Renderer:   renderer,
			MaxRetries: 1,
			Policy:     immediatePolicy,
			Logger:     log.Noop,
		})
		require.NoError(t, err)

		_, err = b.Render(context.Background())
		require.NoError(t, err)
		require.Equal(t, model.BoundaryStateExhausted, b.State())
		require.Equal(t, 2, renderer.rendered())

		b.Reset()
		assert.Equal(model.BoundaryStateHealthy, b.State())
		assert.Nil(b.Failure())

		_, err = b.Render(context.Background())
		require.NoError(t, err)
		assert.Equal(4, renderer.rendered())
	})

	t.Run("A panicking renderer should be caught and classified as a render failure", func(t *testing.T) {
		assert := assert.New(t)

		var caught []model.FailureRecord
		b, err := boundary.NewBoundary(boundary.BoundaryConfig{
			Tier: model.BoundaryTierComponent,
			Path: "app/revenue-chart",
			Renderer: boundary.RendererFunc(func(ctx context.Context) (string, error) {
				panic("nil deref in chart scaling")
			}),
			MaxRetries: 0,
			Policy:     immediatePolicy,
			OnError:    func(rec model.FailureRecord) { caught = append(caught, rec) },
			Logger:     log.Noop,
		})
		require.NoError(t, err)

		out, err := b.Render(context.Background())
		require.NoError(t, err)
		assert.Equal("This section failed to load.", out)

		require.Len(t, caught, 1)
		assert.Equal(model.ErrorKindRender, caught[0].Kind)
		assert.Equal(model.BoundaryTierComponent, caught[0].Tier)
		assert.Equal("app/revenue-chart", caught[0].ComponentPath)
		assert.Equal(1, caught[0].Attempts)
		assert.Contains(caught[0].Message, "nil deref in chart scaling")
		assert.NotEmpty(caught[0].ID)
	})
}

func TestBoundaryEscalation(t *testing.T) {
	t.Run("A boundary without fallback should escalate exhaustion to the enclosing tier", func(t *testing.T) {
		assert := assert.New(t)

		child, err := boundary.NewBoundary(boundary.BoundaryConfig{
			Tier: model.BoundaryTierComponent,
			Path: "app/leads-panel",
			Renderer: boundary.RendererFunc(func(ctx context.Context) (string, error) {
				return "", fmt.Errorf("panel build: %w", model.ErrRender)
			}),
			MaxRetries: 0,
			Policy:     immediatePolicy,
			NoFallback: true,
			Logger:     log.Noop,
		})
		require.NoError(t, err)

		parent, err := boundary.NewBoundary(boundary.BoundaryConfig{
			Tier:       model.BoundaryTierApplication,
			Renderer:   boundary.RendererFunc(func(ctx context.Context) (string, error) { return child.Render(ctx) }),
			MaxRetries: 0,
			Policy:     immediatePolicy,
			Logger:     log.Noop,
		})
		require.NoError(t, err)

		out, err := parent.Render(context.Background())
		require.NoError(t, err)

		assert.Equal("Something went wrong. Try reloading the page.", out)
		assert.Equal(model.BoundaryStateExhausted, child.State())
		assert.Equal(model.BoundaryStateExhausted, parent.State())

		// The parent's record keeps the original classification.
		rec := parent.Failure()
		require.NotNil(t, rec)
		assert.Equal(model.ErrorKindRender, rec.Kind)
	})
}

func TestBoundaryOrphanCleanup(t *testing.T) {
	t.Run("The discard hook should run between the catch and the reconstruction", func(t *testing.T) {
		assert := assert.New(t)

		var sequence []string

		renderer := &flakyRenderer{failures: 1, err: fmt.Errorf("table build: %w", model.ErrRender)}
		b, err := boundary.NewBoundary(boundary.BoundaryConfig{
			Tier: model.BoundaryTierComponent,
			Renderer: boundary.RendererFunc(func(ctx context.Context) (string, error) {
				sequence = append(sequence, "render")
				return renderer.Render(ctx)
			}),
			MaxRetries: 1,
			Policy:     immediatePolicy,
			OnDiscard:  func() { sequence = append(sequence, "discard") },
			Logger:     log.Noop,
		})
		require.NoError(t, err)

		_, err = b.Render(context.Background())
		require.NoError(t, err)

		assert.Equal([]string{"render", "discard", "render"}, sequence)
	})
}

func TestBoundaryOffline(t *testing.T) {
	t.Run("Offline suspension should consume no attempts and resume on reconnect", func(t *testing.T) {
		assert := assert.New(t)

		conn := &fakeConnectivity{online: false}
		renderer := &flakyRenderer{failures: 1, err: fmt.Errorf("dial backend: %w", model.ErrNetwork)}

		b, err := boundary.NewBoundary(boundary.BoundaryConfig{
			Tier:         model.BoundaryTierNetwork,
			Renderer:     renderer,
			MaxRetries:   1,
			Policy:       immediatePolicy,
			Connectivity: conn,
			Logger:       log.Noop,
		})
		require.NoError(t, err)

		type result struct {
			out string
			err error
		}
		resC := make(chan result, 1)
		go func() {
			out, err := b.Render(context.Background())
			resC <- result{out: out, err: err}
		}()

		// The failure is caught but the retry waits for connectivity.
		require.Eventually(t, func() bool { return b.Suspended() }, time.Second, 5*time.Millisecond)
		assert.Equal(1, renderer.rendered())
		rec := b.Failure()
		require.NotNil(t, rec)
		assert.Equal(1, rec.Attempts)

		conn.set(true)

		res := <-resC
		require.NoError(t, res.err)
		assert.Equal("lead table rendered", res.out)
		assert.Equal(model.BoundaryStateHealthy, b.State())
		assert.False(b.Suspended())
	})

	t.Run("Cancelling the context should abort an offline wait", func(t *testing.T) {
		conn := &fakeConnectivity{online: false}
		b, err := boundary.NewBoundary(boundary.BoundaryConfig{
			Tier: model.BoundaryTierNetwork,
			Renderer: boundary.RendererFunc(func(ctx context.Context) (string, error) {
				return "", fmt.Errorf("dial backend: %w", model.ErrNetwork)
			}),
			MaxRetries:   3,
			Policy:       immediatePolicy,
			Connectivity: conn,
			Logger:       log.Noop,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		errC := make(chan error, 1)
		go func() {
			_, err := b.Render(ctx)
			errC <- err
		}()

		require.Eventually(t, func() bool { return b.Suspended() }, time.Second, 5*time.Millisecond)
		cancel()

		err = <-errC
		assert.ErrorIs(t, err, context.Canceled)
	})
}
