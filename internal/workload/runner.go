package workload

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"github.com/salerhq/optrack/internal/boundary"
	"github.com/salerhq/optrack/internal/controller"
	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
	"github.com/salerhq/optrack/internal/telemetry"
)

// RunnerConfig is the configuration for the runner.
type RunnerConfig struct {
	// Scenario is the workload set to play. The zero value means the built-in
	// dashboard scenario.
	Scenario Scenario
	// Controller drives the plain workloads.
	Controller *controller.Controller
	// Store is the registry the controller writes into. The runner subscribes
	// to it for the live feed.
	Store registry.Store
	// Telemetry archives failures as they happen. Optional.
	Telemetry *telemetry.Service
	// Out receives the live feed. Defaults to stdout.
	Out io.Writer
	// NoColor strips ANSI colors from the feed.
	NoColor bool

	Logger log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Scenario.Name == "" && len(c.Scenario.Workloads) == 0 {
		c.Scenario = DefaultScenario()
	}
	if err := c.Scenario.Validate(); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}

	if c.Controller == nil {
		return fmt.Errorf("controller is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}

	if c.Out == nil {
		c.Out = os.Stdout
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "workload.Runner"})

	return nil
}

// Runner plays a scenario against the tracking stack: every workload becomes
// a tracked operation (or a guarded render), scripted failures flow through
// retries, boundaries and telemetry, and the registry feed is printed live.
type Runner struct {
	scenario Scenario
	ctrl     *controller.Controller
	store    registry.Store
	tel      *telemetry.Service
	out      io.Writer
	logger   log.Logger

	outMu sync.Mutex
	// seen tracks the last printed record per key. The store serializes
	// subscriber calls, so no lock of its own.
	seen map[string]model.Operation

	yellow *color.Color
	green  *color.Color
	red    *color.Color
	cyan   *color.Color
	dim    *color.Color
	bold   *color.Color
}

// NewRunner creates a new runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &Runner{
		scenario: cfg.Scenario,
		ctrl:     cfg.Controller,
		store:    cfg.Store,
		tel:      cfg.Telemetry,
		out:      cfg.Out,
		logger:   cfg.Logger,
		seen:     map[string]model.Operation{},
		yellow:   color.New(color.FgYellow),
		green:    color.New(color.FgGreen),
		red:      color.New(color.FgRed),
		cyan:     color.New(color.FgCyan),
		dim:      color.New(color.Faint),
		bold:     color.New(color.Bold),
	}

	if cfg.NoColor {
		for _, c := range []*color.Color{r.yellow, r.green, r.red, r.cyan, r.dim, r.bold} {
			c.DisableColor()
		}
	}

	return r, nil
}

// Run plays the scenario until every workload settles or the context is
// cancelled. Scripted failures are part of the show and never fail the run.
func (r *Runner) Run(ctx context.Context) error {
	r.printf(r.bold, "Scenario %q: %d workloads", r.scenario.Name, len(r.scenario.Workloads))

	unsubscribe := r.store.Subscribe(r.onEvent)
	defer unsubscribe()

	var (
		wg sync.WaitGroup
		// Buffered for every workload, so the finish hooks never block.
		finals = make(chan model.Operation, len(r.scenario.Workloads))

		renderMu  sync.Mutex
		healed    int
		exhausted int
	)

	for _, w := range r.scenario.Workloads {
		if w.Rendered() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if r.runRendered(ctx, w) {
					renderMu.Lock()
					healed++
					renderMu.Unlock()
				} else if ctx.Err() == nil {
					renderMu.Lock()
					exhausted++
					renderMu.Unlock()
				}
			}()
			continue
		}

		wg.Add(1)
		err := r.ctrl.Start(w.OperationKey(), controller.StartOptions{
			Type:       w.Type,
			Message:    fmt.Sprintf("Running %s", w.Name),
			Priority:   w.Priority,
			Timeout:    w.Timeout,
			MaxRetries: w.MaxRetries,
			Policy:     w.Policy,
			Work:       r.workFor(w),
			OnRetry:    r.onRetry(w),
			OnFinish: func(op model.Operation) {
				finals <- op
				wg.Done()
			},
		})
		if err != nil {
			wg.Done()
			return fmt.Errorf("could not start workload %q: %w", w.Name, err)
		}
	}

	// Settled records are archived outside the controller's lock.
	counts := map[model.OperationStatus]int{}
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case op, ok := <-finals:
				if !ok {
					return
				}
				counts[op.Status]++
				r.capture(ctx, op)
			case <-ctx.Done():
				return
			}
		}
	}()

	settled := make(chan struct{})
	go func() { wg.Wait(); close(settled) }()

	select {
	case <-settled:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(finals)
	<-collected

	summary := fmt.Sprintf("%d succeeded, %d failed, %d timed out",
		counts[model.OperationStatusSucceeded],
		counts[model.OperationStatusFailed],
		counts[model.OperationStatusTimedOut])
	if n := counts[model.OperationStatusCancelled]; n > 0 {
		summary += fmt.Sprintf(", %d cancelled", n)
	}
	if healed+exhausted > 0 {
		summary += fmt.Sprintf(", boundaries %d healed / %d exhausted", healed, exhausted)
	}
	r.printf(r.bold, "Scenario %q settled: %s", r.scenario.Name, summary)

	return nil
}

// workFor builds the supervised work function: it walks the step schedule on
// real time and injects the scripted failure partway through the walk.
func (r *Runner) workFor(w Workload) func(context.Context, controller.Reporter) error {
	var attempts atomic.Int32

	return func(ctx context.Context, rep controller.Reporter) error {
		attempt := int(attempts.Add(1))

		failAt := -1
		if w.Failure != nil && w.Failure.ShouldFail(attempt) {
			failAt = (len(w.Steps) + 1) / 2
		}

		slice := w.Duration / time.Duration(len(w.Steps)+1)

		for i, step := range w.Steps {
			if i == failAt {
				return w.Failure.Err()
			}
			if err := sleepCtx(ctx, slice); err != nil {
				return err
			}
			rep.Progress(step.Percent, step.Message)
		}

		if err := sleepCtx(ctx, slice); err != nil {
			return err
		}
		if failAt == len(w.Steps) {
			return w.Failure.Err()
		}

		rep.Progress(100, "")
		return nil
	}
}

// runRendered drives a boundary-guarded workload: the subtree build panics
// per the script, the boundary catches, reconstructs and finally falls back.
// Returns true when the subtree ended up healthy.
func (r *Runner) runRendered(ctx context.Context, w Workload) bool {
	key := w.OperationKey()

	msg := w.Failure.Message
	if msg == "" {
		msg = "scripted failure"
	}

	var builds atomic.Int32
	renderer := boundary.RendererFunc(func(ctx context.Context) (string, error) {
		n := int(builds.Add(1))
		if err := sleepCtx(ctx, w.Duration); err != nil {
			return "", err
		}
		// Attempts zero means every build breaks.
		if w.Failure.Attempts == 0 || n <= w.Failure.Attempts {
			panic(msg)
		}
		return fmt.Sprintf("%s view ready", w.Name), nil
	})

	cfg := boundary.BoundaryConfig{
		Tier:       model.BoundaryTierComponent,
		Path:       "dashboard/" + w.Name,
		Renderer:   renderer,
		MaxRetries: w.MaxRetries,
		OnError:    func(rec model.FailureRecord) { r.onCaught(ctx, key, rec) },
		Logger:     r.logger,
	}
	if w.Policy != nil {
		cfg.Policy = *w.Policy
	}

	b, err := boundary.NewBoundary(cfg)
	if err != nil {
		r.logger.Errorf("Could not build boundary for %q: %s", w.Name, err)
		return false
	}

	r.printf(r.yellow, "▶ %-18s building view", key)

	view, err := b.Render(ctx)
	switch {
	case err != nil:
		// Cancelled, the run is over.
		return false
	case b.State() == model.BoundaryStateExhausted:
		r.printf(r.red, "✖ %-18s gave up: %s", key, view)
		return false
	default:
		r.printf(r.green, "✔ %-18s %s", key, view)
		return true
	}
}

// onRetry prints the queued-retry line, delay included. The registry feed
// can't know the delay, only the hook does.
func (r *Runner) onRetry(w Workload) func(attempt int, delay time.Duration) {
	return func(attempt int, delay time.Duration) {
		r.printf(r.cyan, "↻ %-18s retry %d/%d in %s", w.OperationKey(), attempt, w.MaxRetries, delay)
	}
}

// onEvent renders one feed line per registry change.
func (r *Runner) onEvent(ev registry.Event) {
	if ev.Kind == registry.EventKindRemove {
		delete(r.seen, ev.Key)
		r.printf(r.dim, "- %-18s dropped", ev.Key)
		return
	}

	op := ev.Operation
	prev, known := r.seen[ev.Key]
	r.seen[ev.Key] = op

	if known && prev.Status == op.Status && prev.RetryCount == op.RetryCount {
		// Same span, only progress moved.
		if op.Status == model.OperationStatusRunning && (op.Progress != prev.Progress || op.Message != prev.Message) {
			r.printf(r.dim, "  %-18s %3d%% %s", op.Key, op.Progress, op.Message)
		}
		return
	}

	switch op.Status {
	case model.OperationStatusRunning:
		if op.RetryCount > 0 {
			r.printf(r.yellow, "▶ %-18s attempt %d", op.Key, op.RetryCount+1)
			return
		}
		label := string(op.Priority)
		if op.Type != "" {
			label = fmt.Sprintf("%s, %s", op.Type, op.Priority)
		}
		r.printf(r.yellow, "▶ %-18s started (%s)", op.Key, label)
	case model.OperationStatusSucceeded:
		r.printf(r.green, "✔ %-18s succeeded", op.Key)
	case model.OperationStatusFailed:
		r.printf(r.red, "✖ %-18s failed (%s): %s", op.Key, op.ErrorKind, op.Error)
	case model.OperationStatusTimedOut:
		r.printf(r.red, "✖ %-18s timed out: %s", op.Key, op.Error)
	}
}

// onCaught prints a boundary catch and archives it.
func (r *Runner) onCaught(ctx context.Context, key string, rec model.FailureRecord) {
	r.printf(r.red, "✖ %-18s caught %s failure (attempt %d): %s", key, rec.Kind, rec.Attempts, rec.Message)

	if r.tel == nil {
		return
	}
	if _, err := r.tel.CaptureFailure(ctx, rec); err != nil {
		r.logger.Warningf("Could not archive failure of %q: %s", key, err)
	}
}

// capture archives a settled operation when it ended badly.
func (r *Runner) capture(ctx context.Context, op model.Operation) {
	if r.tel == nil {
		return
	}
	if _, err := r.tel.CaptureOperation(ctx, op); err != nil {
		r.logger.Warningf("Could not archive failure of %q: %s", op.Key, err)
	}
}

func (r *Runner) printf(c *color.Color, format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()

	_, _ = c.Fprintf(r.out, format+"\n", args...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
