// Package controller implements the operation lifecycle facade. A controller
// is the only writer for the keys it owns: it starts operations in the
// registry, applies timeout and retry policy on them and guarantees that no
// stale timer or superseded attempt can touch a record it no longer owns.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
	"github.com/salerhq/optrack/internal/retry"
)

// Timer is the controller's handle on an armed timer. *time.Timer satisfies
// it, tests swap in manual ones.
type Timer interface {
	Stop() bool
}

// ControllerConfig is the configuration for the controller.
type ControllerConfig struct {
	Store  registry.Store
	Logger log.Logger

	// DefaultTimeout applies when StartOptions.Timeout is zero. Zero means
	// operations get no deadline.
	DefaultTimeout time.Duration
	// Policy is the retry policy used when StartOptions carries none.
	Policy model.RetryPolicy
	// MaxConcurrent is a soft cap on simultaneously running operations, used
	// only for diagnostics. Starting beyond it logs a warning, never rejects.
	MaxConcurrent int

	// Now and AfterFunc default to the real clock and exist so tests can
	// drive deadlines and retry waits deterministically.
	Now       func() time.Time
	AfterFunc func(d time.Duration, fn func()) Timer
}

func (c *ControllerConfig) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "controller.Controller"})

	if c.Policy.Strategy == "" {
		c.Policy = model.DefaultRetryPolicy()
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}

	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent must not be negative")
	}

	if c.Now == nil {
		c.Now = time.Now
	}
	if c.AfterFunc == nil {
		c.AfterFunc = func(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }
	}

	return nil
}

// Reporter lets a supervised work function report progress for its own
// attempt. Reports from a superseded or already finished attempt are dropped.
type Reporter interface {
	Progress(percent int, message string)
}

// StartOptions configures one operation start.
type StartOptions struct {
	// Type is an informational category tag, it never changes behavior.
	Type model.OperationType
	// Message is the initial human readable step description.
	Message string
	// Priority defaults to medium.
	Priority model.OperationPriority
	// MaxRetries bounds automatic retries after retryable failures.
	MaxRetries int
	// Timeout is the per-attempt deadline. Zero falls back to the
	// controller's default, which itself may mean no deadline.
	Timeout time.Duration
	// Policy overrides the controller's retry policy for this operation.
	Policy *model.RetryPolicy
	// Supersede replaces a still-running operation on the same key instead of
	// rejecting the start. The replaced attempt is invalidated: its timers,
	// work and progress reports are all dropped. Only operations owned by the
	// same controller can be superseded.
	Supersede bool
	// Work, when set, is driven by the controller: invoked on start, cancelled
	// on timeout or teardown, and re-invoked on every granted retry. Its
	// return value completes or fails the operation. Without it the caller
	// drives the lifecycle through UpdateProgress/Complete/Fail.
	Work func(ctx context.Context, r Reporter) error
	// OnRetry is called when a retry is granted, before the wait. It must not
	// call back into the controller.
	OnRetry func(attempt int, delay time.Duration)
	// OnFinish is called exactly once when the operation settles: succeeded,
	// terminally failed, timed out, or cancelled (superseding and teardown
	// included), with the final record. A failure that still has a retry
	// pending is not settled. It must not call back into the controller.
	OnFinish func(op model.Operation)
}

// operation is the controller-side state for one owned key. gen identifies
// the current attempt: every transition to running mints a new one, and every
// async callback carries the gen it was armed for, so anything outliving its
// attempt gets dropped on arrival.
type operation struct {
	gen        int
	policy     model.RetryPolicy
	maxRetries int
	timeout    time.Duration
	work       func(ctx context.Context, r Reporter) error
	onRetry    func(attempt int, delay time.Duration)
	onFinish   func(op model.Operation)

	deadline   Timer
	retryTimer Timer
	workCancel context.CancelFunc
}

// Controller drives operation lifecycles against the registry.
//
// Registry subscribers are notified synchronously while the controller holds
// its own lock, so subscription callbacks must not call lifecycle methods
// directly. Hand the work to another goroutine instead.
type Controller struct {
	store         registry.Store
	policy        model.RetryPolicy
	defTimeout    time.Duration
	maxConcurrent int
	now           func() time.Time
	afterFunc     func(d time.Duration, fn func()) Timer
	logger        log.Logger

	mu   sync.Mutex
	ops  map[string]*operation
	torn bool
}

// NewController creates a new controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Controller{
		store:         cfg.Store,
		policy:        cfg.Policy,
		defTimeout:    cfg.DefaultTimeout,
		maxConcurrent: cfg.MaxConcurrent,
		now:           cfg.Now,
		afterFunc:     cfg.AfterFunc,
		logger:        cfg.Logger,
		ops:           map[string]*operation{},
	}, nil
}

// Start begins tracking an operation on the key. Starting a key that is
// already running fails with model.ErrAlreadyRunning and leaves the existing
// record untouched, unless opts.Supersede is set. Keys whose previous
// operation finished can always be started again.
func (c *Controller) Start(key string, opts StartOptions) error {
	// 1. Validate the request.
	if key == "" {
		return fmt.Errorf("operation key is required: %w", model.ErrNotValid)
	}
	if opts.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative: %w", model.ErrNotValid)
	}
	if opts.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %w", model.ErrNotValid)
	}

	policy := c.policy
	if opts.Policy != nil {
		policy = *opts.Policy
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("invalid retry policy: %w", err)
		}
	}

	priority := opts.Priority
	if priority == "" {
		priority = model.OperationPriorityMedium
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.defTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.torn {
		return fmt.Errorf("controller already torn down")
	}

	// 2. Arbitrate the key: at most one active operation per key. Supersede
	// only applies to keys owned here. Another controller's running operation
	// cannot be replaced, its timers would stay armed against the key.
	if rec, ok := c.store.Get(key); ok && rec.Status == model.OperationStatusRunning {
		if !opts.Supersede || c.ops[key] == nil {
			return fmt.Errorf("operation %q: %w", key, model.ErrAlreadyRunning)
		}
	}

	// 3. Soft concurrency cap, diagnostics only.
	if c.maxConcurrent > 0 {
		if running := c.runningCount(); running >= c.maxConcurrent {
			c.logger.Warningf("Starting %q with %d operations already running (soft cap %d)", key, running, c.maxConcurrent)
		}
	}

	// 4. Invalidate whatever the key held before and mint a fresh attempt.
	op := c.ops[key]
	if op == nil {
		op = &operation{}
		c.ops[key] = op
	}
	retryPending := op.retryTimer != nil
	c.disarm(op)
	c.notifyCancelled(key, op, retryPending)
	op.gen++
	op.policy = policy
	op.maxRetries = opts.MaxRetries
	op.timeout = timeout
	op.work = opts.Work
	op.onRetry = opts.OnRetry
	op.onFinish = opts.OnFinish

	// 5. Write the full reset record.
	now := c.now().UTC()
	err := c.store.Set(key, registry.Patch{
		Type:       ptr(opts.Type),
		Status:     ptr(model.OperationStatusRunning),
		Progress:   ptr(0),
		Message:    ptr(opts.Message),
		Error:      ptr(""),
		ErrorKind:  ptr(model.ErrorKind("")),
		Priority:   ptr(priority),
		RetryCount: ptr(0),
		MaxRetries: ptr(opts.MaxRetries),
		Timeout:    ptr(timeout),
		StartedAt:  ptr(now),
	})
	if err != nil {
		return fmt.Errorf("could not store operation: %w", err)
	}

	c.armDeadline(key, op)
	c.launchWork(key, op)
	c.logger.Debugf("Started operation %q (timeout %s, max retries %d)", key, timeout, opts.MaxRetries)

	return nil
}

// UpdateProgress moves the operation's progress and, when message is not
// empty, its step description. Progress is clamped so it never decreases
// within a running span and never exceeds 100. Calls for keys that are not
// owned here or not running are no-ops.
func (c *Controller) UpdateProgress(key string, percent int, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ops[key] == nil {
		return nil
	}

	return c.applyProgress(key, percent, message)
}

// Complete marks a running operation as succeeded and disarms its timers.
// Completing after the deadline fired fails with model.ErrFinished: the timer
// is authoritative when it wins the race.
func (c *Controller) Complete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, _, err := c.ownedRunning(key)
	if err != nil {
		return err
	}

	return c.complete(key, op)
}

// Fail marks a running operation as failed and consults the retry engine: if
// a retry is granted the record stays failed for the computed delay and then
// transitions back to running (re-invoking the supervised work, when there is
// one). Otherwise the failure is terminal and the error is surfaced on the
// record. Validation and unknown errors are never retried.
func (c *Controller) Fail(key string, opErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, rec, err := c.ownedRunning(key)
	if err != nil {
		return err
	}

	c.fail(key, op, rec, opErr)
	return nil
}

// Cancel disarms the key's timers and removes its record immediately. No
// terminal status is persisted and no timer for the key ever fires
// afterwards. Cancelling an unknown or unowned key is a no-op, so teardown
// paths stay idempotent.
func (c *Controller) Cancel(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel(key)
}

// Teardown cancels every key owned by this controller. Meant for the moment
// the owning view goes away: it guarantees no stale write can reach a key
// that nobody observes anymore. The controller cannot be used afterwards.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.torn = true
	for key := range c.ops {
		c.cancel(key)
	}
	c.logger.Debugf("Controller torn down")
}

// cancel removes one owned key. Must be called with the lock held.
func (c *Controller) cancel(key string) {
	op := c.ops[key]
	if op == nil {
		return
	}

	retryPending := op.retryTimer != nil
	c.disarm(op)
	c.notifyCancelled(key, op, retryPending)
	op.gen++
	delete(c.ops, key)
	c.store.Remove(key)
	c.logger.Debugf("Cancelled operation %q", key)
}

// ownedRunning resolves a lifecycle call target: the key must be owned by
// this controller and its record must still be running.
func (c *Controller) ownedRunning(key string) (*operation, *model.Operation, error) {
	op := c.ops[key]
	if op == nil {
		return nil, nil, fmt.Errorf("operation %q not owned by this controller: %w", key, model.ErrNotFound)
	}

	rec, ok := c.store.Get(key)
	if !ok {
		return nil, nil, fmt.Errorf("operation %q: %w", key, model.ErrNotFound)
	}
	if rec.Status != model.OperationStatusRunning {
		return nil, nil, fmt.Errorf("operation %q is %s: %w", key, rec.Status, model.ErrFinished)
	}

	return op, rec, nil
}

// complete finishes a running attempt successfully. Lock must be held.
func (c *Controller) complete(key string, op *operation) error {
	c.disarm(op)

	err := c.store.Set(key, registry.Patch{Status: ptr(model.OperationStatusSucceeded)})
	if err != nil {
		return fmt.Errorf("could not store operation: %w", err)
	}

	c.notifyFinish(key, op)
	c.logger.Debugf("Operation %q succeeded", key)
	return nil
}

// fail finishes a running attempt with an error and schedules the retry if
// one is granted. Lock must be held.
func (c *Controller) fail(key string, op *operation, rec *model.Operation, opErr error) {
	c.disarm(op)

	msg := "unknown error"
	if opErr != nil {
		msg = opErr.Error()
	}
	kind := model.Classify(opErr)
	if kind == "" {
		kind = model.ErrorKindUnknown
	}

	var dec retry.Decision
	if kind.Retryable() {
		dec = retry.Decide(rec.RetryCount, op.maxRetries, op.policy)
	}

	if !dec.Retry {
		err := c.store.Set(key, registry.Patch{
			Status:    ptr(model.OperationStatusFailed),
			Error:     ptr(msg),
			ErrorKind: ptr(kind),
		})
		if err != nil {
			c.logger.Errorf("Could not store failure of %q: %s", key, err)
			return
		}

		c.notifyFinish(key, op)
		c.logger.Errorf("Operation %q failed terminally (%s): %s", key, kind, msg)
		return
	}

	attempt := rec.RetryCount + 1
	err := c.store.Set(key, registry.Patch{
		Status:     ptr(model.OperationStatusFailed),
		Error:      ptr(msg),
		ErrorKind:  ptr(kind),
		RetryCount: ptr(attempt),
	})
	if err != nil {
		c.logger.Errorf("Could not store failure of %q: %s", key, err)
		return
	}

	if op.onRetry != nil {
		op.onRetry(attempt, dec.Delay)
	}

	gen := op.gen
	op.retryTimer = c.afterFunc(dec.Delay, func() { c.onRetryFire(key, gen) })
	c.logger.Infof("Operation %q failed (%s), retry %d/%d in %s", key, kind, attempt, op.maxRetries, dec.Delay)
}

// onRetryFire transitions a failed operation back to running once its retry
// wait elapsed.
func (c *Controller) onRetryFire(key string, gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := c.ops[key]
	if op == nil || op.gen != gen {
		return
	}
	rec, ok := c.store.Get(key)
	if !ok || rec.Status != model.OperationStatusFailed {
		return
	}

	// New attempt: fresh gen, fresh progress, fresh deadline.
	op.gen++
	now := c.now().UTC()
	err := c.store.Set(key, registry.Patch{
		Status:    ptr(model.OperationStatusRunning),
		Progress:  ptr(0),
		Error:     ptr(""),
		ErrorKind: ptr(model.ErrorKind("")),
		StartedAt: ptr(now),
	})
	if err != nil {
		c.logger.Errorf("Could not store retry of %q: %s", key, err)
		return
	}

	c.armDeadline(key, op)
	c.launchWork(key, op)
	c.logger.Debugf("Operation %q retrying (attempt %d)", key, rec.RetryCount)
}

// onDeadline forces a running operation to timed out. The transition happens
// exactly once and is authoritative over any racing Complete or Fail.
func (c *Controller) onDeadline(key string, gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := c.ops[key]
	if op == nil || op.gen != gen {
		return
	}
	rec, ok := c.store.Get(key)
	if !ok || rec.Status != model.OperationStatusRunning {
		return
	}

	c.disarm(op)
	err := c.store.Set(key, registry.Patch{
		Status:    ptr(model.OperationStatusTimedOut),
		Error:     ptr(fmt.Sprintf("operation timed out after %s", op.timeout)),
		ErrorKind: ptr(model.ErrorKindTimeout),
	})
	if err != nil {
		c.logger.Errorf("Could not store timeout of %q: %s", key, err)
		return
	}

	c.notifyFinish(key, op)
	c.logger.Warningf("Operation %q timed out after %s", key, op.timeout)
}

// armDeadline arms the attempt's timeout timer. Lock must be held.
func (c *Controller) armDeadline(key string, op *operation) {
	if op.timeout <= 0 {
		return
	}

	gen := op.gen
	op.deadline = c.afterFunc(op.timeout, func() { c.onDeadline(key, gen) })
}

// launchWork starts the supervised work goroutine for the current attempt,
// when the operation owns one. Lock must be held.
func (c *Controller) launchWork(key string, op *operation) {
	if op.work == nil {
		return
	}

	// No deadline on the context: the deadline timer is the authoritative
	// timeout and cancels this context when it fires.
	ctx, cancel := context.WithCancel(context.Background())
	op.workCancel = cancel

	gen := op.gen
	work := op.work
	rep := &attemptReporter{c: c, key: key, gen: gen}

	go func() {
		err := runWork(ctx, work, rep)
		c.finishWork(key, gen, err)
	}()
}

// runWork invokes a work function, turning panics into plain errors so a
// broken workload can't take the process down.
func runWork(ctx context.Context, work func(context.Context, Reporter) error, rep Reporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work panicked: %v", r)
		}
	}()

	return work(ctx, rep)
}

// finishWork applies a supervised work result, unless its attempt has been
// superseded, timed out or otherwise finished in the meantime.
func (c *Controller) finishWork(key string, gen int, workErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := c.ops[key]
	if op == nil || op.gen != gen {
		return
	}
	rec, ok := c.store.Get(key)
	if !ok || rec.Status != model.OperationStatusRunning {
		return
	}

	if workErr == nil {
		if err := c.complete(key, op); err != nil {
			c.logger.Errorf("Could not complete %q: %s", key, err)
		}
		return
	}

	c.fail(key, op, rec, workErr)
}

// applyProgress clamps and stores a progress update. Lock must be held.
func (c *Controller) applyProgress(key string, percent int, message string) error {
	rec, ok := c.store.Get(key)
	if !ok || rec.Status != model.OperationStatusRunning {
		return nil
	}

	if percent < rec.Progress {
		percent = rec.Progress
	}
	if percent > 100 {
		percent = 100
	}

	patch := registry.Patch{Progress: ptr(percent)}
	if message != "" {
		patch.Message = ptr(message)
	}

	if err := c.store.Set(key, patch); err != nil {
		return fmt.Errorf("could not store progress: %w", err)
	}

	return nil
}

// runningCount counts currently running operations. Lock must be held.
func (c *Controller) runningCount() int {
	n := 0
	for _, rec := range c.store.Snapshot() {
		if rec.Status == model.OperationStatusRunning {
			n++
		}
	}
	return n
}

// notifyFinish reports the settled record to the OnFinish hook. Lock must be
// held.
func (c *Controller) notifyFinish(key string, op *operation) {
	if op.onFinish == nil {
		return
	}

	if rec, ok := c.store.Get(key); ok {
		op.onFinish(*rec)
	}
}

// notifyCancelled reports a cancelled end to the OnFinish hook, but only when
// the attempt was still live: running, or failed with a retry pending. A key
// that already settled has fired its hook. Lock must be held.
func (c *Controller) notifyCancelled(key string, op *operation, retryPending bool) {
	if op.onFinish == nil {
		return
	}

	rec, ok := c.store.Get(key)
	if !ok {
		return
	}
	if rec.Status != model.OperationStatusRunning && !retryPending {
		return
	}

	last := *rec
	last.Status = model.OperationStatusCancelled
	op.onFinish(last)
}

// disarm stops the operation's timers and cancels its in-flight work. Lock
// must be held.
func (c *Controller) disarm(op *operation) {
	if op.deadline != nil {
		op.deadline.Stop()
		op.deadline = nil
	}
	if op.retryTimer != nil {
		op.retryTimer.Stop()
		op.retryTimer = nil
	}
	if op.workCancel != nil {
		op.workCancel()
		op.workCancel = nil
	}
}

// attemptReporter forwards work progress reports, dropping ones from
// attempts that are no longer current.
type attemptReporter struct {
	c   *Controller
	key string
	gen int
}

func (r *attemptReporter) Progress(percent int, message string) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	op := r.c.ops[r.key]
	if op == nil || op.gen != r.gen {
		return
	}

	_ = r.c.applyProgress(r.key, percent, message)
}

func ptr[T any](v T) *T { return &v }
