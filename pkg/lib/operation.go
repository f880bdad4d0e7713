package lib

import (
	"context"
	"fmt"
	"time"

	"github.com/salerhq/optrack/internal/controller"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
)

// StartOperationOpts configures one operation start.
type StartOperationOpts struct {
	// Type is an informational category tag, it never changes behavior.
	Type OperationType

	// Message is the initial human-readable step description.
	Message string

	// Priority defaults to medium. Medium and high priority operations raise
	// the global loading summary, low ones don't.
	Priority OperationPriority

	// MaxRetries bounds automatic retries after retryable failures. Zero
	// (default) disables automatic retries.
	MaxRetries int

	// Timeout is the per-attempt deadline. Zero falls back to the client's
	// default, which itself may mean no deadline.
	Timeout time.Duration

	// RetryPolicy overrides the client's retry policy for this operation.
	RetryPolicy *RetryPolicy

	// Supersede replaces a still-running operation on the same key instead of
	// rejecting the start. The replaced attempt is invalidated: its timers,
	// work and progress reports are all dropped.
	Supersede bool

	// Work, when set, is driven by the client: invoked on start, cancelled on
	// timeout or close, and re-invoked on every granted retry. Its return
	// value completes or fails the operation. Report progress through the
	// report callback. Wrap taxonomy sentinels ([ErrNetwork], [ErrValidation],
	// ...) into returned errors so failures classify for retry decisions.
	//
	// Without Work the caller drives the lifecycle through
	// [Client.UpdateProgress], [Client.CompleteOperation] and
	// [Client.FailOperation].
	Work func(ctx context.Context, report func(percent int, message string)) error

	// OnRetry is called when a retry is granted, before the wait starts.
	OnRetry func(attempt int, delay time.Duration)

	// OnFinish is called exactly once when the operation settles: succeeded,
	// terminally failed, timed out, or cancelled (superseding and close
	// included), with the final record. A failure that still has a retry
	// pending is not settled.
	OnFinish func(op Operation)
}

// StartOperation begins tracking an operation under the given key.
//
// A key holds at most one active operation. Starting an already running key
// returns [ErrAlreadyRunning] unless Supersede is set. Terminal failures and
// timeouts are archived into the client's error archive automatically.
func (c *Client) StartOperation(key string, opts StartOperationOpts) error {
	return c.startOn(c.ctrl, key, opts)
}

// startOn translates the public start options and launches the operation on
// the given controller, the client's own or a scoped one. Every finish goes
// through the telemetry capture before reaching the user hook.
func (c *Client) startOn(ctrl *controller.Controller, key string, opts StartOperationOpts) error {
	var work func(ctx context.Context, r controller.Reporter) error
	if opts.Work != nil {
		userWork := opts.Work
		work = func(ctx context.Context, r controller.Reporter) error {
			return userWork(ctx, r.Progress)
		}
	}

	var policy *model.RetryPolicy
	if opts.RetryPolicy != nil {
		p := toInternalRetryPolicy(*opts.RetryPolicy)
		policy = &p
	}

	userFinish := opts.OnFinish
	onFinish := func(op model.Operation) {
		_, err := c.capture.CaptureOperation(context.Background(), op)
		if err != nil {
			c.logger.Errorf("Could not archive failure of %q: %s", op.Key, err)
		}
		if userFinish != nil {
			userFinish(fromInternalOperation(op))
		}
	}

	err := ctrl.Start(key, controller.StartOptions{
		Type:       model.OperationType(opts.Type),
		Message:    opts.Message,
		Priority:   model.OperationPriority(opts.Priority),
		MaxRetries: opts.MaxRetries,
		Timeout:    opts.Timeout,
		Policy:     policy,
		Supersede:  opts.Supersede,
		Work:       work,
		OnRetry:    opts.OnRetry,
		OnFinish:   onFinish,
	})
	if err != nil {
		return mapError(fmt.Errorf("could not start operation: %w", err))
	}

	return nil
}

// UpdateProgress moves the operation's progress and, when message is not
// empty, its step description. Progress is clamped so it never decreases
// within a running span and never exceeds 100. Calls for unknown or settled
// keys are no-ops.
func (c *Client) UpdateProgress(key string, percent int, message string) error {
	err := c.ctrl.UpdateProgress(key, percent, message)
	if err != nil {
		return mapError(fmt.Errorf("could not update progress: %w", err))
	}

	return nil
}

// CompleteOperation marks a running operation as succeeded. Completing an
// already settled operation returns [ErrFinished].
func (c *Client) CompleteOperation(key string) error {
	err := c.ctrl.Complete(key)
	if err != nil {
		return mapError(fmt.Errorf("could not complete operation: %w", err))
	}

	return nil
}

// FailOperation reports the failure of a running operation. When the failure
// classifies as retryable and retry budget remains, a retry is scheduled
// instead of settling the operation.
func (c *Client) FailOperation(key string, opErr error) error {
	err := c.ctrl.Fail(key, opErr)
	if err != nil {
		return mapError(fmt.Errorf("could not fail operation: %w", err))
	}

	return nil
}

// CancelOperation cancels an operation and removes its record. Pending
// retries and deadlines are dropped, running work is cancelled. Unknown keys
// and keys started through a scoped [Controller] are a no-op, the latter are
// cancelled through their own controller.
func (c *Client) CancelOperation(key string) {
	c.ctrl.Cancel(key)
}

// GetOperation returns a snapshot of the operation tracked under key.
func (c *Client) GetOperation(key string) (*Operation, bool) {
	rec, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}

	op := fromInternalOperation(*rec)
	return &op, true
}

// IsLoading returns true while the key holds a running operation.
func (c *Client) IsLoading(key string) bool {
	return c.store.IsActive(key)
}

// ListOperations returns a snapshot of every tracked operation, sorted by
// key.
func (c *Client) ListOperations() []Operation {
	return fromInternalOperationList(c.store.Snapshot())
}

// ActiveOperations returns the running operations, sorted by key.
func (c *Client) ActiveOperations() []Operation {
	return fromInternalOperationList(c.agg.Active())
}

// GlobalLoading returns true while any medium or high priority operation is
// running. This is the signal a blocking overlay should key on.
func (c *Client) GlobalLoading() bool {
	return c.agg.GlobalLoading()
}

// Summary is the derived view of all tracked operations.
type Summary struct {
	// GlobalLoading is true while any medium or high priority operation runs.
	GlobalLoading bool
	// Active holds the running operations, sorted by key.
	Active []Operation
	// Counts holds the number of running operations per priority.
	Counts map[OperationPriority]int
}

// LoadingSummary returns the current derived summary.
func (c *Client) LoadingSummary() Summary {
	s := c.agg.Summary()

	counts := make(map[OperationPriority]int, len(s.Counts))
	for p, n := range s.Counts {
		counts[OperationPriority(p)] = n
	}

	return Summary{
		GlobalLoading: s.GlobalLoading,
		Active:        fromInternalOperationList(s.Active),
		Counts:        counts,
	}
}

// Subscribe registers fn for every registry change and returns its
// unsubscribe function. Events are delivered sequentially in mutation order
// from the mutating goroutine, so fn must not block.
func (c *Client) Subscribe(fn func(Event)) func() {
	return c.store.Subscribe(func(ev registry.Event) {
		fn(fromInternalEvent(ev))
	})
}
