package lib

import (
	"fmt"
	"time"

	"github.com/salerhq/optrack/internal/controller"
)

// ControllerOpts configures a scoped controller. Options left zero inherit
// the client's defaults.
type ControllerOpts struct {
	// RetryPolicy is the policy applied to operations started through this
	// controller that don't carry their own.
	RetryPolicy *RetryPolicy

	// DefaultTimeout is the per-attempt deadline for operations started
	// through this controller without one.
	DefaultTimeout time.Duration
}

// Controller tracks operations on behalf of one part of the application,
// typically a view. It shares the client's registry, so its operations show
// up in [Client.GetOperation], subscriptions and the loading summary like
// any other, but lifecycle calls are scoped: a controller only updates,
// supersedes or cancels keys it started itself, and [Controller.Teardown]
// takes down exactly those.
//
// Create one with [Client.NewController] and tear it down when the owning
// part goes away. A Controller is safe for concurrent use.
type Controller struct {
	client *Client
	ctrl   *controller.Controller
}

// NewController creates a controller scoped to the keys it starts, with its
// own retry policy and timeout defaults.
//
// The caller must call [Controller.Teardown] when the owning part of the
// application goes away. Controllers still alive when the client closes are
// torn down with it.
func (c *Client) NewController(opts ControllerOpts) (*Controller, error) {
	policy := c.policy
	if opts.RetryPolicy != nil {
		policy = toInternalRetryPolicy(*opts.RetryPolicy)
	}

	timeout := opts.DefaultTimeout
	if timeout == 0 {
		timeout = c.timeout
	}

	ctrl, err := controller.NewController(controller.ControllerConfig{
		Store:          c.store,
		Logger:         c.logger,
		DefaultTimeout: timeout,
		Policy:         policy,
		MaxConcurrent:  c.maxConcurrent,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create controller: %w", err))
	}

	child := &Controller{client: c, ctrl: ctrl}

	c.childMu.Lock()
	c.children = append(c.children, child)
	c.childMu.Unlock()

	return child, nil
}

// forgetChild drops a torn down controller from the close list.
func (c *Client) forgetChild(child *Controller) {
	c.childMu.Lock()
	defer c.childMu.Unlock()

	for i, cur := range c.children {
		if cur == child {
			c.children = append(c.children[:i], c.children[i+1:]...)
			return
		}
	}
}

// StartOperation begins tracking an operation under the given key, owned by
// this controller. The lifecycle contract is [Client.StartOperation]'s, with
// one scoping addition: a key already running under the client or another
// controller cannot be started or superseded here, it returns
// [ErrAlreadyRunning].
func (c *Controller) StartOperation(key string, opts StartOperationOpts) error {
	return c.client.startOn(c.ctrl, key, opts)
}

// UpdateProgress moves an owned operation's progress and, when message is
// not empty, its step description. Calls for unowned, unknown or settled
// keys are no-ops.
func (c *Controller) UpdateProgress(key string, percent int, message string) error {
	err := c.ctrl.UpdateProgress(key, percent, message)
	if err != nil {
		return mapError(fmt.Errorf("could not update progress: %w", err))
	}

	return nil
}

// CompleteOperation marks an owned running operation as succeeded. Keys not
// started through this controller return [ErrNotFound].
func (c *Controller) CompleteOperation(key string) error {
	err := c.ctrl.Complete(key)
	if err != nil {
		return mapError(fmt.Errorf("could not complete operation: %w", err))
	}

	return nil
}

// FailOperation reports the failure of an owned running operation. When the
// failure classifies as retryable and retry budget remains, a retry is
// scheduled instead of settling the operation. Keys not started through this
// controller return [ErrNotFound].
func (c *Controller) FailOperation(key string, opErr error) error {
	err := c.ctrl.Fail(key, opErr)
	if err != nil {
		return mapError(fmt.Errorf("could not fail operation: %w", err))
	}

	return nil
}

// CancelOperation cancels an owned operation and removes its record. Pending
// retries and deadlines are dropped, running work is cancelled. Unowned and
// unknown keys are a no-op.
func (c *Controller) CancelOperation(key string) {
	c.ctrl.Cancel(key)
}

// GetOperation returns a snapshot of the operation tracked under key. The
// registry is shared, so any tracked key resolves, not only owned ones.
func (c *Controller) GetOperation(key string) (*Operation, bool) {
	return c.client.GetOperation(key)
}

// IsLoading returns true while the key holds a running operation, owned or
// not.
func (c *Controller) IsLoading(key string) bool {
	return c.client.IsLoading(key)
}

// Teardown cancels every operation started through this controller and
// removes their records, leaving the rest of the registry untouched. Pending
// retries and deadlines are dropped, running work is cancelled. The
// controller cannot start operations afterwards. Idempotent.
//
// Wire it into [BoundaryOpts].OnDiscard so a discarded subtree takes its
// operations down with it.
func (c *Controller) Teardown() {
	c.ctrl.Teardown()
	c.client.forgetChild(c)
}
