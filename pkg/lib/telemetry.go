package lib

import (
	"context"
	"fmt"
	"time"

	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/telemetry"
)

// CaptureError classifies and archives an application error under the given
// source (an operation key, a component path, whatever identifies where it
// happened). Repeated captures of an equivalent error fold into one event
// with a bumped count.
//
// Operation failures and boundary catches are archived automatically, this
// is for errors outside both.
//
// Returns the archived event, or nil when the error matched an ignore
// pattern.
func (c *Client) CaptureError(ctx context.Context, source string, err error) (*ErrorEvent, error) {
	if err == nil {
		return nil, fmt.Errorf("error is required: %w", ErrNotValid)
	}

	event, cerr := c.capture.Capture(ctx, telemetry.Occurrence{
		Kind:    model.Classify(err),
		Source:  source,
		Message: err.Error(),
	})
	if cerr != nil {
		return nil, mapError(fmt.Errorf("could not capture error: %w", cerr))
	}
	if event == nil {
		return nil, nil
	}

	out := fromInternalErrorEvent(*event)
	return &out, nil
}

// ListErrors returns all archived error events, most recently seen first.
func (c *Client) ListErrors(ctx context.Context) ([]ErrorEvent, error) {
	events, err := c.archive.List(ctx)
	if err != nil {
		return nil, mapError(fmt.Errorf("could not list error events: %w", err))
	}

	return fromInternalErrorEventList(events), nil
}

// GetError retrieves an archived error event by ID. Returns [ErrNotFound]
// when no event has that ID.
func (c *Client) GetError(ctx context.Context, id string) (*ErrorEvent, error) {
	event, err := c.archive.Get(ctx, id)
	if err != nil {
		return nil, mapError(fmt.Errorf("could not get error event: %w", err))
	}

	out := fromInternalErrorEvent(*event)
	return &out, nil
}

// ResolveError marks an archived error event as resolved. Capturing the same
// fingerprint again reopens it.
func (c *Client) ResolveError(ctx context.Context, id string) error {
	err := c.archive.Resolve(ctx, id)
	if err != nil {
		return mapError(fmt.Errorf("could not resolve error event: %w", err))
	}

	return nil
}

// PurgeErrors removes error events last seen before the cutoff and returns
// how many were removed.
func (c *Client) PurgeErrors(ctx context.Context, before time.Time) (int, error) {
	n, err := c.archive.Purge(ctx, before)
	if err != nil {
		return 0, mapError(fmt.Errorf("could not purge error events: %w", err))
	}

	return n, nil
}
