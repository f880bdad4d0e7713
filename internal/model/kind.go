package model

import (
	"context"
	"errors"
	"net"
)

// ErrorKind classifies a failure for retry and reporting decisions.
type ErrorKind string

const (
	// ErrorKindValidation is caller input rejected before the operation
	// started. Never retried.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindNetwork is a transport-level failure. Retryable with backoff.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindTimeout is an operation that exceeded its deadline. Retryable
	// when reported by the caller; internal deadline expiry is terminal.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindRender is a failure raised while building a view subtree.
	// Only failure boundaries handle these.
	ErrorKindRender ErrorKind = "render"
	// ErrorKindUnknown is anything unclassified. Never auto-retried, so an
	// unclassified fault can't loop forever.
	ErrorKindUnknown ErrorKind = "unknown"
)

// Retryable returns true for kinds that are eligible for automatic retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindNetwork, ErrorKindTimeout, ErrorKindRender:
		return true
	default:
		return false
	}
}

// Sentinel errors for the failure taxonomy. Wrap them with fmt.Errorf and %w
// so Classify can recognize the kind.
var (
	// ErrValidation marks caller-supplied input rejected up front.
	ErrValidation = errors.New("validation failed")
	// ErrNetwork marks a transport-level failure.
	ErrNetwork = errors.New("network failure")
	// ErrTimeout marks a deadline expiry.
	ErrTimeout = errors.New("timed out")
	// ErrRender marks a failure thrown while constructing a view subtree.
	ErrRender = errors.New("render failed")
)

// Classify maps an error to its kind. Returns an empty kind for nil.
//
// Besides the package sentinels it recognizes context deadline errors as
// timeouts and net.Error implementations as network failures, so errors
// coming straight from the standard library classify without wrapping.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrRender):
		return ErrorKindRender
	case errors.Is(err, ErrNetwork):
		return ErrorKindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorKindTimeout
		}
		return ErrorKindNetwork
	}

	return ErrorKindUnknown
}
