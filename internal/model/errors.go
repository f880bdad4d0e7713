package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrAlreadyRunning is returned when starting a key that already has an
	// active operation and superseding was not requested.
	ErrAlreadyRunning = errors.New("operation already running")
	// ErrRetryExhausted is returned when no retry budget remains.
	ErrRetryExhausted = errors.New("retries exhausted")
	// ErrFinished is returned when a lifecycle call reaches an operation that
	// already reached a terminal status.
	ErrFinished = errors.New("operation already finished")
)
