package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// UpstreamError describes a failed call to the fleet API. It carries enough
// context (resource, page or cursor, status) for the caller to report which
// part of a run failed.
type UpstreamError struct {
	Resource   string
	Page       int
	Cursor     string
	StatusCode int
	ErrorClass ErrorClass
	Attempts   int
	Exhausted  bool
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	where := e.Resource
	switch {
	case e.Page > 0:
		where = fmt.Sprintf("%s page %d", e.Resource, e.Page)
	case e.Cursor != "":
		where = fmt.Sprintf("%s cursor %q", e.Resource, e.Cursor)
	}

	msg := fmt.Sprintf("upstream %s error (status %d) on %s", e.ErrorClass, e.StatusCode, where)
	if e.Exhausted {
		msg = fmt.Sprintf("%s: %v after %d attempts", msg, ErrRetryExhausted, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is reports ErrRetryExhausted for errors produced after the last attempt.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrRetryExhausted && e.Exhausted
}

// Retryable reports whether another attempt may succeed.
func (e *UpstreamError) Retryable() bool {
	return shouldRetry(e.ErrorClass)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit:
		return true
	case ErrorClassTimeout:
		return true
	default:
		// client, server, network, decode and cancellation are permanent
		return false
	}
}
