// Package boterr provides error types shared by the bot components.
package boterr

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError is returned by operations that failed because of a
// temporary condition, e.g. an exceeded GitHub API rate limit.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time when the operation can be
	// retried. It is the zero value when it can be retried anytime.
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After.Format(time.RFC3339), e.Err)
}

// IsRetryable returns true if err wraps a RetryableError.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}
