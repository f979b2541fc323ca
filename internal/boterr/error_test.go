package boterr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	origErr := errors.New("rate limited")

	assert.True(t, IsRetryable(NewRetryableAnytimeError(origErr)))
	assert.True(t, IsRetryable(fmt.Errorf("creating ref failed: %w", NewRetryableError(origErr, time.Now()))))
	assert.False(t, IsRetryable(origErr))
	assert.False(t, IsRetryable(nil))
}

func TestRetryableErrorUnwrap(t *testing.T) {
	origErr := errors.New("server error")
	err := fmt.Errorf("merge failed: %w", NewRetryableAnytimeError(origErr))

	assert.ErrorIs(t, err, origErr)
	assert.Contains(t, err.Error(), "retryable error: server error")
}
