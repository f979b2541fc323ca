package dionisio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/boterr"
	"github.com/dionisio-bot/dionisio/internal/logfields"
)

const (
	DefRetryTimeout = 2 * time.Hour

	defBackoffInitialInterval     = 5 * time.Second
	defBackoffRandomizationFactor = 0.5
	defBackoffMaxInterval         = 10 * time.Minute
)

// ErrRetryerStopped is returned by Retryer.Run when the retryer was stopped
// before the function succeeded.
var ErrRetryerStopped = errors.New("retryer stopped")

// Retryer executes a function repeatedly until it was successful or cancel
// condition happened.
type Retryer struct {
	logger       *zap.Logger
	shutdownChan chan struct{}

	// defTimeout is applied to the context passed to Run when it has no
	// deadline.
	defTimeout                 time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
}

func NewRetryer() *Retryer {
	return &Retryer{
		logger:                     zap.L().Named("retryer"),
		shutdownChan:               make(chan struct{}),
		defTimeout:                 DefRetryTimeout,
		backoffInitialInterval:     defBackoffInitialInterval,
		backoffRandomizationFactor: defBackoffRandomizationFactor,
	}
}

func (r *Retryer) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	bo.MaxInterval = defBackoffMaxInterval
	// the retry timeout is enforced via the context
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

// Run executes fn until it was successful, it returned an error that
// does not wrap boterr.RetryableError or the execution was aborted via the
// context.
// If ctx has no deadline, the default retry timeout is applied.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.defTimeout)
		defer cancel()
	}

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	bo := r.newBackoff()
	logger := r.logger.With(logF...)

	for {
		select {
		case <-ctx.Done():
			logger.Info(
				"giving up retrying operation, context expired",
				logfields.Event("retryer_operation_cancelled"),
				zap.Uint("try_count", tryCnt),
				zap.Duration("age", bo.GetElapsedTime()),
				zap.Error(ctx.Err()),
			)

			return fmt.Errorf("operation failed after %d tries: %w", tryCnt, ctx.Err())

		case <-r.shutdownChan:
			logger.Info(
				"retryer terminating, operation not executed",
				logfields.Event("retryer_operation_cancelled_shutdown"),
				zap.Uint("try_count", tryCnt),
			)

			return ErrRetryerStopped

		case <-retryTimer.C:
			tryCnt++
			logger := logger.With(zap.Uint("try_count", tryCnt))

			err := fn(ctx)
			if err == nil {
				if tryCnt > 1 {
					logger.Info(
						"operation succeeded after retries",
						logfields.Event("retryer_operation_succeeded"),
					)
				}

				return nil
			}

			logger = logger.With(zap.Error(err))

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			var retryError *boterr.RetryableError
			if !errors.As(err, &retryError) {
				logger.Debug(
					"operation failed, not retryable",
					logfields.Event("retryer_operation_failed"),
				)

				return err
			}

			if deadline, ok := ctx.Deadline(); ok && retryError.After.After(deadline) {
				logger.Warn(
					"operation failed, next possible retry time is after timeout expiration",
					logfields.Event("retryer_operation_failed"),
					zap.Time("earliest_allowed_retry", retryError.After),
				)

				return err
			}

			retryIn := bo.NextBackOff()
			if d := time.Until(retryError.After); d > retryIn {
				retryIn = d
			}

			retryTimer.Reset(retryIn)

			logger.Info(
				"operation failed, retry scheduled",
				logfields.Event("retryer_retry_scheduled"),
				zap.Duration("retry_in", retryIn),
				zap.Duration("age", bo.GetElapsedTime()),
			)
		}
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))

	select {
	case <-r.shutdownChan:
		return // already closed
	default:
		close(r.shutdownChan)
	}
}
