package runner

import (
	"context"
	"errors"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
)

// RetryPolicy configures how opening a dialog channel is retried.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, retryableOpenError is used
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// retryableOpenError retries transient open failures. Rejections are the
// peer's answer and are never retried.
func retryableOpenError(err error) bool {
	return !errors.Is(err, adaptor.ErrRejected) && !errors.Is(err, adaptor.ErrClosed)
}

// openChannel opens a channel on a, retrying per policy.
func openChannel(ctx context.Context, a adaptor.Adaptor, policy RetryPolicy) (adaptor.Channel, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := policy.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = retryableOpenError
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}

		ch, err := a.Open(ctx)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		// Don't delay after the last attempt.
		if attempt == attempts || !shouldRetry(err) {
			break
		}
		delay := policy.Delay
		if policy.DelayFunc != nil {
			delay = policy.DelayFunc(attempt, err)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, context.Cause(ctx)
			}
		}
	}
	return nil, lastErr
}
