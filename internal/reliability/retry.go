package reliability

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how fast a failed upstream call is repeated.
type RetryPolicy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the policy is exhausted.
// The last error is returned unchanged so callers can keep matching on it.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = p.BaseDelay
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := ExponentialBackoff(attempt-1, p.BaseDelay, maxDelay)
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return err
				case <-timer.C:
				}
			}
		}
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || retryable == nil || !retryable(err) {
			return err
		}
	}
	return err
}
