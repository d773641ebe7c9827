package fetch

import (
	"context"
	"math/rand"
	"time"
)

// ShouldRetryFunc decides whether an error is worth another attempt.
type ShouldRetryFunc func(error) bool

// BackoffFunc maps a zero-based attempt number to a sleep duration.
type BackoffFunc func(attempt int) time.Duration

// ExpBackoff doubles base per attempt and adds up to jitter of random
// noise, so parallel-looking retry trains don't align.
func ExpBackoff(base, jitter time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		delay := base * time.Duration(1<<attempt)
		if jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(jitter)))
		}
		return delay
	}
}

// Do invokes fn, retrying up to maxRetries additional times while
// shouldRetry approves the error. Any other error propagates on first
// failure. Sleeps are cancellable through ctx.
func Do(ctx context.Context, maxRetries int, shouldRetry ShouldRetryFunc, backoff BackoffFunc, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !shouldRetry(err) || attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
