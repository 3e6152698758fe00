package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// retry executes fn up to maxAttempts times with jittered exponential backoff.
// Base delay doubles on each attempt: 200ms -> 400ms -> 800ms, etc.
// Errors wrapping context.Canceled or context.DeadlineExceeded are not retried.
func retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			break
		}
		wait := delay
		if half := int64(delay / 2); half > 0 {
			wait += time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(wait):
		}
		delay *= 2
	}
	return lastErr
}
