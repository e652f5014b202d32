package chainerr

import (
	"context"
	"errors"
	"time"
)

const (
	// baseBackoff is the delay before the second attempt.
	baseBackoff = 1000 * time.Millisecond
	// maxBackoff caps the delay between attempts.
	maxBackoff = 30000 * time.Millisecond
)

// IsRetryable reports whether the failure is worth retrying. Only network
// failures qualify: pallet rejections, nonce and balance problems, and
// validation failures all require caller action first.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Category == CategoryNetwork
}

// Backoff returns the delay to sleep before the given attempt, following
// min(1000ms * 2^(attempt-1), 30000ms). Attempts are 1-based; attempt values
// below 1 are treated as 1.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Retry runs fn up to maxAttempts times, sleeping the backoff schedule
// between attempts. It stops early on success, on a non-retryable error, or
// when the context is done. The SDK itself never retries implicitly; this
// helper is for callers that opt in.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == maxAttempts {
			return err
		}
		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
