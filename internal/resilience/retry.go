package resilience

import (
	"context"
	"time"

	"aegis/internal/aerr"
)

// RetryPolicy is the bounded exponential backoff schedule applied to
// transient failures: initial 1s, doubling, capped, bounded attempts.
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	MaxAttempts    int
}

// DefaultRetryPolicy matches the propagation policy: 1s, ×2, max 30s,
// 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		MaxAttempts:    3,
	}
}

// Retry runs fn up to MaxAttempts times, backing off between attempts.
// Only retryable kinds (BackendUnavailable, Timeout, RateLimited,
// CircuitOpen) are retried; anything else returns immediately. The last
// error is returned when all attempts fail.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p = DefaultRetryPolicy()
	}

	backoff := p.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !aerr.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return aerr.E(aerr.KindTimeout, "resilience.Retry", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return lastErr
}
