// Package resilience provides the shared fault-isolation primitives: token
// bucket and sliding-window rate limiters, a circuit breaker, and bounded
// retry with exponential backoff.
package resilience

import (
	"context"
	"sync"
	"time"

	"aegis/internal/aerr"

	"golang.org/x/time/rate"
)

// TokenBucket wraps a rate.Limiter with the error taxonomy. Consume blocks
// cooperatively until tokens refill or the context deadline expires.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket builds a bucket with the given capacity and refill rate.
func NewTokenBucket(capacity int, refillRPS float64) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(refillRPS), capacity)}
}

// Consume takes n tokens, blocking until available or ctx expires.
func (b *TokenBucket) Consume(ctx context.Context, n int) error {
	const op = "resilience.Consume"
	if err := b.limiter.WaitN(ctx, n); err != nil {
		if ctx.Err() != nil {
			return aerr.E(aerr.KindTimeout, op, ctx.Err())
		}
		// WaitN fails without a context error when n exceeds the burst.
		return aerr.E(aerr.KindRateLimited, op, err)
	}
	return nil
}

// TryConsume takes n tokens without blocking.
func (b *TokenBucket) TryConsume(n int) bool {
	return b.limiter.AllowN(time.Now(), n)
}

// SlidingWindow counts requests in a trailing window. Allow reports whether
// another request fits under the limit and records it when it does.
type SlidingWindow struct {
	maxReq int
	window time.Duration

	mu    sync.Mutex
	times []time.Time
}

// NewSlidingWindow builds a window limiter (maxReq per window).
func NewSlidingWindow(maxReq int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{maxReq: maxReq, window: window}
}

// Allow returns true and records the request when under the limit.
func (w *SlidingWindow) Allow() bool {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= w.maxReq {
		return false
	}
	w.times = append(w.times, now)
	return true
}

// InFlight returns the current request count inside the window.
func (w *SlidingWindow) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := time.Now().Add(-w.window)
	n := 0
	for _, t := range w.times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// KeyedWindows maintains one sliding window per key (per-tool limits).
type KeyedWindows struct {
	maxReq int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*SlidingWindow
}

// NewKeyedWindows builds a per-key window family.
func NewKeyedWindows(maxReq int, window time.Duration) *KeyedWindows {
	return &KeyedWindows{maxReq: maxReq, window: window, windows: make(map[string]*SlidingWindow)}
}

// Allow checks the window for key.
func (k *KeyedWindows) Allow(key string) bool {
	k.mu.Lock()
	w, ok := k.windows[key]
	if !ok {
		w = NewSlidingWindow(k.maxReq, k.window)
		k.windows[key] = w
	}
	k.mu.Unlock()
	return w.Allow()
}
