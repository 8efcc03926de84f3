package resilience

import (
	"errors"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/logging"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures a circuit breaker.
type BreakerSettings struct {
	Name string

	// FailureThreshold opens the circuit after this many consecutive failures.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenRequests closes the circuit after this many consecutive
	// successes in half-open.
	HalfOpenRequests int
}

// Breaker wraps gobreaker with the aegis error taxonomy. Calls made while
// the circuit is open fail fast with CircuitOpen without invoking the
// downstream.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a breaker with the usual state machine: Closed → Open
// after FailureThreshold consecutive failures, Open → HalfOpen after
// ResetTimeout, HalfOpen → Closed after HalfOpenRequests successes.
func NewBreaker(s BreakerSettings) *Breaker {
	threshold := uint32(s.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: uint32(s.HalfOpenRequests),
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Get(logging.CategoryLLM).Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	out, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, aerr.E(aerr.KindCircuitOpen, "resilience.Execute", err)
		}
		return nil, err
	}
	return out, nil
}

// State returns the current breaker state name.
func (b *Breaker) State() string { return b.cb.State().String() }
