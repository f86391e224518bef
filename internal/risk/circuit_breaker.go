package risk

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrCircuitBreakerOpen means live order submission is halted.
var ErrCircuitBreakerOpen = errors.New("circuit breaker open: live order submission halted")

// CircuitBreaker halts live submissions after MaxConsecutiveFailures failed
// ones in a row. A zero or negative limit disables it. A nil breaker always
// allows.
type CircuitBreaker struct {
	limit             int64
	halted            atomic.Bool
	consecutiveErrors atomic.Int64
}

func NewCircuitBreaker(maxConsecutiveFailures int) *CircuitBreaker {
	return &CircuitBreaker{limit: int64(maxConsecutiveFailures)}
}

// Allow returns ErrCircuitBreakerOpen once the breaker tripped.
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	if cb.limit > 0 && cb.consecutiveErrors.Load() >= cb.limit {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}
	return nil
}

// OnSuccess clears the failure streak.
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

func (cb *CircuitBreaker) OnFailure() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// Halt trips the breaker by hand.
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume closes the breaker and clears the failure streak.
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

func (cb *CircuitBreaker) Halted() bool {
	return cb != nil && cb.halted.Load()
}
