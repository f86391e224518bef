package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerTripsOnStreak(t *testing.T) {
	cb := NewCircuitBreaker(2)
	assert.NoError(t, cb.Allow())

	cb.OnFailure()
	cb.OnSuccess()
	cb.OnFailure()
	assert.NoError(t, cb.Allow(), "success resets the streak")

	cb.OnFailure()
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
	assert.True(t, cb.Halted())

	cb.OnSuccess()
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen, "only Resume reopens")

	cb.Resume()
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(0)
	for i := 0; i < 10; i++ {
		cb.OnFailure()
	}
	assert.NoError(t, cb.Allow())

	cb.Halt()
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)

	var none *CircuitBreaker
	none.OnFailure()
	assert.NoError(t, none.Allow())
	assert.False(t, none.Halted())
}
