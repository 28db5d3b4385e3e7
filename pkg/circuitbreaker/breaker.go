// Package circuitbreaker guards the ledger RPC path: a burst of submission
// failures opens the breaker and the executor skips dispatch until the
// reset timeout passes.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/timevault-hq/timevault-executor/pkg/logger"
)

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	log           logger.Logger
	mu            sync.Mutex
}

// New creates a circuit breaker.
func New(enabled bool, threshold int, window, resetTimeout time.Duration, log logger.Logger) *CircuitBreaker {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &CircuitBreaker{
		enabled:       enabled,
		failThreshold: threshold,
		failureWindow: window,
		resetTimeout:  resetTimeout,
		log:           log,
	}
}

// RecordFailure records a failure and trips the circuit if the threshold is
// exceeded within the window. Returns true if the circuit is now open.
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	// If the circuit is already tripped, check if it's time to try again
	if cb.tripped {
		if time.Since(cb.tripTime) > cb.resetTimeout {
			cb.log.Notice("Circuit breaker: attempting reset after timeout")
			cb.tripped = false
			cb.failureCount = 0
		} else {
			return true // Still tripped
		}
	}

	// Reset failure count if outside window
	if time.Since(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		cb.log.Error("Circuit breaker tripped: %d failures in window", cb.failureCount)
		return true
	}

	return false
}

// IsOpen returns true if the circuit is open (tripped).
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// If tripped but reset timeout has passed, try again
	if cb.tripped && time.Since(cb.tripTime) > cb.resetTimeout {
		cb.tripped = false
		cb.failureCount = 0
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.tripped = false
	cb.failureCount = 0
}

// State returns the current failure count and whether the circuit is tripped.
func (cb *CircuitBreaker) State() (failureCount int, tripped bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount, cb.tripped
}

// IsEnabled returns true if the circuit breaker is enabled.
func (cb *CircuitBreaker) IsEnabled() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.enabled
}
