package router

import (
	"sync"
	"time"

	"github.com/hnolan/irgateway/ir"
)

// circuitBreaker is a per-backend three-state breaker. Grounded on the
// reference resilience package's CircuitBreaker, adapted to the simpler
// half-open semantics this gateway's spec calls for: a single probe
// success closes the breaker, any probe failure reopens it — no
// half-open probe budget — and manual OpenCircuitBreaker/
// CloseCircuitBreaker/ResetCircuitBreaker overrides are first-class
// instead of only a blanket Reset.
type circuitBreaker struct {
	threshold int
	timeout   time.Duration

	mu                  sync.Mutex
	state               ir.CircuitState
	consecutiveFailures int
	openedAt            time.Time
	manualOpenUntil     *time.Time
}

func newCircuitBreaker(threshold int, timeout time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &circuitBreaker{threshold: threshold, timeout: timeout, state: ir.CircuitClosed}
}

// Allow reports whether a call may proceed right now, resolving an
// elapsed open-timeout into half-open as a side effect.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case ir.CircuitClosed, ir.CircuitHalfOpen:
		return true
	case ir.CircuitOpen:
		deadline := cb.openedAt.Add(cb.timeout)
		if cb.manualOpenUntil != nil {
			deadline = *cb.manualOpenUntil
		}
		if time.Now().After(deadline) {
			cb.state = ir.CircuitHalfOpen
			cb.manualOpenUntil = nil
			return true
		}
		return false
	}
	return false
}

// RecordSuccess reports a successful call outcome.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case ir.CircuitHalfOpen:
		cb.state = ir.CircuitClosed
		cb.consecutiveFailures = 0
	case ir.CircuitClosed:
		cb.consecutiveFailures = 0
	}
}

// RecordFailure reports a failed call outcome.
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case ir.CircuitHalfOpen:
		cb.state = ir.CircuitOpen
		cb.openedAt = time.Now()
	case ir.CircuitClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.threshold {
			cb.state = ir.CircuitOpen
			cb.openedAt = time.Now()
		}
	}
}

// State returns the breaker's current state without resolving an
// elapsed open-timeout (that only happens on Allow, mirroring the
// Router's "selection reads current state" vs "selection probes" split).
func (cb *circuitBreaker) State() ir.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *circuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Open forces the breaker open, optionally for a specific duration.
func (cb *circuitBreaker) Open(timeout *time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = ir.CircuitOpen
	cb.openedAt = time.Now()
	if timeout != nil {
		deadline := time.Now().Add(*timeout)
		cb.manualOpenUntil = &deadline
	} else {
		cb.manualOpenUntil = nil
	}
}

// Close forces the breaker closed.
func (cb *circuitBreaker) Close() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = ir.CircuitClosed
	cb.consecutiveFailures = 0
	cb.manualOpenUntil = nil
}

// Reset clears failure bookkeeping and returns the breaker to closed.
func (cb *circuitBreaker) Reset() {
	cb.Close()
}
