package client

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// StateClosed means the circuit acts normally (requests pass).
	StateClosed CircuitState = iota
	// StateOpen means the circuit fails fast (requests blocked).
	StateOpen
	// StateHalfOpen means the circuit is probing (one request passes).
	StateHalfOpen
)

// String returns the string representation of the state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("client: circuit breaker is open")

// CircuitBreaker fails fast after repeated transport or server failures.
type CircuitBreaker struct {
	mu sync.Mutex

	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool

	threshold int
	timeout   time.Duration
	enabled   bool
	clock     Clock

	onStateChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker with the given policy.
// A nil policy returns a disabled breaker.
func NewCircuitBreaker(policy *CircuitBreakerPolicy) *CircuitBreaker {
	if policy == nil {
		return &CircuitBreaker{enabled: false, clock: realClock{}}
	}
	return &CircuitBreaker{
		state:         StateClosed,
		threshold:     policy.FailureThreshold,
		timeout:       policy.ResetTimeout,
		enabled:       policy.Enabled,
		clock:         realClock{},
		onStateChange: policy.OnStateChange,
	}
}

// Execute runs fn if the circuit allows it and records the result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Record(err)
	return err
}

// Allow reports whether a request may proceed. In Half-Open only one probe
// is admitted until its result is recorded.
func (cb *CircuitBreaker) Allow() error {
	if !cb.enabled {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Now().Sub(cb.lastFailure) <= cb.timeout {
			return ErrCircuitOpen
		}
		cb.transitionToLocked(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

// Record updates the breaker with the result of an allowed request.
func (cb *CircuitBreaker) Record(err error) {
	if !cb.enabled || errors.Is(err, ErrCircuitOpen) {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err == nil {
		if cb.state == StateHalfOpen {
			cb.transitionToLocked(StateClosed)
		}
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailure = cb.clock.Now()

	if cb.state == StateHalfOpen {
		cb.transitionToLocked(StateOpen)
		return
	}
	if cb.state == StateClosed && cb.failures >= cb.threshold {
		cb.transitionToLocked(StateOpen)
	}
}

// transitionToLocked changes state and fires the callback.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) transitionToLocked(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState

	// Fire callbacks asynchronously to prevent blocking
	if cb.onStateChange != nil {
		go cb.onStateChange(oldState, newState)
	}
}

// State returns the current state (thread-safe).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
