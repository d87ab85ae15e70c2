package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed lets fetches through and counts failures.
	StateClosed State = iota
	// StateOpen rejects all fetches until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits a limited number of probe fetches.
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

// String returns the lowercase name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Circuit breaker defaults.
const (
	DefaultMaxFailures         = 5
	DefaultResetTimeout        = 30 * time.Second
	DefaultHalfOpenMaxRequests = 1
)

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the failure count that opens the circuit.
	// Default: DefaultMaxFailures
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Default: DefaultResetTimeout
	ResetTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent probes in half-open state.
	// Default: DefaultHalfOpenMaxRequests
	HalfOpenMaxRequests int

	// OnStateChange runs on every state transition.
	OnStateChange func(from, to State)

	// IsFailure decides whether an error counts toward opening.
	// Default: DefaultIsFailure
	IsFailure func(err error) bool
}

// DefaultIsFailure counts any error except context.Canceled as a failure.
// A caller abandoning a fetch says nothing about backend health, so
// cancellations never push the circuit toward open. Deadline overruns do
// count: a backend that cannot answer in time is an unhealthy backend.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker stops fetch storms against a failing backend. After
// MaxFailures consecutive failures it rejects everything for
// ResetTimeout, then admits a bounded number of probes to test
// recovery.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	halfOpenCount int
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultResetTimeout
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}
	if config.IsFailure == nil {
		config.IsFailure = DefaultIsFailure
	}

	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs op if the circuit admits it and feeds the outcome back
// into the state machine.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := op(ctx)
	cb.observe(err)
	return err
}

// State returns the current state, moving open to half-open once the
// reset timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// Reset forces the circuit closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCount = 0
	cb.transitionLocked(StateClosed)
}

// admit decides whether a fetch may proceed. In half-open it claims one
// of the probe slots.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenCount++
	}

	return nil
}

// observe feeds one fetch outcome into the state machine.
func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := cb.config.IsFailure(err)

	switch cb.state {
	case StateClosed:
		switch {
		case failed:
			cb.failures++
			cb.lastFailure = time.Now()
			if cb.failures >= cb.config.MaxFailures {
				cb.transitionLocked(StateOpen)
			}
		case err == nil:
			cb.successes++
			cb.failures = 0
		}
		// A cancelled fetch proves nothing either way.

	case StateHalfOpen:
		switch {
		case failed:
			// Backend still down. Restart the open window.
			cb.lastFailure = time.Now()
			cb.transitionLocked(StateOpen)
		case err == nil:
			cb.successes++
			cb.failures = 0
			cb.transitionLocked(StateClosed)
		default:
			// Cancelled probe. Release the slot so the next caller
			// can probe.
			cb.halfOpenCount--
		}
	}
}

// stateLocked returns the effective state, performing the lazy
// open-to-half-open transition. Caller holds mu.
func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

// transitionLocked moves to the given state and fires the callback.
// Caller holds mu.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	if to == StateHalfOpen {
		cb.halfOpenCount = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// CircuitBreakerMetrics is a snapshot of breaker counters.
type CircuitBreakerMetrics struct {
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

// Metrics returns the current counters. Failures is the consecutive
// failure count; Successes counts successful fetches since the last
// Reset.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:       cb.stateLocked(),
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
	}
}
