// Package circuit provides the circuit breaker guarding LLM calls.
// It fails fast during sustained downstream failure instead of queueing
// doomed requests.
package circuit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is tripped and calls fail fast.
	StateOpen
	// StateHalfOpen means the circuit is probing for recovery.
	StateHalfOpen
)

// String returns the state as a string.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before a probe is allowed.
	OpenTimeout time.Duration
}

// DefaultConfig returns the thresholds used for the LLM breaker.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern with closed, open and
// half-open states.
type Breaker struct {
	mu sync.RWMutex

	config Config
	state  State
	name   string

	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	lastSuccess          time.Time
	lastError            error
	openedAt             time.Time

	totalFailures  int64
	totalSuccesses int64
	totalTrips     int64

	now           func() time.Time
	onStateChange func(from, to State)
}

// NewBreaker creates a breaker with the given configuration.
func NewBreaker(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 60 * time.Second
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
		name:   name,
		now:    time.Now,
	}
}

// SetOnStateChange sets a callback invoked on every state transition.
func (b *Breaker) SetOnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// SetClock overrides the time source, for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Allow reports whether a call may proceed. In the open state the first
// call after OpenTimeout transitions to half-open and is allowed as a probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.config.OpenTimeout {
			b.transitionTo(StateHalfOpen)
			b.consecutiveSuccesses = 0
			log.Info().
				Str("breaker", b.name).
				Str("state", "half-open").
				Msg("Circuit breaker probing for recovery")
			return true
		}
		return false

	case StateHalfOpen:
		return true

	default:
		return true
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccess = b.now()
	b.consecutiveFailures = 0
	b.totalSuccesses++

	if b.state == StateHalfOpen {
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
			log.Info().
				Str("breaker", b.name).
				Str("state", "closed").
				Msg("Circuit breaker recovered and closed")
		}
	}
}

// RecordFailure records a failed call. N consecutive failures open the
// circuit; any failure while half-open reopens it and resets the timer.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.lastError = err
	b.consecutiveSuccesses = 0
	b.totalFailures++

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.tripLocked(err)
		}

	case StateHalfOpen:
		b.tripLocked(err)

	case StateOpen:
		// Already open; keep the original timer.
	}
}

func (b *Breaker) tripLocked(err error) {
	b.transitionTo(StateOpen)
	b.openedAt = b.now()
	b.totalTrips++

	log.Warn().
		Str("breaker", b.name).
		Int("failures", b.consecutiveFailures).
		Err(err).
		Msg("Circuit breaker tripped")
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState
	if b.onStateChange != nil {
		b.onStateChange(oldState, newState)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Status is a JSON-able snapshot of the breaker for observability.
type Status struct {
	Name                 string     `json:"name"`
	State                string     `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	LastFailure          *time.Time `json:"last_failure,omitempty"`
	LastSuccess          *time.Time `json:"last_success,omitempty"`
	LastError            string     `json:"last_error,omitempty"`
	TotalFailures        int64      `json:"total_failures"`
	TotalSuccesses       int64      `json:"total_successes"`
	TotalTrips           int64      `json:"total_trips"`
}

// GetStatus returns a snapshot of the breaker.
func (b *Breaker) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := Status{
		Name:                 b.name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		TotalFailures:        b.totalFailures,
		TotalSuccesses:       b.totalSuccesses,
		TotalTrips:           b.totalTrips,
	}
	if !b.lastFailure.IsZero() {
		status.LastFailure = &b.lastFailure
	}
	if !b.lastSuccess.IsZero() {
		status.LastSuccess = &b.lastSuccess
	}
	if b.lastError != nil {
		status.LastError = b.lastError.Error()
	}
	return status
}

// circuitOpenError is returned when an operation is blocked by an open circuit.
type circuitOpenError struct{}

func (e circuitOpenError) Error() string {
	return "circuit breaker is open"
}

// ErrCircuitOpen is returned when a call is blocked by an open circuit.
var ErrCircuitOpen error = circuitOpenError{}

// IsCircuitOpen checks if an error is a circuit open error.
func IsCircuitOpen(err error) bool {
	_, ok := err.(circuitOpenError)
	return ok
}
