package circuitbreaker

import (
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
)

// State is the position of the breaker state machine
type State int

const (
	// StateClosed permits executions
	StateClosed State = iota
	// StateOpen refuses executions until the cooldown has elapsed
	StateOpen
	// StateHalfOpen permits a single trial execution
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker implements the circuit breaker pattern over consecutive failures.
// The open to half-open transition is lazy: it happens on the first check after the cooldown.
type CircuitBreaker struct {
	enabled       bool
	failThreshold int
	cooldown      time.Duration
	state         State
	failureCount  int
	lastFailure   time.Time
	openedAt      time.Time
	trialInFlight bool
	mu            sync.Mutex
	logger        logger.Logger
}

// Snapshot is a point-in-time view of the breaker
type Snapshot struct {
	Enabled             bool
	State               State
	ConsecutiveFailures int
	Threshold           int
	Cooldown            time.Duration
	LastFailure         time.Time
	OpenedAt            time.Time
	TrialInFlight       bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(enabled bool, threshold int, cooldown time.Duration, log logger.Logger) *CircuitBreaker {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &CircuitBreaker{
		enabled:       enabled,
		failThreshold: threshold,
		cooldown:      cooldown,
		state:         StateClosed,
		logger:        log,
	}
}

// advance applies the lazy open to half-open transition. Caller holds mu.
func (cb *CircuitBreaker) advance(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.cooldown {
		cb.state = StateHalfOpen
		cb.trialInFlight = false
		cb.logger.Notice("Circuit breaker: cooldown of %v elapsed, moving to half-open", cb.cooldown)
	}
}

// State returns the current state after applying any due transition
func (cb *CircuitBreaker) State(now time.Time) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.enabled {
		return StateClosed
	}
	cb.advance(now)
	return cb.state
}

// Permits reports whether an execution may start now without consuming the half-open trial
func (cb *CircuitBreaker) Permits(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.enabled {
		return true
	}
	cb.advance(now)
	switch cb.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		return !cb.trialInFlight
	}
	return true
}

// BeginTrial claims the half-open trial. It returns false if the breaker is
// not half-open or the trial is already taken.
func (cb *CircuitBreaker) BeginTrial(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.enabled {
		return false
	}
	cb.advance(now)
	if cb.state != StateHalfOpen || cb.trialInFlight {
		return false
	}
	cb.trialInFlight = true
	return true
}

// ReleaseTrial returns an unused half-open trial, e.g. when the attempt ended without an outcome
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}
}

// RecordSuccess closes a half-open breaker and resets the failure count
func (cb *CircuitBreaker) RecordSuccess(now time.Time) {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(now)
	switch cb.state {
	case StateHalfOpen:
		cb.logger.Notice("Circuit breaker: trial succeeded, closing")
		cb.state = StateClosed
		cb.trialInFlight = false
		cb.failureCount = 0
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure records a failure and trips the circuit if threshold is reached.
// It returns true if the breaker is open afterwards.
func (cb *CircuitBreaker) RecordFailure(now time.Time) bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(now)
	cb.lastFailure = now

	switch cb.state {
	case StateOpen:
		return true
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = now
		cb.trialInFlight = false
		cb.logger.Error("Circuit breaker: trial failed, re-opening for %v", cb.cooldown)
		return true
	}

	cb.failureCount++
	if cb.failureCount >= cb.failThreshold {
		cb.state = StateOpen
		cb.openedAt = now
		cb.logger.Error("Circuit breaker tripped: %d consecutive failures, open for %v", cb.failureCount, cb.cooldown)
		return true
	}
	return false
}

// Reset manually closes the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.trialInFlight = false
	cb.openedAt = time.Time{}
}

// Configure replaces the threshold and cooldown. The current state is kept.
func (cb *CircuitBreaker) Configure(threshold int, cooldown time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failThreshold = threshold
	cb.cooldown = cooldown
}

// GetState returns a snapshot of the circuit breaker
func (cb *CircuitBreaker) GetState() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Enabled:             cb.enabled,
		State:               cb.state,
		ConsecutiveFailures: cb.failureCount,
		Threshold:           cb.failThreshold,
		Cooldown:            cb.cooldown,
		LastFailure:         cb.lastFailure,
		OpenedAt:            cb.openedAt,
		TrialInFlight:       cb.trialInFlight,
	}
}

// IsEnabled returns true if the circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.enabled
}
