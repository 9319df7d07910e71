package datasource

import (
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int

const (
	// StateClosed - requests flow normally
	StateClosed BreakerState = iota
	// StateOpen - requests are refused until the reset timeout elapses
	StateOpen
	// StateHalfOpen - a bounded number of probe requests are permitted
	StateHalfOpen
)

// String returns a string representation of the breaker state
func (s BreakerState) String() string {
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

// BreakerConfig configures a single provider's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before probing
	ResetTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent probes while half-open
	HalfOpenMaxRequests int
}

// DefaultBreakerConfig returns the breaker configuration used when a
// provider has no explicit entry in the configuration table.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        60 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// BreakerStats is a point-in-time snapshot of a circuit breaker.
type BreakerStats struct {
	Name            string       `json:"name"`
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int64        `json:"success_count"`
	LastFailureTime time.Time    `json:"last_failure_time"`
	LastSuccessTime time.Time    `json:"last_success_time"`
	NextRetryTime   time.Time    `json:"next_retry_time"`
	HalfOpenProbes  int          `json:"half_open_probes"`
}

// CircuitBreaker is a three-state gate guarding calls to one named provider.
//
// State machine:
//
//	closed    -> open:      failureCount reaches FailureThreshold
//	open      -> half-open: first CanExecute after NextRetryTime
//	half-open -> closed:    first RecordSuccess
//	half-open -> open:      any RecordFailure
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int64
	lastFailureTime time.Time
	lastSuccessTime time.Time
	nextRetryTime   time.Time
	halfOpenProbes  int
}

// NewCircuitBreaker creates a closed breaker for the named provider.
// Zero config fields fall back to DefaultBreakerConfig values.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}

	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
}

// Name returns the provider name this breaker guards
func (cb *CircuitBreaker) Name() string { return cb.name }

// CanExecute reports whether a request may proceed. While open it flips to
// half-open once the retry time has passed; while half-open it admits probes
// up to HalfOpenMaxRequests.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if !cb.now().Before(cb.nextRetryTime) {
			cb.state = StateHalfOpen
			cb.halfOpenProbes = 0
			return true
		}
		return false

	case StateHalfOpen:
		if cb.halfOpenProbes < cb.cfg.HalfOpenMaxRequests {
			cb.halfOpenProbes++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful call. The first success while
// half-open closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.lastSuccessTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failureCount = 0
		cb.halfOpenProbes = 0
		cb.nextRetryTime = time.Time{}
	}
}

// RecordFailure records a failed call. Crossing the failure threshold while
// closed, or any failure while half-open, opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

// open transitions to the open state with a fresh retry time.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.nextRetryTime = cb.now().Add(cb.cfg.ResetTimeout)
	cb.halfOpenProbes = 0
}

// Reset forces the breaker back to closed, clearing the retry time and
// half-open probes. Administrative operation.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenProbes = 0
	cb.nextRetryTime = time.Time{}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Name:            cb.name,
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
		LastSuccessTime: cb.lastSuccessTime,
		NextRetryTime:   cb.nextRetryTime,
		HalfOpenProbes:  cb.halfOpenProbes,
	}
}
