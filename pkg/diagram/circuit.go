package diagram

import (
	"sync"
	"time"
)

// CircuitState mirrors pkg/agent/circuit.go's three-state breaker,
// repurposed here to stop hammering the gateway with LLM repair calls
// for a diagram mode that keeps failing the same way.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreakerConfig configures the per-mode repair circuit breaker.
type CircuitBreakerConfig struct {
	SameErrorThreshold int
	RecoveryTimeout    time.Duration
}

// CircuitBreaker trips after repeated identical repair failures for
// one diagram mode, adapted from pkg/agent/circuit.go's same-error
// tripping rule (the no-progress and output-decline rules don't apply
// here since a diagram repair attempt has no "change size" to measure).
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig

	state        CircuitState
	lastError    string
	errorCount   int
	lastOpenTime time.Time
}

// NewCircuitBreaker builds a breaker with sane defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.SameErrorThreshold == 0 {
		cfg.SameErrorThreshold = 3
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = time.Minute
	}
	return &CircuitBreaker{config: cfg, state: CircuitClosed}
}

// Allow reports whether another repair attempt may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastOpenTime) >= cb.config.RecoveryTimeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	default: // half-open: allow one probe
		return true
	}
}

// RecordResult records the outcome of a repair attempt, keyed by a
// stable fingerprint of the remaining findings.
func (cb *CircuitBreaker) RecordResult(fingerprint string, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		cb.state = CircuitClosed
		cb.errorCount = 0
		cb.lastError = ""
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.tripOpen()
		return
	}

	if fingerprint == cb.lastError {
		cb.errorCount++
		if cb.errorCount >= cb.config.SameErrorThreshold {
			cb.tripOpen()
		}
	} else {
		cb.errorCount = 1
		cb.lastError = fingerprint
	}
}

func (cb *CircuitBreaker) tripOpen() {
	cb.state = CircuitOpen
	cb.lastOpenTime = time.Now()
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
