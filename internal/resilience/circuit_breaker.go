// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota // Normal operation
	StateOpen                              // Failing fast until the run ends
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name             string                                          // Name for logging
	FailureThreshold int                                             // Consecutive failures before opening
	IsFailure        func(error) bool                                // Custom failure detection
	OnStateChange    func(name string, from, to CircuitBreakerState) // State change callback
}

// DefaultCircuitBreakerConfig returns the run-scoped defaults
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		IsFailure: func(err error) bool {
			if err == nil {
				return false
			}
			// a canceled run is not the backend's fault
			return ClassifyError(err).Type != ErrorTypeCanceled
		},
	}
}

// CircuitBreaker is scoped to one analysis run. Once it opens there is no
// half-open probe: every later call fails fast until a new breaker is
// created for the next run.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	mu     sync.Mutex

	state        CircuitBreakerState
	consecutive  int
	failureCount int
	successCount int
	rejected     int
	lastError    error
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = DefaultCircuitBreakerConfig(config.Name).IsFailure
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.Record(err)
	return err
}

// Allow returns a CircuitBreakerError when the breaker is open
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		cb.rejected++
		return &CircuitBreakerError{
			Name:  cb.config.Name,
			State: cb.state,
			Message: fmt.Sprintf("circuit breaker '%s' is OPEN after %d consecutive failures",
				cb.config.Name, cb.config.FailureThreshold),
			Cause: cb.lastError,
		}
	}
	return nil
}

// Record feeds one call result into the breaker
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.config.IsFailure(err) {
		if err == nil {
			cb.successCount++
		}
		cb.consecutive = 0
		return
	}

	cb.failureCount++
	cb.consecutive++
	cb.lastError = err
	if cb.state == StateClosed && cb.consecutive >= cb.config.FailureThreshold {
		cb.state = StateOpen
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(cb.config.Name, StateClosed, StateOpen)
		}
	}
}

// GetState returns the current state (thread-safe)
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns current circuit breaker statistics
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:         cb.config.Name,
		State:        cb.state,
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		Rejected:     cb.rejected,
	}
}

// CircuitBreakerStats holds circuit breaker statistics
type CircuitBreakerStats struct {
	Name         string              `json:"name"`
	State        CircuitBreakerState `json:"state"`
	FailureCount int                 `json:"failure_count"`
	SuccessCount int                 `json:"success_count"`
	Rejected     int                 `json:"rejected"`
}

// CircuitBreakerError is returned when circuit breaker prevents execution
type CircuitBreakerError struct {
	Name    string
	State   CircuitBreakerState
	Message string
	Cause   error
}

func (e *CircuitBreakerError) Error() string {
	return e.Message
}

func (e *CircuitBreakerError) Unwrap() error {
	return e.Cause
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
