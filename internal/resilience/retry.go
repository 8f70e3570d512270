// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries      int                          // Maximum number of retry attempts after the first
	InitialInterval time.Duration                // Delay before the first retry
	MaxInterval     time.Duration                // Maximum retry interval
	Multiplier      float64                      // Exponential backoff multiplier (e.g. 2.0 doubles each attempt)
	Jitter          bool                         // Add up to 25% random jitter to spread retries
	OnRetry         func(attempt int, err error) // Optional callback invoked before each retry
}

// DefaultRetryConfig returns the defaults used for local inference calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}
}

// RetryableOperation represents an operation that can be retried.
type RetryableOperation func(ctx context.Context) error

// RetryWithBackoff executes an operation with exponential backoff.
// The delay before attempt n is InitialInterval * Multiplier^(n-1), capped
// at MaxInterval. Non-retryable errors and open-breaker errors return
// immediately.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation RetryableOperation) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			if config.OnRetry != nil {
				config.OnRetry(attempt, lastErr)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(config, attempt)):
			}
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsCircuitBreakerError(err) || !IsRetryable(err) {
			return err
		}
	}

	return lastErr
}

func backoff(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.InitialInterval)
	for i := 1; i < attempt; i++ {
		delay *= config.Multiplier
	}
	if config.Jitter {
		delay += delay * 0.25 * rand.Float64()
	}
	d := time.Duration(delay)
	if config.MaxInterval > 0 && d > config.MaxInterval {
		d = config.MaxInterval
	}
	return d
}

// RetryWithCircuitBreaker combines retry logic with circuit breaker
// protection. Every attempt counts toward the breaker.
func RetryWithCircuitBreaker(ctx context.Context, retryConfig RetryConfig, cb *CircuitBreaker, operation RetryableOperation) error {
	return RetryWithBackoff(ctx, retryConfig, func(ctx context.Context) error {
		return cb.Execute(ctx, operation)
	})
}

// RetryableFunc is a convenience type for retryable functions that return a value.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// RetryWithResult executes a function that returns a result and error with
// retry and breaker protection. cb may be nil.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, cb *CircuitBreaker, fn RetryableFunc[T]) (T, error) {
	var result T
	op := func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	}
	var err error
	if cb != nil {
		err = RetryWithCircuitBreaker(ctx, config, cb, op)
	} else {
		err = RetryWithBackoff(ctx, config, op)
	}
	return result, err
}
