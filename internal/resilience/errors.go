// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType represents different types of errors for handling strategies
type ErrorType int

const (
	ErrorTypeUnknown         ErrorType = iota
	ErrorTypeTransient                 // Connection resets, refused connections
	ErrorTypeTimeout                   // Per-call deadline exceeded
	ErrorTypeUnavailable               // Backend reachable but not serving (5xx, model loading)
	ErrorTypePermanent                 // Bad configuration, unknown model
	ErrorTypeInvalidResponse           // Reply could not be parsed
	ErrorTypeCanceled                  // Run context canceled
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeTransient:
		return "Transient"
	case ErrorTypeTimeout:
		return "Timeout"
	case ErrorTypeUnavailable:
		return "Unavailable"
	case ErrorTypePermanent:
		return "Permanent"
	case ErrorTypeInvalidResponse:
		return "InvalidResponse"
	case ErrorTypeCanceled:
		return "Canceled"
	case ErrorTypeUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(et))
	}
}

// ClassifiedError wraps an error with type information
type ClassifiedError struct {
	Original  error
	Type      ErrorType
	Message   string
	Retryable bool
}

func (e *ClassifiedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Original == nil {
		return e.Type.String()
	}
	return e.Original.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Original
}

// IsRetryable returns whether this error should be retried
func (e *ClassifiedError) IsRetryable() bool {
	return e.Retryable
}

// ClassifyError categorizes an adapter error. Errors that already carry a
// classification anywhere in their chain keep it.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Original: err, Type: ErrorTypeCanceled, Retryable: false}
	}
	if isTimeoutError(err) {
		return &ClassifiedError{Original: err, Type: ErrorTypeTimeout, Retryable: true}
	}
	if isNetworkError(err) {
		return &ClassifiedError{Original: err, Type: ErrorTypeTransient, Retryable: true}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "service unavailable") || strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway"):
		return &ClassifiedError{Original: err, Type: ErrorTypeUnavailable, Retryable: true}
	case strings.Contains(errStr, "invalid character") || strings.Contains(errStr, "unexpected end of json"):
		return &ClassifiedError{Original: err, Type: ErrorTypeInvalidResponse, Retryable: false}
	}

	return &ClassifiedError{Original: err, Type: ErrorTypeUnknown, Retryable: false}
}

// isNetworkError checks if an error is a dial or transport failure
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// isTimeoutError checks if an error is timeout-related
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

// NewTransientError creates a retryable error
func NewTransientError(message string, cause error) *ClassifiedError {
	return &ClassifiedError{Original: cause, Type: ErrorTypeTransient, Message: message, Retryable: true}
}

// NewPermanentError creates an error that is never retried
func NewPermanentError(message string, cause error) *ClassifiedError {
	return &ClassifiedError{Original: cause, Type: ErrorTypePermanent, Message: message, Retryable: false}
}

// IsRetryable reports whether an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).IsRetryable()
}
