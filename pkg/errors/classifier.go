package errors

import (
	"context"
	"errors"
	"syscall"
)

// ErrorCategory represents the category of an error for metrics and retry decisions.
type ErrorCategory int

const (
	ErrorTransient     ErrorCategory = iota // Server said retrying may succeed
	ErrorPermanent                          // Server rejected the request for good
	ErrorNetwork                            // Connection-level failure
	ErrorValidation                         // Document did not match the target type
	ErrorConfiguration                      // Request could not be built
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	case ErrorNetwork:
		return "network"
	case ErrorValidation:
		return "validation"
	case ErrorConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Classifier categorizes errors.
type Classifier struct{}

// NewClassifier creates a new error classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify determines the category of an error.
func (c *Classifier) Classify(err error) ErrorCategory {
	if err == nil {
		return ErrorPermanent
	}

	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		if dbErr.RetryPossible {
			return ErrorTransient
		}
		return ErrorPermanent
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return ErrorConfiguration
	}

	var deErr *DeserializationError
	if errors.As(err, &deErr) {
		return ErrorValidation
	}

	var trErr *TransportError
	if errors.As(err, &trErr) {
		return ErrorNetwork
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE, syscall.ETIMEDOUT:
			return ErrorNetwork
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorNetwork
	}

	return ErrorPermanent
}

// ShouldRetry reports whether the executor may repeat a request that failed
// with this category. Only server-classified transient failures qualify.
func (c *Classifier) ShouldRetry(category ErrorCategory) bool {
	return category == ErrorTransient
}
