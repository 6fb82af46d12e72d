// Package errors defines the error taxonomy shared by the query client,
// its transports and the emulator backend.
package errors

import (
	"errors"
	"fmt"

	"github.com/kartikbazzad/bunquery/wire"
)

var (
	// ErrInvalidResponse is returned when a reply frame does not match the request.
	ErrInvalidResponse = errors.New("invalid response from server")

	// ErrServerClosed is returned by the RPC server after Stop.
	ErrServerClosed = errors.New("server closed")

	// ErrStreamClosed is returned by Recv on a response stream that was closed.
	ErrStreamClosed = errors.New("response stream closed")
)

// TransportError is a network or RPC-level failure: dialing, framing, I/O.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DatabaseError is a failure reported by the server. RetryPossible is the
// server's classification of whether repeating the request may succeed.
type DatabaseError struct {
	Code          wire.Code
	Message       string
	RetryPossible bool
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error %s: %s", e.Code, e.Message)
}

// NewDatabaseError builds a DatabaseError with retry eligibility derived from code.
func NewDatabaseError(code wire.Code, message string) *DatabaseError {
	return &DatabaseError{
		Code:          code,
		Message:       message,
		RetryPossible: code.Retryable(),
	}
}

// FromStatus converts an error status frame into a DatabaseError.
func FromStatus(st *wire.Status) *DatabaseError {
	return NewDatabaseError(st.Code, st.Message)
}

// ToStatus converts any error into the status frame sent to clients.
func ToStatus(err error) *wire.Status {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return &wire.Status{Code: dbErr.Code, Message: dbErr.Message}
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return &wire.Status{Code: wire.CodeInvalidArgument, Message: cfgErr.Message}
	}
	return &wire.Status{Code: wire.CodeUnknown, Message: err.Error()}
}

// ConfigurationError is returned when a request cannot be built, e.g. an
// unsupported consistency selector combination.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// Configurationf formats a ConfigurationError.
func Configurationf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// DeserializationError is returned when a document does not match the
// shape of the requested type.
type DeserializationError struct {
	Document string
	Err      error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to deserialize document %q: %v", e.Document, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// IsRetryPossible reports whether err is a server error flagged retry-eligible.
func IsRetryPossible(err error) bool {
	c := NewClassifier()
	return c.ShouldRetry(c.Classify(err))
}
