// Package errs defines the flat error taxonomy shared by every device
// manager and backend adapter. Backend-specific failures are mapped into
// this taxonomy at the adapter boundary; managers never let upstream error
// types escape to the gateway.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Every error produced by a manager or adapter
// carries exactly one Kind.
type Kind string

const (
	// InvalidArgument means parameters failed validation and the request
	// never reached the backend.
	InvalidArgument Kind = "InvalidArgument"
	// Unsupported means the operation requires a capability the connected
	// device does not advertise.
	Unsupported Kind = "Unsupported"
	// NotConnected means the operation requires a connected device.
	NotConnected Kind = "NotConnected"
	// Busy means a conflicting operation is already in flight.
	Busy Kind = "Busy"
	// Timeout means a long operation exceeded its configured deadline.
	Timeout Kind = "Timeout"
	// Aborted means the operation was cancelled by the client.
	Aborted Kind = "Aborted"
	// BackendError means the backend reported an error.
	BackendError Kind = "BackendError"
	// NetworkError means the backend channel itself failed.
	NetworkError Kind = "NetworkError"
	// DriverError means the backend is reachable but rejected the operation.
	DriverError Kind = "DriverError"
	// PersistenceError means reading or writing a configuration file failed.
	PersistenceError Kind = "PersistenceError"
	// ProtocolError means a malformed message on the client channel or from
	// a backend.
	ProtocolError Kind = "ProtocolError"
)

// Error is the taxonomy error type. Diagnostic carries the upstream text
// when one exists and is surfaced to clients verbatim.
type Error struct {
	Kind       Kind
	Message    string
	Diagnostic string
}

func (e *Error) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Diagnostic)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New creates a taxonomy error without upstream diagnostics.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a taxonomy error that records err as the upstream diagnostic.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
	if err != nil {
		e.Diagnostic = err.Error()
	}
	return e
}

// KindOf extracts the Kind from err. Errors from outside the taxonomy are
// reported as BackendError so callers always have a classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return BackendError
}

// DiagnosticOf returns the upstream diagnostic text, if any.
func DiagnosticOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Diagnostic
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the failure class is worth a client retry.
// The server itself never retries; reconnect is an explicit operation.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == NetworkError || k == Timeout
}
