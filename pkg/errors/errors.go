// Package errors provides the shared error taxonomy for the nodewire transport stack.
//
// Transport failures are classified into exactly two tiers: retryable (transient,
// worth backing off and trying again) and fatal (protocol or configuration level,
// never retried). Everything above the transport decides retry-vs-abort with
// IsRetryable and IsFatal rather than inspecting concrete error types.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrRetriesExceeded indicates the retry budget was exhausted.
	ErrRetriesExceeded = stderrors.New("retries exceeded")

	// ErrNetworkUnreachable indicates the connectivity pre-check could not
	// reach one of the probed endpoints.
	ErrNetworkUnreachable = stderrors.New("network unreachable")

	// ErrNetworkUnavailable indicates no usable network before an operation
	// even attempted a connection.
	ErrNetworkUnavailable = stderrors.New("network unavailable")

	// ErrNotConnected indicates a required connection is not established.
	ErrNotConnected = stderrors.New("not connected")

	// ErrClosed indicates the resource has been closed.
	ErrClosed = stderrors.New("closed")

	// ErrNotSupported indicates the operation is not supported by the
	// configured transport (e.g. subscriptions over plain HTTP).
	ErrNotSupported = stderrors.New("not supported")
)

// TransportError wraps an underlying failure with its retry classification.
type TransportError struct {
	Transient bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Transient {
		return fmt.Sprintf("retryable: %v", e.Err)
	}
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable marks err as transient. Returns nil if err is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Transient: true, Err: err}
}

// Retryablef formats a transient error.
func Retryablef(format string, args ...any) error {
	return &TransportError{Transient: true, Err: fmt.Errorf(format, args...)}
}

// Fatal marks err as non-recoverable. Returns nil if err is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Transient: false, Err: err}
}

// Fatalf formats a non-recoverable error.
func Fatalf(format string, args ...any) error {
	return &TransportError{Transient: false, Err: fmt.Errorf(format, args...)}
}

// IsRetryable reports whether err carries a transient classification.
func IsRetryable(err error) bool {
	var te *TransportError
	return stderrors.As(err, &te) && te.Transient
}

// IsFatal reports whether err carries a non-recoverable classification.
// An unclassified error is neither retryable nor fatal.
func IsFatal(err error) bool {
	var te *TransportError
	return stderrors.As(err, &te) && !te.Transient
}

// Is, As and New re-export the stdlib so callers need a single errors import.
func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func New(text string) error         { return stderrors.New(text) }
