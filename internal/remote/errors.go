package remote

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes a server that answered "no" from a transport
// that never answered. The cache layer treats both the same way
// (rollback, then invalidate) but callers surface them differently.
type ErrorKind string

const (
	// KindRejected means the server returned an error payload.
	KindRejected ErrorKind = "remote_rejected"
	// KindNetwork means the call failed at the transport level,
	// including the transport's own timeout.
	KindNetwork ErrorKind = "network_failure"
)

// Error is a failed remote call.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Rejected wraps a server error payload.
func Rejected(message string) *Error {
	return &Error{Kind: KindRejected, Message: message}
}

// NetworkFailure wraps a transport-level failure.
func NetworkFailure(err error) *Error {
	return &Error{Kind: KindNetwork, Message: err.Error(), cause: err}
}

// IsRejected reports whether err is a server rejection.
func IsRejected(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindRejected
}

// IsNetworkFailure reports whether err is a transport failure.
func IsNetworkFailure(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindNetwork
}
