package replication

import (
	"errors"
	"fmt"

	"github.com/roach88/tablesync/internal/visibility"
)

// ErrorCode categorizes replication errors.
type ErrorCode string

const (
	// ErrCodeDuplicateRegistration indicates a client was registered twice.
	ErrCodeDuplicateRegistration ErrorCode = "DUPLICATE_REGISTRATION"

	// ErrCodeUnknownClient indicates an unregister for a client that is not registered.
	ErrCodeUnknownClient ErrorCode = "UNKNOWN_CLIENT"

	// ErrCodeClientFailed indicates a client returned an error from a delivery.
	ErrCodeClientFailed ErrorCode = "CLIENT_FAILED"

	// ErrCodeTransactionMismatch indicates an end without a matching begin.
	ErrCodeTransactionMismatch ErrorCode = "TRANSACTION_MISMATCH"

	// ErrCodeBufferedTransaction indicates an operation that would expose
	// the uncommitted edits of a buffered transaction.
	ErrCodeBufferedTransaction ErrorCode = "BUFFERED_TRANSACTION"
)

// Error is a replication failure, attributed to a viewer when known.
type Error struct {
	Code    ErrorCode
	Message string
	Viewer  visibility.ViewerKey
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Viewer != "" {
		msg += fmt.Sprintf(" (viewer=%s)", e.Viewer)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// HasCode reports whether err wraps an Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsDuplicateRegistration reports whether err is a duplicate registration.
func IsDuplicateRegistration(err error) bool {
	return HasCode(err, ErrCodeDuplicateRegistration)
}

// IsClientFailed reports whether err wraps a client delivery failure.
func IsClientFailed(err error) bool {
	return HasCode(err, ErrCodeClientFailed)
}

func bufferedTransaction(op string, viewer visibility.ViewerKey) *Error {
	return &Error{
		Code:    ErrCodeBufferedTransaction,
		Message: op + " while a buffered transaction is open",
		Viewer:  viewer,
	}
}

func clientFailed(viewer visibility.ViewerKey, op string, err error) *Error {
	return &Error{Code: ErrCodeClientFailed, Message: op, Viewer: viewer, Err: err}
}
