package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while running an action.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Action names the action that failed, if any.
	Action string

	// MatchID identifies the affected match.
	MatchID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeActionFailed indicates an action returned an error and was rolled back.
	ErrCodeActionFailed RuntimeErrorCode = "ACTION_FAILED"

	// ErrCodeInvalidAction indicates an action without a body.
	ErrCodeInvalidAction RuntimeErrorCode = "INVALID_ACTION"

	// ErrCodeLoopRunning indicates Submit was called while Run owns the table.
	ErrCodeLoopRunning RuntimeErrorCode = "LOOP_RUNNING"

	// ErrCodeQueueClosed indicates Enqueue after the loop stopped.
	ErrCodeQueueClosed RuntimeErrorCode = "QUEUE_CLOSED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Action != "" {
		msg = fmt.Sprintf("%s (action=%s, match=%s)", msg, e.Action, e.MatchID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

// HasCode reports whether err wraps a RuntimeError with the given code.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsActionFailed returns true if the error is a rolled-back action.
func IsActionFailed(err error) bool {
	return HasCode(err, ErrCodeActionFailed)
}
