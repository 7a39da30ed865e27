package state

import (
	"errors"
	"fmt"
)

// ProtocolErrorCode categorizes protocol violations.
type ProtocolErrorCode string

const (
	// ErrCodeMissingObject indicates a command referenced an object the graph does not hold.
	ErrCodeMissingObject ProtocolErrorCode = "MISSING_OBJECT"

	// ErrCodeDuplicateObject indicates a create for an ID that already exists.
	ErrCodeDuplicateObject ProtocolErrorCode = "DUPLICATE_OBJECT"

	// ErrCodeReplicaMutation indicates a synchronized graph was mutated outside replication.
	ErrCodeReplicaMutation ProtocolErrorCode = "REPLICA_MUTATION"

	// ErrCodeInvalidValue indicates a property value that cannot be stored.
	ErrCodeInvalidValue ProtocolErrorCode = "INVALID_VALUE"
)

// ProtocolError is a fatal ordering or usage defect. It is never retried:
// continuing after one would corrupt a replica without anyone noticing.
type ProtocolError struct {
	Code    ProtocolErrorCode
	Message string
	Object  ID
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Object != 0 {
		return fmt.Sprintf("%s: %s (object=%d)", e.Code, e.Message, e.Object)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsProtocolError reports whether err wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// HasCode reports whether err wraps a ProtocolError with the given code.
func HasCode(err error, code ProtocolErrorCode) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

func missingObject(id ID) *ProtocolError {
	return &ProtocolError{Code: ErrCodeMissingObject, Message: "object not found", Object: id}
}
