package txlog

import "errors"

var (
	// ErrNoTransaction is returned by End when no transaction is open.
	ErrNoTransaction = errors.New("no open transaction")

	// ErrTransactionOpen is returned by Undo and Redo inside a transaction.
	ErrTransactionOpen = errors.New("transaction open")

	// ErrNothingToUndo is returned by Undo when the history is empty.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned by Redo when nothing was undone.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// DeliveryError reports listener failures. The canonical graph already
// reflects the command when it is returned.
type DeliveryError struct {
	Err error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return "delivery: " + e.Err.Error()
}

// Unwrap returns the listener errors.
func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDeliveryError reports whether err wraps a DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
