package transaction

import "errors"

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateTransaction is returned when the external id is already recorded.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
	ErrInvalidTransition    = errors.New("invalid status transition")
)
