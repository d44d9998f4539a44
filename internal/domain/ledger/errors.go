package ledger

import "errors"

var (
	// ErrTransactionNotFound is returned when no transaction carries the external id
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrUserNotFound is returned when the transaction owner does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrTransactionNotPending is returned when settling a rejected
	// transaction or rejecting a completed one
	ErrTransactionNotPending = errors.New("transaction is not pending")

	// ErrNotDeposit is returned when the external id belongs to a non-deposit entry
	ErrNotDeposit = errors.New("transaction is not a deposit")

	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrCascadeStepFailed wraps a failed referral level. It is logged and
	// reported in the cascade result, never returned from Settle.
	ErrCascadeStepFailed = errors.New("referral cascade step failed")

	ErrInternal = errors.New("internal error")
)
