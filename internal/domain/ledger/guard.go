package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
)

// CASResult is the outcome of the pending -> completed compare-and-set.
type CASResult int

const (
	// CASApplied means this caller moved the transaction to completed and
	// owns the finalization side effects.
	CASApplied CASResult = iota
	// CASAlreadyDone means the transaction was completed before we looked.
	CASAlreadyDone
	// CASConflict means another caller won the compare-and-set between our
	// read and our write. Treated exactly like CASAlreadyDone.
	CASConflict
)

func (r CASResult) String() string {
	switch r {
	case CASApplied:
		return "applied"
	case CASAlreadyDone:
		return "already_done"
	case CASConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// GuardResult tells the caller whether to run the finalizer.
type GuardResult struct {
	AlreadyFinalized bool
	Outcome          CASResult
}

// TryFinalize atomically claims the deposit identified by externalID for
// finalization. Exactly one caller ever sees AlreadyFinalized == false.
func (s *Service) TryFinalize(ctx context.Context, externalID string) (GuardResult, error) {
	res, _, err := s.tryFinalize(ctx, s.store, externalID)
	return res, err
}

func (s *Service) tryFinalize(ctx context.Context, st Store, externalID string) (GuardResult, *transaction.Transaction, error) {
	tx, err := loadDeposit(ctx, st, externalID)
	if err != nil {
		return GuardResult{}, nil, err
	}

	switch tx.Status {
	case transaction.StatusCompleted:
		return GuardResult{AlreadyFinalized: true, Outcome: CASAlreadyDone}, tx, nil
	case transaction.StatusRejected:
		return GuardResult{}, tx, ErrTransactionNotPending
	}

	applied, err := st.CompareAndSetTransactionStatus(ctx, externalID, transaction.StatusPending, transaction.StatusCompleted)
	if err != nil {
		return GuardResult{}, tx, fmt.Errorf("%w: complete transaction %s: %v", ErrInternal, externalID, err)
	}
	if applied {
		tx.Status = transaction.StatusCompleted
		return GuardResult{AlreadyFinalized: false, Outcome: CASApplied}, tx, nil
	}

	// Lost the race. Re-read to tell a concurrent completion from a rejection.
	current, err := loadDeposit(ctx, st, externalID)
	if err != nil {
		return GuardResult{}, tx, err
	}
	if current.Status == transaction.StatusRejected {
		return GuardResult{}, current, ErrTransactionNotPending
	}
	return GuardResult{AlreadyFinalized: true, Outcome: CASConflict}, current, nil
}

// reject moves a pending deposit to rejected. Rejecting an already rejected
// deposit is a no-op; rejecting a completed one fails.
func (s *Service) reject(ctx context.Context, st Store, externalID string) (bool, error) {
	tx, err := loadDeposit(ctx, st, externalID)
	if err != nil {
		return false, err
	}
	switch tx.Status {
	case transaction.StatusRejected:
		return false, nil
	case transaction.StatusCompleted:
		return false, ErrTransactionNotPending
	}

	applied, err := st.CompareAndSetTransactionStatus(ctx, externalID, transaction.StatusPending, transaction.StatusRejected)
	if err != nil {
		return false, fmt.Errorf("%w: reject transaction %s: %v", ErrInternal, externalID, err)
	}
	if applied {
		return true, nil
	}

	current, err := loadDeposit(ctx, st, externalID)
	if err != nil {
		return false, err
	}
	if current.Status == transaction.StatusCompleted {
		return false, ErrTransactionNotPending
	}
	return false, nil
}

func loadDeposit(ctx context.Context, st Store, externalID string) (*transaction.Transaction, error) {
	if externalID == "" {
		return nil, ErrTransactionNotFound
	}
	tx, err := st.GetTransactionByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, transaction.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: load transaction %s: %v", ErrInternal, externalID, err)
	}
	if tx.Type != transaction.TypeDeposit {
		return nil, ErrNotDeposit
	}
	return tx, nil
}
