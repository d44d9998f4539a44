package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
)

// BonusExternalIDPrefix prefixes the originating deposit id to form the
// bonus transaction's external id.
const BonusExternalIDPrefix = "bonus-"

// FinalizationResult describes the one-time effects of a settled deposit.
type FinalizationResult struct {
	CreditedAmount decimal.Decimal `json:"credited_amount"`
	BonusAmount    decimal.Decimal `json:"bonus_amount"`
	IsFirstDeposit bool            `json:"is_first_deposit"`
	Cascade        CascadeReport   `json:"cascade"`
}

// Finalize applies the one-time effects of a deposit the caller has already
// claimed through TryFinalize: credit, first-deposit bonus, then the
// referral cascade. Credit and bonus commit together; the cascade is best
// effort and never fails Finalize.
func (s *Service) Finalize(ctx context.Context, tx *transaction.Transaction, u *user.User) (FinalizationResult, error) {
	if tx == nil || u == nil || tx.UserID != u.ID {
		return FinalizationResult{}, fmt.Errorf("%w: transaction does not belong to user", ErrInternal)
	}

	var res FinalizationResult
	err := s.store.WithinTx(ctx, func(st Store) error {
		if err := lockOwner(ctx, st, u.ID); err != nil {
			return err
		}
		var err error
		res, err = s.credit(ctx, st, tx, u)
		return err
	})
	if err != nil {
		return FinalizationResult{}, err
	}

	res.Cascade = s.cascade(ctx, u, tx.Amount, tx.ExternalID())
	return res, nil
}

// credit performs the depositor-side effects. Any error is fatal and the
// caller's unit of work must roll back.
func (s *Service) credit(ctx context.Context, st Store, tx *transaction.Transaction, u *user.User) (FinalizationResult, error) {
	if !tx.Amount.IsPositive() {
		return FinalizationResult{}, ErrInvalidAmount
	}

	res := FinalizationResult{CreditedAmount: tx.Amount, BonusAmount: decimal.Zero}

	if err := st.UpdateUserBalance(ctx, u.ID, tx.Amount); err != nil {
		return FinalizationResult{}, fmt.Errorf("%w: credit deposit: %v", ErrInternal, err)
	}

	first, err := isFirstDeposit(ctx, st, tx)
	if err != nil {
		return FinalizationResult{}, err
	}
	res.IsFirstDeposit = first
	if !first {
		return res, nil
	}

	bonus := s.rates.BonusFor(tx.Amount)
	if !bonus.IsPositive() {
		return res, nil
	}

	bonusTx := &transaction.Transaction{
		UserID:        u.ID,
		Type:          transaction.TypeBonus,
		Amount:        bonus,
		Status:        transaction.StatusCompleted,
		TransactionID: transaction.ExternalIDValue(BonusExternalIDPrefix + tx.ExternalID()),
		Description:   "First deposit bonus",
	}
	err = st.CreateTransaction(ctx, bonusTx)
	if errors.Is(err, transaction.ErrDuplicateTransaction) {
		logger.FromContext(ctx).Warn().
			Str("transaction_id", tx.ExternalID()).
			Msg("First deposit bonus already recorded, skipping credit")
		return res, nil
	}
	if err != nil {
		return FinalizationResult{}, fmt.Errorf("%w: record bonus: %v", ErrInternal, err)
	}
	if err := st.UpdateUserBalance(ctx, u.ID, bonus); err != nil {
		return FinalizationResult{}, fmt.Errorf("%w: credit bonus: %v", ErrInternal, err)
	}
	res.BonusAmount = bonus
	return res, nil
}

// isFirstDeposit reports whether tx is the user's only completed deposit.
// tx itself is excluded so the check works after the guard completed it.
func isFirstDeposit(ctx context.Context, st Store, tx *transaction.Transaction) (bool, error) {
	history, err := st.GetTransactionsByUserID(ctx, tx.UserID)
	if err != nil {
		return false, fmt.Errorf("%w: load deposit history: %v", ErrInternal, err)
	}
	for _, other := range history {
		if other.ID == tx.ID {
			continue
		}
		if other.IsCompletedDeposit() {
			return false, nil
		}
	}
	return true, nil
}

// lockOwner takes the per-user lock so two deposits of the same user decide
// "first deposit" one after the other.
func lockOwner(ctx context.Context, st Store, userID uuid.UUID) error {
	err := st.LockUser(ctx, userID)
	if errors.Is(err, user.ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: lock user %s: %v", ErrInternal, userID, err)
	}
	return nil
}
