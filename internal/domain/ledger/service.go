package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
)

// Source names the trigger that observed a payment outcome.
type Source string

const (
	SourceAdmin   Source = "admin"
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// Settlement is what a trigger gets back from Settle.
type Settlement struct {
	Guard       GuardResult              `json:"-"`
	Transaction *transaction.Transaction `json:"-"`
	// Result is zero when Guard.AlreadyFinalized is true.
	Result FinalizationResult `json:"result"`
}

// Service settles deposits: it is the single entry point behind the admin,
// webhook and status-poll triggers.
type Service struct {
	store Store
	rates Rates
}

// NewService creates the settlement service over store.
func NewService(store Store, rates Rates) *Service {
	return &Service{store: store, rates: rates.normalized()}
}

// Settle finalizes the deposit identified by externalID at most once.
//
// The guard's compare-and-set, the depositor credit and the first-deposit
// bonus commit in one unit of work, so a failed credit leaves the
// transaction pending and the trigger may retry. The referral cascade runs
// afterwards and cannot fail Settle.
func (s *Service) Settle(ctx context.Context, externalID string, source Source) (*Settlement, error) {
	log := logger.FromContext(ctx).With().
		Str("transaction_id", externalID).
		Str("source", string(source)).
		Logger()

	var (
		out       Settlement
		depositor *user.User
	)
	err := s.store.WithinTx(ctx, func(st Store) error {
		guard, tx, err := s.tryFinalize(ctx, st, externalID)
		if err != nil {
			return err
		}
		out.Guard, out.Transaction = guard, tx
		if guard.AlreadyFinalized {
			return nil
		}

		if err := lockOwner(ctx, st, tx.UserID); err != nil {
			return err
		}
		depositor, err = st.GetUser(ctx, tx.UserID)
		if errors.Is(err, user.ErrUserNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: load user %s: %v", ErrInternal, tx.UserID, err)
		}

		out.Result, err = s.credit(ctx, st, tx, depositor)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInternal) {
			log.Error().Err(err).Msg("Deposit settlement failed")
		} else {
			log.Warn().Err(err).Msg("Deposit settlement refused")
		}
		return nil, err
	}

	if out.Guard.AlreadyFinalized {
		log.Info().Str("outcome", out.Guard.Outcome.String()).Msg("Deposit already settled")
		return &out, nil
	}

	log.Info().
		Str("user_id", depositor.ID.String()).
		Str("amount", out.Result.CreditedAmount.String()).
		Str("bonus", out.Result.BonusAmount.String()).
		Bool("first_deposit", out.Result.IsFirstDeposit).
		Msg("Deposit credited")

	out.Result.Cascade = s.cascade(ctx, depositor, out.Transaction.Amount, externalID)
	return &out, nil
}

// Reject marks a pending deposit as rejected. It reports whether this call
// made the change; repeating a rejection is a no-op.
func (s *Service) Reject(ctx context.Context, externalID string, source Source) (bool, error) {
	var changed bool
	err := s.store.WithinTx(ctx, func(st Store) error {
		var err error
		changed, err = s.reject(ctx, st, externalID)
		return err
	})
	if err != nil {
		return false, err
	}

	if changed {
		logger.FromContext(ctx).Info().
			Str("transaction_id", externalID).
			Str("source", string(source)).
			Msg("Deposit rejected")
	}
	return changed, nil
}
