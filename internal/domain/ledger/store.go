package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/referral"
	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
)

// Store is the persistence port the settlement engine runs against.
//
// Lookups return user.ErrUserNotFound / transaction.ErrTransactionNotFound
// for missing rows. CreateTransaction returns
// transaction.ErrDuplicateTransaction and CreateReferralEarning returns
// referral.ErrDuplicateEarning when the idempotency key already exists; in
// both cases nothing is written and an enclosing WithinTx stays usable.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*user.User, error)
	// LockUser serializes settlements of the same user until WithinTx returns.
	LockUser(ctx context.Context, id uuid.UUID) error

	UpdateUserBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
	UpdateUserReferralEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
	UpdateUserTeamEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error

	CreateReferralEarning(ctx context.Context, e *referral.Earning) error

	GetTransactionByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error)
	CreateTransaction(ctx context.Context, t *transaction.Transaction) error
	CompareAndSetTransactionStatus(ctx context.Context, externalID string, from, to transaction.Status) (bool, error)
	GetTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]*transaction.Transaction, error)

	// WithinTx runs fn against a Store bound to one atomic unit of work.
	// fn's error rolls everything back. Calling WithinTx on the Store handed
	// to fn runs in the same unit.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
