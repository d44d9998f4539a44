package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/referral"
	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
)

// SQLStore implements Store over PostgreSQL using the domain repositories.
type SQLStore struct {
	db *sqlx.DB // nil when bound to an open transaction

	users        user.Repository
	transactions transaction.Repository
	earnings     referral.Repository
}

// NewSQLStore creates a Store over a connection pool.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	s := bind(db)
	s.db = db
	return s
}

func bind(ext sqlx.ExtContext) *SQLStore {
	return &SQLStore{
		users:        user.NewRepository(ext),
		transactions: transaction.NewRepository(ext),
		earnings:     referral.NewRepository(ext),
	}
}

func (s *SQLStore) GetUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *SQLStore) GetUserByReferralCode(ctx context.Context, code string) (*user.User, error) {
	return s.users.GetByReferralCode(ctx, code)
}

func (s *SQLStore) LockUser(ctx context.Context, id uuid.UUID) error {
	return s.users.LockForUpdate(ctx, id)
}

func (s *SQLStore) UpdateUserBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return s.users.AddBalance(ctx, id, delta)
}

func (s *SQLStore) UpdateUserReferralEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return s.users.AddReferralEarnings(ctx, id, delta)
}

func (s *SQLStore) UpdateUserTeamEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return s.users.AddTeamEarnings(ctx, id, delta)
}

func (s *SQLStore) CreateReferralEarning(ctx context.Context, e *referral.Earning) error {
	return s.earnings.Create(ctx, e)
}

func (s *SQLStore) GetTransactionByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	return s.transactions.GetByExternalID(ctx, externalID)
}

func (s *SQLStore) CreateTransaction(ctx context.Context, t *transaction.Transaction) error {
	return s.transactions.Create(ctx, t)
}

func (s *SQLStore) CompareAndSetTransactionStatus(ctx context.Context, externalID string, from, to transaction.Status) (bool, error) {
	return s.transactions.CompareAndSetStatus(ctx, externalID, from, to)
}

func (s *SQLStore) GetTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]*transaction.Transaction, error) {
	return s.transactions.ListByUser(ctx, userID)
}

// WithinTx runs fn inside a READ COMMITTED transaction. On a store already
// bound to a transaction fn joins it.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrInternal, err)
	}
	defer tx.Rollback()

	if err := fn(bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrInternal, err)
	}
	return nil
}
