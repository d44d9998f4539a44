package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Repository defines transaction data access interface
type Repository interface {
	// Create inserts t. A second row with the same external id is not
	// inserted and ErrDuplicateTransaction is returned, without aborting an
	// enclosing SQL transaction.
	Create(ctx context.Context, t *Transaction) error
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)

	// CompareAndSetStatus moves the row keyed by externalID from `from` to
	// `to` in one conditional UPDATE and reports whether this call made the
	// change.
	CompareAndSetStatus(ctx context.Context, externalID string, from, to Status) (bool, error)

	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Transaction, error)
	ListByUserFiltered(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]*Transaction, error)

	// ListStalePendingDeposits returns external ids of deposits still pending
	// that were created before the cutoff, oldest first.
	ListStalePendingDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
}

type repository struct {
	db sqlx.ExtContext
}

// NewRepository creates a transaction repository bound to a pool or an open transaction.
func NewRepository(db sqlx.ExtContext) Repository {
	return &repository{db: db}
}

const transactionColumns = `id, user_id, type, amount, status, transaction_id, description,
	completed_at, created_at, updated_at`

func (r *repository) Create(ctx context.Context, t *Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == StatusCompleted && !t.CompletedAt.Valid {
		t.CompletedAt = sql.NullTime{Time: now, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, status, transaction_id, description,
			completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (transaction_id) WHERE transaction_id IS NOT NULL DO NOTHING
	`, t.ID, t.UserID, t.Type, t.Amount, t.Status, t.TransactionID, t.Description,
		t.CompletedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("transaction repository create: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transaction repository create: %w", err)
	}
	if rows == 0 {
		return ErrDuplicateTransaction
	}
	return nil
}

func (r *repository) GetByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	var t Transaction
	err := sqlx.GetContext(ctx, r.db, &t,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction repository get by external id: %w", err)
	}
	return &t, nil
}

func (r *repository) CompareAndSetStatus(ctx context.Context, externalID string, from, to Status) (bool, error) {
	if from.IsTerminal() {
		return false, ErrInvalidTransition
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3::text,
		    completed_at = CASE WHEN $3::text = 'completed' THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE transaction_id = $1 AND status = $2
	`, externalID, from, to)
	if err != nil {
		return false, fmt.Errorf("transaction repository compare and set: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transaction repository compare and set: %w", err)
	}
	return rows == 1, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Transaction, error) {
	var items []*Transaction
	err := sqlx.SelectContext(ctx, r.db, &items, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("transaction repository list by user: %w", err)
	}
	return items, nil
}

func (r *repository) ListByUserFiltered(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]*Transaction, error) {
	limit, offset := filter.Limit, filter.Offset
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []interface{}{userID}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var items []*Transaction
	if err := sqlx.SelectContext(ctx, r.db, &items, query, args...); err != nil {
		return nil, fmt.Errorf("transaction repository list filtered: %w", err)
	}
	return items, nil
}

func (r *repository) ListStalePendingDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var ids []string
	err := sqlx.SelectContext(ctx, r.db, &ids, `
		SELECT transaction_id
		FROM transactions
		WHERE type = $1 AND status = $2 AND transaction_id IS NOT NULL AND created_at < $3
		ORDER BY created_at ASC
		LIMIT $4
	`, TypeDeposit, StatusPending, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("transaction repository list stale pending: %w", err)
	}
	return ids, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
