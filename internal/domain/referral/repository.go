package referral

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

// Repository defines referral earning data access interface
type Repository interface {
	// Create records e. A repeat of (SourceTransactionID, Level) is not
	// inserted and yields ErrDuplicateEarning.
	Create(ctx context.Context, e *Earning) error
	GetByID(ctx context.Context, id uuid.UUID) (*Earning, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Earning, error)
	ListBySource(ctx context.Context, sourceTransactionID string) ([]*Earning, error)
	SummaryByUser(ctx context.Context, userID uuid.UUID) ([]Summary, error)
	// MarkClaimed flips claimed for an earning owned by userID. It returns
	// false when the row is missing, foreign or already claimed.
	MarkClaimed(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

type repository struct {
	db sqlx.ExtContext
}

// NewRepository creates a referral repository bound to a pool or an open transaction.
func NewRepository(db sqlx.ExtContext) Repository {
	return &repository{db: db}
}

const earningColumns = `id, user_id, referred_user_id, level, amount, claimed, source_transaction_id, created_at`

func (r *repository) Create(ctx context.Context, e *Earning) error {
	if e.Level < 1 || e.Level > MaxLevels {
		return ErrInvalidLevel
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO referral_earnings (id, user_id, referred_user_id, level, amount, claimed, source_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_transaction_id, level) DO NOTHING
	`, e.ID, e.UserID, e.ReferredUserID, e.Level, e.Amount, e.Claimed, e.SourceTransactionID, e.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEarning
		}
		return fmt.Errorf("referral repository create: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("referral repository create: %w", err)
	}
	if rows == 0 {
		return ErrDuplicateEarning
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Earning, error) {
	var e Earning
	err := sqlx.GetContext(ctx, r.db, &e, `SELECT `+earningColumns+` FROM referral_earnings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEarningNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("referral repository get: %w", err)
	}
	return &e, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Earning, error) {
	if limit <= 0 {
		limit = 20
	}
	var items []*Earning
	err := sqlx.SelectContext(ctx, r.db, &items, `
		SELECT `+earningColumns+`
		FROM referral_earnings
		WHERE user_id = $1
		ORDER BY created_at DESC, level ASC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("referral repository list by user: %w", err)
	}
	return items, nil
}

func (r *repository) ListBySource(ctx context.Context, sourceTransactionID string) ([]*Earning, error) {
	var items []*Earning
	err := sqlx.SelectContext(ctx, r.db, &items, `
		SELECT `+earningColumns+`
		FROM referral_earnings
		WHERE source_transaction_id = $1
		ORDER BY level ASC
	`, sourceTransactionID)
	if err != nil {
		return nil, fmt.Errorf("referral repository list by source: %w", err)
	}
	return items, nil
}

func (r *repository) SummaryByUser(ctx context.Context, userID uuid.UUID) ([]Summary, error) {
	var items []Summary
	err := sqlx.SelectContext(ctx, r.db, &items, `
		SELECT level,
		       COUNT(*) AS count,
		       COALESCE(SUM(amount), 0) AS total,
		       COALESCE(SUM(amount) FILTER (WHERE NOT claimed), 0) AS unclaimed
		FROM referral_earnings
		WHERE user_id = $1
		GROUP BY level
		ORDER BY level
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("referral repository summary: %w", err)
	}
	return items, nil
}

func (r *repository) MarkClaimed(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE referral_earnings SET claimed = true
		WHERE id = $1 AND user_id = $2 AND claimed = false
	`, id, userID)
	if err != nil {
		return false, fmt.Errorf("referral repository mark claimed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("referral repository mark claimed: %w", err)
	}
	return rows == 1, nil
}
