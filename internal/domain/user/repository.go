package user

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Repository defines user data access interface
type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByReferralCode(ctx context.Context, code string) (*User, error)

	// LockForUpdate takes a row lock on the user until the surrounding
	// transaction ends. Outside a transaction it only checks existence.
	LockForUpdate(ctx context.Context, id uuid.UUID) error

	// Add* apply a signed delta with a single UPDATE so concurrent
	// credits to the same user never overwrite each other.
	AddBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
	AddReferralEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
	AddTeamEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
}

type repository struct {
	db sqlx.ExtContext
}

// NewRepository creates a user repository bound to a pool or an open transaction.
func NewRepository(db sqlx.ExtContext) Repository {
	return &repository{db: db}
}

const userColumns = `id, username, role, usdt_balance, referral_code, referred_by,
	total_referral_earnings, total_team_earnings, created_at, updated_at`

// Create inserts a user, generating a referral code when none is set.
func (r *repository) Create(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = RolePlayer
	}
	if user.ReferralCode == "" {
		code, err := NewReferralCode()
		if err != nil {
			return fmt.Errorf("user repository create: %w", err)
		}
		user.ReferralCode = code
	}
	if user.HasReferrer() && *user.ReferredBy == user.ReferralCode {
		return ErrSelfReferral
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, role, usdt_balance, referral_code, referred_by,
			total_referral_earnings, total_team_earnings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, user.ID, user.Username, user.Role, user.USDTBalance, user.ReferralCode, user.ReferredBy,
		user.TotalReferralEarnings, user.TotalTeamEarnings, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, "referral_code") {
			return ErrReferralCodeTaken
		}
		return fmt.Errorf("user repository create: %w", err)
	}
	return nil
}

// GetByID returns user by ID
func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user repository get by id: %w", err)
	}
	return &u, nil
}

// GetByReferralCode resolves a referral code to its owner.
func (r *repository) GetByReferralCode(ctx context.Context, code string) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user repository get by referral code: %w", err)
	}
	return &u, nil
}

func (r *repository) LockForUpdate(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := sqlx.GetContext(ctx, r.db, &locked, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("user repository lock: %w", err)
	}
	return nil
}

func (r *repository) AddBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return r.increment(ctx, "usdt_balance", id, delta)
}

func (r *repository) AddReferralEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return r.increment(ctx, "total_referral_earnings", id, delta)
}

func (r *repository) AddTeamEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return r.increment(ctx, "total_team_earnings", id, delta)
}

// increment adds delta to one numeric column. column is always a constant
// from this file, never user input.
func (r *repository) increment(ctx context.Context, column string, id uuid.UUID, delta decimal.Decimal) error {
	query := `UPDATE users SET ` + column + ` = ` + column + ` + $2, updated_at = now() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("user repository add %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("user repository add %s: %w", column, err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// NewReferralCode returns a random 8 character upper-case code.
func NewReferralCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}
