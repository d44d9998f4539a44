package user

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role represents user role in the system
type Role string

const (
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

// User is a player account with its USDT ledger balance and referral counters.
type User struct {
	ID           uuid.UUID       `db:"id"`
	Username     string          `db:"username"`
	Role         Role            `db:"role"`
	USDTBalance  decimal.Decimal `db:"usdt_balance"`
	ReferralCode string          `db:"referral_code"`
	// ReferredBy holds the referrer's referral code, nil for organic sign-ups.
	ReferredBy *string `db:"referred_by"`

	TotalReferralEarnings decimal.Decimal `db:"total_referral_earnings"`
	TotalTeamEarnings     decimal.Decimal `db:"total_team_earnings"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// HasReferrer reports whether the user signed up with someone's referral code.
func (u *User) HasReferrer() bool {
	return u.ReferredBy != nil && *u.ReferredBy != ""
}

// IsAdmin returns true if user is an admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// BalanceResponse is the public view of a user's balance and earnings.
type BalanceResponse struct {
	UserID                uuid.UUID       `json:"user_id"`
	USDTBalance           decimal.Decimal `json:"usdt_balance"`
	ReferralCode          string          `json:"referral_code"`
	TotalReferralEarnings decimal.Decimal `json:"total_referral_earnings"`
	TotalTeamEarnings     decimal.Decimal `json:"total_team_earnings"`
}

// BalanceResponseFromEntity converts a user into its balance view.
func BalanceResponseFromEntity(u *User) BalanceResponse {
	return BalanceResponse{
		UserID:                u.ID,
		USDTBalance:           u.USDTBalance,
		ReferralCode:          u.ReferralCode,
		TotalReferralEarnings: u.TotalReferralEarnings,
		TotalTeamEarnings:     u.TotalTeamEarnings,
	}
}
