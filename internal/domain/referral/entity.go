package referral

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxLevels is the depth of the referral commission chain.
const MaxLevels = 6

// Earning is one commission paid to a referrer for a single deposit at a
// single level. Only Claimed ever changes after creation.
type Earning struct {
	ID             uuid.UUID       `db:"id"`
	UserID         uuid.UUID       `db:"user_id"`
	ReferredUserID uuid.UUID       `db:"referred_user_id"`
	Level          int             `db:"level"`
	Amount         decimal.Decimal `db:"amount"`
	Claimed        bool            `db:"claimed"`
	// SourceTransactionID is the external id of the deposit that produced
	// the earning; unique together with Level.
	SourceTransactionID string    `db:"source_transaction_id"`
	CreatedAt           time.Time `db:"created_at"`
}

// EarningResponse is the public view of an earning.
type EarningResponse struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	ReferredUserID uuid.UUID       `json:"referred_user_id"`
	Level          int             `json:"level"`
	Amount         decimal.Decimal `json:"amount"`
	Claimed        bool            `json:"claimed"`
	CreatedAt      time.Time       `json:"created_at"`
}

func EarningResponseFromEntity(e *Earning) EarningResponse {
	return EarningResponse{
		ID:             e.ID,
		UserID:         e.UserID,
		ReferredUserID: e.ReferredUserID,
		Level:          e.Level,
		Amount:         e.Amount,
		Claimed:        e.Claimed,
		CreatedAt:      e.CreatedAt,
	}
}

// Summary aggregates a referrer's earnings per level.
type Summary struct {
	Level     int             `db:"level" json:"level"`
	Count     int             `db:"count" json:"count"`
	Total     decimal.Decimal `db:"total" json:"total"`
	Unclaimed decimal.Decimal `db:"unclaimed" json:"unclaimed"`
}
