package transaction

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type is the kind of ledger entry. Amount is always positive, the
// direction is implied by the type.
type Type string

const (
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
	TypePurchase   Type = "purchase"
	TypeCommission Type = "commission"
	TypeBonus      Type = "bonus"
	TypeSale       Type = "sale"
)

// IsValid checks if the type is known
func (t Type) IsValid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypePurchase, TypeCommission, TypeBonus, TypeSale:
		return true
	}
	return false
}

// Status of a ledger entry. pending may move to completed or rejected;
// both are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Transaction is one ledger entry.
type Transaction struct {
	ID     uuid.UUID       `db:"id"`
	UserID uuid.UUID       `db:"user_id"`
	Type   Type            `db:"type"`
	Amount decimal.Decimal `db:"amount"`
	Status Status          `db:"status"`

	// TransactionID is the external correlation id (gateway payment id for
	// deposits). It is unique and serves as the settlement idempotency key.
	TransactionID sql.NullString `db:"transaction_id"`
	Description   string         `db:"description"`

	CompletedAt sql.NullTime `db:"completed_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// ExternalID returns the external correlation id or "".
func (t *Transaction) ExternalID() string {
	if t.TransactionID.Valid {
		return t.TransactionID.String
	}
	return ""
}

// IsCompletedDeposit reports whether t is a deposit that has been settled.
func (t *Transaction) IsCompletedDeposit() bool {
	return t.Type == TypeDeposit && t.Status == StatusCompleted
}

// ExternalIDValue wraps an external id for the TransactionID field.
func ExternalIDValue(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

// ListFilter narrows a user's history listing.
type ListFilter struct {
	Type   Type
	Status Status
	Limit  int
	Offset int
}

// TransactionResponse is the public view of a ledger entry.
type TransactionResponse struct {
	ID            uuid.UUID       `json:"id"`
	Type          Type            `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ResponseFromEntity converts a transaction into its public view.
func ResponseFromEntity(t *Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:            t.ID,
		Type:          t.Type,
		Amount:        t.Amount,
		Status:        t.Status,
		TransactionID: t.ExternalID(),
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
	}
	if t.CompletedAt.Valid {
		completedAt := t.CompletedAt.Time
		resp.CompletedAt = &completedAt
	}
	return resp
}
