package deposit

import (
	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/ledger"
	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/pkg/nowpayments"
)

// CreateDepositRequest is the body of POST /deposits.
type CreateDepositRequest struct {
	Amount      string `json:"amount" validate:"required,usdt_amount"`
	PayCurrency string `json:"pay_currency" validate:"pay_currency"`
}

// RejectRequest is the optional body of the admin reject endpoint.
type RejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// DepositResponse tells the player where to send funds.
type DepositResponse struct {
	TransactionID string                    `json:"transaction_id"`
	Amount        decimal.Decimal           `json:"amount"`
	Status        transaction.Status        `json:"status"`
	PayAddress    string                    `json:"pay_address"`
	PayAmount     decimal.Decimal           `json:"pay_amount"`
	PayCurrency   string                    `json:"pay_currency"`
	GatewayStatus nowpayments.PaymentStatus `json:"gateway_status"`
}

// StatusResponse is returned by the status poll endpoint.
type StatusResponse struct {
	TransactionID string                    `json:"transaction_id"`
	Amount        decimal.Decimal           `json:"amount"`
	Status        transaction.Status        `json:"status"`
	GatewayStatus nowpayments.PaymentStatus `json:"gateway_status,omitempty"`
	// Settlement is set only on the request that settled the deposit.
	Settlement *PlayerSettlement `json:"settlement,omitempty"`
}

// PlayerSettlement is the depositor's view of a settlement. Upline referrers
// and their commissions stay on the admin side.
type PlayerSettlement struct {
	CreditedAmount decimal.Decimal `json:"credited_amount"`
	BonusAmount    decimal.Decimal `json:"bonus_amount"`
	IsFirstDeposit bool            `json:"is_first_deposit"`
}

func playerSettlement(r ledger.FinalizationResult) *PlayerSettlement {
	return &PlayerSettlement{
		CreditedAmount: r.CreditedAmount,
		BonusAmount:    r.BonusAmount,
		IsFirstDeposit: r.IsFirstDeposit,
	}
}

// SettleResponse is returned by the admin approve endpoint.
type SettleResponse struct {
	TransactionID    string                     `json:"transaction_id"`
	AlreadyFinalized bool                       `json:"already_finalized"`
	Outcome          string                     `json:"outcome"`
	Result           *ledger.FinalizationResult `json:"result,omitempty"`
}

// IPNAction is what the webhook did with a notification.
type IPNAction string

const (
	IPNSettled        IPNAction = "settled"
	IPNAlreadySettled IPNAction = "already_settled"
	IPNRejected       IPNAction = "rejected"
	IPNIgnored        IPNAction = "ignored"
)

// IPNResult is acknowledged back to the gateway.
type IPNResult struct {
	PaymentID string    `json:"payment_id"`
	Outcome   string    `json:"outcome"`
	Action    IPNAction `json:"action"`
}

func settleResponse(externalID string, s *ledger.Settlement) SettleResponse {
	resp := SettleResponse{
		TransactionID:    externalID,
		AlreadyFinalized: s.Guard.AlreadyFinalized,
		Outcome:          s.Guard.Outcome.String(),
	}
	if !s.Guard.AlreadyFinalized {
		result := s.Result
		resp.Result = &result
	}
	return resp
}
