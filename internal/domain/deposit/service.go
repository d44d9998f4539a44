package deposit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/ledger"
	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
	"github.com/chickfarms/chickfarms-api/internal/pkg/nowpayments"
)

// Gateway is the payment provider.
type Gateway interface {
	CreatePayment(ctx context.Context, req nowpayments.CreatePaymentRequest) (*nowpayments.Payment, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*nowpayments.Payment, error)
}

// Ledger settles and rejects deposits.
type Ledger interface {
	Settle(ctx context.Context, externalID string, source ledger.Source) (*ledger.Settlement, error)
	Reject(ctx context.Context, externalID string, source ledger.Source) (bool, error)
}

// TransactionStore records and looks up deposit transactions.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, t *transaction.Transaction) error
	GetTransactionByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error)
}

// Config holds deposit flow settings.
type Config struct {
	IPNSecret          string
	CallbackURL        string
	DefaultPayCurrency string
}

// Service adapts the three payment triggers (admin, IPN webhook, status
// poll) to the ledger.
type Service struct {
	ledger  Ledger
	txs     TransactionStore
	gateway Gateway
	cache   *StatusCache
	cfg     Config
}

func NewService(l Ledger, txs TransactionStore, gateway Gateway, cache *StatusCache, cfg Config) *Service {
	if cfg.DefaultPayCurrency == "" {
		cfg.DefaultPayCurrency = "usdttrc20"
	}
	return &Service{ledger: l, txs: txs, gateway: gateway, cache: cache, cfg: cfg}
}

// CreateDeposit opens a gateway payment and records a pending deposit keyed
// by the gateway payment id.
func (s *Service) CreateDeposit(ctx context.Context, userID uuid.UUID, req CreateDepositRequest) (*DepositResponse, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	payCurrency := strings.ToLower(req.PayCurrency)
	if payCurrency == "" {
		payCurrency = s.cfg.DefaultPayCurrency
	}

	orderID := uuid.NewString()
	payment, err := s.gateway.CreatePayment(ctx, nowpayments.CreatePaymentRequest{
		PriceAmount:      amount,
		PriceCurrency:    "usd",
		PayCurrency:      payCurrency,
		OrderID:          orderID,
		OrderDescription: "ChickFarms USDT deposit",
		IPNCallbackURL:   s.cfg.CallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	tx := &transaction.Transaction{
		UserID:        userID,
		Type:          transaction.TypeDeposit,
		Amount:        amount,
		Status:        transaction.StatusPending,
		TransactionID: transaction.ExternalIDValue(payment.PaymentID.String()),
		Description:   "USDT deposit via " + payCurrency,
	}
	if err := s.txs.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: record deposit: %v", ledger.ErrInternal, err)
	}

	logger.FromContext(ctx).Info().
		Str("user_id", userID.String()).
		Str("transaction_id", tx.ExternalID()).
		Str("amount", amount.String()).
		Str("order_id", orderID).
		Msg("Deposit created")

	return &DepositResponse{
		TransactionID: tx.ExternalID(),
		Amount:        amount,
		Status:        tx.Status,
		PayAddress:    payment.PayAddress,
		PayAmount:     payment.PayAmount,
		PayCurrency:   payment.PayCurrency,
		GatewayStatus: payment.PaymentStatus,
	}, nil
}

// Approve settles a deposit on an admin's word.
func (s *Service) Approve(ctx context.Context, externalID string) (*ledger.Settlement, error) {
	res, err := s.ledger.Settle(ctx, externalID, ledger.SourceAdmin)
	if err == nil {
		s.cache.Invalidate(ctx, externalID)
	}
	return res, err
}

// Reject rejects a pending deposit on an admin's word.
func (s *Service) Reject(ctx context.Context, externalID, reason string) (bool, error) {
	changed, err := s.ledger.Reject(ctx, externalID, ledger.SourceAdmin)
	if err != nil {
		return false, err
	}
	if changed {
		s.cache.Invalidate(ctx, externalID)
		logger.FromContext(ctx).Info().Str("transaction_id", externalID).Str("reason", reason).Msg("Deposit rejected by admin")
	}
	return changed, nil
}

// HandleIPN verifies and applies a gateway notification. Notifications for
// unknown payments are acknowledged and ignored.
func (s *Service) HandleIPN(ctx context.Context, body []byte, signature string) (*IPNResult, error) {
	ipn, err := nowpayments.VerifyIPN(body, signature, s.cfg.IPNSecret)
	if err != nil {
		return nil, err
	}

	externalID := ipn.PaymentID.String()
	outcome := nowpayments.Classify(ipn.PaymentStatus)
	result := &IPNResult{PaymentID: externalID, Outcome: outcome.String(), Action: IPNIgnored}
	log := logger.FromContext(ctx).With().
		Str("transaction_id", externalID).
		Str("payment_status", string(ipn.PaymentStatus)).
		Logger()

	switch outcome {
	case nowpayments.OutcomePaid:
		settlement, err := s.ledger.Settle(ctx, externalID, ledger.SourceWebhook)
		switch {
		case errors.Is(err, ledger.ErrTransactionNotFound), errors.Is(err, ledger.ErrNotDeposit),
			errors.Is(err, ledger.ErrTransactionNotPending):
			log.Warn().Err(err).Msg("IPN for unsettleable payment ignored")
			return result, nil
		case err != nil:
			return nil, err
		}
		s.cache.Invalidate(ctx, externalID)
		result.Action = IPNSettled
		if settlement.Guard.AlreadyFinalized {
			result.Action = IPNAlreadySettled
		}

	case nowpayments.OutcomeFailed:
		changed, err := s.ledger.Reject(ctx, externalID, ledger.SourceWebhook)
		switch {
		case errors.Is(err, ledger.ErrTransactionNotFound), errors.Is(err, ledger.ErrNotDeposit),
			errors.Is(err, ledger.ErrTransactionNotPending):
			log.Warn().Err(err).Msg("IPN failure for unrejectable payment ignored")
			return result, nil
		case err != nil:
			return nil, err
		}
		s.cache.Invalidate(ctx, externalID)
		if changed {
			result.Action = IPNRejected
		}

	default:
		log.Debug().Msg("IPN with intermediate status")
	}

	return result, nil
}

// PollStatus reports a deposit's status to its owner. While the deposit is
// pending it consults the gateway and settles or rejects on a final answer.
func (s *Service) PollStatus(ctx context.Context, userID uuid.UUID, externalID string) (*StatusResponse, error) {
	tx, err := s.loadDeposit(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, ErrNotOwner
	}

	return s.resolve(ctx, tx)
}

// Reconcile asks the gateway about a pending deposit and settles or rejects
// it on a final answer. Used by the background reconciler.
func (s *Service) Reconcile(ctx context.Context, externalID string) (*StatusResponse, error) {
	tx, err := s.loadDeposit(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, tx)
}

func (s *Service) loadDeposit(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	tx, err := s.txs.GetTransactionByExternalID(ctx, externalID)
	if errors.Is(err, transaction.ErrTransactionNotFound) {
		return nil, ledger.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load deposit: %v", ledger.ErrInternal, err)
	}
	if tx.Type != transaction.TypeDeposit {
		return nil, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *Service) resolve(ctx context.Context, tx *transaction.Transaction) (*StatusResponse, error) {
	externalID := tx.ExternalID()
	resp := &StatusResponse{TransactionID: externalID, Amount: tx.Amount, Status: tx.Status}
	if tx.Status.IsTerminal() {
		return resp, nil
	}

	payment := s.cache.Get(ctx, externalID)
	if payment == nil {
		fresh, err := s.gateway.GetPaymentStatus(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
		}
		s.cache.Set(ctx, externalID, fresh)
		payment = fresh
	}
	resp.GatewayStatus = payment.PaymentStatus

	switch nowpayments.Classify(payment.PaymentStatus) {
	case nowpayments.OutcomePaid:
		settlement, err := s.ledger.Settle(ctx, externalID, ledger.SourcePoll)
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, externalID)
		resp.Status = transaction.StatusCompleted
		if !settlement.Guard.AlreadyFinalized {
			resp.Settlement = playerSettlement(settlement.Result)
		}
	case nowpayments.OutcomeFailed:
		if _, err := s.ledger.Reject(ctx, externalID, ledger.SourcePoll); err != nil {
			if !errors.Is(err, ledger.ErrTransactionNotPending) {
				return nil, err
			}
			// Completed concurrently by another trigger.
			resp.Status = transaction.StatusCompleted
			return resp, nil
		}
		s.cache.Invalidate(ctx, externalID)
		resp.Status = transaction.StatusRejected
	}
	return resp, nil
}
