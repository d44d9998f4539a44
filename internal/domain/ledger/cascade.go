package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/referral"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
)

// LevelStatus is the per-level outcome of a cascade walk.
type LevelStatus string

const (
	LevelApplied LevelStatus = "applied"
	// LevelAlreadyApplied means the earning for this deposit and level
	// exists already; the referrer was not credited again.
	LevelAlreadyApplied LevelStatus = "already_applied"
	LevelFailed         LevelStatus = "failed"
)

// StopReason says why the walk ended.
type StopReason string

const (
	StopNoReferrer     StopReason = "no_referrer"
	StopUnknownCode    StopReason = "unknown_referral_code"
	StopCycle          StopReason = "cycle"
	StopMaxDepth       StopReason = "max_depth"
	StopStepFailed     StopReason = "step_failed"
	StopContextExpired StopReason = "context_done"
)

// LevelResult is the explicit result of one level.
type LevelResult struct {
	Level      int             `json:"level"`
	ReferrerID uuid.UUID       `json:"referrer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     LevelStatus     `json:"status"`
	Err        error           `json:"-"`
}

// CascadeReport lists every level the walk reached, in order.
type CascadeReport struct {
	Levels    []LevelResult `json:"levels"`
	StoppedBy StopReason    `json:"stopped_by"`
}

// AppliedLevels counts levels that hold an earning for this deposit,
// including ones recorded by an earlier attempt.
func (r CascadeReport) AppliedLevels() int {
	n := 0
	for _, l := range r.Levels {
		if l.Status == LevelApplied || l.Status == LevelAlreadyApplied {
			n++
		}
	}
	return n
}

// ApplyCascade pays referral commissions for a deposit of amount made by
// depositor, walking the referrer chain up to the commission table depth.
// Failures stop the walk and are reported, never returned.
func (s *Service) ApplyCascade(ctx context.Context, depositor *user.User, amount decimal.Decimal, sourceTxID string) CascadeReport {
	return s.cascade(ctx, depositor, amount, sourceTxID)
}

func (s *Service) cascade(ctx context.Context, depositor *user.User, amount decimal.Decimal, sourceTxID string) CascadeReport {
	log := logger.FromContext(ctx)
	report := CascadeReport{StoppedBy: StopNoReferrer}
	if depositor == nil || !depositor.HasReferrer() {
		return report
	}

	visited := map[uuid.UUID]struct{}{depositor.ID: {}}
	code := *depositor.ReferredBy
	maxDepth := len(s.rates.Commission)

	for level := 1; ; level++ {
		if level > maxDepth {
			report.StoppedBy = StopMaxDepth
			break
		}
		if ctx.Err() != nil {
			report.StoppedBy = StopContextExpired
			break
		}

		referrer, err := s.store.GetUserByReferralCode(ctx, code)
		if errors.Is(err, user.ErrUserNotFound) {
			report.StoppedBy = StopUnknownCode
			break
		}
		if err != nil {
			res := LevelResult{Level: level, Status: LevelFailed, Err: fmt.Errorf("%w: level %d: resolve referrer: %v", ErrCascadeStepFailed, level, err)}
			report.Levels = append(report.Levels, res)
			report.StoppedBy = StopStepFailed
			log.Error().Err(res.Err).Str("transaction_id", sourceTxID).Int("level", level).Msg("Referral cascade stopped")
			break
		}
		if _, seen := visited[referrer.ID]; seen {
			report.StoppedBy = StopCycle
			log.Warn().
				Str("transaction_id", sourceTxID).
				Str("user_id", referrer.ID.String()).
				Int("level", level).
				Msg("Referral chain loops back, stopping cascade")
			break
		}
		visited[referrer.ID] = struct{}{}

		res := s.applyLevel(ctx, level, referrer, depositor, amount, sourceTxID)
		report.Levels = append(report.Levels, res)
		if res.Status == LevelFailed {
			report.StoppedBy = StopStepFailed
			log.Error().Err(res.Err).
				Str("transaction_id", sourceTxID).
				Str("user_id", referrer.ID.String()).
				Int("level", level).
				Msg("Referral cascade stopped")
			break
		}

		if !referrer.HasReferrer() {
			report.StoppedBy = StopNoReferrer
			break
		}
		code = *referrer.ReferredBy
	}

	log.Info().
		Str("transaction_id", sourceTxID).
		Str("user_id", depositor.ID.String()).
		Int("levels", report.AppliedLevels()).
		Str("stopped_by", string(report.StoppedBy)).
		Msg("Referral cascade finished")
	return report
}

// applyLevel records the earning and credits the referrer in one unit of
// work, so a level is either fully paid or not at all.
func (s *Service) applyLevel(ctx context.Context, level int, referrer, depositor *user.User, amount decimal.Decimal, sourceTxID string) LevelResult {
	commission, _ := s.rates.CommissionFor(level, amount)
	res := LevelResult{Level: level, ReferrerID: referrer.ID, Amount: commission}

	err := s.store.WithinTx(ctx, func(st Store) error {
		earning := &referral.Earning{
			UserID:              referrer.ID,
			ReferredUserID:      depositor.ID,
			Level:               level,
			Amount:              commission,
			SourceTransactionID: sourceTxID,
		}
		if err := st.CreateReferralEarning(ctx, earning); err != nil {
			return err
		}
		if err := st.UpdateUserBalance(ctx, referrer.ID, commission); err != nil {
			return err
		}
		if err := st.UpdateUserReferralEarnings(ctx, referrer.ID, commission); err != nil {
			return err
		}
		return st.UpdateUserTeamEarnings(ctx, referrer.ID, commission)
	})

	switch {
	case err == nil:
		res.Status = LevelApplied
		logger.FromContext(ctx).Debug().
			Str("transaction_id", sourceTxID).
			Str("user_id", referrer.ID.String()).
			Int("level", level).
			Str("amount", commission.String()).
			Msg("Referral commission credited")
	case errors.Is(err, referral.ErrDuplicateEarning):
		res.Status = LevelAlreadyApplied
	default:
		res.Status = LevelFailed
		res.Err = fmt.Errorf("%w: level %d: %v", ErrCascadeStepFailed, level, err)
	}
	return res
}
