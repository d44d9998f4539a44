package referral

import (
	"context"

	"github.com/google/uuid"

	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
)

// Service exposes a referrer's earnings.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListEarnings returns the user's earnings newest first.
func (s *Service) ListEarnings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Earning, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// Summary returns per-level totals for the user.
func (s *Service) Summary(ctx context.Context, userID uuid.UUID) ([]Summary, error) {
	return s.repo.SummaryByUser(ctx, userID)
}

// BySource returns the cascade written for one deposit, level 1 first.
func (s *Service) BySource(ctx context.Context, sourceTransactionID string) ([]*Earning, error) {
	return s.repo.ListBySource(ctx, sourceTransactionID)
}

// Claim marks an earning as claimed. The commission itself was credited when
// the deposit settled; claiming only acknowledges it. A second claim fails
// with ErrAlreadyClaimed.
func (s *Service) Claim(ctx context.Context, userID, earningID uuid.UUID) (*Earning, error) {
	ok, err := s.repo.MarkClaimed(ctx, earningID, userID)
	if err != nil {
		return nil, err
	}

	e, err := s.repo.GetByID(ctx, earningID)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, ErrEarningNotFound
	}
	if !ok {
		return nil, ErrAlreadyClaimed
	}

	logger.FromContext(ctx).Info().
		Str("user_id", userID.String()).
		Str("earning_id", earningID.String()).
		Int("level", e.Level).
		Msg("Referral earning claimed")
	return e, nil
}
