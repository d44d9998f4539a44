package deposit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
)

// PendingLister finds deposits that never received a final gateway answer.
type PendingLister interface {
	ListStalePendingDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
}

// ReconcileStats counts what one sweep did.
type ReconcileStats struct {
	Checked  int
	Settled  int
	Rejected int
	Pending  int
	Failed   int
}

// Reconciler sweeps stale pending deposits through the status-poll trigger,
// covering IPNs that were lost and players who stopped polling.
type Reconciler struct {
	svc    *Service
	lister PendingLister
	minAge time.Duration
	batch  int
	now    func() time.Time
}

func NewReconciler(svc *Service, lister PendingLister, minAge time.Duration, batch int) *Reconciler {
	if batch <= 0 {
		batch = 50
	}
	return &Reconciler{svc: svc, lister: lister, minAge: minAge, batch: batch, now: time.Now}
}

// RunOnce reconciles one batch. A failure on one deposit does not stop the
// sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats

	ids, err := r.lister.ListStalePendingDeposits(ctx, r.now().Add(-r.minAge), r.batch)
	if err != nil {
		return stats, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++

		resp, err := r.svc.Reconcile(ctx, id)
		if err != nil {
			stats.Failed++
			ev := log.Warn()
			if !errors.Is(err, ErrGatewayFailure) {
				ev = log.Error()
			}
			ev.Err(err).Str("transaction_id", id).Msg("Reconcile failed")
			continue
		}

		switch resp.Status {
		case transaction.StatusCompleted:
			stats.Settled++
		case transaction.StatusRejected:
			stats.Rejected++
		default:
			stats.Pending++
		}
	}
	return stats, nil
}

// Run sweeps every interval, or immediately when wake fires, until ctx is
// cancelled. wake may be nil.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration, wake <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastIdleLog := time.Time{}
	idleLogEvery := 10 * time.Minute

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconciler stopped")
			return
		case <-wake:
		case <-ticker.C:
		}

		start := time.Now()
		stats, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("Reconcile sweep failed")
			}
			continue
		}
		if stats.Checked == 0 {
			if lastIdleLog.IsZero() || time.Since(lastIdleLog) >= idleLogEvery {
				log.Info().Msg("Idle: no stale pending deposits")
				lastIdleLog = time.Now()
			}
			continue
		}

		log.Info().
			Int("checked", stats.Checked).
			Int("settled", stats.Settled).
			Int("rejected", stats.Rejected).
			Int("pending", stats.Pending).
			Int("failed", stats.Failed).
			Dur("took", time.Since(start)).
			Msg("Reconcile sweep done")
	}
}
