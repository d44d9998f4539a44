package deposit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/deposit"
	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
	"github.com/chickfarms/chickfarms-api/internal/pkg/nowpayments"
)

type stubLister struct {
	ids    []string
	err    error
	cutoff time.Time
}

func (l *stubLister) ListStalePendingDeposits(_ context.Context, createdBefore time.Time, limit int) ([]string, error) {
	l.cutoff = createdBefore
	if l.err != nil {
		return nil, l.err
	}
	if len(l.ids) > limit {
		return l.ids[:limit], nil
	}
	return l.ids, nil
}

func TestReconciler_RunOnce(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser(&user.User{Username: "player"})
	for _, id := range []string{"701", "702", "703"} {
		f.store.AddPendingDeposit(u.ID, id, decimal.NewFromInt(100))
	}
	f.gateway.set("701", nowpayments.StatusFinished)
	f.gateway.set("702", nowpayments.StatusExpired)
	f.gateway.set("703", nowpayments.StatusConfirming)

	lister := &stubLister{ids: []string{"701", "702", "703", "missing"}}
	rec := deposit.NewReconciler(f.svc, lister, 10*time.Minute, 10)

	before := time.Now()
	stats, err := rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	want := deposit.ReconcileStats{Checked: 4, Settled: 1, Rejected: 1, Pending: 1, Failed: 1}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
	if lister.cutoff.After(before.Add(-10 * time.Minute)) {
		t.Fatalf("cutoff %s is not at least 10m in the past", lister.cutoff)
	}

	got := map[string]transaction.Status{}
	for _, tx := range f.store.Transactions(u.ID, transaction.TypeDeposit) {
		got[tx.ExternalID()] = tx.Status
	}
	if got["701"] != transaction.StatusCompleted || got["702"] != transaction.StatusRejected || got["703"] != transaction.StatusPending {
		t.Fatalf("unexpected statuses: %v", got)
	}
	if bal := f.store.User(u.ID).USDTBalance; !bal.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected balance 110, got %s", bal)
	}
}

func TestReconciler_ListerError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("db down")
	rec := deposit.NewReconciler(f.svc, &stubLister{err: boom}, time.Minute, 0)

	if _, err := rec.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected lister error, got %v", err)
	}
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	lister := &stubLister{}
	rec := deposit.NewReconciler(f.svc, lister, time.Minute, 5)

	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	wake <- struct{}{}

	done := make(chan struct{})
	go func() {
		rec.Run(ctx, time.Hour, wake)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop after cancel")
	}
}
