package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/ledger"
	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
)

const waitTimeout = 2 * time.Second

func TestWithinTx_UnitsRunConcurrently(t *testing.T) {
	s := New()
	a := s.AddUser(&user.User{Username: "a"})
	b := s.AddUser(&user.User{Username: "b"})

	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()

	errs := make(chan error, 2)
	for _, u := range []*user.User{a, b} {
		go func(u *user.User) {
			errs <- s.WithinTx(context.Background(), func(st ledger.Store) error {
				if err := st.LockUser(context.Background(), u.ID); err != nil {
					return err
				}
				arrived.Done()
				select {
				case <-both:
					return nil
				case <-time.After(waitTimeout):
					return errors.New("other unit never started")
				}
			})
		}(u)
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("unit: %v", err)
		}
	}
}

func TestLockUser_BlocksUntilHolderEnds(t *testing.T) {
	s := New()
	u := s.AddUser(&user.User{Username: "u"})

	locked := make(chan struct{})
	releaseHolder := make(chan struct{})
	holderDone := make(chan struct{})
	go func() {
		defer close(holderDone)
		_ = s.WithinTx(context.Background(), func(st ledger.Store) error {
			if err := st.LockUser(context.Background(), u.ID); err != nil {
				return err
			}
			close(locked)
			<-releaseHolder
			return st.UpdateUserBalance(context.Background(), u.ID, decimal.NewFromInt(5))
		})
	}()
	<-locked

	got := make(chan decimal.Decimal, 1)
	go func() {
		_ = s.WithinTx(context.Background(), func(st ledger.Store) error {
			if err := st.LockUser(context.Background(), u.ID); err != nil {
				return err
			}
			cur, err := st.GetUser(context.Background(), u.ID)
			if err != nil {
				return err
			}
			got <- cur.USDTBalance
			return nil
		})
	}()

	select {
	case <-got:
		t.Fatalf("second unit acquired the lock while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseHolder)
	<-holderDone
	select {
	case bal := <-got:
		if !bal.Equal(decimal.NewFromInt(5)) {
			t.Fatalf("expected the committed balance 5 after waiting, got %s", bal)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("second unit never acquired the lock")
	}
}

func TestWithinTx_HidesUncommittedWrites(t *testing.T) {
	s := New()
	u := s.AddUser(&user.User{Username: "u"})
	s.AddPendingDeposit(u.ID, "np-1", decimal.NewFromInt(10))
	ctx := context.Background()

	err := s.WithinTx(ctx, func(st ledger.Store) error {
		ok, err := st.CompareAndSetTransactionStatus(ctx, "np-1", transaction.StatusPending, transaction.StatusCompleted)
		if err != nil || !ok {
			t.Fatalf("cas: ok=%v err=%v", ok, err)
		}
		if err := st.UpdateUserBalance(ctx, u.ID, decimal.NewFromInt(10)); err != nil {
			return err
		}

		inside, _ := st.GetTransactionByExternalID(ctx, "np-1")
		if inside.Status != transaction.StatusCompleted {
			t.Fatalf("unit should read its own write, got %s", inside.Status)
		}
		outside, _ := s.GetTransactionByExternalID(ctx, "np-1")
		if outside.Status != transaction.StatusPending {
			t.Fatalf("uncommitted status leaked: %s", outside.Status)
		}
		if !s.User(u.ID).USDTBalance.IsZero() {
			t.Fatalf("uncommitted balance leaked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unit: %v", err)
	}

	after, _ := s.GetTransactionByExternalID(ctx, "np-1")
	if after.Status != transaction.StatusCompleted {
		t.Fatalf("expected completed after commit, got %s", after.Status)
	}
	if !s.User(u.ID).USDTBalance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected balance 10 after commit, got %s", s.User(u.ID).USDTBalance)
	}
}

func TestWithinTx_FailedUnitIsDiscarded(t *testing.T) {
	s := New()
	u := s.AddUser(&user.User{Username: "u"})
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(st ledger.Store) error {
		if err := st.UpdateUserBalance(ctx, u.ID, decimal.NewFromInt(3)); err != nil {
			return err
		}
		if err := st.CreateTransaction(ctx, &transaction.Transaction{
			UserID:        u.ID,
			Type:          transaction.TypeBonus,
			Amount:        decimal.NewFromInt(3),
			Status:        transaction.StatusCompleted,
			TransactionID: transaction.ExternalIDValue("bonus-x"),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !s.User(u.ID).USDTBalance.IsZero() {
		t.Fatalf("balance survived rollback")
	}
	if _, err := s.GetTransactionByExternalID(ctx, "bonus-x"); !errors.Is(err, transaction.ErrTransactionNotFound) {
		t.Fatalf("transaction survived rollback: %v", err)
	}
}

func TestCompareAndSet_WaitsAndRechecksAfterRollback(t *testing.T) {
	s := New()
	u := s.AddUser(&user.User{Username: "u"})
	s.AddPendingDeposit(u.ID, "np-9", decimal.NewFromInt(10))
	ctx := context.Background()

	claimed := make(chan struct{})
	rollback := make(chan struct{})
	go func() {
		_ = s.WithinTx(ctx, func(st ledger.Store) error {
			if _, err := st.CompareAndSetTransactionStatus(ctx, "np-9", transaction.StatusPending, transaction.StatusCompleted); err != nil {
				return err
			}
			close(claimed)
			<-rollback
			return errors.New("credit failed")
		})
	}()
	<-claimed

	result := make(chan bool, 1)
	go func() {
		ok, _ := s.CompareAndSetTransactionStatus(ctx, "np-9", transaction.StatusPending, transaction.StatusCompleted)
		result <- ok
	}()

	select {
	case <-result:
		t.Fatalf("second compare-and-set did not wait for the row lock")
	case <-time.After(50 * time.Millisecond):
	}
	close(rollback)

	select {
	case ok := <-result:
		if !ok {
			t.Fatalf("expected the second caller to claim the deposit after the rollback")
		}
	case <-time.After(waitTimeout):
		t.Fatalf("second compare-and-set never returned")
	}
}
