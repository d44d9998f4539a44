package referral

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Earning
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[uuid.UUID]*Earning)}
}

func (m *memRepo) Create(_ context.Context, e *Earning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.SourceTransactionID == e.SourceTransactionID && existing.Level == e.Level {
			return ErrDuplicateEarning
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	m.items[e.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Earning, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return nil, ErrEarningNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memRepo) ListByUser(_ context.Context, userID uuid.UUID, _, _ int) ([]*Earning, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Earning
	for _, e := range m.items {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) ListBySource(_ context.Context, source string) ([]*Earning, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Earning
	for _, e := range m.items {
		if e.SourceTransactionID == source {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (m *memRepo) SummaryByUser(context.Context, uuid.UUID) ([]Summary, error) { return nil, nil }

func (m *memRepo) MarkClaimed(_ context.Context, id, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok || e.UserID != userID || e.Claimed {
		return false, nil
	}
	e.Claimed = true
	return true, nil
}

func seedEarning(t *testing.T, repo *memRepo, owner uuid.UUID) *Earning {
	t.Helper()
	e := &Earning{
		UserID:              owner,
		ReferredUserID:      uuid.New(),
		Level:               1,
		Amount:              decimal.NewFromInt(10),
		SourceTransactionID: uuid.NewString(),
	}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("seed earning: %v", err)
	}
	return e
}

func TestClaim_OnceThenConflict(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	owner := uuid.New()
	e := seedEarning(t, repo, owner)

	claimed, err := svc.Claim(context.Background(), owner, e.ID)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claimed.Claimed {
		t.Fatalf("expected earning to be claimed")
	}

	if _, err := svc.Claim(context.Background(), owner, e.ID); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaim_ForeignEarningIsNotFound(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	e := seedEarning(t, repo, uuid.New())

	if _, err := svc.Claim(context.Background(), uuid.New(), e.ID); !errors.Is(err, ErrEarningNotFound) {
		t.Fatalf("expected ErrEarningNotFound, got %v", err)
	}
	if _, err := svc.Claim(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, ErrEarningNotFound) {
		t.Fatalf("expected ErrEarningNotFound for unknown id, got %v", err)
	}
}

func TestBySource_OrdersByLevel(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	source := "deposit-77"
	for _, level := range []int{3, 1, 2} {
		e := &Earning{UserID: uuid.New(), ReferredUserID: uuid.New(), Level: level, Amount: decimal.NewFromInt(1), SourceTransactionID: source}
		if err := repo.Create(context.Background(), e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seedEarning(t, repo, uuid.New())

	items, err := svc.BySource(context.Background(), source)
	if err != nil {
		t.Fatalf("by source: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 earnings, got %d", len(items))
	}
	for i, e := range items {
		if e.Level != i+1 {
			t.Fatalf("position %d: expected level %d, got %d", i, i+1, e.Level)
		}
	}
}
