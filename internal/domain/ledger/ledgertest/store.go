// Package ledgertest provides an in-memory ledger.Store for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/ledger"
	"github.com/chickfarms/chickfarms-api/internal/domain/referral"
	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
)

// Store is a goroutine-safe in-memory ledger.Store that behaves like a READ
// COMMITTED database. WithinTx units run concurrently: writes stay private to
// the unit until it commits, and rows are locked the way Postgres locks them
// (LockUser and balance updates lock the user, a status change or insert
// locks the transaction or earning key) until the unit ends. A unit that
// fails is discarded.
//
// Calls made outside WithinTx autocommit.
//
// The Fail* hooks run before any lock is taken; a non-nil return fails the
// call without writing anything.
type Store struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*user.User
	txs      map[uuid.UUID]*transaction.Transaction
	byExt    map[string]uuid.UUID
	earnings []*referral.Earning

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	FailCreateEarning func(e *referral.Earning) error
	FailUpdateBalance func(userID uuid.UUID, delta decimal.Decimal) error
	FailCreateTx      func(t *transaction.Transaction) error
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users: make(map[uuid.UUID]*user.User),
		txs:   make(map[uuid.UUID]*transaction.Transaction),
		byExt: make(map[string]uuid.UUID),
		locks: make(map[string]chan struct{}),
	}
}

// AddUser seeds a user. An empty ReferralCode gets a random one.
func (s *Store) AddUser(u *user.User) *user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.ReferralCode == "" {
		u.ReferralCode = u.ID.String()[:8]
	}
	if u.Role == "" {
		u.Role = user.RolePlayer
	}
	cp := *u
	s.users[u.ID] = &cp
	return u
}

// AddPendingDeposit seeds a pending deposit for userID and returns it.
func (s *Store) AddPendingDeposit(userID uuid.UUID, externalID string, amount decimal.Decimal) *transaction.Transaction {
	t := &transaction.Transaction{
		UserID:        userID,
		Type:          transaction.TypeDeposit,
		Amount:        amount,
		Status:        transaction.StatusPending,
		TransactionID: transaction.ExternalIDValue(externalID),
	}
	if err := s.CreateTransaction(context.Background(), t); err != nil {
		panic(err)
	}
	return t
}

// User returns a copy of the user's committed state.
func (s *Store) User(id uuid.UUID) user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return *u
	}
	return user.User{}
}

// Transactions returns copies of all committed transactions of a user with
// the given type.
func (s *Store) Transactions(userID uuid.UUID, typ transaction.Type) []transaction.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transaction.Transaction
	for _, t := range s.txs {
		if t.UserID == userID && t.Type == typ {
			out = append(out, *t)
		}
	}
	return out
}

// Earnings returns copies of all committed earnings for a source transaction.
func (s *Store) Earnings(sourceTxID string) []referral.Earning {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []referral.Earning
	for _, e := range s.earnings {
		if e.SourceTransactionID == sourceTxID {
			out = append(out, *e)
		}
	}
	return out
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return s.newUnit().GetUser(ctx, id)
}

func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (*user.User, error) {
	return s.newUnit().GetUserByReferralCode(ctx, code)
}

func (s *Store) GetTransactionByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	return s.newUnit().GetTransactionByExternalID(ctx, externalID)
}

func (s *Store) GetTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]*transaction.Transaction, error) {
	return s.newUnit().GetTransactionsByUserID(ctx, userID)
}

func (s *Store) LockUser(ctx context.Context, id uuid.UUID) error {
	return s.WithinTx(ctx, func(st ledger.Store) error { return st.LockUser(ctx, id) })
}

func (s *Store) UpdateUserBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return s.WithinTx(ctx, func(st ledger.Store) error { return st.UpdateUserBalance(ctx, id, delta) })
}

func (s *Store) UpdateUserReferralEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return s.WithinTx(ctx, func(st ledger.Store) error { return st.UpdateUserReferralEarnings(ctx, id, delta) })
}

func (s *Store) UpdateUserTeamEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return s.WithinTx(ctx, func(st ledger.Store) error { return st.UpdateUserTeamEarnings(ctx, id, delta) })
}

func (s *Store) CreateReferralEarning(ctx context.Context, e *referral.Earning) error {
	return s.WithinTx(ctx, func(st ledger.Store) error { return st.CreateReferralEarning(ctx, e) })
}

func (s *Store) CreateTransaction(ctx context.Context, t *transaction.Transaction) error {
	return s.WithinTx(ctx, func(st ledger.Store) error { return st.CreateTransaction(ctx, t) })
}

func (s *Store) CompareAndSetTransactionStatus(ctx context.Context, externalID string, from, to transaction.Status) (bool, error) {
	var applied bool
	err := s.WithinTx(ctx, func(st ledger.Store) error {
		var err error
		applied, err = st.CompareAndSetTransactionStatus(ctx, externalID, from, to)
		return err
	})
	return applied, err
}

// WithinTx runs fn in a new unit. The unit's writes become visible to others
// only when fn returns nil; its row locks are held until then.
func (s *Store) WithinTx(ctx context.Context, fn func(ledger.Store) error) error {
	u := s.newUnit()
	defer u.release()

	if err := fn(u); err != nil {
		return err
	}
	s.commit(u)
	return nil
}

func (s *Store) commit(u *unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range u.deltas {
		if cur, ok := s.users[id]; ok {
			d.applyTo(cur)
		}
	}
	for id, t := range u.txs {
		cp := *t
		s.txs[id] = &cp
	}
	for ext, id := range u.byExt {
		s.byExt[ext] = id
	}
	for _, e := range u.earnings {
		cp := *e
		s.earnings = append(s.earnings, &cp)
	}
}

// lock blocks until key is free or ctx is done.
func (s *Store) lock(ctx context.Context, key string) error {
	for {
		s.locksMu.Lock()
		held, busy := s.locks[key]
		if !busy {
			s.locks[key] = make(chan struct{})
			s.locksMu.Unlock()
			return nil
		}
		s.locksMu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Store) unlock(key string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if held, ok := s.locks[key]; ok {
		close(held)
		delete(s.locks, key)
	}
}

type userDelta struct {
	balance, referral, team decimal.Decimal
}

func (d *userDelta) applyTo(u *user.User) {
	u.USDTBalance = u.USDTBalance.Add(d.balance)
	u.TotalReferralEarnings = u.TotalReferralEarnings.Add(d.referral)
	u.TotalTeamEarnings = u.TotalTeamEarnings.Add(d.team)
}

// unit is the Store seen inside WithinTx.
type unit struct {
	s *Store

	held     map[string]struct{}
	order    []string
	deltas   map[uuid.UUID]*userDelta
	txs      map[uuid.UUID]*transaction.Transaction
	byExt    map[string]uuid.UUID
	earnings []*referral.Earning
}

func (s *Store) newUnit() *unit {
	return &unit{
		s:      s,
		held:   make(map[string]struct{}),
		deltas: make(map[uuid.UUID]*userDelta),
		txs:    make(map[uuid.UUID]*transaction.Transaction),
		byExt:  make(map[string]uuid.UUID),
	}
}

func (u *unit) lock(ctx context.Context, key string) error {
	if _, ok := u.held[key]; ok {
		return nil
	}
	if err := u.s.lock(ctx, key); err != nil {
		return err
	}
	u.held[key] = struct{}{}
	u.order = append(u.order, key)
	return nil
}

func (u *unit) release() {
	for i := len(u.order) - 1; i >= 0; i-- {
		u.s.unlock(u.order[i])
	}
	u.order = nil
}

func (u *unit) WithinTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(u)
}

func (u *unit) userView(c *user.User) *user.User {
	cp := *c
	if d, ok := u.deltas[c.ID]; ok {
		d.applyTo(&cp)
	}
	return &cp
}

func (u *unit) GetUser(_ context.Context, id uuid.UUID) (*user.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	c, ok := u.s.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u.userView(c), nil
}

func (u *unit) GetUserByReferralCode(_ context.Context, code string) (*user.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, c := range u.s.users {
		if c.ReferralCode == code {
			return u.userView(c), nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (u *unit) userExists(id uuid.UUID) bool {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	_, ok := u.s.users[id]
	return ok
}

func (u *unit) LockUser(ctx context.Context, id uuid.UUID) error {
	if !u.userExists(id) {
		return user.ErrUserNotFound
	}
	return u.lock(ctx, "user:"+id.String())
}

func (u *unit) UpdateUserBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	if u.s.FailUpdateBalance != nil {
		if err := u.s.FailUpdateBalance(id, delta); err != nil {
			return err
		}
	}
	return u.add(ctx, id, func(d *userDelta) { d.balance = d.balance.Add(delta) })
}

func (u *unit) UpdateUserReferralEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return u.add(ctx, id, func(d *userDelta) { d.referral = d.referral.Add(delta) })
}

func (u *unit) UpdateUserTeamEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return u.add(ctx, id, func(d *userDelta) { d.team = d.team.Add(delta) })
}

// add records an increment; it is applied to the committed row on commit,
// like UPDATE ... SET x = x + $1.
func (u *unit) add(ctx context.Context, id uuid.UUID, apply func(*userDelta)) error {
	if err := u.LockUser(ctx, id); err != nil {
		return err
	}
	d, ok := u.deltas[id]
	if !ok {
		d = &userDelta{}
		u.deltas[id] = d
	}
	apply(d)
	return nil
}

func (u *unit) CreateReferralEarning(ctx context.Context, e *referral.Earning) error {
	if u.s.FailCreateEarning != nil {
		if err := u.s.FailCreateEarning(e); err != nil {
			return err
		}
	}
	if err := u.lock(ctx, fmt.Sprintf("earning:%s:%d", e.SourceTransactionID, e.Level)); err != nil {
		return err
	}

	dup := func(list []*referral.Earning) bool {
		for _, existing := range list {
			if existing.SourceTransactionID == e.SourceTransactionID && existing.Level == e.Level {
				return true
			}
		}
		return false
	}
	u.s.mu.Lock()
	committed := dup(u.s.earnings)
	u.s.mu.Unlock()
	if committed || dup(u.earnings) {
		return referral.ErrDuplicateEarning
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	cp := *e
	u.earnings = append(u.earnings, &cp)
	return nil
}

// lookup returns the row id for externalID as this unit sees it.
func (u *unit) lookup(externalID string) (uuid.UUID, bool) {
	if id, ok := u.byExt[externalID]; ok {
		return id, true
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	id, ok := u.s.byExt[externalID]
	return id, ok
}

// row returns a copy of the transaction as this unit sees it.
func (u *unit) row(id uuid.UUID) (*transaction.Transaction, bool) {
	if t, ok := u.txs[id]; ok {
		cp := *t
		return &cp, true
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	t, ok := u.s.txs[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

func (u *unit) GetTransactionByExternalID(_ context.Context, externalID string) (*transaction.Transaction, error) {
	id, ok := u.lookup(externalID)
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	t, ok := u.row(id)
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	return t, nil
}

func (u *unit) CreateTransaction(ctx context.Context, t *transaction.Transaction) error {
	if u.s.FailCreateTx != nil {
		if err := u.s.FailCreateTx(t); err != nil {
			return err
		}
	}
	ext := t.ExternalID()
	if ext != "" {
		if err := u.lock(ctx, "tx:"+ext); err != nil {
			return err
		}
		if _, dup := u.lookup(ext); dup {
			return transaction.ErrDuplicateTransaction
		}
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = transaction.StatusPending
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	u.txs[t.ID] = &cp
	if ext != "" {
		u.byExt[ext] = t.ID
	}
	return nil
}

// CompareAndSetTransactionStatus waits for any unit holding the row, then
// re-checks the status against the committed value.
func (u *unit) CompareAndSetTransactionStatus(ctx context.Context, externalID string, from, to transaction.Status) (bool, error) {
	id, ok := u.lookup(externalID)
	if !ok {
		return false, nil
	}
	if err := u.lock(ctx, "tx:"+externalID); err != nil {
		return false, err
	}
	t, ok := u.row(id)
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	u.txs[id] = t
	return true, nil
}

func (u *unit) GetTransactionsByUserID(_ context.Context, userID uuid.UUID) ([]*transaction.Transaction, error) {
	u.s.mu.Lock()
	merged := make(map[uuid.UUID]transaction.Transaction)
	for id, t := range u.s.txs {
		if t.UserID == userID {
			merged[id] = *t
		}
	}
	u.s.mu.Unlock()
	for id, t := range u.txs {
		if t.UserID == userID {
			merged[id] = *t
		}
	}

	out := make([]*transaction.Transaction, 0, len(merged))
	for _, t := range merged {
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
