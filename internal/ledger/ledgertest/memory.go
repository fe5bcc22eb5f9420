// Package ledgertest provides an in-memory ledger backend with transactional rollback.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/ledger"
	"github.com/odyssey-erp/treasury/internal/shared"
)

type key struct {
	tenant int64
	ref    ledger.Ref
}

// Memory holds accounts, postings and code counters. WithTx serialises transactions
// and restores the pre-transaction state when fn fails.
type Memory struct {
	mu       sync.Mutex
	accounts map[key]ledger.Account
	postings []ledger.Posting
	counters map[string]int64
	nextID   int64

	// FailAdjust, when set, is consulted before every balance change.
	FailAdjust func(ref ledger.Ref, delta decimal.Decimal) error
	// Gate answers EnsurePostable inside transactions; nil admits every date.
	Gate ledger.PeriodGate
}

// NewMemory returns an empty backend.
func NewMemory() *Memory {
	return &Memory{accounts: make(map[key]ledger.Account), counters: make(map[string]int64)}
}

// Seed inserts an account with the given balance, recorded as an opening posting.
func (m *Memory) Seed(tenantID int64, ref ledger.Ref, name string, balance string) ledger.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := decimal.RequireFromString(balance)
	acc := ledger.Account{
		ID:             ref.ID,
		TenantID:       tenantID,
		Kind:           ref.Kind,
		Code:           fmt.Sprintf("%s-%03d", ref.Kind.CodePrefix(), ref.ID),
		Name:           name,
		OpeningBalance: bal,
		CurrentBalance: bal,
		OpeningDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	m.accounts[key{tenantID, ref}] = acc
	if ref.ID > m.nextID {
		m.nextID = ref.ID
	}
	if bal.IsPositive() {
		m.postings = append(m.postings, ledger.Posting{TenantID: tenantID, Account: ref, Amount: bal, SourceKind: ledger.SourceOpening, SourceID: ref.ID})
	}
	return acc
}

// Balance returns the committed balance of ref.
func (m *Memory) Balance(tenantID int64, ref ledger.Ref) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[key{tenantID, ref}].CurrentBalance
}

// Account returns the committed account.
func (m *Memory) Account(tenantID int64, ref ledger.Ref) (ledger.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[key{tenantID, ref}]
	return acc, ok
}

// Postings returns committed postings.
func (m *Memory) Postings() []ledger.Posting {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Posting, len(m.postings))
	copy(out, m.postings)
	return out
}

// PostingSum returns the sum of committed postings for ref.
func (m *Memory) PostingSum(tenantID int64, ref ledger.Ref) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range m.Postings() {
		if p.TenantID == tenantID && p.Account == ref {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}

// WithTx runs fn against a transactional view of the backend.
func (m *Memory) WithTx(ctx context.Context, fn func(*Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.snapshot()
	if err := fn(&Tx{m: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type state struct {
	accounts map[key]ledger.Account
	postings []ledger.Posting
	counters map[string]int64
	nextID   int64
}

func (m *Memory) snapshot() state {
	s := state{
		accounts: make(map[key]ledger.Account, len(m.accounts)),
		postings: make([]ledger.Posting, len(m.postings)),
		counters: make(map[string]int64, len(m.counters)),
		nextID:   m.nextID,
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	copy(s.postings, m.postings)
	for k, v := range m.counters {
		s.counters[k] = v
	}
	return s
}

func (m *Memory) restore(s state) {
	m.accounts = s.accounts
	m.postings = s.postings
	m.counters = s.counters
	m.nextID = s.nextID
}

// Tx is the in-transaction view. It implements ledger.TxStore.
type Tx struct {
	m *Memory
	// Locked records the order in which accounts were locked.
	Locked []ledger.Ref
}

// LockAccount returns the account; the backend mutex already serialises access.
func (t *Tx) LockAccount(_ context.Context, tenantID int64, ref ledger.Ref) (ledger.Account, error) {
	acc, ok := t.m.accounts[key{tenantID, ref}]
	if !ok {
		return ledger.Account{}, notFound(ref)
	}
	t.Locked = append(t.Locked, ref)
	return acc, nil
}

// AdjustBalance applies delta.
func (t *Tx) AdjustBalance(_ context.Context, tenantID int64, ref ledger.Ref, delta decimal.Decimal) (decimal.Decimal, error) {
	if t.m.FailAdjust != nil {
		if err := t.m.FailAdjust(ref, delta); err != nil {
			return decimal.Decimal{}, err
		}
	}
	k := key{tenantID, ref}
	acc, ok := t.m.accounts[k]
	if !ok {
		return decimal.Decimal{}, notFound(ref)
	}
	acc.CurrentBalance = acc.CurrentBalance.Add(delta)
	t.m.accounts[k] = acc
	return acc.CurrentBalance, nil
}

// InsertPostings appends postings.
func (t *Tx) InsertPostings(_ context.Context, postings []ledger.Posting) error {
	for _, p := range postings {
		t.m.nextID++
		p.ID = t.m.nextID
		t.m.postings = append(t.m.postings, p)
	}
	return nil
}

// EnsurePostable delegates to the backend's Gate.
func (t *Tx) EnsurePostable(ctx context.Context, tenantID int64, date time.Time) error {
	if t.m.Gate == nil {
		return nil
	}
	return t.m.Gate.EnsurePostable(ctx, tenantID, date)
}

// NextCode advances the per-tenant, per-prefix counter.
func (t *Tx) NextCode(_ context.Context, tenantID int64, prefix string) (string, error) {
	k := fmt.Sprintf("%d:%s", tenantID, prefix)
	t.m.counters[k]++
	return fmt.Sprintf("%s-%03d", prefix, t.m.counters[k]), nil
}

// InsertAccount stores a new account with a fresh id.
func (t *Tx) InsertAccount(_ context.Context, acc ledger.Account) (ledger.Account, error) {
	t.m.nextID++
	acc.ID = t.m.nextID
	t.m.accounts[key{acc.TenantID, acc.Ref()}] = acc
	return acc, nil
}

func notFound(ref ledger.Ref) error {
	return shared.Errorf(shared.ErrNotFound, "ledger: %s not found", ref)
}

var (
	_ ledger.TxStore      = (*Tx)(nil)
	_ ledger.TxRepository = (*Tx)(nil)
)
