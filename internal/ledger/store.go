package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/shared"
)

// TxStore is the row-level port a Store drives inside an open transaction.
type TxStore interface {
	// LockAccount loads the account row and holds a row lock until the transaction ends.
	LockAccount(ctx context.Context, tenantID int64, ref Ref) (Account, error)
	// AdjustBalance adds delta to the current balance and returns the new balance.
	AdjustBalance(ctx context.Context, tenantID int64, ref Ref, delta decimal.Decimal) (decimal.Decimal, error)
	InsertPostings(ctx context.Context, postings []Posting) error
}

// Store applies debits and credits for one engine operation. It is bound to a single
// transaction and must not be reused after that transaction ends.
type Store struct {
	tx       TxStore
	tenantID int64
	batch    uuid.UUID
	now      func() time.Time
	balances map[Ref]decimal.Decimal
	pending  []Posting
}

// NewStore binds a Store to tx for tenantID.
func NewStore(tx TxStore, tenantID int64) *Store {
	return &Store{
		tx:       tx,
		tenantID: tenantID,
		batch:    uuid.New(),
		now:      time.Now,
		balances: make(map[Ref]decimal.Decimal),
	}
}

// Batch returns the id shared by every posting of this operation.
func (s *Store) Batch() uuid.UUID {
	return s.batch
}

// Lock row-locks every balance-bearing account among refs in (kind, id) order.
// Nominal refs are ignored; already locked refs are skipped.
func (s *Store) Lock(ctx context.Context, refs ...Ref) error {
	toLock := make([]Ref, 0, len(refs))
	seen := make(map[Ref]struct{}, len(refs))
	for _, ref := range refs {
		if !ref.Kind.HasBalance() {
			continue
		}
		if _, ok := s.balances[ref]; ok {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		toLock = append(toLock, ref)
	}
	sortRefs(toLock)
	for _, ref := range toLock {
		if err := s.lock(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) lock(ctx context.Context, ref Ref) error {
	acc, err := s.tx.LockAccount(ctx, s.tenantID, ref)
	if err != nil {
		return err
	}
	s.balances[ref] = acc.CurrentBalance
	return nil
}

// Balance returns the balance observed under lock, if the account is locked.
func (s *Store) Balance(ref Ref) (decimal.Decimal, bool) {
	bal, ok := s.balances[ref]
	return bal, ok
}

// Debit decrements ref by amount, failing with InsufficientFundsError when the
// balance does not cover it.
func (s *Store) Debit(ctx context.Context, ref Ref, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return shared.Errorf(shared.ErrValidation, "ledger: debit amount must be positive")
	}
	return s.Post(ctx, ref, amount.Neg(), false)
}

// Credit increments ref by amount.
func (s *Store) Credit(ctx context.Context, ref Ref, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return shared.Errorf(shared.ErrValidation, "ledger: credit amount must be positive")
	}
	return s.Post(ctx, ref, amount, false)
}

// Post applies a signed movement. Negative deltas on balance-bearing accounts are
// checked against the locked balance before the row is touched.
func (s *Store) Post(ctx context.Context, ref Ref, delta decimal.Decimal, reversal bool) error {
	if s == nil || s.tx == nil {
		return errors.New("ledger: store not initialised")
	}
	if !ref.Kind.Valid() || ref.ID <= 0 {
		return shared.Errorf(shared.ErrValidation, "ledger: invalid account reference %s", ref)
	}
	if delta.IsZero() {
		return shared.Errorf(shared.ErrValidation, "ledger: posting amount must be non-zero")
	}
	if !HasMoneyScale(delta) {
		return shared.Errorf(shared.ErrValidation, "ledger: posting amount %s has more than %d decimal places", delta, MoneyScale)
	}
	if ref.Kind.HasBalance() {
		balance, ok := s.balances[ref]
		if !ok {
			if err := s.lock(ctx, ref); err != nil {
				return err
			}
			balance = s.balances[ref]
		}
		if delta.IsNegative() && balance.LessThan(delta.Neg()) {
			return &InsufficientFundsError{Account: ref, Available: balance, Requested: delta.Neg()}
		}
		updated, err := s.tx.AdjustBalance(ctx, s.tenantID, ref, delta)
		if err != nil {
			return err
		}
		s.balances[ref] = updated
	}
	s.pending = append(s.pending, Posting{
		TenantID:  s.tenantID,
		Account:   ref,
		Amount:    delta,
		BatchID:   s.batch,
		Reversal:  reversal,
		CreatedAt: s.now(),
	})
	return nil
}

// Pending returns postings not yet written.
func (s *Store) Pending() []Posting {
	out := make([]Posting, len(s.pending))
	copy(out, s.pending)
	return out
}

// Flush writes pending postings attributed to the given source row.
func (s *Store) Flush(ctx context.Context, sourceKind string, sourceID int64) error {
	if len(s.pending) == 0 {
		return nil
	}
	for i := range s.pending {
		s.pending[i].SourceKind = sourceKind
		s.pending[i].SourceID = sourceID
	}
	if err := s.tx.InsertPostings(ctx, s.pending); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}
