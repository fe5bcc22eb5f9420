package vouchers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/treasury/internal/ledger"
	"github.com/odyssey-erp/treasury/internal/ledger/ledgertest"
	"github.com/odyssey-erp/treasury/internal/shared"
)

const tenant int64 = 1

var (
	actor = shared.Actor{TenantID: tenant, UserID: 42}

	safe1 = ledger.Ref{Kind: ledger.KindSafe, ID: 1}
	bank1 = ledger.Ref{Kind: ledger.KindBank, ID: 2}
	ca1   = ledger.Ref{Kind: ledger.KindCurrentAccount, ID: 3}
	cust1 = ledger.Ref{Kind: ledger.KindCustomer, ID: 10}
	rev1  = ledger.Ref{Kind: ledger.KindRevenue, ID: 20}
	exp1  = ledger.Ref{Kind: ledger.KindExpense, ID: 30}

	openDay   = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	closedDay = time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	orphanDay = time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

// memRepo keeps vouchers in a map and piggybacks on ledgertest.Memory for
// transactional rollback of balances, postings and counters.
type memRepo struct {
	mem *ledgertest.Memory

	mu       sync.Mutex
	vouchers map[int64]Voucher
	nextID   int64

	failInsert error
}

func newMemRepo() *memRepo {
	return &memRepo{mem: ledgertest.NewMemory(), vouchers: make(map[int64]Voucher)}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.mem.WithTx(ctx, func(tx *ledgertest.Tx) error {
		r.mu.Lock()
		saved := make(map[int64]Voucher, len(r.vouchers))
		for k, v := range r.vouchers {
			saved[k] = v
		}
		savedID := r.nextID
		r.mu.Unlock()

		if err := fn(ctx, &memTx{Tx: tx, repo: r}); err != nil {
			r.mu.Lock()
			r.vouchers, r.nextID = saved, savedID
			r.mu.Unlock()
			return err
		}
		return nil
	})
}

func (r *memRepo) Get(_ context.Context, tenantID, id int64) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[id]
	if !ok || v.TenantID != tenantID {
		return Voucher{}, shared.Errorf(shared.ErrNotFound, "voucher %d not found", id)
	}
	return v, nil
}

func (r *memRepo) List(_ context.Context, filter ListFilter) ([]Voucher, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Voucher
	for _, v := range r.vouchers {
		if v.TenantID != filter.TenantID || (filter.Kind != "" && v.Kind != filter.Kind) {
			continue
		}
		if filter.From != nil && v.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && v.Date.After(*filter.To) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	limit, offset := shared.LimitOffset(filter.Page, filter.PerPage)
	if offset >= len(out) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vouchers)
}

type memTx struct {
	*ledgertest.Tx
	repo *memRepo
}

func (t *memTx) LoadForUpdate(_ context.Context, tenantID int64, kind Kind, id int64) (Voucher, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	v, ok := t.repo.vouchers[id]
	if !ok || v.TenantID != tenantID || v.Kind != kind {
		return Voucher{}, notFound(kind, id)
	}
	return v, nil
}

func (t *memTx) Insert(_ context.Context, v Voucher) (Voucher, error) {
	if t.repo.failInsert != nil {
		return Voucher{}, t.repo.failInsert
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.nextID++
	v.ID = t.repo.nextID
	t.repo.vouchers[v.ID] = v
	return v, nil
}

func (t *memTx) Update(_ context.Context, v Voucher) (Voucher, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.vouchers[v.ID] = v
	return v, nil
}

func (t *memTx) Delete(_ context.Context, _ int64, id int64) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	delete(t.repo.vouchers, id)
	return nil
}

// stubGate treats Q1 2024 as closed, the rest of 2024 as open and anything else as uncovered.
type stubGate struct{}

func (stubGate) EnsurePostable(_ context.Context, _ int64, date time.Time) error {
	if date.Year() != 2024 {
		return shared.Errorf(shared.ErrNoOpenPeriod, "no open period covers %s", date.Format("2006-01-02"))
	}
	if date.Month() <= time.March {
		return shared.Errorf(shared.ErrPeriodClosed, "period Q1 is closed")
	}
	return nil
}

type mapNames map[ledger.Ref]string

func (m mapNames) EntityName(_ context.Context, _ int64, et EntityType, id int64) (string, error) {
	return m[ledger.Ref{Kind: entityRules[et].kind, ID: id}], nil
}

type countingMetrics struct {
	mu    sync.Mutex
	calls []string
}

func (m *countingMetrics) RecordVoucher(kind, op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, kind+"/"+op+"/"+outcome)
}

type auditSink struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditSink) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	metrics *countingMetrics
	audit   *auditSink
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemRepo()
	repo.mem.Seed(tenant, safe1, "Main safe", "1000")
	repo.mem.Seed(tenant, bank1, "Operating bank", "500")
	repo.mem.Seed(tenant, ca1, "Partner current account", "500")
	names := mapNames{cust1: "Acme Ltd", rev1: "Consulting", exp1: "Rent", ca1: "Partner current account"}
	audit := &auditSink{}
	metrics := &countingMetrics{}
	repo.mem.Gate = stubGate{}
	svc := NewService(repo, stubGate{}, names, audit)
	svc.WithMetrics(metrics)
	svc.WithNow(func() time.Time { return openDay })
	return fixture{svc: svc, repo: repo, metrics: metrics, audit: audit}
}

func (f fixture) balance(ref ledger.Ref) string {
	return f.repo.mem.Balance(tenant, ref).String()
}

func receiptInput(amount string) ReceiptInput {
	return ReceiptInput{
		Date:          openDay,
		EntityType:    EntityCustomer,
		EntityID:      cust1.ID,
		Amount:        dec(amount),
		PaymentMethod: MethodSafe,
		SafeID:        ptr(safe1.ID),
	}
}

func TestReceiptCreditsCashAndDebitsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.CreateReceipt(ctx, actor, receiptInput("300"))
	require.NoError(t, err)
	assert.Equal(t, "RCV-001", v.Code)
	assert.Equal(t, "Acme Ltd", v.EntityName)
	assert.Equal(t, actor.UserID, v.CreatedBy)
	assert.Equal(t, "1300", f.balance(safe1))
	assert.Equal(t, "-300", f.repo.mem.PostingSum(tenant, cust1).String())

	in := receiptInput("300")
	in.EntityType, in.EntityID = EntityCurrentAccount, ca1.ID
	v, err = f.svc.CreateReceipt(ctx, actor, in)
	require.NoError(t, err)
	assert.Equal(t, "RCV-002", v.Code)
	assert.Equal(t, "1600", f.balance(safe1))
	assert.Equal(t, "200", f.balance(ca1))

	require.Len(t, f.audit.logs, 2)
	assert.Equal(t, "vouchers.receipt.create", f.audit.logs[0].Action)
	assert.Contains(t, f.metrics.calls, "receipt/create/success")
}

func TestReceiptDebitOfBalanceBearingCounterIsGuarded(t *testing.T) {
	f := newFixture(t)
	in := receiptInput("600")
	in.EntityType, in.EntityID = EntityCurrentAccount, ca1.ID

	_, err := f.svc.CreateReceipt(context.Background(), actor, in)
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	assert.Equal(t, "1000", f.balance(safe1))
	assert.Equal(t, "500", f.balance(ca1))
	assert.Zero(t, f.repo.count())
}

func TestPaymentInsufficientFundsLeavesBalance(t *testing.T) {
	f := newFixture(t)
	f.repo.mem.Seed(tenant, ledger.Ref{Kind: ledger.KindBank, ID: 5}, "Small bank", "50")

	_, err := f.svc.CreatePayment(context.Background(), actor, PaymentInput{
		Date:          openDay,
		EntityType:    EntitySupplier,
		EntityID:      11,
		Amount:        dec("100"),
		PaymentMethod: MethodBank,
		BankID:        ptr(int64(5)),
	})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	var insufficient *ledger.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "50", insufficient.Available.String())
	assert.Equal(t, "100", insufficient.Requested.String())

	assert.Equal(t, "50", f.balance(ledger.Ref{Kind: ledger.KindBank, ID: 5}))
	assert.Zero(t, f.repo.count())
	assert.Contains(t, f.metrics.calls, "payment/create/insufficient_funds")
}

func TestPaymentCreditsCounterAndKeepsExpenseCode(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.CreatePayment(context.Background(), actor, PaymentInput{
		Date:          openDay,
		EntityType:    EntityExpense,
		EntityID:      exp1.ID,
		Amount:        dec("120.50"),
		PaymentMethod: MethodSafe,
		SafeID:        ptr(safe1.ID),
		BankID:        ptr(bank1.ID),
		ExpenseCodeID: ptr(int64(7)),
	})
	require.NoError(t, err)
	assert.Equal(t, "PAY-001", v.Code)
	assert.Nil(t, v.BankID, "bank leg dropped for a safe payment")
	require.NotNil(t, v.ExpenseCodeID)
	assert.Equal(t, "879.5", f.balance(safe1))
	assert.Equal(t, "120.5", f.repo.mem.PostingSum(tenant, exp1).String())
}

func TestTransferThenDeleteRestoresBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.CreateTransfer(ctx, actor, TransferInput{
		Date: openDay, FromType: ledger.KindSafe, FromID: safe1.ID, ToType: ledger.KindBank, ToID: bank1.ID, Amount: dec("200"),
	})
	require.NoError(t, err)
	assert.Equal(t, "INT-001", v.Code)
	assert.Equal(t, "800", f.balance(safe1))
	assert.Equal(t, "700", f.balance(bank1))

	require.NoError(t, f.svc.DeleteTransfer(ctx, actor, v.ID))
	assert.Equal(t, "1000", f.balance(safe1))
	assert.Equal(t, "500", f.balance(bank1))
	assert.Zero(t, f.repo.count())

	var reversals int
	for _, p := range f.repo.mem.Postings() {
		if p.SourceKind == string(KindTransfer) && p.Reversal {
			reversals++
		}
	}
	assert.Equal(t, 2, reversals)

	_, err = f.svc.Get(ctx, tenant, v.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTransferRejectsSameEndpoints(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTransfer(context.Background(), actor, TransferInput{
		Date: openDay, FromType: ledger.KindSafe, FromID: safe1.ID, ToType: ledger.KindSafe, ToID: safe1.ID, Amount: dec("10"),
	})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateTransfer(context.Background(), actor, TransferInput{
		Date: openDay, FromType: ledger.KindSafe, FromID: safe1.ID, ToType: ledger.KindCurrentAccount, ToID: ca1.ID, Amount: dec("10"),
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateToIdenticalValuesLeavesBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := receiptInput("300")
	in.EntityType, in.EntityID = EntityCurrentAccount, ca1.ID
	v, err := f.svc.CreateReceipt(ctx, actor, in)
	require.NoError(t, err)

	updated, err := f.svc.UpdateReceipt(ctx, actor, v.ID, ReceiptPatch{CashPatch: CashPatch{
		Amount:        ptr(dec("300")),
		PaymentMethod: ptr(MethodSafe),
		SafeID:        ptr(safe1.ID),
	}})
	require.NoError(t, err)
	assert.Equal(t, v.Code, updated.Code)
	assert.Equal(t, "1300", f.balance(safe1))
	assert.Equal(t, "200", f.balance(ca1))
	assert.Equal(t, "0", f.repo.mem.PostingSum(tenant, safe1).Sub(dec("1300")).String())
}

func TestUpdateMovesCashLegAndCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.CreateReceipt(ctx, actor, receiptInput("300"))
	require.NoError(t, err)

	updated, err := f.svc.UpdateReceipt(ctx, actor, v.ID, ReceiptPatch{CashPatch: CashPatch{
		EntityType:    ptr(EntityRevenue),
		EntityID:      ptr(rev1.ID),
		Amount:        ptr(dec("250")),
		PaymentMethod: ptr(MethodBank),
		BankID:        ptr(bank1.ID),
	}})
	require.NoError(t, err)
	assert.Equal(t, "Consulting", updated.EntityName)
	assert.Nil(t, updated.SafeID)
	assert.Equal(t, "1000", f.balance(safe1))
	assert.Equal(t, "750", f.balance(bank1))
	assert.Equal(t, "0", f.repo.mem.PostingSum(tenant, cust1).String())
	assert.Equal(t, "-250", f.repo.mem.PostingSum(tenant, rev1).String())
}

func TestUpdateRejectsDisallowedEntityAndKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.CreateReceipt(ctx, actor, receiptInput("300"))
	require.NoError(t, err)

	_, err = f.svc.UpdateReceipt(ctx, actor, v.ID, ReceiptPatch{CashPatch: CashPatch{EntityType: ptr(EntityExpense)}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.UpdateReceipt(ctx, actor, v.ID, ReceiptPatch{CashPatch: CashPatch{Amount: ptr(dec("0"))}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.UpdatePayment(ctx, actor, v.ID, PaymentPatch{})
	require.ErrorIs(t, err, shared.ErrNotFound, "kind filter applies on load")

	assert.Equal(t, "1300", f.balance(safe1))
}

func TestUpdateReversalCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt, err := f.svc.CreateReceipt(ctx, actor, receiptInput("300"))
	require.NoError(t, err)
	_, err = f.svc.CreateTransfer(ctx, actor, TransferInput{
		Date: openDay, FromType: ledger.KindSafe, FromID: safe1.ID, ToType: ledger.KindBank, ToID: bank1.ID, Amount: dec("1200"),
	})
	require.NoError(t, err)

	err = f.svc.DeleteReceipt(ctx, actor, receipt.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	assert.Equal(t, "100", f.balance(safe1))
	assert.Equal(t, 2, f.repo.count())
}

func TestPeriodGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := receiptInput("10")
	in.Date = closedDay
	_, err := f.svc.CreateReceipt(ctx, actor, in)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	in.Date = orphanDay
	_, err = f.svc.CreateReceipt(ctx, actor, in)
	require.ErrorIs(t, err, shared.ErrNoOpenPeriod)

	v, err := f.svc.CreateReceipt(ctx, actor, receiptInput("10"))
	require.NoError(t, err)

	_, err = f.svc.UpdateReceipt(ctx, actor, v.ID, ReceiptPatch{CashPatch: CashPatch{Date: ptr(closedDay)}})
	require.ErrorIs(t, err, shared.ErrPeriodClosed, "moving into a closed period")
	assert.Equal(t, "1010", f.balance(safe1))
}

func TestVoucherInClosedPeriodIsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.vouchers[99] = Voucher{
		ID: 99, TenantID: tenant, Kind: KindTransfer, Code: "INT-099", Date: closedDay,
		FromType: ledger.KindSafe, FromID: safe1.ID, ToType: ledger.KindBank, ToID: bank1.ID, Amount: dec("5"),
	}

	err := f.svc.DeleteTransfer(ctx, actor, 99)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	_, err = f.svc.UpdateTransfer(ctx, actor, 99, TransferPatch{Date: ptr(openDay)})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	assert.Equal(t, 1, f.repo.count())
}

// closedGate reports every date as closed, standing in for a period that was
// closed after the service's early check.
type closedGate struct{}

func (closedGate) EnsurePostable(context.Context, int64, time.Time) error {
	return shared.Errorf(shared.ErrPeriodClosed, "period closed")
}

func TestPeriodClosedBeforeCommitRejectsVoucher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.CreateReceipt(ctx, actor, receiptInput("100"))
	require.NoError(t, err)
	require.Equal(t, "RCV-001", v.Code)

	f.repo.mem.Gate = closedGate{}

	_, err = f.svc.CreateReceipt(ctx, actor, receiptInput("50"))
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	assert.Equal(t, "1100", f.balance(safe1))
	assert.Equal(t, 1, f.repo.count())

	_, err = f.svc.UpdateReceipt(ctx, actor, v.ID, ReceiptPatch{CashPatch: CashPatch{Amount: ptr(dec("70"))}})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	err = f.svc.DeleteReceipt(ctx, actor, v.ID)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	assert.Equal(t, "1100", f.balance(safe1))
	assert.Equal(t, 1, f.repo.count())

	f.repo.mem.Gate = stubGate{}
	next, err := f.svc.CreateReceipt(ctx, actor, receiptInput("50"))
	require.NoError(t, err)
	assert.Equal(t, "RCV-002", next.Code, "rejected create must not consume a code")
}

func TestAmountsBeyondCentsAreRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateTransfer(ctx, actor, TransferInput{
		Date: openDay, FromType: ledger.KindSafe, FromID: safe1.ID, ToType: ledger.KindBank, ToID: bank1.ID, Amount: dec("0.005"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreatePayment(ctx, actor, PaymentInput{
		Date: openDay, EntityType: EntitySupplier, EntityID: 11, Amount: dec("1.234"),
		PaymentMethod: MethodBank, BankID: ptr(bank1.ID),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, "1000", f.balance(safe1))
	assert.Equal(t, "500", f.balance(bank1))
	assert.Zero(t, f.repo.count())

	receipt, err := f.svc.CreateReceipt(ctx, actor, receiptInput("10.50"))
	require.NoError(t, err)
	_, err = f.svc.UpdateReceipt(ctx, actor, receipt.ID, ReceiptPatch{CashPatch: CashPatch{Amount: ptr(dec("10.001"))}})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, "1010.5", f.balance(safe1))

	transfer, err := f.svc.CreateTransfer(ctx, actor, TransferInput{
		Date: openDay, FromType: ledger.KindSafe, FromID: safe1.ID, ToType: ledger.KindBank, ToID: bank1.ID, Amount: dec("0.01"),
	})
	require.NoError(t, err)
	_, err = f.svc.UpdateTransfer(ctx, actor, transfer.ID, TransferPatch{Amount: ptr(dec("0.015"))})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, "1010.49", f.balance(safe1))
	assert.Equal(t, "500.01", f.balance(bank1))
}

func TestAtomicityWhenCounterMutationFails(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("injected failure")
	f.repo.mem.FailAdjust = func(ref ledger.Ref, _ decimal.Decimal) error {
		if ref == ca1 {
			return boom
		}
		return nil
	}
	in := receiptInput("300")
	in.EntityType, in.EntityID = EntityCurrentAccount, ca1.ID

	_, err := f.svc.CreateReceipt(context.Background(), actor, in)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "1000", f.balance(safe1))
	assert.Equal(t, "500", f.balance(ca1))
	assert.Zero(t, f.repo.count())
	assert.Len(t, f.repo.mem.Postings(), 3, "only opening postings remain")
}

func TestAtomicityWhenVoucherWriteFails(t *testing.T) {
	f := newFixture(t)
	f.repo.failInsert = errors.New("disk full")

	_, err := f.svc.CreateReceipt(context.Background(), actor, receiptInput("300"))
	require.Error(t, err)
	assert.Equal(t, "1000", f.balance(safe1))
	assert.Zero(t, f.repo.count())

	f.repo.failInsert = nil
	v, err := f.svc.CreateReceipt(context.Background(), actor, receiptInput("300"))
	require.NoError(t, err)
	assert.Equal(t, "RCV-001", v.Code, "failed attempt does not consume a code")
}

func TestConservationAcrossLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.CreateReceipt(ctx, actor, receiptInput("300"))
	require.NoError(t, err)
	p, err := f.svc.CreatePayment(ctx, actor, PaymentInput{
		Date: openDay, EntityType: EntityCurrentAccount, EntityID: ca1.ID, Amount: dec("75"),
		PaymentMethod: MethodBank, BankID: ptr(bank1.ID),
	})
	require.NoError(t, err)
	_, err = f.svc.UpdatePayment(ctx, actor, p.ID, PaymentPatch{CashPatch: CashPatch{Amount: ptr(dec("80"))}})
	require.NoError(t, err)

	byBatch := map[string]decimal.Decimal{}
	for _, posting := range f.repo.mem.Postings() {
		if posting.SourceKind == ledger.SourceOpening {
			continue
		}
		id := posting.BatchID.String()
		byBatch[id] = byBatch[id].Add(posting.Amount)
	}
	require.Len(t, byBatch, 3)
	for batch, sum := range byBatch {
		assert.True(t, sum.IsZero(), "batch %s sums to %s", batch, sum)
	}

	require.NoError(t, f.svc.DeleteReceipt(ctx, actor, r.ID))
	require.NoError(t, f.svc.DeletePayment(ctx, actor, p.ID))
	for _, ref := range []ledger.Ref{safe1, bank1, ca1} {
		acc, _ := f.repo.mem.Account(tenant, ref)
		assert.True(t, acc.CurrentBalance.Equal(acc.OpeningBalance), "%s back to opening", ref)
		assert.True(t, acc.CurrentBalance.Equal(f.repo.mem.PostingSum(tenant, ref)), "%s cache matches log", ref)
	}
}

func TestConcurrentPaymentsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, rejected int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreatePayment(ctx, actor, PaymentInput{
				Date: openDay, EntityType: EntitySupplier, EntityID: 11, Amount: dec("150"),
				PaymentMethod: MethodSafe, SafeID: ptr(safe1.ID),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, shared.ErrInsufficientFunds) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, ok)
	assert.Equal(t, 14, rejected)
	assert.Equal(t, "100", f.balance(safe1))
	assert.Equal(t, 6, f.repo.count())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]ReceiptInput{
		"zero amount":      func() ReceiptInput { in := receiptInput("0"); return in }(),
		"missing safe":     func() ReceiptInput { in := receiptInput("1"); in.SafeID = nil; return in }(),
		"method mismatch":  func() ReceiptInput { in := receiptInput("1"); in.PaymentMethod = MethodBank; return in }(),
		"expense on recpt": func() ReceiptInput { in := receiptInput("1"); in.EntityType = EntityExpense; return in }(),
		"unknown entity":   func() ReceiptInput { in := receiptInput("1"); in.EntityType = "partner"; return in }(),
		"missing entity":   func() ReceiptInput { in := receiptInput("1"); in.EntityID = 0; return in }(),
		"missing date":     func() ReceiptInput { in := receiptInput("1"); in.Date = time.Time{}; return in }(),
	}
	for name, in := range cases {
		_, err := f.svc.CreateReceipt(ctx, actor, in)
		assert.ErrorIs(t, err, shared.ErrValidation, name)
	}

	_, err := f.svc.CreateReceipt(ctx, shared.Actor{TenantID: tenant}, receiptInput("1"))
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreatePayment(ctx, actor, PaymentInput{
		Date: openDay, EntityType: EntityVat, EntityID: 1, Amount: dec("1"), PaymentMethod: MethodSafe, SafeID: ptr(safe1.ID),
	})
	assert.ErrorIs(t, err, shared.ErrValidation, "vat is receipt-only")
	assert.Equal(t, "1000", f.balance(safe1))
}

func TestMissingAccountsAndVouchers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := receiptInput("10")
	in.SafeID = ptr(int64(404))
	_, err := f.svc.CreateReceipt(ctx, actor, in)
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.ErrorIs(t, f.svc.DeleteReceipt(ctx, actor, 404), shared.ErrNotFound)

	other := shared.Actor{TenantID: 2, UserID: 1}
	v, err := f.svc.CreateReceipt(ctx, actor, receiptInput("10"))
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.DeleteReceipt(ctx, other, v.ID), shared.ErrNotFound)
	assert.Equal(t, "1010", f.balance(safe1))
}

func TestListFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateReceipt(ctx, actor, receiptInput("1"))
		require.NoError(t, err)
	}
	_, err := f.svc.CreateTransfer(ctx, actor, TransferInput{
		Date: openDay, FromType: ledger.KindBank, FromID: bank1.ID, ToType: ledger.KindSafe, ToID: safe1.ID, Amount: dec("1"),
	})
	require.NoError(t, err)

	items, page, err := f.svc.List(ctx, ListFilter{TenantID: tenant, Kind: KindReceipt, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, shared.Pagination{Page: 1, PerPage: 2, Total: 3, TotalPages: 2}, page)

	_, _, err = f.svc.List(ctx, ListFilter{TenantID: tenant, Kind: "journal"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}
