package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/treasury/internal/ledger"
	"github.com/odyssey-erp/treasury/internal/ledger/ledgertest"
	"github.com/odyssey-erp/treasury/internal/shared"
)

type memRepo struct {
	mem *ledgertest.Memory
}

func (r memRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.mem.WithTx(ctx, func(tx *ledgertest.Tx) error { return fn(ctx, tx) })
}

func (r memRepo) GetAccount(_ context.Context, tenantID int64, ref ledger.Ref) (ledger.Account, error) {
	acc, ok := r.mem.Account(tenantID, ref)
	if !ok {
		return ledger.Account{}, shared.ErrNotFound
	}
	return acc, nil
}

func (r memRepo) ListAccounts(context.Context, int64, ledger.Kind) ([]ledger.Account, error) {
	return nil, errors.New("not implemented")
}

func (r memRepo) ListPostings(_ context.Context, tenantID int64, ref ledger.Ref, limit int) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range r.mem.Postings() {
		if p.TenantID == tenantID && p.Account == ref && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r memRepo) Drift(context.Context, int64) ([]ledger.Drift, error) { return nil, nil }

func (r memRepo) Tenants(context.Context) ([]int64, error) { return []int64{tenant}, nil }

type stubGate struct {
	err   error
	dates []time.Time
}

func (g *stubGate) EnsurePostable(_ context.Context, _ int64, date time.Time) error {
	g.dates = append(g.dates, date)
	return g.err
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

var actor = shared.Actor{TenantID: tenant, UserID: 5}

func TestCreateAccountRecordsOpeningPosting(t *testing.T) {
	mem := ledgertest.NewMemory()
	gate := &stubGate{}
	audit := &recordingAudit{}
	svc := ledger.NewService(memRepo{mem: mem}, gate, audit)

	acc, err := svc.CreateAccount(context.Background(), actor, ledger.CreateAccountInput{
		Kind:           ledger.KindSafe,
		Name:           "  Front desk  ",
		OpeningBalance: dec("250"),
		OpeningDate:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "SAFE-001", acc.Code)
	assert.Equal(t, "Front desk", acc.Name)
	assert.True(t, acc.CurrentBalance.Equal(dec("250")))
	assert.True(t, mem.Balance(tenant, acc.Ref()).Equal(dec("250")))
	assert.True(t, mem.PostingSum(tenant, acc.Ref()).Equal(dec("250")))
	assert.Empty(t, gate.dates, "safes are not period gated")
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "ledger.account.create", audit.logs[0].Action)

	second, err := svc.CreateAccount(context.Background(), actor, ledger.CreateAccountInput{
		Kind:        ledger.KindSafe,
		Name:        "Back office",
		OpeningDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "SAFE-002", second.Code)
	assert.True(t, second.CurrentBalance.IsZero())
}

func TestCreateCurrentAccountIsPeriodGated(t *testing.T) {
	mem := ledgertest.NewMemory()
	gate := &stubGate{err: shared.Errorf(shared.ErrPeriodClosed, "closed")}
	svc := ledger.NewService(memRepo{mem: mem}, gate, nil)
	opening := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	_, err := svc.CreateAccount(context.Background(), actor, ledger.CreateAccountInput{
		Kind:           ledger.KindCurrentAccount,
		Name:           "Partner A",
		OpeningBalance: dec("10"),
		OpeningDate:    opening,
	})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Len(t, gate.dates, 1)
	assert.Equal(t, opening, gate.dates[0])
	assert.Empty(t, mem.Postings())
}

func TestCurrentAccountRejectedWhenPeriodClosesBeforeCommit(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Gate = &stubGate{err: shared.Errorf(shared.ErrPeriodClosed, "closed")}
	gate := &stubGate{}
	svc := ledger.NewService(memRepo{mem: mem}, gate, nil)
	in := ledger.CreateAccountInput{
		Kind:           ledger.KindCurrentAccount,
		Name:           "Partner B",
		OpeningBalance: dec("40"),
		OpeningDate:    time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	_, err := svc.CreateAccount(context.Background(), actor, in)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Len(t, gate.dates, 1, "early check passed")
	assert.Empty(t, mem.Postings())

	mem.Gate = nil
	acc, err := svc.CreateAccount(context.Background(), actor, in)
	require.NoError(t, err)
	assert.Equal(t, "CA-001", acc.Code)
}

func TestCreateAccountValidation(t *testing.T) {
	svc := ledger.NewService(memRepo{mem: ledgertest.NewMemory()}, &stubGate{}, nil)
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []ledger.CreateAccountInput{
		{Kind: ledger.KindCustomer, Name: "x", OpeningDate: date},
		{Kind: ledger.KindBank, Name: " ", OpeningDate: date},
		{Kind: ledger.KindBank, Name: "x", OpeningBalance: dec("-1"), OpeningDate: date},
		{Kind: ledger.KindBank, Name: "x", OpeningBalance: dec("10.005"), OpeningDate: date},
		{Kind: ledger.KindBank, Name: "x"},
	}
	for _, in := range cases {
		_, err := svc.CreateAccount(context.Background(), actor, in)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
}

func TestPostingsChecksAccountExists(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Seed(tenant, safe1, "Till", "20")
	svc := ledger.NewService(memRepo{mem: mem}, &stubGate{}, nil)

	postings, err := svc.Postings(context.Background(), tenant, safe1, 0)
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, ledger.SourceOpening, postings[0].SourceKind)

	_, err = svc.Postings(context.Background(), tenant, bank1, 10)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.GetAccount(context.Background(), tenant, cust9)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
