package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/treasury/internal/ledger"
	"github.com/odyssey-erp/treasury/internal/ledger/ledgertest"
	"github.com/odyssey-erp/treasury/internal/shared"
)

const tenant = int64(1)

var (
	safe1 = ledger.Ref{Kind: ledger.KindSafe, ID: 1}
	bank1 = ledger.Ref{Kind: ledger.KindBank, ID: 1}
	cust9 = ledger.Ref{Kind: ledger.KindCustomer, ID: 9}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDebitRejectsOverdraftWithoutMutation(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Seed(tenant, bank1, "Main bank", "50")

	err := mem.WithTx(context.Background(), func(tx *ledgertest.Tx) error {
		return ledger.NewStore(tx, tenant).Debit(context.Background(), bank1, dec("100"))
	})

	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	assert.Equal(t, bank1, insufficient.Account)
	assert.True(t, insufficient.Available.Equal(dec("50")))
	assert.True(t, insufficient.Requested.Equal(dec("100")))
	assert.Contains(t, err.Error(), "available 50.00, requested 100.00")
	assert.True(t, mem.Balance(tenant, bank1).Equal(dec("50")))
}

func TestDebitExactBalanceReachesZero(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Seed(tenant, safe1, "Till", "75.50")

	err := mem.WithTx(context.Background(), func(tx *ledgertest.Tx) error {
		s := ledger.NewStore(tx, tenant)
		if err := s.Debit(context.Background(), safe1, dec("75.50")); err != nil {
			return err
		}
		return s.Flush(context.Background(), "payment", 1)
	})
	require.NoError(t, err)
	assert.True(t, mem.Balance(tenant, safe1).IsZero())
	assert.True(t, mem.PostingSum(tenant, safe1).IsZero())
}

func TestCreditAndNominalPostings(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Seed(tenant, safe1, "Till", "1000")
	ctx := context.Background()

	var batch []ledger.Posting
	err := mem.WithTx(ctx, func(tx *ledgertest.Tx) error {
		s := ledger.NewStore(tx, tenant)
		if err := s.Credit(ctx, safe1, dec("300")); err != nil {
			return err
		}
		if err := s.Debit(ctx, cust9, dec("300")); err != nil {
			return err
		}
		batch = s.Pending()
		return s.Flush(ctx, "receipt", 42)
	})
	require.NoError(t, err)

	assert.True(t, mem.Balance(tenant, safe1).Equal(dec("1300")))
	require.Len(t, batch, 2)
	assert.Equal(t, batch[0].BatchID, batch[1].BatchID)
	assert.True(t, batch[0].Amount.Add(batch[1].Amount).IsZero())

	var flushed int
	for _, p := range mem.Postings() {
		if p.SourceKind == "receipt" {
			flushed++
			assert.Equal(t, int64(42), p.SourceID)
		}
	}
	assert.Equal(t, 2, flushed)
	assert.True(t, mem.PostingSum(tenant, cust9).Equal(dec("-300")))
}

func TestLockSortsAndSkipsNominal(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Seed(tenant, safe1, "Till", "10")
	mem.Seed(tenant, bank1, "Bank", "10")
	ctx := context.Background()

	var locked []ledger.Ref
	err := mem.WithTx(ctx, func(tx *ledgertest.Tx) error {
		s := ledger.NewStore(tx, tenant)
		if err := s.Lock(ctx, safe1, cust9, bank1, safe1); err != nil {
			return err
		}
		bal, ok := s.Balance(safe1)
		assert.True(t, ok)
		assert.True(t, bal.Equal(dec("10")))
		locked = tx.Locked
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []ledger.Ref{bank1, safe1}, locked)
}

func TestLockUnknownAccount(t *testing.T) {
	mem := ledgertest.NewMemory()
	err := mem.WithTx(context.Background(), func(tx *ledgertest.Tx) error {
		return ledger.NewStore(tx, tenant).Lock(context.Background(), safe1)
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Seed(2, safe1, "Other tenant till", "500")
	err := mem.WithTx(context.Background(), func(tx *ledgertest.Tx) error {
		return ledger.NewStore(tx, tenant).Credit(context.Background(), safe1, dec("1"))
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.True(t, mem.Balance(2, safe1).Equal(dec("500")))
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Seed(tenant, safe1, "Till", "10")
	ctx := context.Background()
	err := mem.WithTx(ctx, func(tx *ledgertest.Tx) error {
		s := ledger.NewStore(tx, tenant)
		require.ErrorIs(t, s.Debit(ctx, safe1, dec("0")), shared.ErrValidation)
		require.ErrorIs(t, s.Credit(ctx, safe1, dec("-5")), shared.ErrValidation)
		require.ErrorIs(t, s.Post(ctx, ledger.Ref{Kind: "vault", ID: 1}, dec("5"), false), shared.ErrValidation)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, mem.Balance(tenant, safe1).Equal(dec("10")))
}

func TestRejectsSubCentAmounts(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Seed(tenant, safe1, "Till", "10")
	ctx := context.Background()
	err := mem.WithTx(ctx, func(tx *ledgertest.Tx) error {
		s := ledger.NewStore(tx, tenant)
		require.ErrorIs(t, s.Credit(ctx, safe1, dec("0.005")), shared.ErrValidation)
		require.ErrorIs(t, s.Debit(ctx, safe1, dec("1.001")), shared.ErrValidation)
		require.NoError(t, s.Credit(ctx, safe1, dec("0.01")))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, mem.Balance(tenant, safe1).Equal(dec("10.01")))
}

func TestFailureRollsBackEarlierMutations(t *testing.T) {
	mem := ledgertest.NewMemory()
	mem.Seed(tenant, safe1, "Till", "100")
	mem.Seed(tenant, bank1, "Bank", "100")
	boom := errors.New("disk full")
	mem.FailAdjust = func(ref ledger.Ref, _ decimal.Decimal) error {
		if ref == bank1 {
			return boom
		}
		return nil
	}
	ctx := context.Background()
	err := mem.WithTx(ctx, func(tx *ledgertest.Tx) error {
		s := ledger.NewStore(tx, tenant)
		if err := s.Debit(ctx, safe1, dec("40")); err != nil {
			return err
		}
		return s.Credit(ctx, bank1, dec("40"))
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, mem.Balance(tenant, safe1).Equal(dec("100")))
	assert.True(t, mem.Balance(tenant, bank1).Equal(dec("100")))
}

func TestKindClassification(t *testing.T) {
	assert.True(t, ledger.KindSafe.IsCash())
	assert.False(t, ledger.KindCurrentAccount.IsCash())
	assert.True(t, ledger.KindPayableAccount.HasBalance())
	assert.False(t, ledger.KindVat.HasBalance())
	assert.True(t, ledger.KindVat.Valid())
	assert.True(t, ledger.KindReceivableAccount.RequiresOpenPeriod())
	assert.False(t, ledger.KindBank.RequiresOpenPeriod())
	assert.Equal(t, "CA", ledger.KindCurrentAccount.CodePrefix())

	_, err := ledger.ParseKind("vault")
	require.ErrorIs(t, err, shared.ErrValidation)
}
