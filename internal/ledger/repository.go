package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/periods"
	"github.com/odyssey-erp/treasury/internal/platform/db"
	"github.com/odyssey-erp/treasury/internal/sequence"
)

const accountColumns = `id, tenant_id, kind, code, name, opening_balance::text, current_balance::text, opening_date, created_by, created_at, updated_at`

// PgRepository persists ledger accounts and postings in PostgreSQL.
type PgRepository struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewRepository constructs a PgRepository retrying serialization failures up to attempts times.
func NewRepository(pool *pgxpool.Pool, attempts int) *PgRepository {
	return &PgRepository{pool: pool, attempts: attempts}
}

// WithTx runs fn inside a retrying RepeatableRead transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithRetryTx(ctx, r.pool, r.attempts, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{PgTxStore: NewTxStore(tx), TxGate: periods.NewTxGate(tx), counter: sequence.NewCounter(tx), tx: tx})
	})
}

// GetAccount loads one account.
func (r *PgRepository) GetAccount(ctx context.Context, tenantID int64, ref Ref) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE tenant_id=$1 AND kind=$2 AND id=$3`, tenantID, ref.Kind, ref.ID)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, accountNotFound(ref)
	}
	return acc, err
}

// ListAccounts lists accounts ordered by kind and code.
func (r *PgRepository) ListAccounts(ctx context.Context, tenantID int64, kind Kind) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts
WHERE tenant_id=$1 AND ($2 = '' OR kind=$2)
ORDER BY kind, code`, tenantID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// ListPostings returns the newest postings of one participant.
func (r *PgRepository) ListPostings(ctx context.Context, tenantID int64, ref Ref, limit int) ([]Posting, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, account_kind, account_id, amount::text, batch_id, source_kind, source_id, reversal, created_at
FROM ledger_postings
WHERE tenant_id=$1 AND account_kind=$2 AND account_id=$3
ORDER BY id DESC
LIMIT $4`, tenantID, ref.Kind, ref.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Posting
	for rows.Next() {
		var p Posting
		var amount string
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Account.Kind, &p.Account.ID, &amount, &p.BatchID, &p.SourceKind, &p.SourceID, &p.Reversal, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ledger: parse posting amount: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Drift compares cached balances with posting sums.
func (r *PgRepository) Drift(ctx context.Context, tenantID int64) ([]Drift, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.kind, a.id, a.code, a.current_balance::text, COALESCE(SUM(p.amount), 0)::text
FROM ledger_accounts a
LEFT JOIN ledger_postings p ON p.tenant_id = a.tenant_id AND p.account_kind = a.kind AND p.account_id = a.id
WHERE a.tenant_id = $1
GROUP BY a.kind, a.id, a.code, a.current_balance
HAVING a.current_balance <> COALESCE(SUM(p.amount), 0)
ORDER BY a.kind, a.id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Drift
	for rows.Next() {
		var d Drift
		var cached, posted string
		if err := rows.Scan(&d.Account.Kind, &d.Account.ID, &d.Code, &cached, &posted); err != nil {
			return nil, err
		}
		if d.Cached, err = decimal.NewFromString(cached); err != nil {
			return nil, err
		}
		if d.Posted, err = decimal.NewFromString(posted); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Tenants lists tenants that own ledger accounts.
func (r *PgRepository) Tenants(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM ledger_accounts ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type pgTxRepository struct {
	*PgTxStore
	*periods.TxGate
	counter *sequence.Counter
	tx      pgx.Tx
}

func (r *pgTxRepository) NextCode(ctx context.Context, tenantID int64, prefix string) (string, error) {
	return r.counter.NextCode(ctx, tenantID, prefix)
}

func (r *pgTxRepository) InsertAccount(ctx context.Context, acc Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledger_accounts (tenant_id, kind, code, name, opening_balance, current_balance, opening_date, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, NOW(), NOW())
RETURNING `+accountColumns,
		acc.TenantID, acc.Kind, acc.Code, acc.Name, acc.OpeningBalance.String(), acc.CurrentBalance.String(), acc.OpeningDate, acc.CreatedBy)
	return scanAccount(row)
}

// PgTxStore implements TxStore on an open pgx transaction.
type PgTxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps tx as a TxStore.
func NewTxStore(tx pgx.Tx) *PgTxStore {
	return &PgTxStore{tx: tx}
}

// LockAccount selects the account FOR UPDATE.
func (s *PgTxStore) LockAccount(ctx context.Context, tenantID int64, ref Ref) (Account, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE tenant_id=$1 AND kind=$2 AND id=$3 FOR UPDATE`, tenantID, ref.Kind, ref.ID)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, accountNotFound(ref)
	}
	return acc, err
}

// AdjustBalance adds delta to current_balance.
func (s *PgTxStore) AdjustBalance(ctx context.Context, tenantID int64, ref Ref, delta decimal.Decimal) (decimal.Decimal, error) {
	var raw string
	err := s.tx.QueryRow(ctx, `UPDATE ledger_accounts SET current_balance = current_balance + $4::numeric, updated_at = NOW()
WHERE tenant_id=$1 AND kind=$2 AND id=$3
RETURNING current_balance::text`, tenantID, ref.Kind, ref.ID, delta.String()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, accountNotFound(ref)
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(raw)
}

// InsertPostings appends postings in one round trip.
func (s *PgTxStore) InsertPostings(ctx context.Context, postings []Posting) error {
	batch := &pgx.Batch{}
	for _, p := range postings {
		batch.Queue(`INSERT INTO ledger_postings (tenant_id, account_kind, account_id, amount, batch_id, source_kind, source_id, reversal, created_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
			p.TenantID, p.Account.Kind, p.Account.ID, p.Amount.String(), p.BatchID, p.SourceKind, p.SourceID, p.Reversal, p.CreatedAt)
	}
	if err := s.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("ledger: insert postings: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acc Account
	var opening, current string
	if err := row.Scan(&acc.ID, &acc.TenantID, &acc.Kind, &acc.Code, &acc.Name, &opening, &current, &acc.OpeningDate, &acc.CreatedBy, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return Account{}, err
	}
	var err error
	if acc.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return Account{}, fmt.Errorf("ledger: parse opening balance: %w", err)
	}
	if acc.CurrentBalance, err = decimal.NewFromString(current); err != nil {
		return Account{}, fmt.Errorf("ledger: parse current balance: %w", err)
	}
	return acc, nil
}
