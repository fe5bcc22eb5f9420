package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/platform/db"
)

const periodColumns = `id, tenant_id, name, start_date, end_date, status, retained_earnings::text, closed_by, closed_at, created_by, created_at, updated_at`

// PgRepository stores fiscal periods in PostgreSQL.
type PgRepository struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool, attempts int) *PgRepository {
	return &PgRepository{pool: pool, attempts: attempts}
}

// WithTx runs fn in a retrying RepeatableRead transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithRetryTx(ctx, r.pool, r.attempts, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// List returns periods ordered by start date.
func (r *PgRepository) List(ctx context.Context, tenantID int64) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 ORDER BY start_date`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPeriods(rows)
}

// Get loads one period.
func (r *PgRepository) Get(ctx context.Context, tenantID, id int64) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return p, err
}

// Covering returns periods whose inclusive range contains date.
func (r *PgRepository) Covering(ctx context.Context, tenantID int64, date time.Time) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods
WHERE tenant_id=$1 AND start_date <= $2::date AND end_date >= $2::date`, tenantID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPeriods(rows)
}

// TxGate checks dates inside a posting transaction. The covering periods are read
// FOR SHARE, so a concurrent Close (FOR UPDATE) waits until the posting commits and
// its net profit includes it.
type TxGate struct {
	tx pgx.Tx
}

// NewTxGate binds the gate to tx.
func NewTxGate(tx pgx.Tx) *TxGate {
	return &TxGate{tx: tx}
}

// EnsurePostable applies Postable to the locked covering periods.
func (g *TxGate) EnsurePostable(ctx context.Context, tenantID int64, date time.Time) error {
	day := DateOnly(date)
	rows, err := g.tx.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods
WHERE tenant_id=$1 AND start_date <= $2::date AND end_date >= $2::date
FOR SHARE`, tenantID, day)
	if err != nil {
		return fmt.Errorf("periods: lock covering periods: %w", err)
	}
	defer rows.Close()
	list, err := collectPeriods(rows)
	if err != nil {
		return fmt.Errorf("periods: lock covering periods: %w", err)
	}
	return Postable(list, day)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockTenant(ctx context.Context, tenantID int64) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('fiscal_periods:' || $1::text, 0))`, tenantID)
	return err
}

func (t *pgTx) LoadForUpdate(ctx context.Context, tenantID, id int64) (Period, error) {
	p, err := scanPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return p, err
}

func (t *pgTx) HasOverlap(ctx context.Context, tenantID int64, start, end time.Time, excludeID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM fiscal_periods
	WHERE tenant_id=$1 AND id <> $4 AND start_date <= $3::date AND end_date >= $2::date
)`, tenantID, start, end, excludeID).Scan(&exists)
	return exists, err
}

func (t *pgTx) Insert(ctx context.Context, in CreateInput) (Period, error) {
	return scanPeriod(t.tx.QueryRow(ctx, `INSERT INTO fiscal_periods (tenant_id, name, start_date, end_date, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
RETURNING `+periodColumns, in.TenantID, in.Name, in.StartDate, in.EndDate, StatusOpen, in.ActorID))
}

func (t *pgTx) Update(ctx context.Context, p Period) (Period, error) {
	return scanPeriod(t.tx.QueryRow(ctx, `UPDATE fiscal_periods SET name=$3, start_date=$4, end_date=$5, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2
RETURNING `+periodColumns, p.TenantID, p.ID, p.Name, p.StartDate, p.EndDate))
}

func (t *pgTx) UpdateStatus(ctx context.Context, p Period) (Period, error) {
	var retained *string
	if p.RetainedEarnings != nil {
		v := p.RetainedEarnings.String()
		retained = &v
	}
	return scanPeriod(t.tx.QueryRow(ctx, `UPDATE fiscal_periods
SET status=$3, retained_earnings=$4::numeric, closed_by=$5, closed_at=$6, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2
RETURNING `+periodColumns, p.TenantID, p.ID, p.Status, retained, p.ClosedBy, p.ClosedAt))
}

func collectPeriods(rows pgx.Rows) ([]Period, error) {
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var retained *string
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &retained, &p.ClosedBy, &p.ClosedAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	if retained != nil {
		v, err := decimal.NewFromString(*retained)
		if err != nil {
			return Period{}, fmt.Errorf("periods: parse retained earnings: %w", err)
		}
		p.RetainedEarnings = &v
	}
	return p, nil
}
