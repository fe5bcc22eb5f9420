package vouchers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/ledger"
	"github.com/odyssey-erp/treasury/internal/periods"
	"github.com/odyssey-erp/treasury/internal/platform/db"
	"github.com/odyssey-erp/treasury/internal/sequence"
	"github.com/odyssey-erp/treasury/internal/shared"
)

const voucherColumns = `id, tenant_id, kind, code, voucher_date, entity_type, entity_id, entity_name, amount::text,
	payment_method, safe_id, bank_id, expense_code_id, from_type, from_id, to_type, to_id, description,
	created_by, updated_by, created_at, updated_at`

// PgRepository stores vouchers in PostgreSQL.
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
		return fn(ctx, &pgTxRepository{PgTxStore: ledger.NewTxStore(tx), TxGate: periods.NewTxGate(tx), counter: sequence.NewCounter(tx), tx: tx})
	})
}

// Get loads a voucher by id.
func (r *PgRepository) Get(ctx context.Context, tenantID, id int64) (Voucher, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	v, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, shared.Errorf(shared.ErrNotFound, "vouchers: voucher %d not found", id)
	}
	return v, err
}

// List returns one page of vouchers newest first, with the unpaged total.
func (r *PgRepository) List(ctx context.Context, filter ListFilter) ([]Voucher, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("voucher_date >= $%d::date", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("voucher_date <= $%d::date", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vouchers WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := shared.LimitOffset(filter.Page, filter.PerPage)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM vouchers WHERE %s
ORDER BY voucher_date DESC, id DESC
LIMIT $%d OFFSET $%d`, voucherColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

type pgTxRepository struct {
	*ledger.PgTxStore
	*periods.TxGate
	counter *sequence.Counter
	tx      pgx.Tx
}

func (r *pgTxRepository) NextCode(ctx context.Context, tenantID int64, prefix string) (string, error) {
	return r.counter.NextCode(ctx, tenantID, prefix)
}

func (r *pgTxRepository) LoadForUpdate(ctx context.Context, tenantID int64, kind Kind, id int64) (Voucher, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE tenant_id=$1 AND kind=$2 AND id=$3 FOR UPDATE`, tenantID, kind, id)
	v, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, notFound(kind, id)
	}
	return v, err
}

func (r *pgTxRepository) Insert(ctx context.Context, v Voucher) (Voucher, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO vouchers (tenant_id, kind, code, voucher_date, entity_type, entity_id, entity_name, amount,
	payment_method, safe_id, bank_id, expense_code_id, from_type, from_id, to_type, to_id, description,
	created_by, updated_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW(), NOW())
RETURNING `+voucherColumns,
		v.TenantID, v.Kind, v.Code, v.Date, v.EntityType, v.EntityID, v.EntityName, v.Amount.String(),
		v.PaymentMethod, v.SafeID, v.BankID, v.ExpenseCodeID, v.FromType, v.FromID, v.ToType, v.ToID, v.Description,
		v.CreatedBy, v.UpdatedBy)
	saved, err := scanVoucher(row)
	if err != nil && db.IsUniqueViolation(err) {
		return Voucher{}, shared.Errorf(shared.ErrConstraint, "vouchers: code %s already used", v.Code)
	}
	return saved, err
}

func (r *pgTxRepository) Update(ctx context.Context, v Voucher) (Voucher, error) {
	row := r.tx.QueryRow(ctx, `UPDATE vouchers SET voucher_date=$3, entity_type=$4, entity_id=$5, entity_name=$6, amount=$7::numeric,
	payment_method=$8, safe_id=$9, bank_id=$10, expense_code_id=$11, from_type=$12, from_id=$13, to_type=$14, to_id=$15,
	description=$16, updated_by=$17, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2
RETURNING `+voucherColumns,
		v.TenantID, v.ID, v.Date, v.EntityType, v.EntityID, v.EntityName, v.Amount.String(),
		v.PaymentMethod, v.SafeID, v.BankID, v.ExpenseCodeID, v.FromType, v.FromID, v.ToType, v.ToID,
		v.Description, v.UpdatedBy)
	saved, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, notFound(v.Kind, v.ID)
	}
	return saved, err
}

func (r *pgTxRepository) Delete(ctx context.Context, tenantID, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM vouchers WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.ErrNotFound, "vouchers: voucher %d not found", id)
	}
	return nil
}

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	var amount string
	if err := row.Scan(&v.ID, &v.TenantID, &v.Kind, &v.Code, &v.Date, &v.EntityType, &v.EntityID, &v.EntityName, &amount,
		&v.PaymentMethod, &v.SafeID, &v.BankID, &v.ExpenseCodeID, &v.FromType, &v.FromID, &v.ToType, &v.ToID, &v.Description,
		&v.CreatedBy, &v.UpdatedBy, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return Voucher{}, err
	}
	var err error
	if v.Amount, err = decimal.NewFromString(amount); err != nil {
		return Voucher{}, fmt.Errorf("vouchers: parse amount: %w", err)
	}
	return v, nil
}
