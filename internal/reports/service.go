package reports

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository loads income lines for a tenant and inclusive date range.
type Repository interface {
	IncomeLines(ctx context.Context, tenantID int64, start, end time.Time) ([]Line, error)
}

// Service computes income statement figures.
type Service struct {
	repo Repository
}

// NewService constructs the service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ProfitAndLoss returns the sectioned statement for [start, end].
func (s *Service) ProfitAndLoss(ctx context.Context, tenantID int64, start, end time.Time) (ProfitAndLoss, error) {
	if s == nil || s.repo == nil {
		return ProfitAndLoss{}, errors.New("reports: service not initialised")
	}
	if end.Before(start) {
		return ProfitAndLoss{}, errors.New("reports: end before start")
	}
	lines, err := s.repo.IncomeLines(ctx, tenantID, start, end)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	return BuildProfitAndLoss(lines), nil
}

// NetProfit returns revenue minus expense for [start, end].
func (s *Service) NetProfit(ctx context.Context, tenantID int64, start, end time.Time) (decimal.Decimal, error) {
	pl, err := s.ProfitAndLoss(ctx, tenantID, start, end)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return pl.NetIncome, nil
}

// PgRepository reads vouchers from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// IncomeLines sums revenue receipts and expense payments per counter-entity.
func (r *PgRepository) IncomeLines(ctx context.Context, tenantID int64, start, end time.Time) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT CASE WHEN kind = 'receipt' THEN 'revenue' ELSE 'expense' END AS nature,
	entity_id, MAX(entity_name), SUM(amount)::text
FROM vouchers
WHERE tenant_id = $1 AND voucher_date BETWEEN $2::date AND $3::date
	AND ((kind = 'receipt' AND entity_type = 'revenue') OR (kind = 'payment' AND entity_type = 'expense'))
GROUP BY 1, entity_id`, tenantID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var line Line
		var nature, amount string
		if err := rows.Scan(&nature, &line.EntityID, &line.Name, &amount); err != nil {
			return nil, err
		}
		line.Nature = Nature(nature)
		if line.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}
