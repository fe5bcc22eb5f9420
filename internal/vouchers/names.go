package vouchers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/treasury/internal/sequence"
)

// nameSources maps each counter-entity type to the table holding its display name.
var nameSources = map[EntityType]string{
	EntityCustomer:          `SELECT name FROM customers WHERE tenant_id=$1 AND id=$2`,
	EntitySupplier:          `SELECT name FROM suppliers WHERE tenant_id=$1 AND id=$2`,
	EntityCurrentAccount:    `SELECT name FROM ledger_accounts WHERE tenant_id=$1 AND kind='current_account' AND id=$2`,
	EntityReceivableAccount: `SELECT name FROM ledger_accounts WHERE tenant_id=$1 AND kind='receivable_account' AND id=$2`,
	EntityPayableAccount:    `SELECT name FROM ledger_accounts WHERE tenant_id=$1 AND kind='payable_account' AND id=$2`,
	EntityRevenue:           `SELECT name FROM revenue_codes WHERE tenant_id=$1 AND id=$2`,
	EntityVat:               `SELECT name FROM vat_codes WHERE tenant_id=$1 AND id=$2`,
	EntityExpense:           `SELECT name FROM expense_codes WHERE tenant_id=$1 AND id=$2`,
}

// PgNameLookup resolves entity names from master data tables.
type PgNameLookup struct {
	q sequence.Querier
}

// NewNameLookup binds the lookup to a pool or transaction.
func NewNameLookup(q sequence.Querier) *PgNameLookup {
	return &PgNameLookup{q: q}
}

// EntityName returns the display name, or "" when the entity does not exist.
func (l *PgNameLookup) EntityName(ctx context.Context, tenantID int64, entityType EntityType, id int64) (string, error) {
	query, ok := nameSources[entityType]
	if !ok {
		return "", nil
	}
	var name string
	err := l.q.QueryRow(ctx, query, tenantID, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("vouchers: lookup %s %d: %w", entityType, id, err)
	}
	return name, nil
}
