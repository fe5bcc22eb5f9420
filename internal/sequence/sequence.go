// Package sequence allocates human-readable document codes such as RCV-001.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Prefixes used by treasury documents and ledger accounts.
const (
	PrefixReceipt  = "RCV"
	PrefixPayment  = "PAY"
	PrefixTransfer = "INT"
)

// Querier is satisfied by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Format renders a counter value as PREFIX-NNN, widening past 999.
func Format(prefix string, n int64) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// Counter advances a per-tenant, per-prefix counter inside the caller's transaction.
type Counter struct {
	q Querier
}

// NewCounter binds the counter to a querier, normally the open transaction.
func NewCounter(q Querier) *Counter {
	return &Counter{q: q}
}

// Next increments and returns the counter. The upsert is a single statement, so two
// transactions can never observe the same value.
func (c *Counter) Next(ctx context.Context, tenantID int64, prefix string) (int64, error) {
	if c == nil || c.q == nil {
		return 0, errors.New("sequence: counter not initialised")
	}
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return 0, errors.New("sequence: prefix required")
	}
	var seq int64
	err := c.q.QueryRow(ctx, `INSERT INTO code_sequences (tenant_id, prefix, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (tenant_id, prefix) DO UPDATE SET last_value = code_sequences.last_value + 1
RETURNING last_value`, tenantID, prefix).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sequence: next %s: %w", prefix, err)
	}
	return seq, nil
}

// NextCode returns the next formatted code for prefix.
func (c *Counter) NextCode(ctx context.Context, tenantID int64, prefix string) (string, error) {
	seq, err := c.Next(ctx, tenantID, prefix)
	if err != nil {
		return "", err
	}
	return Format(strings.ToUpper(strings.TrimSpace(prefix)), seq), nil
}
