package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueMaintenance carries the reconcile and cleanup tasks.
	QueueMaintenance = "treasury_maintenance"
	// TaskLedgerReconcile compares cached balances with the posting log.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerReconcilePayload scopes a reconcile run. An empty tenant list means all tenants.
type LedgerReconcilePayload struct {
	TenantIDs []int64 `json:"tenant_ids,omitempty"`
}

// NewLedgerReconcileTask builds a reconcile task.
func NewLedgerReconcileTask(tenantIDs ...int64) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerReconcilePayload{TenantIDs: tenantIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueMaintenance), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload sets how long keys are retained.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueMaintenance), asynq.MaxRetry(1)), nil
}
