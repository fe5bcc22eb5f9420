package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/treasury/internal/jobs"
	"github.com/odyssey-erp/treasury/internal/ledger"
)

const reconcileFanOut = 4

// Reconciler reports ledger drift per tenant.
type Reconciler interface {
	Tenants(ctx context.Context) ([]int64, error)
	Reconcile(ctx context.Context, tenantID int64) ([]ledger.Drift, error)
}

// LedgerReconcileJob checks that every account's cached balance equals the sum of its postings.
type LedgerReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewLedgerReconcileJob constructs the job handler.
func NewLedgerReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// Handle runs the check for the tenants named in the payload, or all of them.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload LedgerReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("ledger reconcile: decode payload: %w", asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload.TenantIDs...)
	return err
}

// Run reconciles tenants with bounded concurrency and returns the drift found per tenant.
func (j *LedgerReconcileJob) Run(ctx context.Context, tenantIDs ...int64) (map[int64][]ledger.Drift, error) {
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	start := time.Now()
	logger := j.logger()

	if len(tenantIDs) == 0 {
		all, err := j.Reconciler.Tenants(ctx)
		if err != nil {
			return nil, tracker.End(fmt.Errorf("ledger reconcile: list tenants: %w", err))
		}
		tenantIDs = all
	}

	results := make([][]ledger.Drift, len(tenantIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileFanOut)
	for i, tenantID := range tenantIDs {
		i, tenantID := i, tenantID
		g.Go(func() error {
			drift, err := j.Reconciler.Reconcile(gctx, tenantID)
			if err != nil {
				return fmt.Errorf("ledger reconcile: tenant %d: %w", tenantID, err)
			}
			results[i] = drift
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("ledger reconcile failed", slog.Any("error", err))
		return nil, tracker.End(err)
	}

	out := make(map[int64][]ledger.Drift, len(tenantIDs))
	total := 0
	for i, tenantID := range tenantIDs {
		drift := results[i]
		out[tenantID] = drift
		total += len(drift)
		j.Metrics.SetDrift(tenantID, len(drift))
		for _, d := range drift {
			logger.Warn("ledger drift detected",
				slog.Int64("tenant_id", tenantID),
				slog.String("account", d.Account.String()),
				slog.String("code", d.Code),
				slog.String("cached", d.Cached.String()),
				slog.String("posted", d.Posted.String()),
			)
		}
	}
	logger.Info("ledger reconcile completed",
		slog.Int("tenants", len(tenantIDs)),
		slog.Int("drifted_accounts", total),
		slog.Duration("duration", time.Since(start)),
	)
	return out, tracker.End(nil)
}

func (j *LedgerReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReconcile))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReconcile))
}
