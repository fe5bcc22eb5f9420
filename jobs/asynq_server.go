// Package jobs runs treasury background tasks on asynq.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/treasury/internal/platform/httpx"
)

// Worker serves the maintenance queue and schedules its recurring tasks.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
}

// WorkerConfig wires the reconcile and cleanup jobs to Redis. An empty cron
// expression leaves that job to manual triggers.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int

	Reconcile     *LedgerReconcileJob
	ReconcileCron string

	Cleanup          *IdempotencyCleanupJob
	CleanupCron      string
	CleanupRetention time.Duration
}

// NewWorker registers both maintenance handlers and their schedules.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Reconcile == nil || cfg.Cleanup == nil {
		return nil, errors.New("worker: reconcile and cleanup jobs are required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	logger := newAsynqLogger(cfg.Logger)
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueMaintenance: 1},
		Logger:      logger,
		LogLevel:    asynq.InfoLevel,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskLedgerReconcile, cfg.Reconcile.Handle)
	mux.HandleFunc(TaskIdempotencyCleanup, cfg.Cleanup.Handle)

	reconcileTask, err := NewLedgerReconcileTask()
	if err != nil {
		return nil, err
	}
	cleanupTask, err := NewIdempotencyCleanupTask(cfg.CleanupRetention)
	if err != nil {
		return nil, err
	}
	scheduler := asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC, Logger: logger})
	for _, entry := range []struct {
		spec string
		task *asynq.Task
	}{
		{cfg.ReconcileCron, reconcileTask},
		{cfg.CleanupCron, cleanupTask},
	} {
		if entry.spec == "" {
			continue
		}
		if _, err := scheduler.Register(entry.spec, entry.task); err != nil {
			return nil, fmt.Errorf("worker: schedule %s: %w", entry.task.Type(), err)
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler}, nil
}

// Run processes the queue until ctx is cancelled or the server stops.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if err := w.scheduler.Start(); err != nil {
		return err
	}
	defer w.scheduler.Shutdown()

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// QueueHealth is the body of GET /jobs/health.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// Handler reports the maintenance queue over HTTP.
type Handler struct {
	inspector *asynq.Inspector
	logger    *slog.Logger
}

// NewHandler builds the jobs handler. A nil inspector reports an empty queue.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	body := QueueHealth{Queue: QueueMaintenance}
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(QueueMaintenance)
		if err != nil {
			h.logger.Warn("jobs health", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Jobs queue unavailable", "")
			return
		}
		body.Pending = info.Pending
		body.Active = info.Active
		body.Scheduled = info.Scheduled
		body.Retry = info.Retry
		body.Archived = info.Archived
	}
	httpx.JSON(w, http.StatusOK, body)
}

// asynqLogger adapts slog to asynq.Logger.
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) asynq.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return asynqLogger{logger: logger.With(slog.String("component", "asynq"))}
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
