package ledger

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/campfire/backend/internal/jobs"
)

// Reconciler is what ReconcileWorker runs.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (checked, violations int, err error)
}

// ReconcileWorker periodically checks every account against the log.
type ReconcileWorker struct {
	river.WorkerDefaults[jobs.ReconcileLedgerArgs]
	ledger Reconciler
	logger *slog.Logger
}

func NewReconcileWorker(ledger Reconciler, logger *slog.Logger) *ReconcileWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileWorker{ledger: ledger, logger: logger}
}

func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[jobs.ReconcileLedgerArgs]) error {
	checked, violations, err := w.ledger.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if violations > 0 {
		level = slog.LevelError
	}
	w.logger.Log(ctx, level, "ledger reconciliation finished", "accounts", checked, "violations", violations)
	return nil
}
