package gamification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/campfire/backend/internal/jobs"
	"github.com/campfire/backend/internal/metrics"
	"github.com/campfire/backend/internal/models"
)

// Store is the persistence the accumulator needs. *Repository implements it.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockProgressTx(ctx context.Context, tx pgx.Tx, contractorID uuid.UUID) error
	AddEventTx(ctx context.Context, tx pgx.Tx, e Event) (bool, error)
	EventsTx(ctx context.Context, tx pgx.Tx, contractorID uuid.UUID) ([]Event, error)
	SaveProgressTx(ctx context.Context, tx pgx.Tx, p *models.ContractorProgress) error
	GetProgress(ctx context.Context, contractorID uuid.UUID) (*models.ContractorProgress, error)
}

type Accumulator struct {
	store  Store
	logger *slog.Logger
}

func NewAccumulator(store Store, logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{store: store, logger: logger}
}

// Record credits a closed task to its contractor and recomputes their progress.
// A task already credited is a no-op, so redelivered events are harmless.
func (a *Accumulator) Record(ctx context.Context, args jobs.TaskClosedArgs) (bool, error) {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if err := a.store.LockProgressTx(ctx, tx, args.ContractorID); err != nil {
		return false, fmt.Errorf("lock progress: %w", err)
	}
	ev := Event{
		TaskID:          args.TaskID,
		ContractorID:    args.ContractorID,
		Category:        strings.ToLower(strings.TrimSpace(args.Category)),
		ComplexityLevel: args.ComplexityLevel,
		XP:              XPFor(args.ComplexityLevel),
	}
	added, err := a.store.AddEventTx(ctx, tx, ev)
	if err != nil {
		return false, fmt.Errorf("add xp event: %w", err)
	}
	if !added {
		a.logger.Debug("task already credited", "task_id", args.TaskID, "contractor_id", args.ContractorID)
		return false, nil
	}

	events, err := a.store.EventsTx(ctx, tx, args.ContractorID)
	if err != nil {
		return false, fmt.Errorf("load xp events: %w", err)
	}
	p := Compute(args.ContractorID, events)
	if err := a.store.SaveProgressTx(ctx, tx, &p); err != nil {
		return false, fmt.Errorf("save progress: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	metrics.XPAwarded.Add(float64(ev.XP))
	a.logger.Info("xp awarded",
		"task_id", args.TaskID,
		"contractor_id", args.ContractorID,
		"xp", ev.XP,
		"total_xp", p.XP,
		"level", p.Level,
	)
	return true, nil
}

func (a *Accumulator) Progress(ctx context.Context, contractorID uuid.UUID) (*models.ContractorProgress, error) {
	return a.store.GetProgress(ctx, contractorID)
}

// Worker consumes task_closed events from the outbox.
type Worker struct {
	river.WorkerDefaults[jobs.TaskClosedArgs]
	acc *Accumulator
}

func NewWorker(acc *Accumulator) *Worker {
	return &Worker{acc: acc}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[jobs.TaskClosedArgs]) error {
	_, err := w.acc.Record(ctx, job.Args)
	return err
}
