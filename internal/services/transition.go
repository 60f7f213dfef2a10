package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/campfire/backend/internal/jobs"
	"github.com/campfire/backend/internal/lifecycle"
	"github.com/campfire/backend/internal/metrics"
	"github.com/campfire/backend/internal/models"
)

// TxBeginner starts a transaction. *database.DB implements it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TaskStore is the task persistence the core needs. *repository.TaskRepo implements it.
type TaskStore interface {
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateLifecycleTx(ctx context.Context, tx pgx.Tx, t *models.Task, expectVersion int) error
	ClaimTx(ctx context.Context, tx pgx.Tx, id, contractorID uuid.UUID, level int) (*models.Task, error)
	AppendHistoryTx(ctx context.Context, tx pgx.Tx, e *models.TaskHistoryEntry) error
	ListHistory(ctx context.Context, taskID uuid.UUID) ([]models.TaskHistoryEntry, error)
}

// Identity resolves roles and contractor levels.
type Identity interface {
	GetRole(ctx context.Context, id uuid.UUID) (models.Role, error)
	GetContractorLevel(ctx context.Context, id uuid.UUID) (int, error)
}

// Attachments answers whether a task has a deliverable.
type Attachments interface {
	HasDeliverable(ctx context.Context, taskID uuid.UUID) (bool, error)
}

// Enqueuer inserts background jobs. *jobs.Inserter implements it.
type Enqueuer interface {
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs) error
	Insert(ctx context.Context, args river.JobArgs) error
}

// TransitionPayload carries the optional request fields.
type TransitionPayload struct {
	ContractorID *uuid.UUID
	Note         string
}

// TransitionService is the only writer of task status and contractor. Every
// transition runs in one transaction: row lock, decision, ledger effects, task
// update, history row and the task-closed outbox job.
type TransitionService struct {
	DB          TxBeginner
	Tasks       TaskStore
	Escrow      *Escrow
	Identity    Identity
	Attachments Attachments
	Jobs        Enqueuer
	Engine      *lifecycle.Engine
	Logger      *slog.Logger
}

func NewTransitionService(
	db TxBeginner,
	tasks TaskStore,
	ledger Ledger,
	identity Identity,
	attachments Attachments,
	enqueuer Enqueuer,
	engine *lifecycle.Engine,
	logger *slog.Logger,
) *TransitionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionService{
		DB:          db,
		Tasks:       tasks,
		Escrow:      NewEscrow(ledger),
		Identity:    identity,
		Attachments: attachments,
		Jobs:        enqueuer,
		Engine:      engine,
		Logger:      logger,
	}
}

// RequestTransition moves a task to status to on behalf of actor.
func (s *TransitionService) RequestTransition(ctx context.Context, taskID uuid.UUID, actor models.Actor, to models.TaskStatus, p TransitionPayload) (*models.Task, error) {
	t, err := s.transition(ctx, taskID, actor, lifecycle.PathDirect, to, p)
	s.observe(string(to), err)
	return t, err
}

// ListHistory returns the task's transitions in commit order. Clients see their own
// tasks, contractors the tasks they currently hold.
func (s *TransitionService) ListHistory(ctx context.Context, taskID uuid.UUID, actor models.Actor) ([]models.TaskHistoryEntry, error) {
	actor, err := s.resolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	t, err := s.Tasks.GetTx(ctx, tx, taskID)
	if err != nil {
		return nil, classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleClient:
		if t.ClientID != actor.ID {
			return nil, ErrForbidden
		}
	case models.RoleContractor:
		if t.ContractorID == nil || *t.ContractorID != actor.ID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	entries, err := s.Tasks.ListHistory(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.TaskHistoryEntry{}
	}
	return entries, nil
}

func (s *TransitionService) resolveActor(ctx context.Context, actor models.Actor) (models.Actor, error) {
	return resolveActor(ctx, s.Identity, actor)
}

// resolveActor replaces the claimed role with the identity collaborator's.
func resolveActor(ctx context.Context, identity Identity, actor models.Actor) (models.Actor, error) {
	role, err := identity.GetRole(ctx, actor.ID)
	if err != nil {
		return actor, classify(err)
	}
	if actor.Role != "" && actor.Role != role {
		return actor, fmt.Errorf("%w: token role %s does not match %s", ErrForbidden, actor.Role, role)
	}
	actor.Role = role
	return actor, nil
}

func (s *TransitionService) transition(ctx context.Context, taskID uuid.UUID, actor models.Actor, path lifecycle.Path, to models.TaskStatus, p TransitionPayload) (*models.Task, error) {
	actor, err := s.resolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	req := lifecycle.Request{Actor: actor, Path: path, To: to, Note: p.Note}
	if p.ContractorID != nil {
		req.ContractorID = p.ContractorID
		role, err := s.Identity.GetRole(ctx, *p.ContractorID)
		if err != nil && !errors.Is(classify(err), ErrNotFound) {
			return nil, err
		}
		req.ContractorRole = role
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	before, err := s.Tasks.GetForUpdateTx(ctx, tx, taskID)
	if err != nil {
		return nil, classify(err)
	}
	if actor.Role == models.RoleContractor && (before.ContractorID == nil || *before.ContractorID != actor.ID) {
		return nil, fmt.Errorf("%w: task %s is not assigned to %s", ErrForbidden, taskID, actor.ID)
	}

	if lifecycle.NeedsDeliverable(actor.Role, before.Status, req.To) {
		ok, err := s.Attachments.HasDeliverable(ctx, taskID)
		if err != nil {
			return nil, err
		}
		req.HasDeliverable = ok
	}

	snap := lifecycle.Snapshot{Task: before}
	if releasesReservation(path, to) {
		if snap.Reserved, err = s.Escrow.Reserved(ctx, tx, before); err != nil {
			return nil, classify(err)
		}
	}

	d, err := s.Engine.Decide(snap, req)
	if err != nil {
		return nil, classify(err)
	}

	after := before.Clone()
	after.Status = d.Next
	after.ContractorID = d.ContractorID
	if d.From == models.TaskStatusSubmitted && d.Next == models.TaskStatusAssigned {
		after.AssignmentCycle++
	}

	if err := s.Escrow.Apply(ctx, tx, after, contractorOf(before, d), d.Effects); err != nil {
		return nil, classify(err)
	}
	if err := s.Tasks.UpdateLifecycleTx(ctx, tx, after, before.Version); err != nil {
		return nil, classify(err)
	}
	if err := s.finish(ctx, tx, before, after, actor, d.Note); err != nil {
		return nil, err
	}
	return after, nil
}

// finish appends history, enqueues the outbox job for a close, commits and then
// emits the notification.
func (s *TransitionService) finish(ctx context.Context, tx pgx.Tx, before, after *models.Task, actor models.Actor, note string) error {
	if err := s.Tasks.AppendHistoryTx(ctx, tx, &models.TaskHistoryEntry{
		TaskID:     after.ID,
		FromStatus: before.Status,
		ToStatus:   after.Status,
		ActorID:    actor.ID,
		Note:       note,
	}); err != nil {
		return classify(err)
	}
	if after.Status == models.TaskStatusClosed && after.ContractorID != nil {
		if err := s.Jobs.InsertTx(ctx, tx, jobs.TaskClosedArgs{
			TaskID:          after.ID,
			ContractorID:    *after.ContractorID,
			Category:        after.Category,
			ComplexityLevel: after.ComplexityLevel,
		}); err != nil {
			return fmt.Errorf("enqueue task_closed: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}

	s.Logger.Info("task transition committed",
		"task_id", after.ID,
		"actor_id", actor.ID,
		"role", actor.Role,
		"from", before.Status,
		"to", after.Status,
	)
	s.notify(ctx, before, after, actor, note)
	return nil
}

// notify is fire-and-forget: the transition is already committed.
func (s *TransitionService) notify(ctx context.Context, before, after *models.Task, actor models.Actor, note string) {
	args := jobs.NotifyTransitionArgs{
		TaskID:       after.ID,
		ActorID:      actor.ID,
		ClientID:     after.ClientID,
		ContractorID: after.ContractorID,
		From:         string(before.Status),
		To:           string(after.Status),
		Note:         note,
		OccurredAt:   time.Now().UTC(),
	}
	if args.ContractorID == nil {
		args.ContractorID = before.ContractorID
	}
	if err := s.Jobs.Insert(context.WithoutCancel(ctx), args); err != nil {
		s.Logger.Warn("transition notification not enqueued", "task_id", after.ID, "error", err)
	}
}

func (s *TransitionService) observe(to string, err error) {
	result := metrics.ResultOK
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict), errors.Is(err, ErrIntegrity):
		result = metrics.ResultError
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInsufficientCredits), errors.Is(err, ErrAlreadyClaimed):
		result = metrics.ResultRejected
	default:
		result = metrics.ResultError
	}
	metrics.Transitions.WithLabelValues(to, result).Inc()
	switch result {
	case metrics.ResultRejected:
		s.Logger.Info("task transition rejected", "to", to, "error", err)
	case metrics.ResultError:
		s.Logger.Error("task transition failed", "to", to, "error", err)
	}
}

func releasesReservation(path lifecycle.Path, to models.TaskStatus) bool {
	return path == lifecycle.PathPass || to == models.TaskStatusClosed || to == models.TaskStatusCancelled
}

func contractorOf(before *models.Task, d lifecycle.Decision) *uuid.UUID {
	if d.ContractorID != nil {
		return d.ContractorID
	}
	return before.ContractorID
}
