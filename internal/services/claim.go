package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campfire/backend/internal/lifecycle"
	"github.com/campfire/backend/internal/metrics"
	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/repository"
)

// ClaimCoordinator resolves the campfire race. The claim itself is one conditional
// UPDATE; the reservation and history row ride in the same transaction, so a failed
// reservation returns the task to submitted.
type ClaimCoordinator struct {
	svc *TransitionService
}

func NewClaimCoordinator(svc *TransitionService) *ClaimCoordinator {
	return &ClaimCoordinator{svc: svc}
}

// Claim assigns a campfire task to contractorID. Of N concurrent callers exactly one
// wins; the others get ErrAlreadyClaimed.
func (c *ClaimCoordinator) Claim(ctx context.Context, taskID, contractorID uuid.UUID) (*models.Task, error) {
	t, err := c.claim(ctx, taskID, contractorID)
	result := metrics.ResultWon
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyClaimed):
		result = metrics.ResultAlreadyClaimed
	case errors.Is(err, ErrConflict), errors.Is(err, ErrIntegrity):
		result = metrics.ResultError
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInsufficientCredits):
		result = metrics.ResultRejected
	default:
		result = metrics.ResultError
	}
	metrics.Claims.WithLabelValues(result).Inc()
	if result == metrics.ResultError {
		c.svc.Logger.Error("campfire claim failed", "task_id", taskID, "contractor_id", contractorID, "error", err)
	}
	return t, err
}

func (c *ClaimCoordinator) claim(ctx context.Context, taskID, contractorID uuid.UUID) (*models.Task, error) {
	s := c.svc
	actor, err := s.resolveActor(ctx, models.Actor{ID: contractorID})
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleContractor {
		return nil, fmt.Errorf("%w: only contractors claim campfire tasks", ErrInvalidTransition)
	}
	level, err := s.Identity.GetContractorLevel(ctx, contractorID)
	if err != nil {
		return nil, classify(err)
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	before, err := s.Tasks.GetTx(ctx, tx, taskID)
	if err != nil {
		return nil, classify(err)
	}
	d, err := s.Engine.Decide(lifecycle.Snapshot{Task: before}, lifecycle.Request{
		Actor:      actor,
		Path:       lifecycle.PathClaim,
		ActorLevel: level,
	})
	if err != nil {
		if before.ContractorID != nil {
			return nil, fmt.Errorf("%w: task %s", ErrAlreadyClaimed, taskID)
		}
		return nil, classify(err)
	}

	after, err := s.Tasks.ClaimTx(ctx, tx, taskID, contractorID, level)
	if errors.Is(err, repository.ErrNotClaimable) {
		return nil, c.explainLostClaim(ctx, tx, taskID)
	}
	if err != nil {
		return nil, classify(err)
	}

	if err := s.Escrow.Apply(ctx, tx, after, after.ContractorID, d.Effects); err != nil {
		return nil, classify(err)
	}
	if err := s.finish(ctx, tx, before, after, actor, ""); err != nil {
		return nil, err
	}
	return after, nil
}

// explainLostClaim rereads the row after a failed compare-and-swap. Under read
// committed the new statement sees the winner's committed update.
func (c *ClaimCoordinator) explainLostClaim(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error {
	now, err := c.svc.Tasks.GetTx(ctx, tx, taskID)
	if err != nil {
		return classify(err)
	}
	switch {
	case now.ContractorID != nil:
		return fmt.Errorf("%w: task %s", ErrAlreadyClaimed, taskID)
	case now.Status != models.TaskStatusSubmitted || !now.CampfireEligible:
		return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, taskID, now.Status)
	default:
		return fmt.Errorf("%w: task %s changed during claim", ErrConflict, taskID)
	}
}

// Pass hands an assigned task back to the campfire and releases its reservation.
// Only the assigned contractor may pass, and only before work starts.
func (c *ClaimCoordinator) Pass(ctx context.Context, taskID, contractorID uuid.UUID) (*models.Task, error) {
	t, err := c.svc.transition(ctx, taskID, models.Actor{ID: contractorID}, lifecycle.PathPass, models.TaskStatusSubmitted, TransitionPayload{})
	c.svc.observe(string(models.TaskStatusSubmitted), err)
	return t, err
}
