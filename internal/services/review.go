package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campfire/backend/internal/models"
)

// ReviewStore persists reviews. *repository.ReviewRepo implements it.
type ReviewStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, rv *models.Review) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]models.Review, error)
}

type ReviewService struct {
	DB       TxBeginner
	Tasks    TaskStore
	Reviews  ReviewStore
	Identity Identity
}

func NewReviewService(db TxBeginner, tasks TaskStore, reviews ReviewStore, identity Identity) *ReviewService {
	return &ReviewService{DB: db, Tasks: tasks, Reviews: reviews, Identity: identity}
}

// CreateReview records post-closure feedback, at most one per task and reviewer role.
func (s *ReviewService) CreateReview(ctx context.Context, taskID uuid.UUID, actor models.Actor, rating int, comment string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be 1..5", ErrValidation)
	}
	actor, err := resolveActor(ctx, s.Identity, actor)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleContractor {
		return nil, fmt.Errorf("%w: %s cannot review tasks", ErrForbidden, actor.Role)
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
	if actor.Role == models.RoleContractor && (t.ContractorID == nil || *t.ContractorID != actor.ID) {
		return nil, fmt.Errorf("%w: task %s was not done by %s", ErrForbidden, taskID, actor.ID)
	}
	if t.Status != models.TaskStatusClosed {
		return nil, fmt.Errorf("%w: reviews need a closed task, task is %s", ErrInvalidTransition, t.Status)
	}

	rv := &models.Review{
		ID:           uuid.New(),
		TaskID:       taskID,
		ReviewerID:   actor.ID,
		ReviewerRole: actor.Role,
		Rating:       rating,
		Comment:      strings.TrimSpace(comment),
	}
	if err := s.Reviews.CreateTx(ctx, tx, rv); err != nil {
		return nil, classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return rv, nil
}

func (s *ReviewService) ListReviews(ctx context.Context, taskID uuid.UUID) ([]models.Review, error) {
	list, err := s.Reviews.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Review{}
	}
	return list, nil
}
