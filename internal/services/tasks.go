package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campfire/backend/internal/lifecycle"
	"github.com/campfire/backend/internal/models"
)

// TaskCreator inserts new tasks. *repository.TaskRepo implements it.
type TaskCreator interface {
	Create(ctx context.Context, t *models.Task) error
}

// TaskSubmission is a client's new unit of work. Pricing is stored as given and
// turned into a reservation only at assignment.
type TaskSubmission struct {
	Title            string
	Category         string
	Priority         string
	ComplexityLevel  *int
	EstimatedHours   *float64
	HourlyRate       *int64
	CampfireEligible bool
	MinLevel         int
	Deadline         *time.Time
}

type TaskService struct {
	Tasks    TaskCreator
	Identity Identity
	Logger   *slog.Logger
}

func NewTaskService(tasks TaskCreator, identity Identity, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{Tasks: tasks, Identity: identity, Logger: logger}
}

// Submit creates a task in status submitted owned by the calling client.
func (s *TaskService) Submit(ctx context.Context, actor models.Actor, sub TaskSubmission) (*models.Task, error) {
	actor, err := resolveActor(ctx, s.Identity, actor)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleClient {
		return nil, fmt.Errorf("%w: only clients submit tasks", ErrForbidden)
	}
	title := strings.TrimSpace(sub.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	priority := sub.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if err := lifecycle.CheckPricing(sub.EstimatedHours, sub.HourlyRate); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	minLevel := sub.MinLevel
	if minLevel < 1 {
		minLevel = 1
	}
	t := &models.Task{
		ID:               uuid.New(),
		Title:            title,
		Category:         strings.ToLower(strings.TrimSpace(sub.Category)),
		Status:           models.TaskStatusSubmitted,
		ClientID:         actor.ID,
		Priority:         priority,
		ComplexityLevel:  sub.ComplexityLevel,
		EstimatedHours:   sub.EstimatedHours,
		HourlyRate:       sub.HourlyRate,
		CampfireEligible: sub.CampfireEligible,
		MinLevel:         minLevel,
		Deadline:         sub.Deadline,
	}
	if err := s.Tasks.Create(ctx, t); err != nil {
		return nil, err
	}
	s.Logger.Info("task submitted", "task_id", t.ID, "client_id", actor.ID, "campfire", t.CampfireEligible)
	return t, nil
}
