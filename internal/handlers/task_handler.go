package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/services"
)

// Lifecycle is the transition surface. *services.TransitionService implements it.
type Lifecycle interface {
	RequestTransition(ctx context.Context, taskID uuid.UUID, actor models.Actor, to models.TaskStatus, p services.TransitionPayload) (*models.Task, error)
	ListHistory(ctx context.Context, taskID uuid.UUID, actor models.Actor) ([]models.TaskHistoryEntry, error)
}

// Campfire claims and passes tasks. *services.ClaimCoordinator implements it.
type Campfire interface {
	Claim(ctx context.Context, taskID, contractorID uuid.UUID) (*models.Task, error)
	Pass(ctx context.Context, taskID, contractorID uuid.UUID) (*models.Task, error)
}

type TaskSubmitter interface {
	Submit(ctx context.Context, actor models.Actor, sub services.TaskSubmission) (*models.Task, error)
}

type Reviews interface {
	CreateReview(ctx context.Context, taskID uuid.UUID, actor models.Actor, rating int, comment string) (*models.Review, error)
	ListReviews(ctx context.Context, taskID uuid.UUID) ([]models.Review, error)
}

// TaskHandler serves /v1/tasks endpoints.
type TaskHandler struct {
	Lifecycle Lifecycle
	Campfire  Campfire
	Tasks     TaskSubmitter
	Reviews   Reviews
	Validator *services.Validator
	Logger    *slog.Logger
}

// --- POST /v1/tasks ---

type submitTaskRequest struct {
	Title            string     `json:"title"`
	Category         string     `json:"category"`
	Priority         string     `json:"priority"`
	ComplexityLevel  *int       `json:"complexity_level"`
	EstimatedHours   *float64   `json:"estimated_hours"`
	HourlyRate       *int64     `json:"hourly_rate"`
	CampfireEligible bool       `json:"campfire_eligible"`
	MinLevel         int        `json:"min_level"`
	Deadline         *time.Time `json:"deadline"`
}

func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req submitTaskRequest
	if !decode(w, r, h.Validator, services.SchemaTaskSubmit, &req) {
		return
	}
	t, err := h.Tasks.Submit(r.Context(), actor, services.TaskSubmission{
		Title:            req.Title,
		Category:         req.Category,
		Priority:         req.Priority,
		ComplexityLevel:  req.ComplexityLevel,
		EstimatedHours:   req.EstimatedHours,
		HourlyRate:       req.HourlyRate,
		CampfireEligible: req.CampfireEligible,
		MinLevel:         req.MinLevel,
		Deadline:         req.Deadline,
	})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// --- POST /v1/tasks/{id}/transitions ---

type transitionRequest struct {
	ToStatus     models.TaskStatus `json:"to_status"`
	ContractorID *uuid.UUID        `json:"contractor_id"`
	Note         string            `json:"note"`
}

func (h *TaskHandler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	taskID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if !decode(w, r, h.Validator, services.SchemaTransition, &req) {
		return
	}
	t, err := h.Lifecycle.RequestTransition(r.Context(), taskID, actor, req.ToStatus, services.TransitionPayload{
		ContractorID: req.ContractorID,
		Note:         req.Note,
	})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- POST /v1/tasks/{id}/claim and /pass ---

func (h *TaskHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.campfire(w, r, h.Campfire.Claim)
}

func (h *TaskHandler) Pass(w http.ResponseWriter, r *http.Request) {
	h.campfire(w, r, h.Campfire.Pass)
}

func (h *TaskHandler) campfire(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error)) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	taskID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if actor.Role != models.RoleContractor {
		writeErrorCode(w, http.StatusForbidden, "forbidden", "only contractors use the campfire")
		return
	}
	t, err := op(r.Context(), taskID, actor.ID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- GET /v1/tasks/{id}/history ---

func (h *TaskHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	taskID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.Lifecycle.ListHistory(r.Context(), taskID, actor)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- /v1/tasks/{id}/reviews ---

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *TaskHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	taskID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if !decode(w, r, h.Validator, services.SchemaReview, &req) {
		return
	}
	rv, err := h.Reviews.CreateReview(r.Context(), taskID, actor, req.Rating, req.Comment)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (h *TaskHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOrUnauthorized(w, r); !ok {
		return
	}
	taskID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	list, err := h.Reviews.ListReviews(r.Context(), taskID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
