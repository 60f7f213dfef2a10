package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/campfire/backend/internal/models"
)

// ProgressReader is implemented by *gamification.Accumulator.
type ProgressReader interface {
	Progress(ctx context.Context, contractorID uuid.UUID) (*models.ContractorProgress, error)
}

type ProgressHandler struct {
	Progress ProgressReader
	Logger   *slog.Logger
}

// Get serves GET /v1/contractors/{id}/progress. The projection may lag closed tasks.
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOrUnauthorized(w, r); !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	p, err := h.Progress.Progress(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
