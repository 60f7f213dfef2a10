package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/campfire/backend/internal/middleware"
	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/repository"
)

// UserLookup reads identities. *repository.UserRepo implements it.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type MeResponse struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	Level int         `json:"level"`
}

type Handler struct {
	users UserLookup
	log   *slog.Logger
}

func NewHandler(users UserLookup, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{users: users, log: log}
}

// Me returns the identity behind the bearer token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized","code":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	u, err := h.users.GetByID(r.Context(), actor.ID)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, `{"error":"unknown actor","code":"not_found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("load actor failed", "actor_id", actor.ID, "error", err)
		http.Error(w, `{"error":"internal error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(MeResponse{ID: u.ID.String(), Email: u.Email, Role: u.Role, Level: u.Level})
}
