// Package handlers serves the task core over HTTP. Handlers decode and validate the
// body, call one core operation and map its error onto a status code.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/campfire/backend/internal/ledger"
	"github.com/campfire/backend/internal/middleware"
	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/services"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// errorStatus maps the core's error taxonomy onto HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, ledger.ErrInvalidEntry):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, services.ErrNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "invalid_transition"
	case errors.Is(err, services.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient_credits"
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, services.ErrAlreadyClaimed):
		return http.StatusConflict, "already_claimed"
	case errors.Is(err, services.ErrAlreadyReviewed):
		return http.StatusConflict, "already_reviewed"
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrIntegrity), errors.Is(err, ledger.ErrAccountFrozen):
		return http.StatusLocked, "integrity_hold"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError writes the mapped status. Internal errors are logged and hidden.
func writeError(w http.ResponseWriter, log *slog.Logger, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeErrorCode(w, status, code, "internal error")
		return
	}
	if code == "conflict" {
		w.Header().Set("Retry-After", "1")
	}
	writeErrorCode(w, status, code, err.Error())
}

// decode reads the body, validates it against schema and unmarshals it into dst.
func decode(w http.ResponseWriter, r *http.Request, v *services.Validator, schema string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_body", "request body could not be read")
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := v.Validate(schema, body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_body", "invalid JSON")
		return false
	}
	return true
}

func actorOrUnauthorized(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	a, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	}
	return a, ok
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_id", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
