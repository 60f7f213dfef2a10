package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/campfire/backend/internal/ledger"
	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/services"
)

// Accounts is the ledger read and admin surface. *ledger.Service implements it.
type Accounts interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*ledger.Snapshot, error)
	FindAccount(ctx context.Context, ownerID uuid.UUID, kind models.AccountKind) (uuid.UUID, error)
	GrantCredits(ctx context.Context, clientID uuid.UUID, amount int64, reference string) (models.Balance, error)
	Unfreeze(ctx context.Context, accountID uuid.UUID) error
}

// Cashouts is implemented by *services.CashoutService.
type Cashouts interface {
	RequestCashout(ctx context.Context, contractorID uuid.UUID, amount int64, reference string) (*models.CashoutRequest, error)
	ResolveCashout(ctx context.Context, actor models.Actor, id uuid.UUID, status models.CashoutStatus) (*models.CashoutRequest, error)
	ListCashouts(ctx context.Context, contractorID uuid.UUID) ([]*models.CashoutRequest, error)
}

// Roles resolves the authoritative role of a token's subject.
type Roles interface {
	GetRole(ctx context.Context, id uuid.UUID) (models.Role, error)
}

type LedgerHandler struct {
	Accounts  Accounts
	Cashouts  Cashouts
	Roles     Roles
	Validator *services.Validator
	Logger    *slog.Logger
}

// isAdmin checks the identity collaborator, not the token claim.
func (h *LedgerHandler) isAdmin(ctx context.Context, actor models.Actor) (bool, error) {
	role, err := h.Roles.GetRole(ctx, actor.ID)
	if err != nil {
		return false, err
	}
	return role == models.RoleAdmin && actor.Role == models.RoleAdmin, nil
}

func (h *LedgerHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return actor, false
	}
	admin, err := h.isAdmin(r.Context(), actor)
	if err != nil {
		writeError(w, h.Logger, r, fmt.Errorf("%w: %v", services.ErrForbidden, err))
		return actor, false
	}
	if !admin {
		writeErrorCode(w, http.StatusForbidden, "forbidden", "admin only")
		return actor, false
	}
	return actor, true
}

// --- GET /v1/accounts/{id}/balance ---

func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.Accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if snap.OwnerID != actor.ID {
		admin, err := h.isAdmin(r.Context(), actor)
		if err != nil || !admin {
			writeErrorCode(w, http.StatusForbidden, "forbidden", "not your account")
			return
		}
	}
	writeJSON(w, http.StatusOK, snap.Stored)
}

// --- GET /v1/me/balances/{kind} ---

func (h *LedgerHandler) MyBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	kind := models.AccountKind(chi.URLParam(r, "kind"))
	if kind != models.AccountClientCredits && kind != models.AccountContractorEarnings {
		writeErrorCode(w, http.StatusBadRequest, "invalid_kind", "unknown account kind")
		return
	}
	accountID, err := h.Accounts.FindAccount(r.Context(), actor.ID, kind)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	snap, err := h.Accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Stored)
}

// --- /v1/cashouts ---

type cashoutRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

func (h *LedgerHandler) RequestCashout(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req cashoutRequest
	if !decode(w, r, h.Validator, services.SchemaCashout, &req) {
		return
	}
	// A retry must resend the same reference, in the body or as Idempotency-Key.
	ref := req.Reference
	if ref == "" {
		ref = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	c, err := h.Cashouts.RequestCashout(r.Context(), actor.ID, req.Amount, ref)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *LedgerHandler) ListCashouts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	list, err := h.Cashouts.ListCashouts(r.Context(), actor.ID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type resolveCashoutRequest struct {
	Status models.CashoutStatus `json:"status"`
}

func (h *LedgerHandler) ResolveCashout(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req resolveCashoutRequest
	if !decode(w, r, h.Validator, services.SchemaCashoutResolve, &req) {
		return
	}
	c, err := h.Cashouts.ResolveCashout(r.Context(), actor, id, req.Status)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- admin ---

type grantRequest struct {
	ClientID  uuid.UUID `json:"client_id"`
	Amount    int64     `json:"amount"`
	Reference string    `json:"reference"`
}

func (h *LedgerHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !decode(w, r, h.Validator, services.SchemaCreditGrant, &req) {
		return
	}
	role, err := h.Roles.GetRole(r.Context(), req.ClientID)
	if err != nil || role != models.RoleClient {
		writeErrorCode(w, http.StatusUnprocessableEntity, "not_a_client", "credits can only be granted to clients")
		return
	}
	bal, err := h.Accounts.GrantCredits(r.Context(), req.ClientID, req.Amount, req.Reference)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	h.Logger.Info("credits granted", "admin_id", actor.ID, "client_id", req.ClientID, "amount", req.Amount, "reference", req.Reference)
	writeJSON(w, http.StatusOK, bal)
}

func (h *LedgerHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Accounts.Unfreeze(r.Context(), accountID); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	h.Logger.Info("account unfrozen by admin", "admin_id", actor.ID, "account_id", accountID)
	w.WriteHeader(http.StatusNoContent)
}
