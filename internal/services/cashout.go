package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campfire/backend/internal/jobs"
	"github.com/campfire/backend/internal/ledger"
	"github.com/campfire/backend/internal/metrics"
	"github.com/campfire/backend/internal/models"
)

// CashoutStore persists cashout requests. *repository.CashoutRepo implements it.
type CashoutStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CashoutRequest) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CashoutRequest, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, c *models.CashoutRequest) error
	ListByContractor(ctx context.Context, contractorID uuid.UUID) ([]*models.CashoutRequest, error)
}

var cashoutTransitions = map[models.CashoutStatus][]models.CashoutStatus{
	models.CashoutPending:    {models.CashoutProcessing, models.CashoutCompleted, models.CashoutRejected},
	models.CashoutProcessing: {models.CashoutCompleted, models.CashoutRejected},
}

func cashoutAllowed(from, to models.CashoutStatus) bool {
	for _, s := range cashoutTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CashoutService debits contractor earnings when a cashout is requested and
// credits them back if it is rejected.
type CashoutService struct {
	DB       TxBeginner
	Cashouts CashoutStore
	Ledger   Ledger
	Identity Identity
	Jobs     Enqueuer
	// Payouts enables the payout job when a request moves to processing.
	Payouts bool
	Logger  *slog.Logger
}

func NewCashoutService(db TxBeginner, cashouts CashoutStore, l Ledger, identity Identity, enqueuer Enqueuer, payouts bool, logger *slog.Logger) *CashoutService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CashoutService{DB: db, Cashouts: cashouts, Ledger: l, Identity: identity, Jobs: enqueuer, Payouts: payouts, Logger: logger}
}

// cashoutNamespace scopes the name-based ids derived from request references.
var cashoutNamespace = uuid.MustParse("5b0b6f2e-3c1d-4f0a-9a77-2f6c1e0d8b41")

// CashoutID is the request id for a contractor's reference. A retried request
// carries the same reference and so names the same cashout.
func CashoutID(contractorID uuid.UUID, reference string) uuid.UUID {
	return uuid.NewSHA1(cashoutNamespace, []byte(contractorID.String()+":"+reference))
}

// RequestCashout creates a pending request. amount <= available is enforced by the
// same conditional debit every ledger write uses. reference makes the request
// idempotent: a replay returns the request already recorded and debits nothing.
func (s *CashoutService) RequestCashout(ctx context.Context, contractorID uuid.UUID, amount int64, reference string) (*models.CashoutRequest, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if reference == "" {
		return nil, fmt.Errorf("%w: request reference is required", ErrValidation)
	}
	actor, err := resolveActor(ctx, s.Identity, models.Actor{ID: contractorID})
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleContractor {
		return nil, fmt.Errorf("%w: only contractors cash out earnings", ErrForbidden)
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	acct, err := s.Ledger.EnsureAccount(ctx, tx, contractorID, models.AccountContractorEarnings)
	if err != nil {
		return nil, err
	}
	if err := s.Ledger.LockAccounts(ctx, tx, acct); err != nil {
		return nil, classify(err)
	}
	c := &models.CashoutRequest{
		ID:           CashoutID(contractorID, reference),
		ContractorID: contractorID,
		Amount:       amount,
		Status:       models.CashoutPending,
	}
	applied, err := s.Ledger.ApplyTransaction(ctx, tx, ledger.Entry{
		AccountID:      acct,
		Amount:         amount,
		AvailableDelta: -amount,
		Reason:         models.ReasonCashoutRequested,
		IdempotencyKey: "cashout:" + c.ID.String() + ":requested",
	})
	if err != nil {
		return nil, classify(err)
	}
	if !applied {
		prev, err := s.Cashouts.GetForUpdateTx(ctx, tx, c.ID)
		if err != nil {
			return nil, classify(err)
		}
		if prev.Amount != amount {
			return nil, fmt.Errorf("%w: reference %q was already used for amount %d", ErrValidation, reference, prev.Amount)
		}
		s.Logger.Info("cashout replay", "cashout_id", prev.ID, "contractor_id", contractorID)
		return prev, tx.Commit(ctx)
	}
	if err := s.Cashouts.CreateTx(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	metrics.Cashouts.WithLabelValues(string(c.Status)).Inc()
	s.Logger.Info("cashout requested", "cashout_id", c.ID, "contractor_id", contractorID, "amount", amount)
	return c, nil
}

// ResolveCashout is the admin action on a request.
func (s *CashoutService) ResolveCashout(ctx context.Context, actor models.Actor, id uuid.UUID, status models.CashoutStatus) (*models.CashoutRequest, error) {
	actor, err := resolveActor(ctx, s.Identity, actor)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins resolve cashouts", ErrForbidden)
	}
	return s.resolve(ctx, id, status)
}

// CompletePayout records the payment collaborator's answer for a processing request.
func (s *CashoutService) CompletePayout(ctx context.Context, id uuid.UUID, paid bool) (*models.CashoutRequest, error) {
	status := models.CashoutCompleted
	if !paid {
		status = models.CashoutRejected
	}
	return s.resolve(ctx, id, status)
}

func (s *CashoutService) ListCashouts(ctx context.Context, contractorID uuid.UUID) ([]*models.CashoutRequest, error) {
	list, err := s.Cashouts.ListByContractor(ctx, contractorID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.CashoutRequest{}
	}
	return list, nil
}

func (s *CashoutService) resolve(ctx context.Context, id uuid.UUID, status models.CashoutStatus) (*models.CashoutRequest, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := s.Cashouts.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, classify(err)
	}
	if !cashoutAllowed(c.Status, status) {
		return nil, fmt.Errorf("%w: cashout %s cannot move from %s to %s", ErrInvalidTransition, id, c.Status, status)
	}

	if status == models.CashoutRejected {
		acct, err := s.Ledger.EnsureAccount(ctx, tx, c.ContractorID, models.AccountContractorEarnings)
		if err != nil {
			return nil, err
		}
		if err := s.Ledger.LockAccounts(ctx, tx, acct); err != nil {
			return nil, classify(err)
		}
		if _, err := s.Ledger.ApplyTransaction(ctx, tx, ledger.Entry{
			AccountID:      acct,
			Amount:         c.Amount,
			AvailableDelta: c.Amount,
			Reason:         models.ReasonCashoutReversed,
			IdempotencyKey: "cashout:" + c.ID.String() + ":reversed",
		}); err != nil {
			return nil, classify(err)
		}
	}

	c.Status = status
	if err := s.Cashouts.UpdateStatusTx(ctx, tx, c); err != nil {
		return nil, err
	}
	if status == models.CashoutProcessing && s.Payouts {
		if err := s.Jobs.InsertTx(ctx, tx, jobs.PayoutArgs{
			CashoutID:    c.ID,
			ContractorID: c.ContractorID,
			Amount:       c.Amount,
		}); err != nil {
			return nil, fmt.Errorf("enqueue payout: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	metrics.Cashouts.WithLabelValues(string(status)).Inc()
	s.Logger.Info("cashout resolved", "cashout_id", c.ID, "status", status)
	return c, nil
}
