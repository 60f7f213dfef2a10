package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campfire/backend/internal/ledger"
	"github.com/campfire/backend/internal/lifecycle"
	"github.com/campfire/backend/internal/models"
)

// Ledger is the ledger store as the core uses it. *ledger.Service implements it.
type Ledger interface {
	EnsureAccount(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, kind models.AccountKind) (uuid.UUID, error)
	LockAccounts(ctx context.Context, tx pgx.Tx, ids ...uuid.UUID) error
	TaskHeld(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID) (int64, error)
	ApplyTransaction(ctx context.Context, tx pgx.Tx, e ledger.Entry) (bool, error)
}

// IdempotencyKey identifies one ledger effect of one transition. The assignment
// cycle separates a reservation made after a pass from the one the pass released.
func IdempotencyKey(taskID uuid.UUID, cycle int, to models.TaskStatus, reason string) string {
	return fmt.Sprintf("%s:%d:%s:%s", taskID, cycle, to, reason)
}

// Escrow applies the ledger effects of a lifecycle decision inside the caller's transaction.
type Escrow struct {
	Ledger Ledger
}

func NewEscrow(l Ledger) *Escrow {
	return &Escrow{Ledger: l}
}

// Reserved returns what the client's account currently holds against the task.
func (e *Escrow) Reserved(ctx context.Context, tx pgx.Tx, t *models.Task) (int64, error) {
	acct, err := e.Ledger.EnsureAccount(ctx, tx, t.ClientID, models.AccountClientCredits)
	if err != nil {
		return 0, err
	}
	return e.Ledger.TaskHeld(ctx, tx, acct, t.ID)
}

// Apply resolves the account of every party, locks them all in a deterministic
// order, then applies each effect under its idempotency key. after is the task as
// it will be persisted; contractorID is whoever the task's contractor was for the
// transition (the pre-state contractor on a pass or cancel).
func (e *Escrow) Apply(ctx context.Context, tx pgx.Tx, after *models.Task, contractorID *uuid.UUID, effects []lifecycle.Effect) error {
	if len(effects) == 0 {
		return nil
	}

	accounts := make(map[lifecycle.Party]uuid.UUID, 3)
	for _, eff := range effects {
		if _, ok := accounts[eff.Party]; ok {
			continue
		}
		var owner uuid.UUID
		switch eff.Party {
		case lifecycle.PartyClient:
			owner = after.ClientID
		case lifecycle.PartyContractor:
			if contractorID == nil {
				return fmt.Errorf("effect %s needs a contractor", eff.Reason)
			}
			owner = *contractorID
		case lifecycle.PartyPlatform:
			owner = models.PlatformAccountOwnerID
		}
		id, err := e.Ledger.EnsureAccount(ctx, tx, owner, eff.Party.AccountKind())
		if err != nil {
			return fmt.Errorf("ensure %s account: %w", eff.Party, err)
		}
		accounts[eff.Party] = id
	}

	ids := make([]uuid.UUID, 0, len(accounts))
	for _, id := range accounts {
		ids = append(ids, id)
	}
	if err := e.Ledger.LockAccounts(ctx, tx, ids...); err != nil {
		return err
	}

	taskID := after.ID
	for _, eff := range effects {
		_, err := e.Ledger.ApplyTransaction(ctx, tx, ledger.Entry{
			AccountID:      accounts[eff.Party],
			Amount:         eff.Amount,
			AvailableDelta: eff.AvailableDelta,
			HeldDelta:      eff.HeldDelta,
			LifetimeDelta:  eff.LifetimeDelta,
			Reason:         eff.Reason,
			TaskID:         &taskID,
			IdempotencyKey: IdempotencyKey(taskID, after.AssignmentCycle, after.Status, eff.Reason),
		})
		if errors.Is(err, ledger.ErrInsufficientFunds) && eff.Party == lifecycle.PartyClient {
			return fmt.Errorf("%w: task %s needs %d", ErrInsufficientCredits, taskID, eff.Amount)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", eff.Reason, err)
		}
	}
	return nil
}
