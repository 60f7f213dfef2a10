// Package ledger is the credit and earnings store. Every balance change is an
// immutable ledger_transactions row; the balances on ledger_accounts are a
// projection of that log, checked against it on read.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campfire/backend/internal/metrics"
	"github.com/campfire/backend/internal/models"
)

var (
	// ErrInsufficientFunds is returned when a debit would take available or held below zero.
	ErrInsufficientFunds = errInsufficientFunds
	// ErrAccountFrozen is returned for writes to an account frozen by reconciliation.
	ErrAccountFrozen = errAccountFrozen
	// ErrAccountNotFound is returned for an unknown account id.
	ErrAccountNotFound = errAccountNotFound
	// ErrIntegrity is returned when the materialized balance disagrees with the log.
	// The account is frozen before it is returned.
	ErrIntegrity = errors.New("ledger integrity violation")
	// ErrInvalidEntry is returned for an entry that can never be applied.
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// Store is the persistence the service needs. *Repository implements it.
type Store interface {
	EnsureAccountTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, kind models.AccountKind) (uuid.UUID, error)
	LockAccountsTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error
	InsertTransactionTx(ctx context.Context, tx pgx.Tx, t *models.LedgerTransaction) (bool, error)
	AdjustBalanceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, available, held, lifetime int64) error
	TaskHeldTx(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID) (int64, error)
	SnapshotTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*Snapshot, error)
	FreezeTx(ctx context.Context, tx pgx.Tx, s *Snapshot, detail string) error
	UnfreezeTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)
	FindAccountID(ctx context.Context, ownerID uuid.UUID, kind models.AccountKind) (uuid.UUID, error)
}

// TxBeginner starts a database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Entry is one balance movement to apply.
type Entry struct {
	AccountID      uuid.UUID
	Amount         int64
	AvailableDelta int64
	HeldDelta      int64
	LifetimeDelta  int64
	Reason         string
	TaskID         *uuid.UUID
	IdempotencyKey string
}

type Service struct {
	db     TxBeginner
	store  Store
	logger *slog.Logger
}

func NewService(db TxBeginner, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, store: store, logger: logger}
}

func (s *Service) EnsureAccount(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, kind models.AccountKind) (uuid.UUID, error) {
	return s.store.EnsureAccountTx(ctx, tx, ownerID, kind)
}

func (s *Service) LockAccounts(ctx context.Context, tx pgx.Tx, ids ...uuid.UUID) error {
	return s.store.LockAccountsTx(ctx, tx, ids)
}

func (s *Service) TaskHeld(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID) (int64, error) {
	return s.store.TaskHeldTx(ctx, tx, accountID, taskID)
}

func (s *Service) FindAccount(ctx context.Context, ownerID uuid.UUID, kind models.AccountKind) (uuid.UUID, error) {
	return s.store.FindAccountID(ctx, ownerID, kind)
}

// ApplyTransaction records e and moves the account balances within tx. A key that
// was already recorded makes the call a successful no-op and applied is false.
// A debit that would leave available or held negative fails with ErrInsufficientFunds
// and the caller must roll tx back.
func (s *Service) ApplyTransaction(ctx context.Context, tx pgx.Tx, e Entry) (applied bool, err error) {
	if e.IdempotencyKey == "" {
		return false, fmt.Errorf("%w: idempotency key is required", ErrInvalidEntry)
	}
	if e.Amount < 0 {
		return false, fmt.Errorf("%w: negative amount %d", ErrInvalidEntry, e.Amount)
	}
	row := &models.LedgerTransaction{
		ID:             uuid.New(),
		AccountID:      e.AccountID,
		Amount:         e.Amount,
		AvailableDelta: e.AvailableDelta,
		HeldDelta:      e.HeldDelta,
		LifetimeDelta:  e.LifetimeDelta,
		Reason:         e.Reason,
		RelatedTaskID:  e.TaskID,
		IdempotencyKey: e.IdempotencyKey,
	}
	inserted, err := s.store.InsertTransactionTx(ctx, tx, row)
	if err != nil {
		return false, fmt.Errorf("insert ledger transaction: %w", err)
	}
	if !inserted {
		metrics.LedgerReplays.Inc()
		s.logger.Info("ledger replay skipped", "account_id", e.AccountID, "idempotency_key", e.IdempotencyKey)
		return false, nil
	}
	if err := s.store.AdjustBalanceTx(ctx, tx, e.AccountID, e.AvailableDelta, e.HeldDelta, e.LifetimeDelta); err != nil {
		return false, err
	}
	metrics.LedgerTransactions.WithLabelValues(e.Reason).Inc()
	return true, nil
}

// GetBalance returns the account balance after checking it against the log. On a
// mismatch the account is frozen and ErrIntegrity is returned.
func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (models.Balance, error) {
	snap, err := s.reconcile(ctx, accountID)
	if err != nil {
		return models.Balance{}, err
	}
	return snap.Stored, nil
}

// GetAccount is GetBalance with the account's owner and kind.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*Snapshot, error) {
	return s.reconcile(ctx, accountID)
}

// Reconcile checks one account and freezes it on mismatch.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) error {
	_, err := s.reconcile(ctx, accountID)
	return err
}

// ReconcileAll checks every account. Integrity failures are counted, not returned.
func (s *Service) ReconcileAll(ctx context.Context) (checked, violations int, err error) {
	ids, err := s.store.ListAccountIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list accounts: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return checked, violations, err
		}
		err := s.Reconcile(ctx, id)
		checked++
		switch {
		case errors.Is(err, ErrIntegrity):
			violations++
		case err != nil:
			return checked, violations, err
		}
	}
	return checked, violations, nil
}

func (s *Service) reconcile(ctx context.Context, accountID uuid.UUID) (*Snapshot, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	snap, err := s.store.SnapshotTx(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if snap.Frozen {
		return nil, fmt.Errorf("%w: account %s is frozen", ErrIntegrity, accountID)
	}
	detail := checkIntegrity(snap)
	if detail == "" {
		return snap, tx.Commit(ctx)
	}

	metrics.LedgerIntegrityViolations.Inc()
	s.logger.Error("ledger integrity violation, freezing account",
		"account_id", accountID,
		"detail", detail,
		"stored", snap.Stored,
		"ledger", snap.Ledger,
	)
	if err := s.store.FreezeTx(ctx, tx, snap, detail); err != nil {
		return nil, fmt.Errorf("freeze account %s: %w", accountID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("freeze account %s: %w", accountID, err)
	}
	return nil, fmt.Errorf("%w: account %s: %s", ErrIntegrity, accountID, detail)
}

// Unfreeze lifts a freeze once the account reconciles again. It never edits balances.
func (s *Service) Unfreeze(ctx context.Context, accountID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.store.LockAccountsTx(ctx, tx, []uuid.UUID{accountID}); err != nil {
		return err
	}
	snap, err := s.store.SnapshotTx(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if detail := checkIntegrity(snap); detail != "" {
		return fmt.Errorf("%w: account %s still does not reconcile: %s", ErrIntegrity, accountID, detail)
	}
	if !snap.Frozen {
		return tx.Commit(ctx)
	}
	if err := s.store.UnfreezeTx(ctx, tx, accountID); err != nil {
		return err
	}
	s.logger.Info("ledger account unfrozen", "account_id", accountID)
	return tx.Commit(ctx)
}

// GrantCredits adds purchased or granted credits to a client account. reference
// makes the grant idempotent.
func (s *Service) GrantCredits(ctx context.Context, clientID uuid.UUID, amount int64, reference string) (models.Balance, error) {
	if amount <= 0 {
		return models.Balance{}, fmt.Errorf("%w: grant amount must be positive", ErrInvalidEntry)
	}
	if reference == "" {
		return models.Balance{}, fmt.Errorf("%w: grant reference is required", ErrInvalidEntry)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.Balance{}, err
	}
	defer tx.Rollback(ctx)

	accountID, err := s.store.EnsureAccountTx(ctx, tx, clientID, models.AccountClientCredits)
	if err != nil {
		return models.Balance{}, err
	}
	if err := s.store.LockAccountsTx(ctx, tx, []uuid.UUID{accountID}); err != nil {
		return models.Balance{}, err
	}
	if _, err := s.ApplyTransaction(ctx, tx, Entry{
		AccountID:      accountID,
		Amount:         amount,
		AvailableDelta: amount,
		LifetimeDelta:  amount,
		Reason:         models.ReasonCreditsGranted,
		IdempotencyKey: "grant:" + reference,
	}); err != nil {
		return models.Balance{}, err
	}
	snap, err := s.store.SnapshotTx(ctx, tx, accountID)
	if err != nil {
		return models.Balance{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Balance{}, err
	}
	return snap.Stored, nil
}
