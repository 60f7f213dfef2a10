package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire/backend/internal/models"
)

var (
	errInsufficientFunds = errors.New("insufficient funds")
	errAccountFrozen     = errors.New("ledger account frozen pending integrity review")
	errAccountNotFound   = errors.New("ledger account not found")
)

// Repository is the Postgres ledger store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureAccountTx returns the id of the owner's account of the given kind, creating it empty.
func (r *Repository) EnsureAccountTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, kind models.AccountKind) (uuid.UUID, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_accounts (id, owner_id, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, kind) DO NOTHING
	`, uuid.New(), ownerID, kind)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM ledger_accounts WHERE owner_id = $1 AND kind = $2`, ownerID, kind).Scan(&id)
	return id, err
}

// LockAccountsTx takes row locks on the accounts in UUID order so concurrent
// settlements touching the same accounts cannot deadlock.
func (r *Repository) LockAccountsTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	var prev uuid.UUID
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		var got uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM ledger_accounts WHERE id = $1 FOR UPDATE`, id).Scan(&got)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", errAccountNotFound, id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertTransactionTx records t unless its idempotency key already exists.
// inserted is false for a replay.
func (r *Repository) InsertTransactionTx(ctx context.Context, tx pgx.Tx, t *models.LedgerTransaction) (inserted bool, err error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_transactions
			(id, account_id, amount, available_delta, held_delta, lifetime_delta, reason, related_task_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, t.ID, t.AccountID, t.Amount, t.AvailableDelta, t.HeldDelta, t.LifetimeDelta, t.Reason, t.RelatedTaskID, t.IdempotencyKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AdjustBalanceTx moves the materialized balances by the given deltas. The
// non-negativity check and the write are one conditional UPDATE.
func (r *Repository) AdjustBalanceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, available, held, lifetime int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET available = available + $2,
		    held = held + $3,
		    total_lifetime = total_lifetime + $4,
		    updated_at = NOW()
		WHERE id = $1 AND NOT frozen AND available + $2 >= 0 AND held + $3 >= 0
	`, accountID, available, held, lifetime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var frozen bool
	err = tx.QueryRow(ctx, `SELECT frozen FROM ledger_accounts WHERE id = $1`, accountID).Scan(&frozen)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", errAccountNotFound, accountID)
	}
	if err != nil {
		return err
	}
	if frozen {
		return errAccountFrozen
	}
	return errInsufficientFunds
}

// TaskHeldTx is the amount currently held on the account against a task, summed from the log.
func (r *Repository) TaskHeldTx(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID) (int64, error) {
	var held int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(held_delta), 0)::BIGINT
		FROM ledger_transactions
		WHERE account_id = $1 AND related_task_id = $2
	`, accountID, taskID).Scan(&held)
	return held, err
}

// SnapshotTx reads the materialized balance and the log sums in one statement.
func (r *Repository) SnapshotTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*Snapshot, error) {
	s := &Snapshot{}
	err := tx.QueryRow(ctx, `
		SELECT a.id, a.owner_id, a.kind, a.frozen,
		       a.available, a.held, a.total_lifetime,
		       COALESCE(SUM(t.available_delta), 0)::BIGINT,
		       COALESCE(SUM(t.held_delta), 0)::BIGINT,
		       COALESCE(SUM(t.lifetime_delta), 0)::BIGINT
		FROM ledger_accounts a
		LEFT JOIN ledger_transactions t ON t.account_id = a.id
		WHERE a.id = $1
		GROUP BY a.id
	`, accountID).Scan(&s.AccountID, &s.OwnerID, &s.Kind, &s.Frozen,
		&s.Stored.Available, &s.Stored.Held, &s.Stored.TotalLifetime,
		&s.Ledger.Available, &s.Ledger.Held, &s.Ledger.TotalLifetime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errAccountNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}
	s.Stored.AccountID = s.AccountID
	s.Ledger.AccountID = s.AccountID
	return s, nil
}

// FreezeTx freezes the account and records the incident.
func (r *Repository) FreezeTx(ctx context.Context, tx pgx.Tx, s *Snapshot, detail string) error {
	if _, err := tx.Exec(ctx, `UPDATE ledger_accounts SET frozen = TRUE, updated_at = NOW() WHERE id = $1`, s.AccountID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_integrity_incidents
			(id, account_id, stored_available, stored_held, stored_lifetime,
			 ledger_available, ledger_held, ledger_lifetime, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New(), s.AccountID, s.Stored.Available, s.Stored.Held, s.Stored.TotalLifetime,
		s.Ledger.Available, s.Ledger.Held, s.Ledger.TotalLifetime, detail)
	return err
}

// UnfreezeTx lifts the freeze and resolves open incidents.
func (r *Repository) UnfreezeTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `UPDATE ledger_accounts SET frozen = FALSE, updated_at = NOW() WHERE id = $1`, accountID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE ledger_integrity_incidents SET resolved_at = NOW()
		WHERE account_id = $1 AND resolved_at IS NULL
	`, accountID)
	return err
}

// ListAccountIDs returns every account id, oldest first.
func (r *Repository) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM ledger_accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// FindAccountID returns the id of the owner's account of the given kind.
func (r *Repository) FindAccountID(ctx context.Context, ownerID uuid.UUID, kind models.AccountKind) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM ledger_accounts WHERE owner_id = $1 AND kind = $2`, ownerID, kind).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, errAccountNotFound
	}
	return id, err
}
