package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire/backend/internal/models"
)

type CashoutRepo struct {
	pool *pgxpool.Pool
}

func NewCashoutRepo(pool *pgxpool.Pool) *CashoutRepo {
	return &CashoutRepo{pool: pool}
}

// CreateTx inserts a pending cashout request inside the debit's transaction.
func (r *CashoutRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CashoutRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO cashout_requests (id, contractor_id, amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, c.ID, c.ContractorID, c.Amount, c.Status).Scan(&c.CreatedAt)
}

func (r *CashoutRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CashoutRequest, error) {
	var c models.CashoutRequest
	err := tx.QueryRow(ctx, `
		SELECT id, contractor_id, amount, status, created_at, resolved_at
		FROM cashout_requests WHERE id = $1 FOR UPDATE
	`, id).Scan(&c.ID, &c.ContractorID, &c.Amount, &c.Status, &c.CreatedAt, &c.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateStatusTx sets the status; terminal statuses also stamp resolved_at.
func (r *CashoutRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, c *models.CashoutRequest) error {
	return tx.QueryRow(ctx, `
		UPDATE cashout_requests
		SET status = $2,
		    resolved_at = CASE WHEN $2 IN ('completed', 'rejected') THEN NOW() ELSE resolved_at END
		WHERE id = $1
		RETURNING resolved_at
	`, c.ID, c.Status).Scan(&c.ResolvedAt)
}

func (r *CashoutRepo) ListByContractor(ctx context.Context, contractorID uuid.UUID) ([]*models.CashoutRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, contractor_id, amount, status, created_at, resolved_at
		FROM cashout_requests WHERE contractor_id = $1 ORDER BY created_at DESC
	`, contractorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CashoutRequest
	for rows.Next() {
		var c models.CashoutRequest
		if err := rows.Scan(&c.ID, &c.ContractorID, &c.Amount, &c.Status, &c.CreatedAt, &c.ResolvedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
