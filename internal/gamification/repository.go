package gamification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockProgressTx creates the contractor's progress row if needed and locks it, so
// concurrent awards for one contractor recompute in turn.
func (r *Repository) LockProgressTx(ctx context.Context, tx pgx.Tx, contractorID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO contractor_progress (contractor_id) VALUES ($1)
		ON CONFLICT (contractor_id) DO NOTHING`, contractorID); err != nil {
		return fmt.Errorf("ensure progress row: %w", err)
	}
	var one int
	return tx.QueryRow(ctx,
		`SELECT 1 FROM contractor_progress WHERE contractor_id = $1 FOR UPDATE`, contractorID,
	).Scan(&one)
}

// AddEventTx records the award for a task. It reports false when the task was
// already counted.
func (r *Repository) AddEventTx(ctx context.Context, tx pgx.Tx, e Event) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO contractor_xp_events (task_id, contractor_id, category, complexity_level, xp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO NOTHING`,
		e.TaskID, e.ContractorID, e.Category, e.ComplexityLevel, e.XP,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) EventsTx(ctx context.Context, tx pgx.Tx, contractorID uuid.UUID) ([]Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT task_id, contractor_id, category, complexity_level, xp, created_at
		FROM contractor_xp_events WHERE contractor_id = $1
		ORDER BY created_at`, contractorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.TaskID, &e.ContractorID, &e.Category, &e.ComplexityLevel, &e.XP, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) SaveProgressTx(ctx context.Context, tx pgx.Tx, p *models.ContractorProgress) error {
	byCategory, err := json.Marshal(p.ByCategory)
	if err != nil {
		return err
	}
	return tx.QueryRow(ctx, `
		UPDATE contractor_progress
		SET xp = $2, level = $3, tasks_completed = $4, by_category = $5, badges = $6, updated_at = NOW()
		WHERE contractor_id = $1
		RETURNING updated_at`,
		p.ContractorID, p.XP, p.Level, p.TasksCompleted, byCategory, p.Badges,
	).Scan(&p.UpdatedAt)
}

// GetProgress returns the stored projection, or a level 1 zero value for a
// contractor with no closed tasks.
func (r *Repository) GetProgress(ctx context.Context, contractorID uuid.UUID) (*models.ContractorProgress, error) {
	p := &models.ContractorProgress{ContractorID: contractorID}
	var byCategory []byte
	err := r.pool.QueryRow(ctx, `
		SELECT xp, level, tasks_completed, by_category, badges, updated_at
		FROM contractor_progress WHERE contractor_id = $1`, contractorID,
	).Scan(&p.XP, &p.Level, &p.TasksCompleted, &byCategory, &p.Badges, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		zero := Compute(contractorID, nil)
		return &zero, nil
	}
	if err != nil {
		return nil, err
	}
	p.ByCategory = map[string]int{}
	if len(byCategory) > 0 {
		if err := json.Unmarshal(byCategory, &p.ByCategory); err != nil {
			return nil, fmt.Errorf("decode by_category: %w", err)
		}
	}
	if p.Badges == nil {
		p.Badges = []string{}
	}
	return p, nil
}
