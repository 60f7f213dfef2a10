package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire/backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a task changed since it was read.
	ErrVersionConflict = errors.New("task was modified concurrently")
	// ErrNotClaimable is returned when the claim compare-and-swap matched no row.
	ErrNotClaimable = errors.New("task is not claimable")
)

const taskColumns = `id, title, category, status, client_id, contractor_id, priority, complexity_level,
	estimated_hours::float8, hourly_rate, campfire_eligible, min_level, deadline, assignment_cycle, version,
	created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Title, &t.Category, &t.Status, &t.ClientID, &t.ContractorID, &t.Priority, &t.ComplexityLevel,
		&t.EstimatedHours, &t.HourlyRate, &t.CampfireEligible, &t.MinLevel, &t.Deadline, &t.AssignmentCycle, &t.Version,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a task in status submitted.
func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, title, category, status, client_id, priority, complexity_level,
			estimated_hours, hourly_rate, campfire_eligible, min_level, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING assignment_cycle, version, created_at, updated_at
	`, t.ID, t.Title, t.Category, t.Status, t.ClientID, t.Priority, t.ComplexityLevel,
		t.EstimatedHours, t.HourlyRate, t.CampfireEligible, t.MinLevel, t.Deadline,
	).Scan(&t.AssignmentCycle, &t.Version, &t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetTx reads the task inside tx without locking it.
func (r *TaskRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetForUpdateTx reads the task and holds its row lock until tx ends.
func (r *TaskRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// UpdateLifecycleTx writes status, contractor and assignment cycle if the task is
// still at expectVersion. On success t.Version and t.UpdatedAt are refreshed.
func (r *TaskRepo) UpdateLifecycleTx(ctx context.Context, tx pgx.Tx, t *models.Task, expectVersion int) error {
	err := tx.QueryRow(ctx, `
		UPDATE tasks
		SET status = $2, contractor_id = $3, assignment_cycle = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $5
		RETURNING version, updated_at
	`, t.ID, t.Status, t.ContractorID, t.AssignmentCycle, expectVersion).Scan(&t.Version, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	return err
}

// ClaimTx is the campfire compare-and-swap. Exactly one concurrent caller gets a row
// back; the rest get ErrNotClaimable once the winner's row lock is released.
func (r *TaskRepo) ClaimTx(ctx context.Context, tx pgx.Tx, id, contractorID uuid.UUID, level int) (*models.Task, error) {
	t, err := scanTask(tx.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'assigned', contractor_id = $2, assignment_cycle = assignment_cycle + 1,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1
		  AND status = 'submitted'
		  AND campfire_eligible
		  AND contractor_id IS NULL
		  AND min_level <= $3
		RETURNING `+taskColumns,
		id, contractorID, level))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotClaimable
	}
	return t, err
}

// AppendHistoryTx inserts e and fills in its serial id and timestamp.
func (r *TaskRepo) AppendHistoryTx(ctx context.Context, tx pgx.Tx, e *models.TaskHistoryEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO task_history (task_id, from_status, to_status, actor_id, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, e.TaskID, e.FromStatus, e.ToStatus, e.ActorID, e.Note).Scan(&e.ID, &e.CreatedAt)
}

// ListHistory returns the task's transitions in commit order.
func (r *TaskRepo) ListHistory(ctx context.Context, taskID uuid.UUID) ([]models.TaskHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, from_status, to_status, actor_id, note, created_at
		FROM task_history WHERE task_id = $1 ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.TaskHistoryEntry
	for rows.Next() {
		var e models.TaskHistoryEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
