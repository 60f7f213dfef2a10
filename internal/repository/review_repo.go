package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire/backend/internal/database"
	"github.com/campfire/backend/internal/models"
)

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("already exists")

type ReviewRepo struct {
	pool *pgxpool.Pool
}

func NewReviewRepo(pool *pgxpool.Pool) *ReviewRepo {
	return &ReviewRepo{pool: pool}
}

// CreateTx inserts a review. A second review by the same role on a task is ErrDuplicate.
func (r *ReviewRepo) CreateTx(ctx context.Context, tx pgx.Tx, rv *models.Review) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO reviews (id, task_id, reviewer_id, reviewer_role, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, rv.ID, rv.TaskID, rv.ReviewerID, rv.ReviewerRole, rv.Rating, rv.Comment).Scan(&rv.CreatedAt)
	if database.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *ReviewRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]models.Review, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, reviewer_id, reviewer_role, rating, comment, created_at
		FROM reviews WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Review
	for rows.Next() {
		var rv models.Review
		if err := rows.Scan(&rv.ID, &rv.TaskID, &rv.ReviewerID, &rv.ReviewerRole, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, rv)
	}
	return list, rows.Err()
}
