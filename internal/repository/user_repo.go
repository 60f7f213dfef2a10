package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire/backend/internal/models"
)

// UserRepo is the identity collaborator: roles and contractor levels.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, role, level, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Role, &u.Level, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetRole(ctx context.Context, id uuid.UUID) (models.Role, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// GetContractorLevel returns the level of a contractor. Other roles are ErrNotFound.
func (r *UserRepo) GetContractorLevel(ctx context.Context, id uuid.UUID) (int, error) {
	var level int
	err := r.pool.QueryRow(ctx, `SELECT level FROM users WHERE id = $1 AND role = 'contractor'`, id).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return level, err
}
