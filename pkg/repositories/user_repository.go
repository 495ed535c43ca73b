package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
)

// UserRepository maintains the local mirror of external user accounts.
type UserRepository interface {
	// Upsert inserts the user or refreshes its display name. The ban flag is
	// not touched by Upsert.
	Upsert(ctx context.Context, user *models.User) error

	// GetByID returns apperrors.ErrNotFound if the user is unknown.
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// SetBanned sets the ban flag and returns the previous value.
	SetBanned(ctx context.Context, id uuid.UUID, banned bool) (bool, error)
}

// userRepository implements UserRepository using PostgreSQL.
type userRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *database.DB) UserRepository {
	return &userRepository{db: db}
}

var _ UserRepository = (*userRepository)(nil)

func (r *userRepository) Upsert(ctx context.Context, user *models.User) error {
	ts := now()
	row := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO press_users (id, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    updated_at = EXCLUDED.updated_at
		RETURNING is_banned, created_at, updated_at`,
		user.ID, user.DisplayName, ts)

	if err := row.Scan(&user.IsBanned, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT id, display_name, is_banned, created_at, updated_at
		FROM press_users
		WHERE id = $1`, id).Scan(&u.ID, &u.DisplayName, &u.IsBanned, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *userRepository) SetBanned(ctx context.Context, id uuid.UUID, banned bool) (bool, error) {
	var previous bool
	err := r.db.Querier(ctx).QueryRow(ctx, `
		UPDATE press_users u
		SET is_banned = $2, updated_at = $3
		FROM (SELECT id, is_banned FROM press_users WHERE id = $1 FOR UPDATE) old
		WHERE u.id = old.id
		RETURNING old.is_banned`, id, banned, now()).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.ErrNotFound
		}
		return false, fmt.Errorf("failed to set user ban: %w", err)
	}
	return previous, nil
}
