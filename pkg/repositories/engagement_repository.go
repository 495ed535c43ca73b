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

// reactionTables maps a reaction kind to its join table and counter column.
// Values are fixed identifiers, never user input.
var reactionTables = map[models.ReactionKind]struct {
	table   string
	counter string
}{
	models.ReactionLike: {table: "press_likes", counter: "like_count"},
	models.ReactionSave: {table: "press_saves", counter: "save_count"},
}

// EngagementRepository stores likes, saves and follows. Each add/remove must
// run inside a transaction so the join row and counter change together.
type EngagementRepository interface {
	// AddReaction inserts the join row if absent and increments the counter
	// only when a row was inserted. Returns whether anything changed and the count.
	AddReaction(ctx context.Context, kind models.ReactionKind, userID, articleID uuid.UUID) (bool, int64, error)

	// RemoveReaction deletes the join row if present and decrements the
	// counter, never below zero, only when a row was deleted.
	RemoveReaction(ctx context.Context, kind models.ReactionKind, userID, articleID uuid.UUID) (bool, int64, error)

	// HasReaction reports whether the user has reacted to the article.
	HasReaction(ctx context.Context, kind models.ReactionKind, userID, articleID uuid.UUID) (bool, error)

	// Follow inserts a follow edge if absent.
	Follow(ctx context.Context, followerID, followeeID uuid.UUID) (bool, error)

	// Unfollow removes a follow edge if present.
	Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) (bool, error)
}

type engagementRepository struct {
	db *database.DB
}

// NewEngagementRepository creates a new EngagementRepository.
func NewEngagementRepository(db *database.DB) EngagementRepository {
	return &engagementRepository{db: db}
}

var _ EngagementRepository = (*engagementRepository)(nil)

func (r *engagementRepository) AddReaction(ctx context.Context, kind models.ReactionKind, userID, articleID uuid.UUID) (bool, int64, error) {
	t, ok := reactionTables[kind]
	if !ok {
		return false, 0, apperrors.NewValidationError("kind", "unknown reaction %q", kind)
	}
	q := r.db.Querier(ctx)

	tag, err := q.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (user_id, article_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, t.table), userID, articleID, now())
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return false, 0, apperrors.ErrNotFound
		}
		return false, 0, fmt.Errorf("failed to add %s: %w", kind, err)
	}

	changed := tag.RowsAffected() == 1
	query := fmt.Sprintf(`SELECT %s FROM press_articles WHERE id = $1`, t.counter)
	if changed {
		query = fmt.Sprintf(`UPDATE press_articles SET %[1]s = %[1]s + 1 WHERE id = $1 RETURNING %[1]s`, t.counter)
	}

	count, err := scanCounter(q.QueryRow(ctx, query, articleID))
	if err != nil {
		return false, 0, err
	}
	return changed, count, nil
}

func (r *engagementRepository) RemoveReaction(ctx context.Context, kind models.ReactionKind, userID, articleID uuid.UUID) (bool, int64, error) {
	t, ok := reactionTables[kind]
	if !ok {
		return false, 0, apperrors.NewValidationError("kind", "unknown reaction %q", kind)
	}
	q := r.db.Querier(ctx)

	tag, err := q.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE user_id = $1 AND article_id = $2`, t.table), userID, articleID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to remove %s: %w", kind, err)
	}

	changed := tag.RowsAffected() == 1
	query := fmt.Sprintf(`SELECT %s FROM press_articles WHERE id = $1`, t.counter)
	if changed {
		query = fmt.Sprintf(
			`UPDATE press_articles SET %[1]s = GREATEST(%[1]s - 1, 0) WHERE id = $1 RETURNING %[1]s`, t.counter)
	}

	count, err := scanCounter(q.QueryRow(ctx, query, articleID))
	if err != nil {
		return false, 0, err
	}
	return changed, count, nil
}

func (r *engagementRepository) HasReaction(ctx context.Context, kind models.ReactionKind, userID, articleID uuid.UUID) (bool, error) {
	t, ok := reactionTables[kind]
	if !ok {
		return false, apperrors.NewValidationError("kind", "unknown reaction %q", kind)
	}
	var exists bool
	err := r.db.Querier(ctx).QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE user_id = $1 AND article_id = $2)`, t.table),
		userID, articleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", kind, err)
	}
	return exists, nil
}

func (r *engagementRepository) Follow(ctx context.Context, followerID, followeeID uuid.UUID) (bool, error) {
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO press_follows (follower_id, followee_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, followerID, followeeID, now())
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return false, apperrors.ErrNotFound
		}
		return false, fmt.Errorf("failed to follow: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *engagementRepository) Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) (bool, error) {
	tag, err := r.db.Querier(ctx).Exec(ctx,
		`DELETE FROM press_follows WHERE follower_id = $1 AND followee_id = $2`, followerID, followeeID)
	if err != nil {
		return false, fmt.Errorf("failed to unfollow: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanCounter(row pgx.Row) (int64, error) {
	var count int64
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrNotFound
		}
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return count, nil
}
