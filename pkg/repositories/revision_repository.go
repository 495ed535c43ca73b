package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
)

const revisionColumns = `
	id, article_id, status, title, summary, body, bibliography, created_at, updated_at, status_changed_at`

// LiveRevisionConstraint is the partial unique index that allows one
// non-terminal revision per article.
const LiveRevisionConstraint = "press_revisions_one_live_per_article"

// RevisionRepository provides data access for revisions and their categories.
type RevisionRepository interface {
	// Create inserts a revision and its category links. If the article already
	// has a live revision the unique index rejects it with apperrors.ErrConflict.
	Create(ctx context.Context, rev *models.Revision) error

	// GetByID returns the revision with categories, or apperrors.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Revision, error)

	// GetByIDForUpdate is GetByID holding a row lock on the revision.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Revision, error)

	// GetLive returns the article's non-terminal revision, or apperrors.ErrNotFound.
	GetLive(ctx context.Context, articleID uuid.UUID) (*models.Revision, error)

	// GetLatest returns the most recently created revision of the article.
	GetLatest(ctx context.Context, articleID uuid.UUID) (*models.Revision, error)

	// ListByArticle returns all revisions of an article, newest first.
	ListByArticle(ctx context.Context, articleID uuid.UUID) ([]*models.Revision, error)

	// CountByArticle returns the number of revisions of an article.
	CountByArticle(ctx context.Context, articleID uuid.UUID) (int, error)

	// UpdateContent writes title, summary, body and bibliography and bumps updated_at.
	UpdateContent(ctx context.Context, rev *models.Revision) error

	// ReplaceCategories swaps the revision's category set.
	ReplaceCategories(ctx context.Context, revisionID uuid.UUID, categoryIDs []uuid.UUID) error

	// UpdateStatus moves the revision to status. Transition rules are the caller's job.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.RevisionStatus, at time.Time) error

	// Delete hard-deletes a revision.
	Delete(ctx context.Context, id uuid.UUID) error
}

type revisionRepository struct {
	db *database.DB
}

// NewRevisionRepository creates a new RevisionRepository.
func NewRevisionRepository(db *database.DB) RevisionRepository {
	return &revisionRepository{db: db}
}

var _ RevisionRepository = (*revisionRepository)(nil)

func (r *revisionRepository) Create(ctx context.Context, rev *models.Revision) error {
	if rev.ID == uuid.Nil {
		rev.ID = newID()
	}
	ts := now()
	rev.CreatedAt = ts
	rev.UpdatedAt = ts
	rev.StatusChangedAt = ts

	q := r.db.Querier(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO press_revisions (
			id, article_id, status, title, summary, body, bibliography,
			created_at, updated_at, status_changed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rev.ID, rev.ArticleID, string(rev.Status), rev.Title, rev.Summary, rev.Body, rev.Bibliography,
		rev.CreatedAt, rev.UpdatedAt, rev.StatusChangedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, LiveRevisionConstraint) {
			return fmt.Errorf("article %s already has a live revision: %w", rev.ArticleID, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create revision: %w", err)
	}

	if err := insertRevisionCategories(ctx, q, rev.ID, rev.CategoryIDs); err != nil {
		return err
	}
	return nil
}

func (r *revisionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Revision, error) {
	return r.getOne(ctx, `SELECT `+revisionColumns+` FROM press_revisions WHERE id = $1`, id)
}

func (r *revisionRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Revision, error) {
	return r.getOne(ctx, `SELECT `+revisionColumns+` FROM press_revisions WHERE id = $1 FOR UPDATE`, id)
}

func (r *revisionRepository) GetLive(ctx context.Context, articleID uuid.UUID) (*models.Revision, error) {
	return r.getOne(ctx, `
		SELECT `+revisionColumns+`
		FROM press_revisions
		WHERE article_id = $1 AND status = ANY($2)`,
		articleID, models.LiveStatusStrings())
}

func (r *revisionRepository) GetLatest(ctx context.Context, articleID uuid.UUID) (*models.Revision, error) {
	return r.getOne(ctx, `
		SELECT `+revisionColumns+`
		FROM press_revisions
		WHERE article_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, articleID)
}

func (r *revisionRepository) ListByArticle(ctx context.Context, articleID uuid.UUID) ([]*models.Revision, error) {
	q := r.db.Querier(ctx)
	rows, err := q.Query(ctx, `
		SELECT `+revisionColumns+`
		FROM press_revisions
		WHERE article_id = $1
		ORDER BY created_at DESC, id DESC`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	var revisions []*models.Revision
	var ids []uuid.UUID
	for rows.Next() {
		rev, err := scanRevisionRow(rows)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
		ids = append(ids, rev.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}
	rows.Close()

	categories, err := loadCategoryIDs(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for _, rev := range revisions {
		rev.CategoryIDs = categories[rev.ID]
	}
	return revisions, nil
}

func (r *revisionRepository) CountByArticle(ctx context.Context, articleID uuid.UUID) (int, error) {
	var count int
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM press_revisions WHERE article_id = $1`, articleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count revisions: %w", err)
	}
	return count, nil
}

func (r *revisionRepository) UpdateContent(ctx context.Context, rev *models.Revision) error {
	rev.UpdatedAt = now()
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE press_revisions
		SET title = $2, summary = $3, body = $4, bibliography = $5, updated_at = $6
		WHERE id = $1`,
		rev.ID, rev.Title, rev.Summary, rev.Body, rev.Bibliography, rev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update revision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *revisionRepository) ReplaceCategories(ctx context.Context, revisionID uuid.UUID, categoryIDs []uuid.UUID) error {
	q := r.db.Querier(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM press_revision_categories WHERE revision_id = $1`, revisionID); err != nil {
		return fmt.Errorf("failed to clear revision categories: %w", err)
	}
	return insertRevisionCategories(ctx, q, revisionID, categoryIDs)
}

func (r *revisionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.RevisionStatus, at time.Time) error {
	tag, err := r.db.Querier(ctx).Exec(ctx,
		`UPDATE press_revisions SET status = $2, status_changed_at = $3 WHERE id = $1`,
		id, string(status), at)
	if err != nil {
		if database.IsUniqueViolation(err, LiveRevisionConstraint) {
			return fmt.Errorf("revision %s: %w", id, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to update revision status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *revisionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM press_revisions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete revision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *revisionRepository) getOne(ctx context.Context, query string, args ...any) (*models.Revision, error) {
	q := r.db.Querier(ctx)
	rev, err := scanRevisionRow(q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	categories, err := loadCategoryIDs(ctx, q, []uuid.UUID{rev.ID})
	if err != nil {
		return nil, err
	}
	rev.CategoryIDs = categories[rev.ID]
	return rev, nil
}

func insertRevisionCategories(ctx context.Context, q database.Querier, revisionID uuid.UUID, categoryIDs []uuid.UUID) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		INSERT INTO press_revision_categories (revision_id, category_id)
		SELECT $1, c FROM unnest($2::uuid[]) AS c
		ON CONFLICT DO NOTHING`,
		revisionID, categoryIDs)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("unknown category: %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to link revision categories: %w", err)
	}
	return nil
}

func scanRevisionRow(row pgx.Row) (*models.Revision, error) {
	var rev models.Revision
	var status string
	err := row.Scan(
		&rev.ID, &rev.ArticleID, &status, &rev.Title, &rev.Summary, &rev.Body, &rev.Bibliography,
		&rev.CreatedAt, &rev.UpdatedAt, &rev.StatusChangedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan revision: %w", err)
	}
	rev.Status = models.RevisionStatus(status)
	return &rev, nil
}
