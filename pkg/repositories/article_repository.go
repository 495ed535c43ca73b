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

const articleColumns = `
	id, author_id, slug, status, published_revision_id, first_published_at, last_published_at,
	like_count, save_count, view_count, created_at, updated_at`

// ArticleRepository provides data access for articles.
type ArticleRepository interface {
	// Create inserts a new article. A taken slug returns *apperrors.SlugTakenError.
	Create(ctx context.Context, article *models.Article) error

	// GetByID returns apperrors.ErrNotFound if the article does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error)

	// GetByIDForUpdate is GetByID with a row lock held until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Article, error)

	// SlugExists reports whether any article uses slug.
	SlugExists(ctx context.Context, slug string) (bool, error)

	// MarkPublished points the article at revisionID and stamps publication times.
	// first_published_at is only set once.
	MarkPublished(ctx context.Context, id, revisionID uuid.UUID, at time.Time) (*models.Article, error)

	// SetStatus changes the moderation status.
	SetStatus(ctx context.Context, id uuid.UUID, status models.ArticleStatus) error

	// Delete removes an article and, by cascade, its revisions.
	Delete(ctx context.Context, id uuid.UUID) error
}

type articleRepository struct {
	db *database.DB
}

// NewArticleRepository creates a new ArticleRepository.
func NewArticleRepository(db *database.DB) ArticleRepository {
	return &articleRepository{db: db}
}

var _ ArticleRepository = (*articleRepository)(nil)

func (r *articleRepository) Create(ctx context.Context, article *models.Article) error {
	if article.ID == uuid.Nil {
		article.ID = newID()
	}
	if article.Status == "" {
		article.Status = models.ArticleStatusPublished
	}
	ts := now()
	article.CreatedAt = ts
	article.UpdatedAt = ts

	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO press_articles (id, author_id, slug, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		article.ID, article.AuthorID, article.Slug, string(article.Status), article.CreatedAt, article.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "press_articles_slug_key") {
			return &apperrors.SlugTakenError{Slug: article.Slug}
		}
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("author %s: %w", article.AuthorID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to create article: %w", err)
	}

	return nil
}

func (r *articleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	row := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT `+articleColumns+` FROM press_articles WHERE id = $1`, id)
	return scanArticleRow(row)
}

func (r *articleRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	row := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT `+articleColumns+` FROM press_articles WHERE id = $1 FOR UPDATE`, id)
	return scanArticleRow(row)
}

func (r *articleRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM press_articles WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check article slug: %w", err)
	}
	return exists, nil
}

func (r *articleRepository) MarkPublished(ctx context.Context, id, revisionID uuid.UUID, at time.Time) (*models.Article, error) {
	row := r.db.Querier(ctx).QueryRow(ctx, `
		UPDATE press_articles
		SET published_revision_id = $2,
		    last_published_at = $3,
		    first_published_at = COALESCE(first_published_at, $3),
		    updated_at = $3
		WHERE id = $1
		RETURNING `+articleColumns,
		id, revisionID, at)
	return scanArticleRow(row)
}

func (r *articleRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.ArticleStatus) error {
	tag, err := r.db.Querier(ctx).Exec(ctx,
		`UPDATE press_articles SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), now())
	if err != nil {
		return fmt.Errorf("failed to update article status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *articleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM press_articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanArticleRow(row pgx.Row) (*models.Article, error) {
	var a models.Article
	var status string
	err := row.Scan(
		&a.ID, &a.AuthorID, &a.Slug, &status, &a.PublishedRevisionID,
		&a.FirstPublishedAt, &a.LastPublishedAt,
		&a.LikeCount, &a.SaveCount, &a.ViewCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}
	a.Status = models.ArticleStatus(status)
	return &a, nil
}
