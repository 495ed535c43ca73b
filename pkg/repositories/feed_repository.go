package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
)

// FeedOrder selects the keyset used by a feed listing.
type FeedOrder int

const (
	FeedOrderRecent FeedOrder = iota
	FeedOrderPopular
)

// FeedFilter is the validated, typed form of a feed request. Each field is one
// filter dimension; nil or empty means the dimension is not filtered.
type FeedFilter struct {
	Order FeedOrder

	// CategoryIDs restricts to articles whose published revision is linked to
	// any of these categories. A non-nil empty slice matches nothing.
	CategoryIDs []uuid.UUID
	AuthorID    *uuid.UUID
	FollowerID  *uuid.UUID
	Text        string
	Since       *time.Time
	Until       *time.Time

	After *pagination.Cursor
	Limit int
}

// Validate checks the filter before any SQL is built.
func (f FeedFilter) Validate() error {
	if f.Order != FeedOrderRecent && f.Order != FeedOrderPopular {
		return apperrors.NewValidationError("sort", "unknown feed order")
	}
	if f.Limit < 1 {
		return apperrors.NewValidationError("limit", "must be positive")
	}
	if f.Since != nil && f.Until != nil && f.Since.After(*f.Until) {
		return apperrors.NewValidationError("since", "must not be after until")
	}
	if f.After != nil && f.After.ID == uuid.Nil {
		return apperrors.NewValidationError("cursor", "missing row id")
	}
	return nil
}

const feedSelect = `
	SELECT a.id, a.slug, a.author_id, r.id, r.title, r.summary,
	       a.like_count, a.save_count, a.view_count, a.first_published_at, a.last_published_at
	FROM press_articles a
	JOIN press_revisions r ON r.id = a.published_revision_id AND r.status = 'PUBLISHED'
	JOIN press_users u ON u.id = a.author_id`

// feedEligibility is the visibility rule shared by every public read.
const feedEligibility = `a.status = 'PUBLISHED' AND NOT u.is_banned`

// buildFeedQuery renders the SQL for filter. anchorLikes is the like count of
// the cursor row, used only by popularity ordering.
func buildFeedQuery(f FeedFilter, anchorLikes int64) (string, []any) {
	conditions := []string{feedEligibility}
	args := []any{}
	argIdx := 1

	if f.CategoryIDs != nil {
		conditions = append(conditions, fmt.Sprintf(`EXISTS (
		SELECT 1 FROM press_revision_categories rc
		WHERE rc.revision_id = r.id AND rc.category_id = ANY($%d))`, argIdx))
		args = append(args, f.CategoryIDs)
		argIdx++
	}
	if f.AuthorID != nil {
		conditions = append(conditions, fmt.Sprintf("a.author_id = $%d", argIdx))
		args = append(args, *f.AuthorID)
		argIdx++
	}
	if f.FollowerID != nil {
		conditions = append(conditions, fmt.Sprintf(
			"a.author_id IN (SELECT followee_id FROM press_follows WHERE follower_id = $%d)", argIdx))
		args = append(args, *f.FollowerID)
		argIdx++
	}
	if f.Text != "" {
		conditions = append(conditions, fmt.Sprintf(
			`(r.title ILIKE $%d ESCAPE '\' OR r.summary ILIKE $%d ESCAPE '\')`, argIdx, argIdx))
		args = append(args, "%"+escapeLike(f.Text)+"%")
		argIdx++
	}
	if f.Since != nil {
		conditions = append(conditions, fmt.Sprintf("a.last_published_at >= $%d", argIdx))
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		conditions = append(conditions, fmt.Sprintf("a.last_published_at <= $%d", argIdx))
		args = append(args, *f.Until)
		argIdx++
	}

	var order string
	switch f.Order {
	case FeedOrderPopular:
		if f.After != nil {
			conditions = append(conditions, fmt.Sprintf(`(a.like_count < $%[1]d
		OR (a.like_count = $%[1]d AND a.last_published_at < $%[2]d)
		OR (a.like_count = $%[1]d AND a.last_published_at = $%[2]d AND a.id < $%[3]d))`,
				argIdx, argIdx+1, argIdx+2))
			args = append(args, anchorLikes, f.After.Time, f.After.ID)
			argIdx += 3
		}
		order = "a.like_count DESC, a.last_published_at DESC, a.id DESC"
	default:
		if f.After != nil {
			conditions = append(conditions, fmt.Sprintf(
				"(a.last_published_at < $%[1]d OR (a.last_published_at = $%[1]d AND a.id < $%[2]d))",
				argIdx, argIdx+1))
			args = append(args, f.After.Time, f.After.ID)
			argIdx += 2
		}
		order = "a.last_published_at DESC, a.id DESC"
	}

	query := fmt.Sprintf("%s\n\tWHERE %s\n\tORDER BY %s\n\tLIMIT $%d",
		feedSelect, strings.Join(conditions, "\n\t  AND "), order, argIdx)
	args = append(args, f.Limit)
	return query, args
}

// escapeLike escapes LIKE metacharacters so text matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// FeedRepository reads the public, eligibility-filtered view of articles.
type FeedRepository interface {
	// List returns up to filter.Limit eligible articles in keyset order.
	List(ctx context.Context, filter FeedFilter) ([]*models.FeedItem, error)

	// GetPublished returns the published view of an eligible article by slug.
	GetPublished(ctx context.Context, slug string) (*models.PublishedArticle, error)

	// IsEligible reports whether the article would appear in public feeds.
	IsEligible(ctx context.Context, articleID uuid.UUID) (bool, error)

	// IncrementViews bumps the view counter.
	IncrementViews(ctx context.Context, articleID uuid.UUID) error
}

type feedRepository struct {
	db *database.DB
}

// NewFeedRepository creates a new FeedRepository.
func NewFeedRepository(db *database.DB) FeedRepository {
	return &feedRepository{db: db}
}

var _ FeedRepository = (*feedRepository)(nil)

func (r *feedRepository) List(ctx context.Context, filter FeedFilter) ([]*models.FeedItem, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	q := r.db.Querier(ctx)

	var anchorLikes int64
	if filter.Order == FeedOrderPopular && filter.After != nil {
		// The anchor's current count is used so pages stay contiguous when its
		// likes change between requests. A vanished anchor falls back to the token.
		err := q.QueryRow(ctx, `SELECT like_count FROM press_articles WHERE id = $1`, filter.After.ID).Scan(&anchorLikes)
		if errors.Is(err, pgx.ErrNoRows) {
			anchorLikes = filter.After.Likes
		} else if err != nil {
			return nil, fmt.Errorf("failed to read cursor anchor: %w", err)
		}
	}

	query, args := buildFeedQuery(filter, anchorLikes)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feed: %w", err)
	}
	defer rows.Close()

	var items []*models.FeedItem
	var revisionIDs []uuid.UUID
	for rows.Next() {
		var item models.FeedItem
		if err := rows.Scan(
			&item.ArticleID, &item.Slug, &item.AuthorID, &item.RevisionID, &item.Title, &item.Summary,
			&item.LikeCount, &item.SaveCount, &item.ViewCount, &item.FirstPublishedAt, &item.LastPublishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feed item: %w", err)
		}
		items = append(items, &item)
		revisionIDs = append(revisionIDs, item.RevisionID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed: %w", err)
	}
	rows.Close()

	categories, err := loadCategoryIDs(ctx, q, revisionIDs)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		item.CategoryIDs = categories[item.RevisionID]
	}
	return items, nil
}

func (r *feedRepository) GetPublished(ctx context.Context, slug string) (*models.PublishedArticle, error) {
	q := r.db.Querier(ctx)
	row := q.QueryRow(ctx, `
		SELECT a.id, a.author_id, a.slug, a.status, a.published_revision_id, a.first_published_at,
		       a.last_published_at, a.like_count, a.save_count, a.view_count, a.created_at, a.updated_at,
		       r.id, r.article_id, r.status, r.title, r.summary, r.body, r.bibliography,
		       r.created_at, r.updated_at, r.status_changed_at
		FROM press_articles a
		JOIN press_revisions r ON r.id = a.published_revision_id AND r.status = 'PUBLISHED'
		JOIN press_users u ON u.id = a.author_id
		WHERE a.slug = $1 AND `+feedEligibility, slug)

	var a models.Article
	var rev models.Revision
	var articleStatus, revisionStatus string
	err := row.Scan(
		&a.ID, &a.AuthorID, &a.Slug, &articleStatus, &a.PublishedRevisionID, &a.FirstPublishedAt,
		&a.LastPublishedAt, &a.LikeCount, &a.SaveCount, &a.ViewCount, &a.CreatedAt, &a.UpdatedAt,
		&rev.ID, &rev.ArticleID, &revisionStatus, &rev.Title, &rev.Summary, &rev.Body, &rev.Bibliography,
		&rev.CreatedAt, &rev.UpdatedAt, &rev.StatusChangedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get published article: %w", err)
	}
	a.Status = models.ArticleStatus(articleStatus)
	rev.Status = models.RevisionStatus(revisionStatus)

	categories, err := loadCategoryIDs(ctx, q, []uuid.UUID{rev.ID})
	if err != nil {
		return nil, err
	}
	rev.CategoryIDs = categories[rev.ID]

	return &models.PublishedArticle{Article: &a, Revision: &rev}, nil
}

func (r *feedRepository) IsEligible(ctx context.Context, articleID uuid.UUID) (bool, error) {
	var eligible bool
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM press_articles a
			JOIN press_revisions r ON r.id = a.published_revision_id AND r.status = 'PUBLISHED'
			JOIN press_users u ON u.id = a.author_id
			WHERE a.id = $1 AND `+feedEligibility+`
		)`, articleID).Scan(&eligible)
	if err != nil {
		return false, fmt.Errorf("failed to check article eligibility: %w", err)
	}
	return eligible, nil
}

func (r *feedRepository) IncrementViews(ctx context.Context, articleID uuid.UUID) error {
	_, err := r.db.Querier(ctx).Exec(ctx,
		`UPDATE press_articles SET view_count = view_count + 1 WHERE id = $1`, articleID)
	if err != nil {
		return fmt.Errorf("failed to increment views: %w", err)
	}
	return nil
}
