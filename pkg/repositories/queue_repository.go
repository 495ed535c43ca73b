package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
)

// QueueFilter selects a page of a moderation queue keyed on
// (status_changed_at, id).
type QueueFilter struct {
	Statuses  []models.RevisionStatus
	Ascending bool
	After     *pagination.Cursor
	Limit     int
}

// QueueRepository lists revisions waiting on reviewers and administrators.
type QueueRepository interface {
	// ListReview returns revisions in filter.Statuses with feedback counts.
	ListReview(ctx context.Context, filter QueueFilter) ([]*models.ReviewQueueItem, error)

	// ListPublish returns APPROVED revisions with their latest approval.
	ListPublish(ctx context.Context, filter QueueFilter) ([]*models.PublishQueueItem, error)
}

type queueRepository struct {
	db *database.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *database.DB) QueueRepository {
	return &queueRepository{db: db}
}

var _ QueueRepository = (*queueRepository)(nil)

// queueClauses builds the status, keyset and ordering parts shared by both queues.
// Status strings are bound as $1.
func queueClauses(filter QueueFilter) (where string, order string, args []any) {
	statuses := make([]string, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}
	args = []any{statuses}
	where = "r.status = ANY($1)"

	cmp, dir := "<", "DESC"
	if filter.Ascending {
		cmp, dir = ">", "ASC"
	}

	if filter.After != nil {
		where += fmt.Sprintf(" AND (r.status_changed_at %s $2 OR (r.status_changed_at = $2 AND r.id %s $3))", cmp, cmp)
		args = append(args, filter.After.Time, filter.After.ID)
	}
	order = fmt.Sprintf("r.status_changed_at %s, r.id %s", dir, dir)

	args = append(args, filter.Limit)
	return where, order, args
}

func (r *queueRepository) ListReview(ctx context.Context, filter QueueFilter) ([]*models.ReviewQueueItem, error) {
	where, order, args := queueClauses(filter)
	query := fmt.Sprintf(`
		SELECT r.id, r.article_id, a.slug, a.author_id, r.title, r.summary, r.status,
		       (SELECT COUNT(*) FROM press_review_events e
		        WHERE e.revision_id = r.id AND e.action = 'FEEDBACK') AS feedback_count,
		       a.published_revision_id IS NOT NULL AS is_update,
		       r.status_changed_at
		FROM press_revisions r
		JOIN press_articles a ON a.id = r.article_id
		WHERE %s
		ORDER BY %s
		LIMIT $%d`, where, order, len(args))

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review queue: %w", err)
	}
	defer rows.Close()

	var items []*models.ReviewQueueItem
	for rows.Next() {
		var item models.ReviewQueueItem
		var status string
		if err := rows.Scan(
			&item.RevisionID, &item.ArticleID, &item.ArticleSlug, &item.AuthorID,
			&item.Title, &item.Summary, &status, &item.FeedbackCount, &item.IsUpdate,
			&item.StatusChangedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review queue item: %w", err)
		}
		item.Status = models.RevisionStatus(status)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review queue: %w", err)
	}
	return items, nil
}

func (r *queueRepository) ListPublish(ctx context.Context, filter QueueFilter) ([]*models.PublishQueueItem, error) {
	filter.Statuses = []models.RevisionStatus{models.RevisionStatusApproved}
	where, order, args := queueClauses(filter)
	query := fmt.Sprintf(`
		SELECT r.id, r.article_id, a.slug, a.author_id, r.title, r.summary,
		       a.published_revision_id IS NOT NULL AS is_update,
		       ap.reviewer_id, ap.created_at,
		       r.status_changed_at
		FROM press_revisions r
		JOIN press_articles a ON a.id = r.article_id
		LEFT JOIN LATERAL (
			SELECT e.reviewer_id, e.created_at
			FROM press_review_events e
			WHERE e.revision_id = r.id AND e.action = 'APPROVE'
			ORDER BY e.created_at DESC
			LIMIT 1
		) ap ON TRUE
		WHERE %s
		ORDER BY %s
		LIMIT $%d`, where, order, len(args))

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query publish queue: %w", err)
	}
	defer rows.Close()

	var items []*models.PublishQueueItem
	for rows.Next() {
		var item models.PublishQueueItem
		if err := rows.Scan(
			&item.RevisionID, &item.ArticleID, &item.ArticleSlug, &item.AuthorID,
			&item.Title, &item.Summary, &item.IsUpdate, &item.ApprovedBy, &item.ApprovedAt,
			&item.StatusChangedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan publish queue item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publish queue: %w", err)
	}
	return items, nil
}
