package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
)

// ReviewEventRepository stores reviewer decisions.
type ReviewEventRepository interface {
	// Create records a review event.
	Create(ctx context.Context, event *models.ReviewEvent) error

	// ListByRevision returns a revision's events, oldest first.
	ListByRevision(ctx context.Context, revisionID uuid.UUID) ([]*models.ReviewEvent, error)
}

type reviewEventRepository struct {
	db *database.DB
}

// NewReviewEventRepository creates a new ReviewEventRepository.
func NewReviewEventRepository(db *database.DB) ReviewEventRepository {
	return &reviewEventRepository{db: db}
}

var _ ReviewEventRepository = (*reviewEventRepository)(nil)

func (r *reviewEventRepository) Create(ctx context.Context, event *models.ReviewEvent) error {
	if event.ID == uuid.Nil {
		event.ID = newID()
	}
	event.CreatedAt = now()

	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO press_review_events (id, revision_id, reviewer_id, action, feedback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.RevisionID, event.ReviewerID, string(event.Action), event.Feedback, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create review event: %w", err)
	}
	return nil
}

func (r *reviewEventRepository) ListByRevision(ctx context.Context, revisionID uuid.UUID) ([]*models.ReviewEvent, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `
		SELECT id, revision_id, reviewer_id, action, feedback, created_at
		FROM press_review_events
		WHERE revision_id = $1
		ORDER BY created_at, id`, revisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review events: %w", err)
	}
	defer rows.Close()

	var events []*models.ReviewEvent
	for rows.Next() {
		var ev models.ReviewEvent
		var action string
		if err := rows.Scan(&ev.ID, &ev.RevisionID, &ev.ReviewerID, &action, &ev.Feedback, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review event: %w", err)
		}
		ev.Action = models.ReviewAction(action)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review events: %w", err)
	}
	return events, nil
}
