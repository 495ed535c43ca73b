package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-press/pkg/database"
)

// now returns the current time at PostgreSQL timestamptz precision so values
// written and later used as cursor keys compare equal.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// newID returns a time-ordered UUID.
func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// loadCategoryIDs returns the category ids of each revision, ordered by id.
func loadCategoryIDs(ctx context.Context, q database.Querier, revisionIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	out := make(map[uuid.UUID][]uuid.UUID, len(revisionIDs))
	if len(revisionIDs) == 0 {
		return out, nil
	}

	rows, err := q.Query(ctx, `
		SELECT revision_id, category_id
		FROM press_revision_categories
		WHERE revision_id = ANY($1)
		ORDER BY revision_id, category_id`, revisionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query revision categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var revisionID, categoryID uuid.UUID
		if err := rows.Scan(&revisionID, &categoryID); err != nil {
			return nil, fmt.Errorf("failed to scan revision category: %w", err)
		}
		out[revisionID] = append(out[revisionID], categoryID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revision categories: %w", err)
	}

	for _, id := range revisionIDs {
		if out[id] == nil {
			out[id] = []uuid.UUID{}
		}
	}
	return out, nil
}
