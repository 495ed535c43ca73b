package models

import (
	"time"

	"github.com/google/uuid"
)

// FeedSort selects the feed ordering.
type FeedSort string

const (
	FeedSortNew     FeedSort = "new"
	FeedSortPopular FeedSort = "popular"
)

// IsValid returns true if the sort is known.
func (s FeedSort) IsValid() bool {
	return s == FeedSortNew || s == FeedSortPopular
}

// FeedQuery is the caller-facing feed request.
type FeedQuery struct {
	Sort       FeedSort
	Category   string // category id or slug
	Text       string
	AuthorID   *uuid.UUID
	FollowedBy *uuid.UUID
	Since      *time.Time
	Until      *time.Time
	Cursor     string
	Limit      int
}

// FeedItem is one row of a public feed.
type FeedItem struct {
	ArticleID        uuid.UUID   `json:"article_id"`
	Slug             string      `json:"slug"`
	AuthorID         uuid.UUID   `json:"author_id"`
	RevisionID       uuid.UUID   `json:"revision_id"`
	Title            string      `json:"title"`
	Summary          string      `json:"summary"`
	CategoryIDs      []uuid.UUID `json:"category_ids"`
	LikeCount        int64       `json:"like_count"`
	SaveCount        int64       `json:"save_count"`
	ViewCount        int64       `json:"view_count"`
	FirstPublishedAt time.Time   `json:"first_published_at"`
	LastPublishedAt  time.Time   `json:"last_published_at"`
}

// Page is one keyset-paginated slice of results.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// QueueSort orders moderation queues by the time an item entered its status.
type QueueSort string

const (
	QueueSortNewest QueueSort = "newest"
	QueueSortOldest QueueSort = "oldest"
)

// IsValid returns true if the sort is known.
func (s QueueSort) IsValid() bool {
	return s == QueueSortNewest || s == QueueSortOldest
}

// ReviewQueueQuery filters the reviewer queue.
type ReviewQueueQuery struct {
	Statuses []RevisionStatus
	Sort     QueueSort
	Cursor   string
	Limit    int
}

// ReviewQueueItem is a revision awaiting or returned from review.
type ReviewQueueItem struct {
	RevisionID      uuid.UUID      `json:"revision_id"`
	ArticleID       uuid.UUID      `json:"article_id"`
	ArticleSlug     string         `json:"article_slug"`
	AuthorID        uuid.UUID      `json:"author_id"`
	Title           string         `json:"title"`
	Summary         string         `json:"summary"`
	Status          RevisionStatus `json:"status"`
	FeedbackCount   int            `json:"feedback_count"`
	IsUpdate        bool           `json:"is_update"`
	StatusChangedAt time.Time      `json:"status_changed_at"`
}

// PublishQueueQuery filters the administrator publish queue.
type PublishQueueQuery struct {
	Sort   QueueSort
	Cursor string
	Limit  int
}

// PublishQueueItem is an approved revision waiting to be published.
type PublishQueueItem struct {
	RevisionID      uuid.UUID  `json:"revision_id"`
	ArticleID       uuid.UUID  `json:"article_id"`
	ArticleSlug     string     `json:"article_slug"`
	AuthorID        uuid.UUID  `json:"author_id"`
	Title           string     `json:"title"`
	Summary         string     `json:"summary"`
	IsUpdate        bool       `json:"is_update"`
	ApprovedBy      *uuid.UUID `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
}
