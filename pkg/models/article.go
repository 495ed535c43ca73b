package models

import (
	"time"

	"github.com/google/uuid"
)

// ArticleStatus is the moderation status of an article as a whole.
type ArticleStatus string

const (
	ArticleStatusPublished ArticleStatus = "PUBLISHED"
	ArticleStatusRemoved   ArticleStatus = "REMOVED"
)

// IsValid returns true if the status is known.
func (s ArticleStatus) IsValid() bool {
	return s == ArticleStatusPublished || s == ArticleStatusRemoved
}

// Article is the stable identity of a piece of content across revisions.
type Article struct {
	ID                  uuid.UUID     `json:"id"`
	AuthorID            uuid.UUID     `json:"author_id"`
	Slug                string        `json:"slug"`
	Status              ArticleStatus `json:"status"`
	PublishedRevisionID *uuid.UUID    `json:"published_revision_id,omitempty"`
	FirstPublishedAt    *time.Time    `json:"first_published_at,omitempty"`
	LastPublishedAt     *time.Time    `json:"last_published_at,omitempty"`
	LikeCount           int64         `json:"like_count"`
	SaveCount           int64         `json:"save_count"`
	ViewCount           int64         `json:"view_count"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// IsPublished returns true once the article has a published revision.
func (a *Article) IsPublished() bool {
	return a.PublishedRevisionID != nil
}

// CreateArticleInput is the content of the first draft of a new article.
type CreateArticleInput struct {
	Title        string
	Summary      string
	Body         string
	Bibliography string
	CategoryIDs  []uuid.UUID
}

// PublishResult describes the outcome of publishing a revision.
type PublishResult struct {
	Article            *Article   `json:"article"`
	Revision           *Revision  `json:"revision"`
	FirstPublish       bool       `json:"first_publish"`
	PreviousRevisionID *uuid.UUID `json:"previous_revision_id,omitempty"`
}

// PublishedArticle is the reader-facing view of an article.
type PublishedArticle struct {
	Article  *Article  `json:"article"`
	Revision *Revision `json:"revision"`
}
