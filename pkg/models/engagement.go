package models

import "github.com/google/uuid"

// ReactionKind distinguishes the per-article toggles.
type ReactionKind string

const (
	ReactionLike ReactionKind = "like"
	ReactionSave ReactionKind = "save"
)

// ReactionState is the result of a like/save toggle.
type ReactionState struct {
	ArticleID uuid.UUID    `json:"article_id"`
	Kind      ReactionKind `json:"kind"`
	Active    bool         `json:"active"`
	Changed   bool         `json:"changed"`
	Count     int64        `json:"count"`
}

// ReaderState is what a reader has done to one article.
type ReaderState struct {
	ArticleID uuid.UUID `json:"article_id"`
	Liked     bool      `json:"liked"`
	Saved     bool      `json:"saved"`
}

// FollowState is the result of a follow toggle.
type FollowState struct {
	FollowerID uuid.UUID `json:"follower_id"`
	FolloweeID uuid.UUID `json:"followee_id"`
	Following  bool      `json:"following"`
	Changed    bool      `json:"changed"`
}
