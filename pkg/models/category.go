package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is a node of the taxonomy forest.
type Category struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	IsSystem  bool       `json:"is_system"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CategoryNode is a category with its children, used for tree rendering.
type CategoryNode struct {
	*Category
	Children []*CategoryNode `json:"children"`
}

// DeleteSubtreeResult summarises a cascading category deletion.
type DeleteSubtreeResult struct {
	DeletedIDs      []uuid.UUID `json:"deleted_ids"`
	DeletedCount    int         `json:"deleted_count"`
	ReassignedCount int         `json:"reassigned_count"`
}
