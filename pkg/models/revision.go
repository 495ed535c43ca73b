package models

import (
	"time"

	"github.com/google/uuid"
)

// RevisionStatus is the lifecycle state of a revision.
type RevisionStatus string

const (
	RevisionStatusDraft            RevisionStatus = "DRAFT"
	RevisionStatusInReview         RevisionStatus = "IN_REVIEW"
	RevisionStatusChangesRequested RevisionStatus = "CHANGES_REQUESTED"
	RevisionStatusApproved         RevisionStatus = "APPROVED"
	RevisionStatusPublished        RevisionStatus = "PUBLISHED"
	RevisionStatusWithdrawn        RevisionStatus = "WITHDRAWN"
)

// LiveRevisionStatuses are the non-terminal statuses. An article has at most
// one revision in any of them.
var LiveRevisionStatuses = []RevisionStatus{
	RevisionStatusDraft,
	RevisionStatusInReview,
	RevisionStatusChangesRequested,
	RevisionStatusApproved,
}

// revisionTransitions is the single source of truth for allowed status moves.
var revisionTransitions = map[RevisionStatus][]RevisionStatus{
	RevisionStatusDraft:            {RevisionStatusInReview},
	RevisionStatusInReview:         {RevisionStatusChangesRequested, RevisionStatusApproved, RevisionStatusWithdrawn},
	RevisionStatusChangesRequested: {RevisionStatusInReview},
	RevisionStatusApproved:         {RevisionStatusPublished},
}

// String returns the string representation of a RevisionStatus.
func (s RevisionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is known.
func (s RevisionStatus) IsValid() bool {
	switch s {
	case RevisionStatusDraft, RevisionStatusInReview, RevisionStatusChangesRequested,
		RevisionStatusApproved, RevisionStatusPublished, RevisionStatusWithdrawn:
		return true
	default:
		return false
	}
}

// IsLive returns true for statuses that block a new revision on the article.
func (s RevisionStatus) IsLive() bool {
	for _, live := range LiveRevisionStatuses {
		if s == live {
			return true
		}
	}
	return false
}

// IsEditable returns true for statuses in which the author may change content.
func (s RevisionStatus) IsEditable() bool {
	return s == RevisionStatusDraft || s == RevisionStatusChangesRequested
}

// CanTransitionTo reports whether the move from s to target is allowed.
func (s RevisionStatus) CanTransitionTo(target RevisionStatus) bool {
	for _, next := range revisionTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// LiveStatusStrings returns LiveRevisionStatuses as plain strings for SQL parameters.
func LiveStatusStrings() []string {
	out := make([]string, len(LiveRevisionStatuses))
	for i, s := range LiveRevisionStatuses {
		out[i] = string(s)
	}
	return out
}

// Revision is one version of an article's content.
type Revision struct {
	ID              uuid.UUID      `json:"id"`
	ArticleID       uuid.UUID      `json:"article_id"`
	Status          RevisionStatus `json:"status"`
	Title           string         `json:"title"`
	Summary         string         `json:"summary"`
	Body            string         `json:"body"`
	Bibliography    string         `json:"bibliography,omitempty"`
	CategoryIDs     []uuid.UUID    `json:"category_ids"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StatusChangedAt time.Time      `json:"status_changed_at"`
}

// RevisionContent holds the author-editable fields of a revision.
type RevisionContent struct {
	Title        string
	Summary      string
	Body         string
	Bibliography string
}

// RevisionPatch is a partial update. Nil fields are left unchanged.
type RevisionPatch struct {
	Title        *string
	Summary      *string
	Body         *string
	Bibliography *string
	CategoryIDs  *[]uuid.UUID
}

// IsEmpty returns true if the patch changes nothing.
func (p RevisionPatch) IsEmpty() bool {
	return p.Title == nil && p.Summary == nil && p.Body == nil && p.Bibliography == nil && p.CategoryIDs == nil
}

// ChangedFields returns the names of the fields set on the patch.
func (p RevisionPatch) ChangedFields() []string {
	var fields []string
	if p.Title != nil {
		fields = append(fields, "title")
	}
	if p.Summary != nil {
		fields = append(fields, "summary")
	}
	if p.Body != nil {
		fields = append(fields, "body")
	}
	if p.Bibliography != nil {
		fields = append(fields, "bibliography")
	}
	if p.CategoryIDs != nil {
		fields = append(fields, "category_ids")
	}
	return fields
}

// ReviewAction is the kind of review event.
type ReviewAction string

const (
	ReviewActionFeedback ReviewAction = "FEEDBACK"
	ReviewActionApprove  ReviewAction = "APPROVE"
)

// ReviewEvent records a reviewer decision on a revision.
type ReviewEvent struct {
	ID         uuid.UUID    `json:"id"`
	RevisionID uuid.UUID    `json:"revision_id"`
	ReviewerID uuid.UUID    `json:"reviewer_id"`
	Action     ReviewAction `json:"action"`
	Feedback   *string      `json:"feedback,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RevisionDetail is a revision with its article and review history.
type RevisionDetail struct {
	Revision          *Revision      `json:"revision"`
	Article           *Article       `json:"article"`
	Events            []*ReviewEvent `json:"events"`
	HasUnreadFeedback bool           `json:"has_unread_feedback"`
}
