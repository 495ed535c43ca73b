package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditTargetType names the kind of entity an audit entry refers to.
const (
	AuditTargetArticle  = "article"
	AuditTargetRevision = "revision"
	AuditTargetCategory = "category"
	AuditTargetUser     = "user"
)

// AuditAction enumerates the privileged actions recorded in the ledger.
type AuditAction string

const (
	AuditActionArticleCreated         AuditAction = "ARTICLE_CREATED"
	AuditActionArticleRemoved         AuditAction = "ARTICLE_REMOVED"
	AuditActionArticleRestored        AuditAction = "ARTICLE_RESTORED"
	AuditActionRevisionCreated        AuditAction = "REVISION_CREATED"
	AuditActionRevisionUpdated        AuditAction = "REVISION_UPDATED"
	AuditActionRevisionDeleted        AuditAction = "REVISION_DELETED"
	AuditActionRevisionSubmitted      AuditAction = "REVISION_SUBMITTED"
	AuditActionRevisionWithdrawn      AuditAction = "REVISION_WITHDRAWN"
	AuditActionRevisionFeedback       AuditAction = "REVISION_FEEDBACK"
	AuditActionRevisionApproved       AuditAction = "REVISION_APPROVED"
	AuditActionRevisionPublished      AuditAction = "REVISION_PUBLISHED"
	AuditActionCategoryCreated        AuditAction = "CATEGORY_CREATED"
	AuditActionCategoryRenamed        AuditAction = "CATEGORY_RENAMED"
	AuditActionCategoryReparented     AuditAction = "CATEGORY_REPARENTED"
	AuditActionCategorySubtreeDeleted AuditAction = "CATEGORY_SUBTREE_DELETED"
	AuditActionUserBanned             AuditAction = "USER_BANNED"
	AuditActionUserUnbanned           AuditAction = "USER_UNBANNED"
)

// AuditLogEntry is a single immutable row of the audit ledger.
// Stored in press_audit_log.
type AuditLogEntry struct {
	ID         uuid.UUID      `json:"id"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"` // null once the actor is deleted
	Action     AuditAction    `json:"action"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   *uuid.UUID     `json:"target_id,omitempty"`
	Reason     *string        `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditQuery filters the audit ledger. Zero values mean no filter.
type AuditQuery struct {
	Actions    []AuditAction
	TargetType string
	TargetID   *uuid.UUID
	ActorID    *uuid.UUID
	Since      *time.Time
	Until      *time.Time
	Cursor     string
	Limit      int
}
