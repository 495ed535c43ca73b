package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
)

var auditLimits = pagination.Limits{Default: 50, Max: 200}

// AuditRecord describes one privileged action to append to the ledger.
type AuditRecord struct {
	ActorID    uuid.UUID
	Action     models.AuditAction
	TargetType string
	TargetID   uuid.UUID
	Reason     string
	Metadata   map[string]any
}

// AuditService appends to and reads the audit ledger. Entries are never
// updated or deleted through this service.
type AuditService interface {
	// Record appends an entry. When ctx carries a transaction the entry is
	// written in it, so a failure here aborts the caller's operation.
	Record(ctx context.Context, rec AuditRecord) error

	// Query lists entries newest first. Admin only.
	Query(ctx context.Context, auth models.AuthContext, q models.AuditQuery) (*models.Page[*models.AuditLogEntry], error)
}

type auditService struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo repositories.AuditRepository, logger *zap.Logger) AuditService {
	return &auditService{
		repo:   repo,
		logger: logger.Named("audit-service"),
	}
}

var _ AuditService = (*auditService)(nil)

func (s *auditService) Record(ctx context.Context, rec AuditRecord) error {
	entry := &models.AuditLogEntry{
		Action:     rec.Action,
		TargetType: rec.TargetType,
		Metadata:   rec.Metadata,
	}
	if rec.ActorID != uuid.Nil {
		actor := rec.ActorID
		entry.ActorID = &actor
	}
	if rec.TargetID != uuid.Nil {
		target := rec.TargetID
		entry.TargetID = &target
	}
	if rec.Reason != "" {
		reason := rec.Reason
		entry.Reason = &reason
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to create audit log entry",
			zap.String("action", string(rec.Action)),
			zap.String("target_type", rec.TargetType),
			zap.String("target_id", rec.TargetID.String()),
			zap.Error(err))
		return fmt.Errorf("create audit log entry: %w", err)
	}

	return nil
}

func (s *auditService) Query(ctx context.Context, auth models.AuthContext, q models.AuditQuery) (*models.Page[*models.AuditLogEntry], error) {
	if err := requireAdmin(auth, "query audit log"); err != nil {
		return nil, err
	}

	limit, err := auditLimits.Resolve(q.Limit)
	if err != nil {
		return nil, err
	}
	after, err := pagination.DecodeOptional(q.Cursor, pagination.KindAudit)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.List(ctx, repositories.AuditFilter{
		Actions:    q.Actions,
		TargetType: q.TargetType,
		TargetID:   q.TargetID,
		ActorID:    q.ActorID,
		Since:      q.Since,
		Until:      q.Until,
		After:      after,
		Limit:      limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}

	entries, hasMore := pagination.Trim(entries, limit)
	page := &models.Page[*models.AuditLogEntry]{Items: entries, HasMore: hasMore}
	if page.Items == nil {
		page.Items = []*models.AuditLogEntry{}
	}
	if hasMore {
		last := entries[len(entries)-1]
		page.NextCursor = pagination.Encode(pagination.Cursor{
			Kind: pagination.KindAudit,
			Time: last.CreatedAt,
			ID:   last.ID,
		})
	}
	return page, nil
}
