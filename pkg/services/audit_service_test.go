package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
)

func TestAuditService_Record(t *testing.T) {
	repo := &mockAuditRepository{}
	svc := NewAuditService(repo, zap.NewNop())
	targetID := uuid.New()

	err := svc.Record(context.Background(), AuditRecord{
		ActorID:    adminID,
		Action:     models.AuditActionArticleRemoved,
		TargetType: models.AuditTargetArticle,
		TargetID:   targetID,
		Reason:     "spam",
		Metadata:   map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	assert.Equal(t, models.AuditActionArticleRemoved, entry.Action)
	assert.Equal(t, models.AuditTargetArticle, entry.TargetType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, adminID, *entry.ActorID)
	require.NotNil(t, entry.TargetID)
	assert.Equal(t, targetID, *entry.TargetID)
	require.NotNil(t, entry.Reason)
	assert.Equal(t, "spam", *entry.Reason)
	assert.Equal(t, "v", entry.Metadata["k"])
}

func TestAuditService_Record_OptionalFieldsStayNil(t *testing.T) {
	repo := &mockAuditRepository{}
	svc := NewAuditService(repo, zap.NewNop())

	require.NoError(t, svc.Record(context.Background(), AuditRecord{Action: models.AuditActionUserBanned}))

	entry := repo.entries[0]
	assert.Nil(t, entry.ActorID)
	assert.Nil(t, entry.TargetID)
	assert.Nil(t, entry.Reason)
}

func TestAuditService_Record_FailureIsReturnedAndLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	repo := &mockAuditRepository{createErr: errors.New("connection reset")}
	svc := NewAuditService(repo, zap.New(core))

	err := svc.Record(context.Background(), AuditRecord{Action: models.AuditActionRevisionApproved})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Failed to create audit log entry", logs.All()[0].Message)
}

func TestAuditService_Query(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &mockAuditRepository{}
	for i := 0; i < 3; i++ {
		repo.listResult = append(repo.listResult, &models.AuditLogEntry{
			ID:        uuid.New(),
			Action:    models.AuditActionRevisionPublished,
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		})
	}
	svc := NewAuditService(repo, zap.NewNop())
	targetID := uuid.New()

	page, err := svc.Query(context.Background(), adminAuth, models.AuditQuery{
		Actions:  []models.AuditAction{models.AuditActionRevisionPublished},
		TargetID: &targetID,
		Limit:    2,
	})
	require.NoError(t, err)

	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 3, repo.capturedFilter.Limit)
	assert.Equal(t, &targetID, repo.capturedFilter.TargetID)

	cursor, err := pagination.Decode(page.NextCursor, pagination.KindAudit)
	require.NoError(t, err)
	assert.Equal(t, repo.listResult[1].ID, cursor.ID)
}

func TestAuditService_Query_Rejections(t *testing.T) {
	svc := NewAuditService(&mockAuditRepository{}, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Query(ctx, reviewerAuth, models.AuditQuery{})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = svc.Query(ctx, adminAuth, models.AuditQuery{Cursor: "garbage!"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Query(ctx, adminAuth, models.AuditQuery{Limit: 1000})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAuditService_Query_EmptyPage(t *testing.T) {
	svc := NewAuditService(&mockAuditRepository{}, zap.NewNop())

	page, err := svc.Query(context.Background(), adminAuth, models.AuditQuery{})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}
