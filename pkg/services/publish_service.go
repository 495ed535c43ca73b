package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
)

// reviewQueueStatuses are the statuses a reviewer can filter the queue by.
var reviewQueueStatuses = []models.RevisionStatus{
	models.RevisionStatusInReview,
	models.RevisionStatusChangesRequested,
}

// PublishService serves the moderation queues and makes approved revisions visible.
type PublishService interface {
	// GetReviewQueue lists revisions awaiting or returned from review.
	GetReviewQueue(ctx context.Context, auth models.AuthContext, q models.ReviewQueueQuery) (*models.Page[*models.ReviewQueueItem], error)

	// GetPublishQueue lists APPROVED revisions. Admin only.
	GetPublishQueue(ctx context.Context, auth models.AuthContext, q models.PublishQueueQuery) (*models.Page[*models.PublishQueueItem], error)

	// Publish moves an APPROVED revision to PUBLISHED and points its article at it.
	Publish(ctx context.Context, auth models.AuthContext, revisionID uuid.UUID) (*models.PublishResult, error)

	// SetArticleStatus hides (REMOVED) or restores (PUBLISHED) an article.
	SetArticleStatus(ctx context.Context, auth models.AuthContext, articleID uuid.UUID, status models.ArticleStatus, reason string) (*models.Article, error)
}

// PublishServiceDeps contains dependencies for PublishService.
type PublishServiceDeps struct {
	DB        database.TxRunner
	Articles  repositories.ArticleRepository
	Revisions repositories.RevisionRepository
	Queues    repositories.QueueRepository
	Audit     AuditService
	Limits    pagination.Limits
	Logger    *zap.Logger
}

type publishService struct {
	db        database.TxRunner
	articles  repositories.ArticleRepository
	revisions repositories.RevisionRepository
	queues    repositories.QueueRepository
	audit     AuditService
	limits    pagination.Limits
	logger    *zap.Logger
}

// NewPublishService creates a new PublishService.
func NewPublishService(deps *PublishServiceDeps) PublishService {
	return &publishService{
		db:        deps.DB,
		articles:  deps.Articles,
		revisions: deps.Revisions,
		queues:    deps.Queues,
		audit:     deps.Audit,
		limits:    deps.Limits,
		logger:    deps.Logger.Named("publish-service"),
	}
}

var _ PublishService = (*publishService)(nil)

func resolveQueueSort(sort models.QueueSort) (bool, error) {
	switch sort {
	case "", models.QueueSortOldest:
		return true, nil
	case models.QueueSortNewest:
		return false, nil
	default:
		return false, apperrors.NewValidationError("sort", "must be %q or %q", models.QueueSortNewest, models.QueueSortOldest)
	}
}

func (s *publishService) GetReviewQueue(ctx context.Context, auth models.AuthContext, q models.ReviewQueueQuery) (*models.Page[*models.ReviewQueueItem], error) {
	if err := requireReviewer(auth, "view review queue"); err != nil {
		return nil, err
	}

	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = reviewQueueStatuses
	}
	for _, st := range statuses {
		if st != models.RevisionStatusInReview && st != models.RevisionStatusChangesRequested {
			return nil, apperrors.NewValidationError("status", "review queue only holds %s and %s revisions",
				models.RevisionStatusInReview, models.RevisionStatusChangesRequested)
		}
	}

	ascending, err := resolveQueueSort(q.Sort)
	if err != nil {
		return nil, err
	}
	limit, err := s.limits.Resolve(q.Limit)
	if err != nil {
		return nil, err
	}
	after, err := pagination.DecodeOptional(q.Cursor, pagination.KindReviewQueue)
	if err != nil {
		return nil, err
	}

	items, err := s.queues.ListReview(ctx, repositories.QueueFilter{
		Statuses:  statuses,
		Ascending: ascending,
		After:     after,
		Limit:     limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list review queue: %w", err)
	}

	items, hasMore := pagination.Trim(items, limit)
	page := &models.Page[*models.ReviewQueueItem]{Items: items, HasMore: hasMore}
	if page.Items == nil {
		page.Items = []*models.ReviewQueueItem{}
	}
	if hasMore {
		last := items[len(items)-1]
		page.NextCursor = pagination.Encode(pagination.Cursor{
			Kind: pagination.KindReviewQueue,
			Time: last.StatusChangedAt,
			ID:   last.RevisionID,
		})
	}
	return page, nil
}

func (s *publishService) GetPublishQueue(ctx context.Context, auth models.AuthContext, q models.PublishQueueQuery) (*models.Page[*models.PublishQueueItem], error) {
	if err := requireAdmin(auth, "view publish queue"); err != nil {
		return nil, err
	}

	ascending, err := resolveQueueSort(q.Sort)
	if err != nil {
		return nil, err
	}
	limit, err := s.limits.Resolve(q.Limit)
	if err != nil {
		return nil, err
	}
	after, err := pagination.DecodeOptional(q.Cursor, pagination.KindPublishQueue)
	if err != nil {
		return nil, err
	}

	items, err := s.queues.ListPublish(ctx, repositories.QueueFilter{
		Statuses:  []models.RevisionStatus{models.RevisionStatusApproved},
		Ascending: ascending,
		After:     after,
		Limit:     limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list publish queue: %w", err)
	}

	items, hasMore := pagination.Trim(items, limit)
	page := &models.Page[*models.PublishQueueItem]{Items: items, HasMore: hasMore}
	if page.Items == nil {
		page.Items = []*models.PublishQueueItem{}
	}
	if hasMore {
		last := items[len(items)-1]
		page.NextCursor = pagination.Encode(pagination.Cursor{
			Kind: pagination.KindPublishQueue,
			Time: last.StatusChangedAt,
			ID:   last.RevisionID,
		})
	}
	return page, nil
}

func (s *publishService) Publish(ctx context.Context, auth models.AuthContext, revisionID uuid.UUID) (*models.PublishResult, error) {
	const op = "publish"
	if err := requireAdmin(auth, op); err != nil {
		return nil, err
	}

	var result *models.PublishResult
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		rev, err := s.revisions.GetByIDForUpdate(ctx, revisionID)
		if err != nil {
			return err
		}
		if err := transition(op, rev.Status, models.RevisionStatusPublished); err != nil {
			return err
		}

		before, err := s.articles.GetByIDForUpdate(ctx, rev.ArticleID)
		if err != nil {
			return err
		}

		at := timeNow()
		if err := s.revisions.UpdateStatus(ctx, rev.ID, models.RevisionStatusPublished, at); err != nil {
			return err
		}
		rev.Status = models.RevisionStatusPublished
		rev.StatusChangedAt = at

		article, err := s.articles.MarkPublished(ctx, before.ID, rev.ID, at)
		if err != nil {
			return err
		}

		result = &models.PublishResult{
			Article:            article,
			Revision:           rev,
			FirstPublish:       before.FirstPublishedAt == nil,
			PreviousRevisionID: before.PublishedRevisionID,
		}
		return s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     models.AuditActionRevisionPublished,
			TargetType: models.AuditTargetRevision,
			TargetID:   rev.ID,
			Metadata: map[string]any{
				"article_id":           article.ID.String(),
				"first_publish":        result.FirstPublish,
				"previous_revision_id": idOrNil(before.PublishedRevisionID),
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	s.logger.Info("Revision published",
		zap.String("revision_id", revisionID.String()),
		zap.String("article_id", result.Article.ID.String()),
		zap.Bool("first_publish", result.FirstPublish))
	return result, nil
}

func (s *publishService) SetArticleStatus(ctx context.Context, auth models.AuthContext, articleID uuid.UUID, status models.ArticleStatus, reason string) (*models.Article, error) {
	if err := requireAdmin(auth, "set article status"); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, apperrors.NewValidationError("status", "must be %s or %s", models.ArticleStatusPublished, models.ArticleStatusRemoved)
	}
	reason = strings.TrimSpace(reason)
	if status == models.ArticleStatusRemoved && reason == "" {
		return nil, apperrors.NewValidationError("reason", "is required when removing an article")
	}

	var article *models.Article
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		current, err := s.articles.GetByIDForUpdate(ctx, articleID)
		if err != nil {
			return err
		}
		if current.Status == status {
			return fmt.Errorf("article is already %s: %w", status, apperrors.ErrConflict)
		}

		if err := s.articles.SetStatus(ctx, articleID, status); err != nil {
			return err
		}

		action := models.AuditActionArticleRemoved
		if status == models.ArticleStatusPublished {
			action = models.AuditActionArticleRestored
		}
		if err := s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     action,
			TargetType: models.AuditTargetArticle,
			TargetID:   articleID,
			Reason:     reason,
		}); err != nil {
			return err
		}

		article, err = s.articles.GetByID(ctx, articleID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("set article status: %w", err)
	}

	s.logger.Info("Article status changed",
		zap.String("article_id", articleID.String()),
		zap.String("status", string(status)))
	return article, nil
}
