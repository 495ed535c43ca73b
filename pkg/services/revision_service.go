package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
	"github.com/ekaya-inc/ekaya-press/pkg/retry"
	"github.com/ekaya-inc/ekaya-press/pkg/slug"
)

const (
	maxTitleLength   = 200
	maxSummaryLength = 500
)

// timeNow is the clock for status changes, truncated to what PostgreSQL stores.
var timeNow = func() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// RevisionService runs the article revision lifecycle:
// DRAFT -> IN_REVIEW -> (CHANGES_REQUESTED -> IN_REVIEW)* -> APPROVED -> PUBLISHED,
// with WITHDRAWN reachable from IN_REVIEW. Publishing lives in PublishService.
type RevisionService interface {
	// CreateArticleWithDraft creates an article and its first DRAFT revision.
	CreateArticleWithDraft(ctx context.Context, auth models.AuthContext, input models.CreateArticleInput) (*models.Article, *models.Revision, error)

	// StartNewRevision clones the latest revision into a new DRAFT. Fails with
	// *apperrors.LiveRevisionError when the article already has a live revision.
	StartNewRevision(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.Revision, error)

	// UpdateRevision applies a partial content update while the revision is editable.
	UpdateRevision(ctx context.Context, auth models.AuthContext, id uuid.UUID, patch models.RevisionPatch) (*models.Revision, error)

	// DeleteRevision hard-deletes a DRAFT. A never-published article left
	// without revisions is deleted with it.
	DeleteRevision(ctx context.Context, auth models.AuthContext, id uuid.UUID) error

	SubmitToReview(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.Revision, error)
	WithdrawFromReview(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.Revision, error)

	// GiveFeedback returns an IN_REVIEW revision to its author with a note.
	GiveFeedback(ctx context.Context, auth models.AuthContext, id uuid.UUID, feedback string) (*models.Revision, error)

	// Approve marks an IN_REVIEW revision ready to publish.
	Approve(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.Revision, error)

	// GetRevision returns a revision with its article and review history.
	// Visible to the author and to reviewers.
	GetRevision(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.RevisionDetail, error)

	// ListArticleRevisions returns every revision of an article, newest first.
	ListArticleRevisions(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) ([]*models.Revision, error)
}

// RevisionServiceDeps contains dependencies for RevisionService.
type RevisionServiceDeps struct {
	DB            database.TxRunner
	Articles      repositories.ArticleRepository
	Revisions     repositories.RevisionRepository
	ReviewEvents  repositories.ReviewEventRepository
	Categories    repositories.CategoryRepository
	Audit         AuditService
	Slugs         *slug.Generator
	MaxCategories int
	Logger        *zap.Logger
}

type revisionService struct {
	db            database.TxRunner
	articles      repositories.ArticleRepository
	revisions     repositories.RevisionRepository
	reviewEvents  repositories.ReviewEventRepository
	categories    repositories.CategoryRepository
	audit         AuditService
	slugs         *slug.Generator
	maxCategories int
	retryConfig   *retry.Config
	logger        *zap.Logger
}

// NewRevisionService creates a new RevisionService.
func NewRevisionService(deps *RevisionServiceDeps) RevisionService {
	slugs := deps.Slugs
	if slugs == nil {
		slugs = slug.NewGenerator(0, 0)
	}
	return &revisionService{
		db:            deps.DB,
		articles:      deps.Articles,
		revisions:     deps.Revisions,
		reviewEvents:  deps.ReviewEvents,
		categories:    deps.Categories,
		audit:         deps.Audit,
		slugs:         slugs,
		maxCategories: deps.MaxCategories,
		retryConfig:   retry.TxConfig(),
		logger:        deps.Logger.Named("revision-service"),
	}
}

var _ RevisionService = (*revisionService)(nil)

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperrors.NewValidationError("title", "is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", apperrors.NewValidationError("title", "must be at most %d characters", maxTitleLength)
	}
	return title, nil
}

func validateSummary(summary string) (string, error) {
	summary = strings.TrimSpace(summary)
	if utf8.RuneCountInString(summary) > maxSummaryLength {
		return "", apperrors.NewValidationError("summary", "must be at most %d characters", maxSummaryLength)
	}
	return summary, nil
}

// resolveCategories de-duplicates ids, checks the bound and existence, and
// substitutes the system category for an empty set.
func (s *revisionService) resolveCategories(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(unique, id) {
			unique = append(unique, id)
		}
	}

	if len(unique) == 0 {
		system, err := s.categories.GetSystem(ctx)
		if err != nil {
			return nil, fmt.Errorf("load system category: %w", err)
		}
		return []uuid.UUID{system.ID}, nil
	}

	if s.maxCategories > 0 && len(unique) > s.maxCategories {
		return nil, apperrors.NewValidationError("category_ids", "at most %d categories are allowed", s.maxCategories)
	}

	count, err := s.categories.CountExisting(ctx, unique)
	if err != nil {
		return nil, err
	}
	if count != len(unique) {
		return nil, apperrors.NewValidationError("category_ids", "unknown category")
	}
	return unique, nil
}

func (s *revisionService) CreateArticleWithDraft(ctx context.Context, auth models.AuthContext, input models.CreateArticleInput) (*models.Article, *models.Revision, error) {
	if err := requireActive(auth, "create article"); err != nil {
		return nil, nil, err
	}
	title, err := validateTitle(input.Title)
	if err != nil {
		return nil, nil, err
	}
	summary, err := validateSummary(input.Summary)
	if err != nil {
		return nil, nil, err
	}

	// A concurrent create can take the probed slug before this insert commits;
	// the transaction is then rerun with a fresh probe.
	var article *models.Article
	var revision *models.Revision
	err = retry.DoIfRetryable(ctx, s.retryConfig, func() error {
		return s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
			categoryIDs, err := s.resolveCategories(ctx, input.CategoryIDs)
			if err != nil {
				return err
			}

			articleSlug, err := s.slugs.Generate(ctx, title, s.articles.SlugExists)
			if err != nil {
				return err
			}

			article = &models.Article{
				AuthorID: auth.UserID,
				Slug:     articleSlug,
				Status:   models.ArticleStatusPublished,
			}
			if err := s.articles.Create(ctx, article); err != nil {
				return err
			}

			revision = &models.Revision{
				ArticleID:    article.ID,
				Status:       models.RevisionStatusDraft,
				Title:        title,
				Summary:      summary,
				Body:         input.Body,
				Bibliography: input.Bibliography,
				CategoryIDs:  categoryIDs,
			}
			if err := s.revisions.Create(ctx, revision); err != nil {
				return err
			}

			return s.audit.Record(ctx, AuditRecord{
				ActorID:    auth.UserID,
				Action:     models.AuditActionArticleCreated,
				TargetType: models.AuditTargetArticle,
				TargetID:   article.ID,
				Metadata: map[string]any{
					"slug":        article.Slug,
					"revision_id": revision.ID.String(),
				},
			})
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create article: %w", err)
	}

	s.logger.Info("Article created",
		zap.String("article_id", article.ID.String()),
		zap.String("slug", article.Slug),
		zap.String("author_id", auth.UserID.String()))
	return article, revision, nil
}

func (s *revisionService) StartNewRevision(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.Revision, error) {
	if err := requireActive(auth, "start revision"); err != nil {
		return nil, err
	}

	var revision *models.Revision
	err := retry.DoIfRetryable(ctx, s.retryConfig, func() error {
		return s.db.WithTx(ctx, database.Serializable, func(ctx context.Context) error {
			article, err := s.articles.GetByIDForUpdate(ctx, articleID)
			if err != nil {
				return err
			}
			if err := requireAuthor(auth, article, "start revision"); err != nil {
				return err
			}

			live, err := s.revisions.GetLive(ctx, articleID)
			switch {
			case err == nil:
				return &apperrors.LiveRevisionError{RevisionID: live.ID, Status: string(live.Status)}
			case !errors.Is(err, apperrors.ErrNotFound):
				return err
			}

			latest, err := s.revisions.GetLatest(ctx, articleID)
			if err != nil {
				return fmt.Errorf("load latest revision: %w", err)
			}

			revision = &models.Revision{
				ArticleID:    articleID,
				Status:       models.RevisionStatusDraft,
				Title:        latest.Title,
				Summary:      latest.Summary,
				Body:         latest.Body,
				Bibliography: latest.Bibliography,
				CategoryIDs:  slices.Clone(latest.CategoryIDs),
			}
			if err := s.revisions.Create(ctx, revision); err != nil {
				return err
			}

			return s.audit.Record(ctx, AuditRecord{
				ActorID:    auth.UserID,
				Action:     models.AuditActionRevisionCreated,
				TargetType: models.AuditTargetRevision,
				TargetID:   revision.ID,
				Metadata: map[string]any{
					"article_id":         articleID.String(),
					"cloned_revision_id": latest.ID.String(),
				},
			})
		})
	})
	if err != nil {
		var liveErr *apperrors.LiveRevisionError
		if !errors.As(err, &liveErr) && errors.Is(err, apperrors.ErrConflict) {
			// Lost the race on the unique index; report the winner.
			if live, lerr := s.revisions.GetLive(ctx, articleID); lerr == nil {
				err = &apperrors.LiveRevisionError{RevisionID: live.ID, Status: string(live.Status)}
			}
		}
		return nil, fmt.Errorf("start revision: %w", err)
	}

	s.logger.Info("Revision started",
		zap.String("article_id", articleID.String()),
		zap.String("revision_id", revision.ID.String()))
	return revision, nil
}

// lockForAuthor loads a revision FOR UPDATE along with its article and checks
// that the actor is the author.
func (s *revisionService) lockForAuthor(ctx context.Context, auth models.AuthContext, id uuid.UUID, op string) (*models.Revision, *models.Article, error) {
	rev, err := s.revisions.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	article, err := s.articles.GetByID(ctx, rev.ArticleID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireAuthor(auth, article, op); err != nil {
		return nil, nil, err
	}
	return rev, article, nil
}

func (s *revisionService) UpdateRevision(ctx context.Context, auth models.AuthContext, id uuid.UUID, patch models.RevisionPatch) (*models.Revision, error) {
	const op = "update revision"
	if err := requireActive(auth, op); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, apperrors.NewValidationError("", "no fields to update")
	}

	var revision *models.Revision
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		rev, _, err := s.lockForAuthor(ctx, auth, id, op)
		if err != nil {
			return err
		}
		if !rev.Status.IsEditable() {
			return &apperrors.TransitionError{Operation: op, From: string(rev.Status)}
		}

		if patch.Title != nil {
			if rev.Title, err = validateTitle(*patch.Title); err != nil {
				return err
			}
		}
		if patch.Summary != nil {
			if rev.Summary, err = validateSummary(*patch.Summary); err != nil {
				return err
			}
		}
		if patch.Body != nil {
			rev.Body = *patch.Body
		}
		if patch.Bibliography != nil {
			rev.Bibliography = *patch.Bibliography
		}

		if err := s.revisions.UpdateContent(ctx, rev); err != nil {
			return err
		}

		if patch.CategoryIDs != nil {
			categoryIDs, err := s.resolveCategories(ctx, *patch.CategoryIDs)
			if err != nil {
				return err
			}
			if err := s.revisions.ReplaceCategories(ctx, rev.ID, categoryIDs); err != nil {
				return err
			}
			rev.CategoryIDs = categoryIDs
		}

		revision = rev
		return s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     models.AuditActionRevisionUpdated,
			TargetType: models.AuditTargetRevision,
			TargetID:   rev.ID,
			Metadata:   map[string]any{"changed_fields": patch.ChangedFields()},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update revision: %w", err)
	}
	return revision, nil
}

func (s *revisionService) DeleteRevision(ctx context.Context, auth models.AuthContext, id uuid.UUID) error {
	const op = "delete revision"
	if err := requireActive(auth, op); err != nil {
		return err
	}

	articleDeleted := false
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		rev, article, err := s.lockForAuthor(ctx, auth, id, op)
		if err != nil {
			return err
		}
		if rev.Status != models.RevisionStatusDraft {
			return &apperrors.TransitionError{Operation: op, From: string(rev.Status)}
		}

		if err := s.revisions.Delete(ctx, id); err != nil {
			return err
		}

		if !article.IsPublished() {
			remaining, err := s.revisions.CountByArticle(ctx, article.ID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				if err := s.articles.Delete(ctx, article.ID); err != nil {
					return err
				}
				articleDeleted = true
			}
		}

		return s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     models.AuditActionRevisionDeleted,
			TargetType: models.AuditTargetRevision,
			TargetID:   id,
			Metadata: map[string]any{
				"article_id":      article.ID.String(),
				"article_deleted": articleDeleted,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("delete revision: %w", err)
	}

	s.logger.Info("Revision deleted",
		zap.String("revision_id", id.String()),
		zap.Bool("article_deleted", articleDeleted))
	return nil
}

func (s *revisionService) SubmitToReview(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.Revision, error) {
	return s.authorTransition(ctx, auth, id, "submit for review",
		models.RevisionStatusInReview, models.AuditActionRevisionSubmitted)
}

func (s *revisionService) WithdrawFromReview(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.Revision, error) {
	return s.authorTransition(ctx, auth, id, "withdraw from review",
		models.RevisionStatusWithdrawn, models.AuditActionRevisionWithdrawn)
}

func (s *revisionService) authorTransition(ctx context.Context, auth models.AuthContext, id uuid.UUID, op string, to models.RevisionStatus, action models.AuditAction) (*models.Revision, error) {
	if err := requireActive(auth, op); err != nil {
		return nil, err
	}

	var revision *models.Revision
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		rev, _, err := s.lockForAuthor(ctx, auth, id, op)
		if err != nil {
			return err
		}
		if err := s.moveTo(ctx, rev, op, to); err != nil {
			return err
		}
		revision = rev
		return s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     action,
			TargetType: models.AuditTargetRevision,
			TargetID:   rev.ID,
			Metadata:   map[string]any{"article_id": rev.ArticleID.String()},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("Revision status changed",
		zap.String("revision_id", id.String()),
		zap.String("status", string(to)))
	return revision, nil
}

// moveTo checks the transition table and persists the new status on rev.
func (s *revisionService) moveTo(ctx context.Context, rev *models.Revision, op string, to models.RevisionStatus) error {
	if err := transition(op, rev.Status, to); err != nil {
		return err
	}
	at := timeNow()
	if err := s.revisions.UpdateStatus(ctx, rev.ID, to, at); err != nil {
		return err
	}
	rev.Status = to
	rev.StatusChangedAt = at
	return nil
}

func (s *revisionService) GiveFeedback(ctx context.Context, auth models.AuthContext, id uuid.UUID, feedback string) (*models.Revision, error) {
	const op = "give feedback"
	if err := requireReviewer(auth, op); err != nil {
		return nil, err
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, apperrors.NewValidationError("feedback", "is required")
	}

	var revision *models.Revision
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		rev, err := s.revisions.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.moveTo(ctx, rev, op, models.RevisionStatusChangesRequested); err != nil {
			return err
		}

		if err := s.reviewEvents.Create(ctx, &models.ReviewEvent{
			RevisionID: rev.ID,
			ReviewerID: auth.UserID,
			Action:     models.ReviewActionFeedback,
			Feedback:   &feedback,
		}); err != nil {
			return err
		}

		revision = rev
		return s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     models.AuditActionRevisionFeedback,
			TargetType: models.AuditTargetRevision,
			TargetID:   rev.ID,
			Metadata:   map[string]any{"article_id": rev.ArticleID.String()},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("give feedback: %w", err)
	}
	return revision, nil
}

func (s *revisionService) Approve(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.Revision, error) {
	const op = "approve"
	if err := requireReviewer(auth, op); err != nil {
		return nil, err
	}

	var revision *models.Revision
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		rev, err := s.revisions.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.moveTo(ctx, rev, op, models.RevisionStatusApproved); err != nil {
			return err
		}

		if err := s.reviewEvents.Create(ctx, &models.ReviewEvent{
			RevisionID: rev.ID,
			ReviewerID: auth.UserID,
			Action:     models.ReviewActionApprove,
		}); err != nil {
			return err
		}

		revision = rev
		return s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     models.AuditActionRevisionApproved,
			TargetType: models.AuditTargetRevision,
			TargetID:   rev.ID,
			Metadata:   map[string]any{"article_id": rev.ArticleID.String()},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}

	s.logger.Info("Revision approved",
		zap.String("revision_id", id.String()),
		zap.String("reviewer_id", auth.UserID.String()))
	return revision, nil
}

func (s *revisionService) GetRevision(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.RevisionDetail, error) {
	if auth.IsAnonymous() {
		return nil, apperrors.NewPermissionError("view revision", "authentication required")
	}

	rev, err := s.revisions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	article, err := s.articles.GetByID(ctx, rev.ArticleID)
	if err != nil {
		return nil, err
	}
	if article.AuthorID != auth.UserID && !auth.CanReview() {
		return nil, apperrors.NewPermissionError("view revision", "only the author or a reviewer may view drafts")
	}

	events, err := s.reviewEvents.ListByRevision(ctx, id)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.ReviewEvent{}
	}

	return &models.RevisionDetail{
		Revision:          rev,
		Article:           article,
		Events:            events,
		HasUnreadFeedback: hasUnreadFeedback(rev, events),
	}, nil
}

// hasUnreadFeedback reports whether the author has not edited the revision
// since the last feedback was given.
func hasUnreadFeedback(rev *models.Revision, events []*models.ReviewEvent) bool {
	if rev.Status != models.RevisionStatusChangesRequested {
		return false
	}
	for _, ev := range events {
		if ev.Action == models.ReviewActionFeedback && ev.CreatedAt.After(rev.UpdatedAt) {
			return true
		}
	}
	return false
}

func (s *revisionService) ListArticleRevisions(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) ([]*models.Revision, error) {
	if auth.IsAnonymous() {
		return nil, apperrors.NewPermissionError("list revisions", "authentication required")
	}

	article, err := s.articles.GetByID(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if article.AuthorID != auth.UserID && !auth.CanReview() {
		return nil, apperrors.NewPermissionError("list revisions", "only the author or a reviewer may list revisions")
	}

	revisions, err := s.revisions.ListByArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if revisions == nil {
		revisions = []*models.Revision{}
	}
	return revisions, nil
}
