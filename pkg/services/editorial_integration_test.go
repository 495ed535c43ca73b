//go:build integration

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
	"github.com/ekaya-inc/ekaya-press/pkg/testhelpers"
)

type editorialStack struct {
	auditRepo  repositories.AuditRepository
	categories CategoryService
	revisions  RevisionService
	publish    PublishService
	feeds      FeedService
	engagement EngagementService
}

func setupEditorialStack(t *testing.T) *editorialStack {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	testDB.Reset(t)
	db := testDB.DB
	logger := zap.NewNop()

	users := repositories.NewUserRepository(db)
	for _, id := range []uuid.UUID{authorID, otherID, reviewerID, adminID} {
		require.NoError(t, users.Upsert(context.Background(), &models.User{ID: id, DisplayName: id.String()[30:]}))
	}

	articles := repositories.NewArticleRepository(db)
	revisions := repositories.NewRevisionRepository(db)
	categoryRepo := repositories.NewCategoryRepository(db)
	feedRepo := repositories.NewFeedRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	audit := NewAuditService(auditRepo, logger)
	limits := pagination.Limits{Default: 20, Max: 100}

	categories := NewCategoryService(&CategoryServiceDeps{
		DB:       db,
		Repo:     categoryRepo,
		Audit:    audit,
		MaxDepth: 3,
		Logger:   logger,
	})
	return &editorialStack{
		auditRepo:  auditRepo,
		categories: categories,
		revisions: NewRevisionService(&RevisionServiceDeps{
			DB:            db,
			Articles:      articles,
			Revisions:     revisions,
			ReviewEvents:  repositories.NewReviewEventRepository(db),
			Categories:    categoryRepo,
			Audit:         audit,
			MaxCategories: 5,
			Logger:        logger,
		}),
		publish: NewPublishService(&PublishServiceDeps{
			DB:        db,
			Articles:  articles,
			Revisions: revisions,
			Queues:    repositories.NewQueueRepository(db),
			Audit:     audit,
			Limits:    limits,
			Logger:    logger,
		}),
		feeds: NewFeedService(&FeedServiceDeps{
			Feeds:           feedRepo,
			Categories:      categories,
			Limits:          limits,
			MaxSearchLength: 200,
			Logger:          logger,
		}),
		engagement: NewEngagementService(db, repositories.NewEngagementRepository(db), feedRepo, users, logger),
	}
}

func TestEditorialLifecycle_EndToEnd(t *testing.T) {
	s := setupEditorialStack(t)
	ctx := context.Background()

	fiqh, err := s.categories.Create(ctx, adminAuth, "Fiqh", nil)
	require.NoError(t, err)
	purity, err := s.categories.Create(ctx, adminAuth, "Purity", &fiqh.ID)
	require.NoError(t, err)

	article, draft, err := s.revisions.CreateArticleWithDraft(ctx, authorAuth, models.CreateArticleInput{
		Title:       "Ritual Purity",
		Body:        "On wudu and ghusl.",
		CategoryIDs: []uuid.UUID{purity.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "ritual-purity", article.Slug)

	_, err = s.revisions.SubmitToReview(ctx, authorAuth, draft.ID)
	require.NoError(t, err)

	queue, err := s.publish.GetReviewQueue(ctx, reviewerAuth, models.ReviewQueueQuery{})
	require.NoError(t, err)
	require.Len(t, queue.Items, 1)
	assert.Equal(t, draft.ID, queue.Items[0].RevisionID)

	_, err = s.revisions.Approve(ctx, reviewerAuth, draft.ID)
	require.NoError(t, err)

	result, err := s.publish.Publish(ctx, adminAuth, draft.ID)
	require.NoError(t, err)
	assert.True(t, result.FirstPublish)

	page, err := s.feeds.ListFeed(ctx, models.FeedQuery{Sort: models.FeedSortNew, Category: "fiqh"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, article.ID, page.Items[0].ArticleID)

	liked, err := s.engagement.Like(ctx, otherAuth, article.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), liked.Count)

	reader, err := s.engagement.ReaderState(ctx, otherAuth, article.ID)
	require.NoError(t, err)
	assert.True(t, reader.Liked)
	assert.False(t, reader.Saved)

	published, err := s.feeds.GetArticle(ctx, "ritual-purity")
	require.NoError(t, err)
	assert.Equal(t, "Ritual Purity", published.Revision.Title)
	assert.Equal(t, int64(1), published.Article.LikeCount)

	// Deleting the tree moves the article to the system category.
	deleted, err := s.categories.DeleteSubtree(ctx, adminAuth, fiqh.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted.DeletedCount)

	published, err = s.feeds.GetArticle(ctx, "ritual-purity")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{systemCategoryID}, published.Revision.CategoryIDs)

	_, err = s.feeds.ListFeed(ctx, models.FeedQuery{Category: "fiqh"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	entries, err := s.auditRepo.List(ctx, repositories.AuditFilter{
		Actions: []models.AuditAction{models.AuditActionRevisionPublished},
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].Metadata["first_publish"])
}

func TestRevisionService_StartNewRevision_Race(t *testing.T) {
	s := setupEditorialStack(t)
	ctx := context.Background()

	_, draft, err := s.revisions.CreateArticleWithDraft(ctx, authorAuth, models.CreateArticleInput{Title: "Race"})
	require.NoError(t, err)
	_, err = s.revisions.SubmitToReview(ctx, authorAuth, draft.ID)
	require.NoError(t, err)
	_, err = s.revisions.Approve(ctx, reviewerAuth, draft.ID)
	require.NoError(t, err)
	published, err := s.publish.Publish(ctx, adminAuth, draft.ID)
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.revisions.StartNewRevision(ctx, authorAuth, published.Article.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		var liveErr *apperrors.LiveRevisionError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &liveErr):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)
}

func TestRedisDescendantCache(t *testing.T) {
	client := testhelpers.GetTestRedis(t)
	cache := NewDescendantCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()
	root := uuid.New()
	ids := []uuid.UUID{root, uuid.New()}

	_, gen, ok := cache.Get(ctx, root)
	assert.False(t, ok)

	cache.Set(ctx, gen, root, ids)
	got, _, ok := cache.Get(ctx, root)
	require.True(t, ok)
	assert.Equal(t, ids, got)

	cache.Invalidate(ctx)
	_, _, ok = cache.Get(ctx, root)
	assert.False(t, ok)

	// A set written under the generation it was read at stays orphaned.
	cache.Set(ctx, gen, root, ids)
	_, _, ok = cache.Get(ctx, root)
	assert.False(t, ok)
}
