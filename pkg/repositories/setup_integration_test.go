//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/testhelpers"
)

// systemCategoryID is seeded by migration 002.
var systemCategoryID = uuid.MustParse("00000000-0000-7000-8000-000000000001")

// repoTestContext bundles every repository over a freshly reset database.
type repoTestContext struct {
	t          *testing.T
	db         *database.DB
	users      UserRepository
	articles   ArticleRepository
	revisions  RevisionRepository
	categories CategoryRepository
	engagement EngagementRepository
	feeds      FeedRepository
	audit      AuditRepository
}

func setupRepoTest(t *testing.T) *repoTestContext {
	testDB := testhelpers.GetTestDB(t)
	testDB.Reset(t)
	db := testDB.DB
	return &repoTestContext{
		t:          t,
		db:         db,
		users:      NewUserRepository(db),
		articles:   NewArticleRepository(db),
		revisions:  NewRevisionRepository(db),
		categories: NewCategoryRepository(db),
		engagement: NewEngagementRepository(db),
		feeds:      NewFeedRepository(db),
		audit:      NewAuditRepository(db),
	}
}

func (tc *repoTestContext) createUser(name string) uuid.UUID {
	tc.t.Helper()
	u := &models.User{ID: newID(), DisplayName: name}
	require.NoError(tc.t, tc.users.Upsert(context.Background(), u))
	return u.ID
}

func (tc *repoTestContext) createCategory(slug string, parent *uuid.UUID) *models.Category {
	tc.t.Helper()
	c := &models.Category{Name: slug, Slug: slug, ParentID: parent}
	require.NoError(tc.t, tc.categories.Create(context.Background(), c))
	return c
}

func (tc *repoTestContext) createArticle(authorID uuid.UUID, slug string, status models.RevisionStatus, categoryIDs ...uuid.UUID) (*models.Article, *models.Revision) {
	tc.t.Helper()
	ctx := context.Background()
	if len(categoryIDs) == 0 {
		categoryIDs = []uuid.UUID{systemCategoryID}
	}

	article := &models.Article{AuthorID: authorID, Slug: slug}
	require.NoError(tc.t, tc.articles.Create(ctx, article))

	rev := &models.Revision{
		ArticleID:   article.ID,
		Status:      status,
		Title:       slug,
		CategoryIDs: categoryIDs,
	}
	require.NoError(tc.t, tc.revisions.Create(ctx, rev))
	return article, rev
}

// publishArticle creates an article whose published revision went live at at.
func (tc *repoTestContext) publishArticle(authorID uuid.UUID, slug string, at time.Time, categoryIDs ...uuid.UUID) *models.Article {
	tc.t.Helper()
	article, rev := tc.createArticle(authorID, slug, models.RevisionStatusPublished, categoryIDs...)
	published, err := tc.articles.MarkPublished(context.Background(), article.ID, rev.ID, at.UTC().Truncate(time.Microsecond))
	require.NoError(tc.t, err)
	return published
}
