package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
)

func TestPublishService_Publish_Twice(t *testing.T) {
	f := newEditorialFixture(t)
	_, d1 := f.createDraft(t, "X")
	f.publishDraft(t, d1.ID)

	_, err := f.publish.Publish(context.Background(), adminAuth, d1.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	var tErr *apperrors.TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "PUBLISHED", tErr.From)
	assert.Equal(t, "PUBLISHED", tErr.To)
}

func TestPublishService_Publish_RequiresAdmin(t *testing.T) {
	f := newEditorialFixture(t)
	ctx := context.Background()
	_, d1 := f.createDraft(t, "X")
	_, err := f.revisions.SubmitToReview(ctx, authorAuth, d1.ID)
	require.NoError(t, err)
	_, err = f.revisions.Approve(ctx, reviewerAuth, d1.ID)
	require.NoError(t, err)

	_, err = f.publish.Publish(ctx, reviewerAuth, d1.ID)
	var permErr *apperrors.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, models.RevisionStatusApproved, f.store.revisions[d1.ID].Status)
}

func TestPublishService_Publish_UpdateKeepsFirstPublishedAt(t *testing.T) {
	f := newEditorialFixture(t)
	ctx := context.Background()
	article, d1 := f.createDraft(t, "X")
	first := f.publishDraft(t, d1.ID)

	d2, err := f.revisions.StartNewRevision(ctx, authorAuth, article.ID)
	require.NoError(t, err)
	_, err = f.revisions.UpdateRevision(ctx, authorAuth, d2.ID, models.RevisionPatch{Title: strPtr("X, revised")})
	require.NoError(t, err)

	timeNow = func() time.Time { return first.Article.LastPublishedAt.Add(time.Hour) }
	t.Cleanup(func() {
		timeNow = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	})

	second := f.publishDraft(t, d2.ID)

	assert.False(t, second.FirstPublish)
	require.NotNil(t, second.PreviousRevisionID)
	assert.Equal(t, d1.ID, *second.PreviousRevisionID)
	assert.Equal(t, *first.Article.FirstPublishedAt, *second.Article.FirstPublishedAt)
	assert.True(t, second.Article.LastPublishedAt.After(*second.Article.FirstPublishedAt))
	assert.Equal(t, d2.ID, *second.Article.PublishedRevisionID)

	// The earlier revision stays PUBLISHED as history.
	assert.Equal(t, models.RevisionStatusPublished, f.store.revisions[d1.ID].Status)

	last := f.auditRepo.entries[len(f.auditRepo.entries)-1]
	assert.Equal(t, models.AuditActionRevisionPublished, last.Action)
	assert.Equal(t, false, last.Metadata["first_publish"])
	assert.Equal(t, d1.ID.String(), last.Metadata["previous_revision_id"])
}

func TestPublishService_GetReviewQueue_Paginates(t *testing.T) {
	f := newEditorialFixture(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		f.queues.review = append(f.queues.review, &models.ReviewQueueItem{
			RevisionID:      uuid.New(),
			Status:          models.RevisionStatusInReview,
			StatusChangedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	page, err := f.publish.GetReviewQueue(context.Background(), reviewerAuth, models.ReviewQueueQuery{Limit: 2})
	require.NoError(t, err)

	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 3, f.queues.capturedFilter.Limit, "fetches limit+1")
	assert.True(t, f.queues.capturedFilter.Ascending, "oldest first by default")
	assert.ElementsMatch(t,
		[]models.RevisionStatus{models.RevisionStatusInReview, models.RevisionStatusChangesRequested},
		f.queues.capturedFilter.Statuses)

	cursor, err := pagination.Decode(page.NextCursor, pagination.KindReviewQueue)
	require.NoError(t, err)
	assert.Equal(t, f.queues.review[1].RevisionID, cursor.ID)
	assert.True(t, f.queues.review[1].StatusChangedAt.Equal(cursor.Time))

	_, err = f.publish.GetReviewQueue(context.Background(), reviewerAuth, models.ReviewQueueQuery{
		Cursor: page.NextCursor,
		Sort:   models.QueueSortNewest,
	})
	require.NoError(t, err)
	require.NotNil(t, f.queues.capturedFilter.After)
	assert.Equal(t, cursor.ID, f.queues.capturedFilter.After.ID)
	assert.False(t, f.queues.capturedFilter.Ascending)
}

func TestPublishService_GetReviewQueue_Rejections(t *testing.T) {
	f := newEditorialFixture(t)
	ctx := context.Background()

	_, err := f.publish.GetReviewQueue(ctx, authorAuth, models.ReviewQueueQuery{})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.publish.GetReviewQueue(ctx, reviewerAuth, models.ReviewQueueQuery{
		Statuses: []models.RevisionStatus{models.RevisionStatusDraft},
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.publish.GetReviewQueue(ctx, reviewerAuth, models.ReviewQueueQuery{Sort: "sideways"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.publish.GetReviewQueue(ctx, reviewerAuth, models.ReviewQueueQuery{Limit: 101})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	// A publish-queue cursor cannot be replayed against the review queue.
	foreign := encodeTestCursor(pagination.KindPublishQueue, time.Now(), uuid.New())
	_, err = f.publish.GetReviewQueue(ctx, reviewerAuth, models.ReviewQueueQuery{Cursor: foreign})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestPublishService_GetPublishQueue(t *testing.T) {
	f := newEditorialFixture(t)
	approver := reviewerID
	f.queues.publish = []*models.PublishQueueItem{{RevisionID: uuid.New(), ApprovedBy: &approver}}

	_, err := f.publish.GetPublishQueue(context.Background(), reviewerAuth, models.PublishQueueQuery{})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	page, err := f.publish.GetPublishQueue(context.Background(), adminAuth, models.PublishQueueQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, []models.RevisionStatus{models.RevisionStatusApproved}, f.queues.capturedFilter.Statuses)
	assert.Equal(t, 21, f.queues.capturedFilter.Limit)
}

func TestPublishService_SetArticleStatus(t *testing.T) {
	f := newEditorialFixture(t)
	ctx := context.Background()
	article, d1 := f.createDraft(t, "X")
	f.publishDraft(t, d1.ID)

	_, err := f.publish.SetArticleStatus(ctx, adminAuth, article.ID, models.ArticleStatusRemoved, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation, "removal needs a reason")

	_, err = f.publish.SetArticleStatus(ctx, reviewerAuth, article.ID, models.ArticleStatusRemoved, "spam")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	updated, err := f.publish.SetArticleStatus(ctx, adminAuth, article.ID, models.ArticleStatusRemoved, "spam")
	require.NoError(t, err)
	assert.Equal(t, models.ArticleStatusRemoved, updated.Status)

	last := f.auditRepo.entries[len(f.auditRepo.entries)-1]
	assert.Equal(t, models.AuditActionArticleRemoved, last.Action)
	require.NotNil(t, last.Reason)
	assert.Equal(t, "spam", *last.Reason)

	_, err = f.publish.SetArticleStatus(ctx, adminAuth, article.ID, models.ArticleStatusRemoved, "again")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	restored, err := f.publish.SetArticleStatus(ctx, adminAuth, article.ID, models.ArticleStatusPublished, "")
	require.NoError(t, err)
	assert.Equal(t, models.ArticleStatusPublished, restored.Status)
	assert.Equal(t, models.AuditActionArticleRestored, f.auditRepo.entries[len(f.auditRepo.entries)-1].Action)
}
