package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
)

// fakeTxRunner runs fn directly and records the options of each transaction.
type fakeTxRunner struct {
	opts []pgx.TxOptions
}

func (f *fakeTxRunner) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	f.opts = append(f.opts, opts)
	return fn(ctx)
}

// memClock hands out strictly increasing timestamps.
type memClock struct {
	mu sync.Mutex
	t  time.Time
}

func newMemClock() *memClock {
	return &memClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *memClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// mockAuditRepository keeps entries in memory.
type mockAuditRepository struct {
	entries   []*models.AuditLogEntry
	createErr error
	listErr   error

	capturedFilter repositories.AuditFilter
	listResult     []*models.AuditLogEntry
}

func (m *mockAuditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepository) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLogEntry, error) {
	m.capturedFilter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listResult, nil
}

func (m *mockAuditRepository) actions() []models.AuditAction {
	out := make([]models.AuditAction, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

// memEditorial backs the article, revision and review event mocks with one
// in-memory store so services see consistent state across repositories.
type memEditorial struct {
	clock     *memClock
	articles  map[uuid.UUID]*models.Article
	revisions map[uuid.UUID]*models.Revision
	revOrder  []uuid.UUID
	events    []*models.ReviewEvent

	// beforeCreateArticle runs before an article insert.
	beforeCreateArticle func(article *models.Article)
	// beforeCreateRevision runs before a revision insert; a non-nil error aborts it.
	beforeCreateRevision func() error
}

func newMemEditorial() *memEditorial {
	return &memEditorial{
		clock:     newMemClock(),
		articles:  map[uuid.UUID]*models.Article{},
		revisions: map[uuid.UUID]*models.Revision{},
	}
}

func copyArticle(a *models.Article) *models.Article {
	c := *a
	return &c
}

func copyRevision(r *models.Revision) *models.Revision {
	c := *r
	c.CategoryIDs = slices.Clone(r.CategoryIDs)
	return &c
}

type memArticleRepository struct{ s *memEditorial }

func (m memArticleRepository) Create(ctx context.Context, article *models.Article) error {
	if m.s.beforeCreateArticle != nil {
		m.s.beforeCreateArticle(article)
	}
	for _, a := range m.s.articles {
		if a.Slug == article.Slug {
			return &apperrors.SlugTakenError{Slug: article.Slug}
		}
	}
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}
	ts := m.s.clock.now()
	article.CreatedAt = ts
	article.UpdatedAt = ts
	m.s.articles[article.ID] = copyArticle(article)
	return nil
}

func (m memArticleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	a, ok := m.s.articles[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyArticle(a), nil
}

func (m memArticleRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	return m.GetByID(ctx, id)
}

func (m memArticleRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	for _, a := range m.s.articles {
		if a.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m memArticleRepository) MarkPublished(ctx context.Context, id, revisionID uuid.UUID, at time.Time) (*models.Article, error) {
	a, ok := m.s.articles[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	a.PublishedRevisionID = &revisionID
	a.LastPublishedAt = &at
	if a.FirstPublishedAt == nil {
		first := at
		a.FirstPublishedAt = &first
	}
	a.UpdatedAt = at
	return copyArticle(a), nil
}

func (m memArticleRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.ArticleStatus) error {
	a, ok := m.s.articles[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	a.Status = status
	return nil
}

func (m memArticleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.s.articles[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.s.articles, id)
	for revID, r := range m.s.revisions {
		if r.ArticleID == id {
			delete(m.s.revisions, revID)
		}
	}
	return nil
}

type memRevisionRepository struct{ s *memEditorial }

func (m memRevisionRepository) Create(ctx context.Context, rev *models.Revision) error {
	if m.s.beforeCreateRevision != nil {
		if err := m.s.beforeCreateRevision(); err != nil {
			return err
		}
	}
	if rev.Status.IsLive() {
		for _, r := range m.s.revisions {
			if r.ArticleID == rev.ArticleID && r.Status.IsLive() {
				return apperrors.ErrConflict
			}
		}
	}
	if rev.ID == uuid.Nil {
		rev.ID = uuid.New()
	}
	ts := m.s.clock.now()
	rev.CreatedAt = ts
	rev.UpdatedAt = ts
	rev.StatusChangedAt = ts
	m.s.revisions[rev.ID] = copyRevision(rev)
	m.s.revOrder = append(m.s.revOrder, rev.ID)
	return nil
}

func (m memRevisionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Revision, error) {
	r, ok := m.s.revisions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyRevision(r), nil
}

func (m memRevisionRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Revision, error) {
	return m.GetByID(ctx, id)
}

func (m memRevisionRepository) GetLive(ctx context.Context, articleID uuid.UUID) (*models.Revision, error) {
	for _, r := range m.s.revisions {
		if r.ArticleID == articleID && r.Status.IsLive() {
			return copyRevision(r), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m memRevisionRepository) GetLatest(ctx context.Context, articleID uuid.UUID) (*models.Revision, error) {
	for i := len(m.s.revOrder) - 1; i >= 0; i-- {
		if r, ok := m.s.revisions[m.s.revOrder[i]]; ok && r.ArticleID == articleID {
			return copyRevision(r), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m memRevisionRepository) ListByArticle(ctx context.Context, articleID uuid.UUID) ([]*models.Revision, error) {
	var out []*models.Revision
	for i := len(m.s.revOrder) - 1; i >= 0; i-- {
		if r, ok := m.s.revisions[m.s.revOrder[i]]; ok && r.ArticleID == articleID {
			out = append(out, copyRevision(r))
		}
	}
	return out, nil
}

func (m memRevisionRepository) CountByArticle(ctx context.Context, articleID uuid.UUID) (int, error) {
	count := 0
	for _, r := range m.s.revisions {
		if r.ArticleID == articleID {
			count++
		}
	}
	return count, nil
}

func (m memRevisionRepository) UpdateContent(ctx context.Context, rev *models.Revision) error {
	r, ok := m.s.revisions[rev.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	rev.UpdatedAt = m.s.clock.now()
	r.Title, r.Summary, r.Body, r.Bibliography = rev.Title, rev.Summary, rev.Body, rev.Bibliography
	r.UpdatedAt = rev.UpdatedAt
	return nil
}

func (m memRevisionRepository) ReplaceCategories(ctx context.Context, revisionID uuid.UUID, categoryIDs []uuid.UUID) error {
	r, ok := m.s.revisions[revisionID]
	if !ok {
		return apperrors.ErrNotFound
	}
	r.CategoryIDs = slices.Clone(categoryIDs)
	return nil
}

func (m memRevisionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.RevisionStatus, at time.Time) error {
	r, ok := m.s.revisions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	r.Status = status
	r.StatusChangedAt = at
	return nil
}

func (m memRevisionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.s.revisions[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.s.revisions, id)
	return nil
}

type memReviewEventRepository struct{ s *memEditorial }

func (m memReviewEventRepository) Create(ctx context.Context, event *models.ReviewEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = m.s.clock.now()
	c := *event
	m.s.events = append(m.s.events, &c)
	return nil
}

func (m memReviewEventRepository) ListByRevision(ctx context.Context, revisionID uuid.UUID) ([]*models.ReviewEvent, error) {
	var out []*models.ReviewEvent
	for _, ev := range m.s.events {
		if ev.RevisionID == revisionID {
			c := *ev
			out = append(out, &c)
		}
	}
	return out, nil
}

// memCategoryRepository is an in-memory forest. Closure queries are answered
// by walking parent pointers.
type memCategoryRepository struct {
	categories map[uuid.UUID]*models.Category
	locks      int
	reassigned int

	deletedIDs []uuid.UUID
	fallbackID uuid.UUID

	// afterDescendants runs once the closure has been read.
	afterDescendants func()
}

func newMemCategoryRepository() *memCategoryRepository {
	m := &memCategoryRepository{categories: map[uuid.UUID]*models.Category{}}
	m.categories[systemCategoryID] = &models.Category{
		ID:       systemCategoryID,
		Name:     "Uncategorized",
		Slug:     "uncategorized",
		IsSystem: true,
	}
	return m
}

var systemCategoryID = uuid.MustParse("00000000-0000-7000-8000-000000000001")

func (m *memCategoryRepository) add(name string, parent *uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.categories[id] = &models.Category{ID: id, Name: name, Slug: name, ParentID: parent}
	return id
}

func (m *memCategoryRepository) LockTree(ctx context.Context) error {
	m.locks++
	return nil
}

func (m *memCategoryRepository) Create(ctx context.Context, category *models.Category) error {
	if category.ParentID != nil {
		if _, ok := m.categories[*category.ParentID]; !ok {
			return apperrors.ErrNotFound
		}
	}
	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}
	c := *category
	m.categories[c.ID] = &c
	return nil
}

func (m *memCategoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCategoryRepository) GetBySlug(ctx context.Context, slug string) (*models.Category, error) {
	for _, c := range m.categories {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memCategoryRepository) GetSystem(ctx context.Context) (*models.Category, error) {
	return m.GetByID(ctx, systemCategoryID)
}

func (m *memCategoryRepository) List(ctx context.Context) ([]*models.Category, error) {
	var out []*models.Category
	for _, c := range m.categories {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memCategoryRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := m.GetBySlug(ctx, slug)
	return err == nil, nil
}

func (m *memCategoryRepository) CountExisting(ctx context.Context, ids []uuid.UUID) (int, error) {
	count := 0
	for _, id := range ids {
		if _, ok := m.categories[id]; ok {
			count++
		}
	}
	return count, nil
}

func (m *memCategoryRepository) Depth(ctx context.Context, id uuid.UUID) (int, error) {
	c, ok := m.categories[id]
	if !ok {
		return 0, apperrors.ErrNotFound
	}
	depth := 1
	for c.ParentID != nil {
		c = m.categories[*c.ParentID]
		depth++
	}
	return depth, nil
}

func (m *memCategoryRepository) SubtreeHeight(ctx context.Context, id uuid.UUID) (int, error) {
	height := 0
	for _, c := range m.categories {
		if c.ParentID != nil && *c.ParentID == id {
			h, _ := m.SubtreeHeight(ctx, c.ID)
			height = max(height, h+1)
		}
	}
	return height, nil
}

func (m *memCategoryRepository) Descendants(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	if _, ok := m.categories[id]; !ok {
		return nil, apperrors.ErrNotFound
	}
	out := []uuid.UUID{id}
	for i := 0; i < len(out); i++ {
		for _, c := range m.categories {
			if c.ParentID != nil && *c.ParentID == out[i] {
				out = append(out, c.ID)
			}
		}
	}
	if m.afterDescendants != nil {
		m.afterDescendants()
	}
	return out, nil
}

func (m *memCategoryRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	c, ok := m.categories[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.Name = name
	return nil
}

func (m *memCategoryRepository) Move(ctx context.Context, id uuid.UUID, newParentID *uuid.UUID) error {
	c, ok := m.categories[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.ParentID = newParentID
	return nil
}

func (m *memCategoryRepository) DeleteSubtree(ctx context.Context, ids []uuid.UUID, fallbackID uuid.UUID) (int, error) {
	m.deletedIDs = ids
	m.fallbackID = fallbackID
	for _, id := range ids {
		delete(m.categories, id)
	}
	return m.reassigned, nil
}

// fakeDescendantCache is a map-backed DescendantCache.
type fakeDescendantCache struct {
	entries       map[uuid.UUID][]uuid.UUID
	hits          int
	invalidations int
}

func newFakeDescendantCache() *fakeDescendantCache {
	return &fakeDescendantCache{entries: map[uuid.UUID][]uuid.UUID{}}
}

func (c *fakeDescendantCache) Get(ctx context.Context, id uuid.UUID) ([]uuid.UUID, int64, bool) {
	ids, ok := c.entries[id]
	if ok {
		c.hits++
	}
	return ids, 0, ok
}

func (c *fakeDescendantCache) Set(ctx context.Context, gen int64, id uuid.UUID, ids []uuid.UUID) {
	c.entries[id] = ids
}

func (c *fakeDescendantCache) Invalidate(ctx context.Context) {
	c.invalidations++
	c.entries = map[uuid.UUID][]uuid.UUID{}
}

// mockQueueRepository returns canned queue rows.
type mockQueueRepository struct {
	review  []*models.ReviewQueueItem
	publish []*models.PublishQueueItem

	capturedFilter repositories.QueueFilter
}

func (m *mockQueueRepository) ListReview(ctx context.Context, filter repositories.QueueFilter) ([]*models.ReviewQueueItem, error) {
	m.capturedFilter = filter
	return limitRows(m.review, filter.Limit), nil
}

func (m *mockQueueRepository) ListPublish(ctx context.Context, filter repositories.QueueFilter) ([]*models.PublishQueueItem, error) {
	m.capturedFilter = filter
	return limitRows(m.publish, filter.Limit), nil
}

func limitRows[T any](rows []T, limit int) []T {
	if len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// mockFeedRepository returns canned feed rows.
type mockFeedRepository struct {
	items     []*models.FeedItem
	published *models.PublishedArticle
	eligible  map[uuid.UUID]bool
	views     map[uuid.UUID]int

	capturedFilter repositories.FeedFilter
}

func (m *mockFeedRepository) List(ctx context.Context, filter repositories.FeedFilter) ([]*models.FeedItem, error) {
	m.capturedFilter = filter
	return limitRows(m.items, filter.Limit), nil
}

func (m *mockFeedRepository) GetPublished(ctx context.Context, slug string) (*models.PublishedArticle, error) {
	if m.published == nil || m.published.Article.Slug != slug {
		return nil, apperrors.ErrNotFound
	}
	return m.published, nil
}

func (m *mockFeedRepository) IsEligible(ctx context.Context, articleID uuid.UUID) (bool, error) {
	return m.eligible[articleID], nil
}

func (m *mockFeedRepository) IncrementViews(ctx context.Context, articleID uuid.UUID) error {
	if m.views == nil {
		m.views = map[uuid.UUID]int{}
	}
	m.views[articleID]++
	return nil
}

// mockEngagementRepository tracks reactions and follows in sets.
type mockEngagementRepository struct {
	reactions map[string]bool
	counts    map[uuid.UUID]int64
	follows   map[[2]uuid.UUID]bool
}

func newMockEngagementRepository() *mockEngagementRepository {
	return &mockEngagementRepository{
		reactions: map[string]bool{},
		counts:    map[uuid.UUID]int64{},
		follows:   map[[2]uuid.UUID]bool{},
	}
}

func reactionKey(kind models.ReactionKind, userID, articleID uuid.UUID) string {
	return string(kind) + "|" + userID.String() + "|" + articleID.String()
}

func (m *mockEngagementRepository) AddReaction(ctx context.Context, kind models.ReactionKind, userID, articleID uuid.UUID) (bool, int64, error) {
	key := reactionKey(kind, userID, articleID)
	if m.reactions[key] {
		return false, m.counts[articleID], nil
	}
	m.reactions[key] = true
	m.counts[articleID]++
	return true, m.counts[articleID], nil
}

func (m *mockEngagementRepository) RemoveReaction(ctx context.Context, kind models.ReactionKind, userID, articleID uuid.UUID) (bool, int64, error) {
	key := reactionKey(kind, userID, articleID)
	if !m.reactions[key] {
		return false, m.counts[articleID], nil
	}
	delete(m.reactions, key)
	m.counts[articleID] = max(m.counts[articleID]-1, 0)
	return true, m.counts[articleID], nil
}

func (m *mockEngagementRepository) HasReaction(ctx context.Context, kind models.ReactionKind, userID, articleID uuid.UUID) (bool, error) {
	return m.reactions[reactionKey(kind, userID, articleID)], nil
}

func (m *mockEngagementRepository) Follow(ctx context.Context, followerID, followeeID uuid.UUID) (bool, error) {
	key := [2]uuid.UUID{followerID, followeeID}
	if m.follows[key] {
		return false, nil
	}
	m.follows[key] = true
	return true, nil
}

func (m *mockEngagementRepository) Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) (bool, error) {
	key := [2]uuid.UUID{followerID, followeeID}
	if !m.follows[key] {
		return false, nil
	}
	delete(m.follows, key)
	return true, nil
}

// mockUserRepository keeps users in a map.
type mockUserRepository struct {
	users map[uuid.UUID]*models.User
}

func newMockUserRepository(users ...*models.User) *mockUserRepository {
	m := &mockUserRepository{users: map[uuid.UUID]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepository) Upsert(ctx context.Context, user *models.User) error {
	if existing, ok := m.users[user.ID]; ok {
		existing.DisplayName = user.DisplayName
		user.IsBanned = existing.IsBanned
		return nil
	}
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *mockUserRepository) SetBanned(ctx context.Context, id uuid.UUID, banned bool) (bool, error) {
	u, ok := m.users[id]
	if !ok {
		return false, apperrors.ErrNotFound
	}
	previous := u.IsBanned
	u.IsBanned = banned
	return previous, nil
}

var (
	_ repositories.AuditRepository       = (*mockAuditRepository)(nil)
	_ repositories.ArticleRepository     = memArticleRepository{}
	_ repositories.RevisionRepository    = memRevisionRepository{}
	_ repositories.ReviewEventRepository = memReviewEventRepository{}
	_ repositories.CategoryRepository    = (*memCategoryRepository)(nil)
	_ repositories.QueueRepository       = (*mockQueueRepository)(nil)
	_ repositories.FeedRepository        = (*mockFeedRepository)(nil)
	_ repositories.EngagementRepository  = (*mockEngagementRepository)(nil)
	_ repositories.UserRepository        = (*mockUserRepository)(nil)
	_ DescendantCache                    = (*fakeDescendantCache)(nil)
)

// Test identities.
var (
	authorID   = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	otherID    = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	reviewerID = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
	adminID    = uuid.MustParse("00000000-0000-0000-0000-0000000000c1")

	authorAuth   = models.AuthContext{UserID: authorID, Roles: []models.Role{models.RoleAuthor}}
	otherAuth    = models.AuthContext{UserID: otherID, Roles: []models.Role{models.RoleAuthor}}
	reviewerAuth = models.AuthContext{UserID: reviewerID, Roles: []models.Role{models.RoleReviewer}}
	adminAuth    = models.AuthContext{UserID: adminID, Roles: []models.Role{models.RoleAdmin}}
)

func encodeTestCursor(kind pagination.Kind, at time.Time, id uuid.UUID) string {
	return pagination.Encode(pagination.Cursor{Kind: kind, Time: at, ID: id})
}
