package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/services"
)

// mockFeedService records the last query and returns canned results.
type mockFeedService struct {
	page     *models.Page[*models.FeedItem]
	article  *models.PublishedArticle
	err      error
	calls    int
	captured models.FeedQuery
}

func (m *mockFeedService) ListFeed(ctx context.Context, q models.FeedQuery) (*models.Page[*models.FeedItem], error) {
	m.calls++
	m.captured = q
	if m.err != nil {
		return nil, m.err
	}
	if m.page != nil {
		return m.page, nil
	}
	return &models.Page[*models.FeedItem]{Items: []*models.FeedItem{}}, nil
}

func (m *mockFeedService) GetArticle(ctx context.Context, slug string) (*models.PublishedArticle, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.article == nil || m.article.Article.Slug != slug {
		return nil, apperrors.ErrNotFound
	}
	return m.article, nil
}

// mockCategoryService serves a fixed tree. Mutations are not used by handlers.
type mockCategoryService struct {
	services.CategoryService
	tree []*models.CategoryNode
	err  error
}

func (m *mockCategoryService) Tree(ctx context.Context) ([]*models.CategoryNode, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tree, nil
}

func (m *mockCategoryService) GetBySlug(ctx context.Context, slug string) (*models.Category, error) {
	if m.err != nil {
		return nil, m.err
	}
	var find func(nodes []*models.CategoryNode) *models.Category
	find = func(nodes []*models.CategoryNode) *models.Category {
		for _, n := range nodes {
			if n.Slug == slug {
				return n.Category
			}
			if c := find(n.Children); c != nil {
				return c
			}
		}
		return nil
	}
	if c := find(m.tree); c != nil {
		return c, nil
	}
	return nil, apperrors.ErrNotFound
}

func newCategory(name string, parent *uuid.UUID) *models.Category {
	return &models.Category{ID: uuid.New(), Name: name, Slug: name, ParentID: parent}
}

var (
	_ services.FeedService     = (*mockFeedService)(nil)
	_ services.CategoryService = (*mockCategoryService)(nil)
)
