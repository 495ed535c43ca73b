package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
)

// FeedService serves public, keyset-paginated article feeds.
type FeedService interface {
	// ListFeed returns one page of eligible articles.
	ListFeed(ctx context.Context, q models.FeedQuery) (*models.Page[*models.FeedItem], error)

	// GetArticle returns the published view of an article and counts the view.
	GetArticle(ctx context.Context, slug string) (*models.PublishedArticle, error)
}

// FeedServiceDeps contains dependencies for FeedService.
type FeedServiceDeps struct {
	Feeds           repositories.FeedRepository
	Categories      CategoryService
	Limits          pagination.Limits
	MaxSearchLength int
	Logger          *zap.Logger
}

type feedService struct {
	feeds           repositories.FeedRepository
	categories      CategoryService
	limits          pagination.Limits
	maxSearchLength int
	logger          *zap.Logger
}

// NewFeedService creates a new FeedService.
func NewFeedService(deps *FeedServiceDeps) FeedService {
	return &feedService{
		feeds:           deps.Feeds,
		categories:      deps.Categories,
		limits:          deps.Limits,
		maxSearchLength: deps.MaxSearchLength,
		logger:          deps.Logger.Named("feed-service"),
	}
}

var _ FeedService = (*feedService)(nil)

func (s *feedService) ListFeed(ctx context.Context, q models.FeedQuery) (*models.Page[*models.FeedItem], error) {
	filter, kind, err := s.buildFilter(ctx, q)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	filter.Limit = limit + 1
	items, err := s.feeds.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}

	items, hasMore := pagination.Trim(items, limit)
	page := &models.Page[*models.FeedItem]{Items: items, HasMore: hasMore}
	if page.Items == nil {
		page.Items = []*models.FeedItem{}
	}
	if hasMore {
		last := items[len(items)-1]
		page.NextCursor = pagination.Encode(pagination.Cursor{
			Kind:  kind,
			Time:  last.LastPublishedAt,
			ID:    last.ArticleID,
			Likes: last.LikeCount,
		})
	}
	return page, nil
}

// buildFilter turns the caller's query into a typed repository filter.
func (s *feedService) buildFilter(ctx context.Context, q models.FeedQuery) (repositories.FeedFilter, pagination.Kind, error) {
	var filter repositories.FeedFilter
	var kind pagination.Kind

	switch q.Sort {
	case "", models.FeedSortNew:
		filter.Order = repositories.FeedOrderRecent
		kind = pagination.KindFeedRecent
	case models.FeedSortPopular:
		filter.Order = repositories.FeedOrderPopular
		kind = pagination.KindFeedPopular
	default:
		return filter, "", apperrors.NewValidationError("sort", "must be %q or %q", models.FeedSortNew, models.FeedSortPopular)
	}

	limit, err := s.limits.Resolve(q.Limit)
	if err != nil {
		return filter, "", err
	}
	filter.Limit = limit

	if filter.After, err = pagination.DecodeOptional(q.Cursor, kind); err != nil {
		return filter, "", err
	}

	if q.Category != "" {
		ids, err := s.categories.Descendants(ctx, q.Category)
		if err != nil {
			return filter, "", fmt.Errorf("resolve category %q: %w", q.Category, err)
		}
		filter.CategoryIDs = ids
	}

	text := strings.TrimSpace(q.Text)
	if s.maxSearchLength > 0 && utf8.RuneCountInString(text) > s.maxSearchLength {
		return filter, "", apperrors.NewValidationError("q", "must be at most %d characters", s.maxSearchLength)
	}
	filter.Text = text

	filter.AuthorID = q.AuthorID
	filter.FollowerID = q.FollowedBy
	filter.Since = q.Since
	filter.Until = q.Until

	if err := filter.Validate(); err != nil {
		return filter, "", err
	}
	return filter, kind, nil
}

func (s *feedService) GetArticle(ctx context.Context, slug string) (*models.PublishedArticle, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, apperrors.NewValidationError("slug", "is required")
	}

	article, err := s.feeds.GetPublished(ctx, slug)
	if err != nil {
		return nil, err
	}

	if err := s.feeds.IncrementViews(ctx, article.Article.ID); err != nil {
		return nil, err
	}
	article.Article.ViewCount++
	return article, nil
}
