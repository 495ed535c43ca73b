package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
	"github.com/ekaya-inc/ekaya-press/pkg/slug"
)

const maxCategoryNameLength = 100

// CategoryService manages the category forest. Every mutation is admin only,
// serialised by a tree-wide lock and recorded in the audit ledger.
type CategoryService interface {
	// Create adds a category under parentID, or a root when parentID is nil.
	Create(ctx context.Context, auth models.AuthContext, name string, parentID *uuid.UUID) (*models.Category, error)

	// Rename changes the display name. The slug is kept.
	Rename(ctx context.Context, auth models.AuthContext, id uuid.UUID, name string) (*models.Category, error)

	// Reparent moves a subtree under newParentID, or to the root when nil.
	Reparent(ctx context.Context, auth models.AuthContext, id uuid.UUID, newParentID *uuid.UUID) (*models.Category, error)

	// DeleteSubtree removes a category and all its descendants. Revisions that
	// lose their last category are moved to the system category.
	DeleteSubtree(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.DeleteSubtreeResult, error)

	// Descendants resolves a category by id or slug and returns it together
	// with all of its descendants.
	Descendants(ctx context.Context, idOrSlug string) ([]uuid.UUID, error)

	// Tree returns the forest with the system category first and siblings
	// ordered by name.
	Tree(ctx context.Context) ([]*models.CategoryNode, error)

	GetBySlug(ctx context.Context, slug string) (*models.Category, error)
	List(ctx context.Context) ([]*models.Category, error)
}

// CategoryServiceDeps contains dependencies for CategoryService.
type CategoryServiceDeps struct {
	DB       database.TxRunner
	Repo     repositories.CategoryRepository
	Audit    AuditService
	Cache    DescendantCache // Optional: nil disables caching
	Slugs    *slug.Generator
	MaxDepth int
	Logger   *zap.Logger
}

type categoryService struct {
	db       database.TxRunner
	repo     repositories.CategoryRepository
	audit    AuditService
	cache    DescendantCache
	slugs    *slug.Generator
	maxDepth int
	logger   *zap.Logger
}

// NewCategoryService creates a new CategoryService.
func NewCategoryService(deps *CategoryServiceDeps) CategoryService {
	cache := deps.Cache
	if cache == nil {
		cache = noopDescendantCache{}
	}
	slugs := deps.Slugs
	if slugs == nil {
		slugs = slug.NewGenerator(0, 0)
	}
	return &categoryService{
		db:       deps.DB,
		repo:     deps.Repo,
		audit:    deps.Audit,
		cache:    cache,
		slugs:    slugs,
		maxDepth: deps.MaxDepth,
		logger:   deps.Logger.Named("category-service"),
	}
}

var _ CategoryService = (*categoryService)(nil)

func validateCategoryName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.NewValidationError("name", "is required")
	}
	if utf8.RuneCountInString(name) > maxCategoryNameLength {
		return "", apperrors.NewValidationError("name", "must be at most %d characters", maxCategoryNameLength)
	}
	return name, nil
}

// parentDepth returns the depth of parentID, or 0 for the root level.
func (s *categoryService) parentDepth(ctx context.Context, parentID *uuid.UUID) (int, error) {
	if parentID == nil {
		return 0, nil
	}
	parent, err := s.repo.GetByID(ctx, *parentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, apperrors.NewValidationError("parent_id", "parent category does not exist")
		}
		return 0, err
	}
	if parent.IsSystem {
		return 0, apperrors.NewValidationError("parent_id", "the system category cannot have children")
	}
	return s.repo.Depth(ctx, *parentID)
}

func (s *categoryService) Create(ctx context.Context, auth models.AuthContext, name string, parentID *uuid.UUID) (*models.Category, error) {
	if err := requireAdmin(auth, "create category"); err != nil {
		return nil, err
	}
	name, err := validateCategoryName(name)
	if err != nil {
		return nil, err
	}

	var category *models.Category
	err = s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		if err := s.repo.LockTree(ctx); err != nil {
			return err
		}

		depth, err := s.parentDepth(ctx, parentID)
		if err != nil {
			return err
		}
		if depth+1 > s.maxDepth {
			return apperrors.NewValidationError("parent_id", "category would exceed the maximum depth of %d", s.maxDepth)
		}

		categorySlug, err := s.slugs.Generate(ctx, name, s.repo.SlugExists)
		if err != nil {
			return err
		}

		category = &models.Category{
			Name:     name,
			Slug:     categorySlug,
			ParentID: parentID,
		}
		if err := s.repo.Create(ctx, category); err != nil {
			return err
		}

		metadata := map[string]any{"name": name, "slug": categorySlug}
		if parentID != nil {
			metadata["parent_id"] = parentID.String()
		}
		return s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     models.AuditActionCategoryCreated,
			TargetType: models.AuditTargetCategory,
			TargetID:   category.ID,
			Metadata:   metadata,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}

	s.cache.Invalidate(ctx)
	s.logger.Info("Category created",
		zap.String("category_id", category.ID.String()),
		zap.String("slug", category.Slug))
	return category, nil
}

func (s *categoryService) Rename(ctx context.Context, auth models.AuthContext, id uuid.UUID, name string) (*models.Category, error) {
	if err := requireAdmin(auth, "rename category"); err != nil {
		return nil, err
	}
	name, err := validateCategoryName(name)
	if err != nil {
		return nil, err
	}

	var category *models.Category
	err = s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		if err := s.repo.LockTree(ctx); err != nil {
			return err
		}

		existing, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.repo.Rename(ctx, id, name); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     models.AuditActionCategoryRenamed,
			TargetType: models.AuditTargetCategory,
			TargetID:   id,
			Metadata:   map[string]any{"old_name": existing.Name, "new_name": name},
		}); err != nil {
			return err
		}

		category, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rename category: %w", err)
	}

	s.cache.Invalidate(ctx)
	return category, nil
}

func (s *categoryService) Reparent(ctx context.Context, auth models.AuthContext, id uuid.UUID, newParentID *uuid.UUID) (*models.Category, error) {
	if err := requireAdmin(auth, "move category"); err != nil {
		return nil, err
	}

	var category *models.Category
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		if err := s.repo.LockTree(ctx); err != nil {
			return err
		}

		existing, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing.IsSystem {
			return apperrors.NewPermissionError("move category", "the system category cannot be moved")
		}

		if newParentID != nil {
			subtree, err := s.repo.Descendants(ctx, id)
			if err != nil {
				return err
			}
			if slices.Contains(subtree, *newParentID) {
				return apperrors.NewValidationError("parent_id", "a category cannot be moved under itself or its descendants")
			}
		}

		depth, err := s.parentDepth(ctx, newParentID)
		if err != nil {
			return err
		}
		height, err := s.repo.SubtreeHeight(ctx, id)
		if err != nil {
			return err
		}
		if depth+1+height > s.maxDepth {
			return apperrors.NewValidationError("parent_id", "subtree would exceed the maximum depth of %d", s.maxDepth)
		}

		if err := s.repo.Move(ctx, id, newParentID); err != nil {
			return err
		}

		metadata := map[string]any{"old_parent_id": idOrNil(existing.ParentID), "new_parent_id": idOrNil(newParentID)}
		if err := s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     models.AuditActionCategoryReparented,
			TargetType: models.AuditTargetCategory,
			TargetID:   id,
			Metadata:   metadata,
		}); err != nil {
			return err
		}

		category, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("move category: %w", err)
	}

	s.cache.Invalidate(ctx)
	s.logger.Info("Category moved",
		zap.String("category_id", id.String()),
		zap.Any("new_parent_id", newParentID))
	return category, nil
}

func (s *categoryService) DeleteSubtree(ctx context.Context, auth models.AuthContext, id uuid.UUID) (*models.DeleteSubtreeResult, error) {
	if err := requireAdmin(auth, "delete category"); err != nil {
		return nil, err
	}

	var result *models.DeleteSubtreeResult
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		if err := s.repo.LockTree(ctx); err != nil {
			return err
		}

		existing, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing.IsSystem {
			return apperrors.NewPermissionError("delete category", "the system category cannot be deleted")
		}

		system, err := s.repo.GetSystem(ctx)
		if err != nil {
			return fmt.Errorf("load system category: %w", err)
		}

		ids, err := s.repo.Descendants(ctx, id)
		if err != nil {
			return err
		}

		reassigned, err := s.repo.DeleteSubtree(ctx, ids, system.ID)
		if err != nil {
			return err
		}

		result = &models.DeleteSubtreeResult{
			DeletedIDs:      ids,
			DeletedCount:    len(ids),
			ReassignedCount: reassigned,
		}
		return s.audit.Record(ctx, AuditRecord{
			ActorID:    auth.UserID,
			Action:     models.AuditActionCategorySubtreeDeleted,
			TargetType: models.AuditTargetCategory,
			TargetID:   id,
			Metadata: map[string]any{
				"name":             existing.Name,
				"deleted_count":    len(ids),
				"reassigned_count": reassigned,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("delete category subtree: %w", err)
	}

	s.cache.Invalidate(ctx)
	s.logger.Info("Category subtree deleted",
		zap.String("category_id", id.String()),
		zap.Int("deleted_count", result.DeletedCount),
		zap.Int("reassigned_count", result.ReassignedCount))
	return result, nil
}

func (s *categoryService) Descendants(ctx context.Context, idOrSlug string) ([]uuid.UUID, error) {
	id, err := s.resolve(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}

	cached, gen, ok := s.cache.Get(ctx, id)
	if ok {
		return cached, nil
	}

	ids, err := s.repo.Descendants(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, gen, id, ids)
	return ids, nil
}

// resolve accepts a category id or slug. A UUID-shaped value that is not an
// id is still tried as a slug.
func (s *categoryService) resolve(ctx context.Context, idOrSlug string) (uuid.UUID, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return uuid.Nil, apperrors.NewValidationError("category", "is required")
	}
	if id, err := uuid.Parse(idOrSlug); err == nil {
		category, err := s.repo.GetByID(ctx, id)
		if err == nil {
			return category.ID, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return uuid.Nil, err
		}
	}
	category, err := s.repo.GetBySlug(ctx, idOrSlug)
	if err != nil {
		return uuid.Nil, err
	}
	return category.ID, nil
}

func (s *categoryService) Tree(ctx context.Context) ([]*models.CategoryNode, error) {
	categories, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return buildCategoryTree(categories), nil
}

func (s *categoryService) GetBySlug(ctx context.Context, slug string) (*models.Category, error) {
	return s.repo.GetBySlug(ctx, slug)
}

func (s *categoryService) List(ctx context.Context) ([]*models.Category, error) {
	return s.repo.List(ctx)
}

// buildCategoryTree assembles the forest from a flat list. Nodes whose parent
// is missing from the list are treated as roots.
func buildCategoryTree(categories []*models.Category) []*models.CategoryNode {
	nodes := make(map[uuid.UUID]*models.CategoryNode, len(categories))
	for _, c := range categories {
		nodes[c.ID] = &models.CategoryNode{Category: c, Children: []*models.CategoryNode{}}
	}

	roots := []*models.CategoryNode{}
	for _, c := range categories {
		node := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortCategoryNodes(roots)
	return roots
}

func sortCategoryNodes(nodes []*models.CategoryNode) {
	slices.SortFunc(nodes, compareCategoryNodes)
	for _, n := range nodes {
		sortCategoryNodes(n.Children)
	}
}

func compareCategoryNodes(a, b *models.CategoryNode) int {
	if a.IsSystem != b.IsSystem {
		if a.IsSystem {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

func idOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
