package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
)

const categoryColumns = `id, name, slug, parent_id, is_system, created_at, updated_at`

// categoryTreeLockKey serialises structural changes to the category forest.
const categoryTreeLockKey = "press_category_tree"

// CategoryRepository provides data access for categories and their closure table.
type CategoryRepository interface {
	// LockTree takes a transaction-scoped advisory lock over the whole forest.
	LockTree(ctx context.Context) error

	// Create inserts a category and its closure rows (self plus one per ancestor).
	Create(ctx context.Context, category *models.Category) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error)
	GetBySlug(ctx context.Context, slug string) (*models.Category, error)

	// GetSystem returns the undeletable fallback category.
	GetSystem(ctx context.Context) (*models.Category, error)

	// List returns every category.
	List(ctx context.Context) ([]*models.Category, error)

	SlugExists(ctx context.Context, slug string) (bool, error)

	// CountExisting returns how many of ids exist.
	CountExisting(ctx context.Context, ids []uuid.UUID) (int, error)

	// Depth returns the level of a category; roots are at depth 1.
	Depth(ctx context.Context, id uuid.UUID) (int, error)

	// SubtreeHeight returns the longest path from id to a descendant; leaves are 0.
	SubtreeHeight(ctx context.Context, id uuid.UUID) (int, error)

	// Descendants returns id and all of its descendants.
	Descendants(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)

	// Rename changes the display name only.
	Rename(ctx context.Context, id uuid.UUID, name string) error

	// Move re-attaches the subtree rooted at id under newParentID (nil for root)
	// and rewrites the closure rows linking it to its ancestors.
	Move(ctx context.Context, id uuid.UUID, newParentID *uuid.UUID) error

	// DeleteSubtree removes the categories in ids along with their closure rows
	// and revision links. Revisions left without any category are linked to
	// fallbackID. Returns the number of revisions reassigned.
	DeleteSubtree(ctx context.Context, ids []uuid.UUID, fallbackID uuid.UUID) (int, error)
}

type categoryRepository struct {
	db *database.DB
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db *database.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

var _ CategoryRepository = (*categoryRepository)(nil)

func (r *categoryRepository) LockTree(ctx context.Context) error {
	if _, ok := database.GetTx(ctx); !ok {
		return errors.New("category tree lock requires a transaction")
	}
	_, err := r.db.Querier(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, categoryTreeLockKey)
	if err != nil {
		return fmt.Errorf("failed to lock category tree: %w", err)
	}
	return nil
}

func (r *categoryRepository) Create(ctx context.Context, category *models.Category) error {
	if category.ID == uuid.Nil {
		category.ID = newID()
	}
	ts := now()
	category.CreatedAt = ts
	category.UpdatedAt = ts

	q := r.db.Querier(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO press_categories (id, name, slug, parent_id, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		category.ID, category.Name, category.Slug, category.ParentID, category.IsSystem,
		category.CreatedAt, category.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "press_categories_slug_key") {
			return &apperrors.SlugTakenError{Slug: category.Slug}
		}
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("parent category: %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to create category: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO press_category_closure (ancestor_id, descendant_id, depth)
		SELECT ancestor_id, $1::uuid, depth + 1
		FROM press_category_closure
		WHERE descendant_id = $2::uuid
		UNION ALL
		SELECT $1::uuid, $1::uuid, 0`,
		category.ID, category.ParentID)
	if err != nil {
		return fmt.Errorf("failed to create category closure: %w", err)
	}

	return nil
}

func (r *categoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	row := r.db.Querier(ctx).QueryRow(ctx, `SELECT `+categoryColumns+` FROM press_categories WHERE id = $1`, id)
	return scanCategoryRow(row)
}

func (r *categoryRepository) GetBySlug(ctx context.Context, slug string) (*models.Category, error) {
	row := r.db.Querier(ctx).QueryRow(ctx, `SELECT `+categoryColumns+` FROM press_categories WHERE slug = $1`, slug)
	return scanCategoryRow(row)
}

func (r *categoryRepository) GetSystem(ctx context.Context) (*models.Category, error) {
	row := r.db.Querier(ctx).QueryRow(ctx, `SELECT `+categoryColumns+` FROM press_categories WHERE is_system`)
	return scanCategoryRow(row)
}

func (r *categoryRepository) List(ctx context.Context) ([]*models.Category, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `SELECT `+categoryColumns+` FROM press_categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		c, err := scanCategoryRow(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

func (r *categoryRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM press_categories WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check category slug: %w", err)
	}
	return exists, nil
}

func (r *categoryRepository) CountExisting(ctx context.Context, ids []uuid.UUID) (int, error) {
	var count int
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM press_categories WHERE id = ANY($1)`, ids).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count categories: %w", err)
	}
	return count, nil
}

func (r *categoryRepository) Depth(ctx context.Context, id uuid.UUID) (int, error) {
	var depth int
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM press_category_closure WHERE descendant_id = $1`, id).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to compute category depth: %w", err)
	}
	if depth == 0 {
		return 0, apperrors.ErrNotFound
	}
	return depth, nil
}

func (r *categoryRepository) SubtreeHeight(ctx context.Context, id uuid.UUID) (int, error) {
	var height int
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(depth), 0) FROM press_category_closure WHERE ancestor_id = $1`, id).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("failed to compute subtree height: %w", err)
	}
	return height, nil
}

func (r *categoryRepository) Descendants(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `
		SELECT descendant_id
		FROM press_category_closure
		WHERE ancestor_id = $1
		ORDER BY depth, descendant_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query descendants: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var d uuid.UUID
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan descendant: %w", err)
		}
		ids = append(ids, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating descendants: %w", err)
	}
	if len(ids) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return ids, nil
}

func (r *categoryRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.db.Querier(ctx).Exec(ctx,
		`UPDATE press_categories SET name = $2, updated_at = $3 WHERE id = $1`, id, name, now())
	if err != nil {
		return fmt.Errorf("failed to rename category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *categoryRepository) Move(ctx context.Context, id uuid.UUID, newParentID *uuid.UUID) error {
	q := r.db.Querier(ctx)

	// Detach the subtree from every ancestor outside it.
	_, err := q.Exec(ctx, `
		DELETE FROM press_category_closure
		WHERE descendant_id IN (SELECT descendant_id FROM press_category_closure WHERE ancestor_id = $1)
		  AND ancestor_id NOT IN (SELECT descendant_id FROM press_category_closure WHERE ancestor_id = $1)`,
		id)
	if err != nil {
		return fmt.Errorf("failed to detach category subtree: %w", err)
	}

	if newParentID != nil {
		_, err = q.Exec(ctx, `
			INSERT INTO press_category_closure (ancestor_id, descendant_id, depth)
			SELECT p.ancestor_id, c.descendant_id, p.depth + c.depth + 1
			FROM press_category_closure p
			CROSS JOIN press_category_closure c
			WHERE p.descendant_id = $2 AND c.ancestor_id = $1`,
			id, *newParentID)
		if err != nil {
			return fmt.Errorf("failed to attach category subtree: %w", err)
		}
	}

	tag, err := q.Exec(ctx,
		`UPDATE press_categories SET parent_id = $2, updated_at = $3 WHERE id = $1`, id, newParentID, now())
	if err != nil {
		return fmt.Errorf("failed to update category parent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *categoryRepository) DeleteSubtree(ctx context.Context, ids []uuid.UUID, fallbackID uuid.UUID) (int, error) {
	q := r.db.Querier(ctx)

	rows, err := q.Query(ctx, `
		WITH removed AS (
			DELETE FROM press_revision_categories
			WHERE category_id = ANY($1)
			RETURNING revision_id
		)
		SELECT DISTINCT revision_id FROM removed`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to detach revisions from categories: %w", err)
	}
	affected, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return 0, fmt.Errorf("failed to collect affected revisions: %w", err)
	}

	reassigned := 0
	if len(affected) > 0 {
		tag, err := q.Exec(ctx, `
			INSERT INTO press_revision_categories (revision_id, category_id)
			SELECT r, $2 FROM unnest($1::uuid[]) AS r
			WHERE NOT EXISTS (
				SELECT 1 FROM press_revision_categories rc WHERE rc.revision_id = r
			)`, affected, fallbackID)
		if err != nil {
			return 0, fmt.Errorf("failed to reassign orphaned revisions: %w", err)
		}
		reassigned = int(tag.RowsAffected())
	}

	if _, err := q.Exec(ctx, `
		DELETE FROM press_category_closure
		WHERE ancestor_id = ANY($1) OR descendant_id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("failed to delete category closure: %w", err)
	}

	if _, err := q.Exec(ctx, `DELETE FROM press_categories WHERE id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("failed to delete categories: %w", err)
	}

	return reassigned, nil
}

func scanCategoryRow(row pgx.Row) (*models.Category, error) {
	var c models.Category
	err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID, &c.IsSystem, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}
	return &c, nil
}
