// Package taxonomy loads category trees from YAML seed files.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
)

// Node is one category in a seed file.
type Node struct {
	Name     string  `yaml:"name"`
	Children []*Node `yaml:"children"`
}

// File is the top-level shape of a seed file:
//
//	categories:
//	  - name: Hadith
//	    children:
//	      - name: Sahih al-Bukhari
type File struct {
	Categories []*Node `yaml:"categories"`
}

// CategoryWriter is the subset of the category service seeding needs.
type CategoryWriter interface {
	Tree(ctx context.Context) ([]*models.CategoryNode, error)
	Create(ctx context.Context, auth models.AuthContext, name string, parentID *uuid.UUID) (*models.Category, error)
}

// Parse decodes a seed file. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := validateNodes(f.Categories, "categories"); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseFile reads and decodes the seed file at path.
func ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

func validateNodes(nodes []*Node, path string) error {
	seen := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		field := fmt.Sprintf("%s[%d]", path, i)
		if n == nil || strings.TrimSpace(n.Name) == "" {
			return apperrors.NewValidationError(field, "name is required")
		}
		key := strings.ToLower(strings.TrimSpace(n.Name))
		if seen[key] {
			return apperrors.NewValidationError(field, "duplicate sibling %q", n.Name)
		}
		seen[key] = true
		if err := validateNodes(n.Children, field+".children"); err != nil {
			return err
		}
	}
	return nil
}

// Result counts what a seed run did.
type Result struct {
	Created  int
	Existing int
}

// Seeder creates the categories of a seed file that do not exist yet.
// Categories are matched by case-insensitive name under the same parent,
// so running the same file twice is a no-op.
type Seeder struct {
	categories CategoryWriter
	logger     *zap.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder(categories CategoryWriter, logger *zap.Logger) *Seeder {
	return &Seeder{
		categories: categories,
		logger:     logger.Named("taxonomy-seeder"),
	}
}

type siblingKey struct {
	parent uuid.UUID
	name   string
}

// Seed applies f as auth. auth must be allowed to manage categories.
func (s *Seeder) Seed(ctx context.Context, auth models.AuthContext, f *File) (*Result, error) {
	tree, err := s.categories.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("load category tree: %w", err)
	}

	existing := make(map[siblingKey]uuid.UUID)
	var index func(nodes []*models.CategoryNode, parent uuid.UUID)
	index = func(nodes []*models.CategoryNode, parent uuid.UUID) {
		for _, n := range nodes {
			existing[siblingKey{parent, strings.ToLower(n.Name)}] = n.ID
			index(n.Children, n.ID)
		}
	}
	index(tree, uuid.Nil)

	result := &Result{}
	var apply func(nodes []*Node, parent *uuid.UUID) error
	apply = func(nodes []*Node, parent *uuid.UUID) error {
		parentKey := uuid.Nil
		if parent != nil {
			parentKey = *parent
		}
		for _, n := range nodes {
			name := strings.TrimSpace(n.Name)
			id, ok := existing[siblingKey{parentKey, strings.ToLower(name)}]
			if ok {
				result.Existing++
			} else {
				created, err := s.categories.Create(ctx, auth, name, parent)
				if err != nil {
					return fmt.Errorf("create category %q: %w", name, err)
				}
				id = created.ID
				result.Created++
				s.logger.Info("Category seeded",
					zap.String("category_id", id.String()),
					zap.String("slug", created.Slug))
			}
			if err := apply(n.Children, &id); err != nil {
				return err
			}
		}
		return nil
	}
	if err := apply(f.Categories, nil); err != nil {
		return result, err
	}
	return result, nil
}
