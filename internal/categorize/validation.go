package categorize

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CategoryRepository lists the categories a row may be assigned.
type CategoryRepository interface {
	ListCategories(ctx context.Context) ([]string, error)
}

// CategoryValidator checks category names against the allowed list.
type CategoryValidator struct {
	categories map[string]string // normalized name -> canonical name
}

// NewCategoryValidator creates a validator from the repository's categories.
func NewCategoryValidator(ctx context.Context, repo CategoryRepository) (*CategoryValidator, error) {
	names, err := repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewCategoryValidator: list categories: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("NewCategoryValidator: no categories configured")
	}

	v := &CategoryValidator{categories: make(map[string]string, len(names))}
	for _, name := range names {
		v.categories[normalizeCategory(name)] = strings.TrimSpace(name)
	}
	return v, nil
}

// ValidateCategory returns the canonical spelling of category, or an error
// when it is not allowed.
func (v *CategoryValidator) ValidateCategory(category string) (string, error) {
	if name, ok := v.categories[normalizeCategory(category)]; ok {
		return name, nil
	}
	return "", fmt.Errorf("invalid category %q. Valid categories: %v", category, v.Names())
}

// Names returns the canonical category names, sorted.
func (v *CategoryValidator) Names() []string {
	names := make([]string, 0, len(v.categories))
	for _, n := range v.categories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// normalizeCategory normalizes a category name for comparison.
// Converts to uppercase and trims whitespace for case-insensitive comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
