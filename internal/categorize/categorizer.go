// Package categorize fills the category column of ledger rows, either from
// keyword rules or from a Gemini model constrained to the same category list.
package categorize

import (
	"context"
	"strings"

	"github.com/dvloznov/order-ledger/internal/domain"
)

// Categorizer assigns categories to rows that do not have one yet. Rows that
// already carry a category are returned unchanged.
type Categorizer interface {
	Categorize(ctx context.Context, rows []domain.LedgerRow) ([]domain.LedgerRow, error)
}

// KeywordCategorizer matches case-insensitive keywords against descriptions.
// The first matching rule wins.
type KeywordCategorizer struct {
	rules *RuleSet
}

// NewKeywordCategorizer creates a categorizer over rules.
func NewKeywordCategorizer(rules *RuleSet) *KeywordCategorizer {
	return &KeywordCategorizer{rules: rules}
}

// Categorize implements Categorizer.
func (k *KeywordCategorizer) Categorize(ctx context.Context, rows []domain.LedgerRow) ([]domain.LedgerRow, error) {
	out := make([]domain.LedgerRow, len(rows))
	copy(out, rows)
	for i := range out {
		if out[i].Category != "" {
			continue
		}
		if name, ok := k.Match(out[i].Description); ok {
			out[i].Category = name
		} else if k.rules.Default != "" {
			out[i].Category = k.rules.Default
		}
	}
	return out, nil
}

// Match returns the category of the first rule with a keyword in description.
func (k *KeywordCategorizer) Match(description string) (string, bool) {
	desc := strings.ToLower(description)
	for _, rule := range k.rules.Categories {
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(desc, kw) {
				return rule.Name, true
			}
		}
	}
	return "", false
}

// Chain runs categorizers in order; later ones only see rows the earlier ones
// left empty.
func Chain(cs ...Categorizer) Categorizer {
	return chain(cs)
}

type chain []Categorizer

func (c chain) Categorize(ctx context.Context, rows []domain.LedgerRow) ([]domain.LedgerRow, error) {
	var err error
	for _, cat := range c {
		if rows, err = cat.Categorize(ctx, rows); err != nil {
			return nil, err
		}
	}
	return rows, nil
}
