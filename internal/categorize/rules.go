package categorize

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps a category to the keywords that select it.
type Rule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// RuleSet is the contents of a categories file:
//
//	default: Uncategorized
//	categories:
//	  - name: Electronics
//	    keywords: [cavo, usb, hdmi]
type RuleSet struct {
	Default    string `yaml:"default"`
	Categories []Rule `yaml:"categories"`
}

// LoadRules reads a YAML categories file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRules: %w", err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("LoadRules: %s: %w", path, err)
	}
	return rs, nil
}

// ParseRules decodes and checks a categories document.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	seen := make(map[string]bool)
	for i, r := range rs.Categories {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, fmt.Errorf("category %d has no name", i)
		}
		if seen[normalizeCategory(name)] {
			return nil, fmt.Errorf("category %q is listed twice", name)
		}
		seen[normalizeCategory(name)] = true
		rs.Categories[i].Name = name
	}
	rs.Default = strings.TrimSpace(rs.Default)
	return &rs, nil
}

// ListCategories returns every category name, the default included.
func (rs *RuleSet) ListCategories(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(rs.Categories)+1)
	for _, r := range rs.Categories {
		names = append(names, r.Name)
	}
	if rs.Default != "" {
		names = append(names, rs.Default)
	}
	return names, nil
}
