package categorize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/order-ledger/internal/domain"
)

const rulesYAML = `
default: Uncategorized
categories:
  - name: Electronics
    keywords: [cavo, USB, hdmi]
  - name: Books
    keywords: [libro]
`

func mustRules(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := ParseRules([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("ParseRules() error = %v", err)
	}
	return rs
}

func TestParseRules(t *testing.T) {
	rs := mustRules(t)
	if rs.Default != "Uncategorized" || len(rs.Categories) != 2 {
		t.Fatalf("Unexpected rules: %+v", rs)
	}
	names, _ := rs.ListCategories(context.Background())
	if strings.Join(names, ",") != "Electronics,Books,Uncategorized" {
		t.Errorf("ListCategories() = %v", names)
	}

	bad := []string{
		"categories: [{keywords: [x]}]",
		"categories: [{name: A}, {name: a}]",
		"categories: {",
	}
	for _, doc := range bad {
		if _, err := ParseRules([]byte(doc)); err == nil {
			t.Errorf("ParseRules(%q) expected error", doc)
		}
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.yaml")
	if err := os.WriteFile(path, []byte(rulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(path); err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if _, err := LoadRules(path + ".missing"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestKeywordCategorizer(t *testing.T) {
	rows := []domain.LedgerRow{
		{OrderID: "1", Description: "Cavo HDMI 2m"},
		{OrderID: "2", Description: "Libro di cucina"},
		{OrderID: "3", Description: "Caffè in grani"},
		{OrderID: "4", Description: "Hub usb", Category: "Office"},
	}

	got, err := NewKeywordCategorizer(mustRules(t)).Categorize(context.Background(), rows)
	if err != nil {
		t.Fatalf("Categorize() error = %v", err)
	}

	want := []string{"Electronics", "Books", "Uncategorized", "Office"}
	for i, w := range want {
		if got[i].Category != w {
			t.Errorf("row %s category = %q, want %q", got[i].OrderID, got[i].Category, w)
		}
	}
	if rows[0].Category != "" {
		t.Error("Categorize mutated its input")
	}
}

func TestCategoryValidator(t *testing.T) {
	v, err := NewCategoryValidator(context.Background(), mustRules(t))
	if err != nil {
		t.Fatalf("NewCategoryValidator() error = %v", err)
	}

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"Electronics", "Electronics", false},
		{"  electronics ", "Electronics", false},
		{"BOOKS", "Books", false},
		{"Garden", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := v.ValidateCategory(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCategory(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateCategory(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

type emptyRepo struct{}

func (emptyRepo) ListCategories(ctx context.Context) ([]string, error) { return nil, nil }

func TestCategoryValidator_NoCategories(t *testing.T) {
	if _, err := NewCategoryValidator(context.Background(), emptyRepo{}); err == nil {
		t.Error("Expected error for empty category list")
	}
}

// mockGenerator records prompts and replies with canned text.
type mockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	prompts      []string
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.GenerateFunc(ctx, prompt)
}

func TestGeminiCategorizer(t *testing.T) {
	v, _ := NewCategoryValidator(context.Background(), mustRules(t))
	gen := &mockGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "```json\n{\"A1\": \"electronics\", \"A2\": \"Garden\"}\n```", nil
	}}

	rows := []domain.LedgerRow{
		{OrderID: "A1", Description: "Cavo USB", Amount: "-25.50", Currency: "EUR"},
		{OrderID: "A2", Description: "Rastrello", Amount: "-9.00", Currency: "EUR"},
		{OrderID: "A3", Description: "Libro", Category: "Books"},
	}

	got, err := NewGeminiCategorizer(gen, v).Categorize(context.Background(), rows)
	if err != nil {
		t.Fatalf("Categorize() error = %v", err)
	}
	if got[0].Category != "Electronics" {
		t.Errorf("A1 category = %q, want Electronics", got[0].Category)
	}
	if got[1].Category != "" {
		t.Errorf("A2 category = %q, want it dropped", got[1].Category)
	}
	if got[2].Category != "Books" {
		t.Errorf("A3 category = %q, want it untouched", got[2].Category)
	}

	if len(gen.prompts) != 1 {
		t.Fatalf("Expected one prompt, got %d", len(gen.prompts))
	}
	if strings.Contains(gen.prompts[0], "A3") || !strings.Contains(gen.prompts[0], "Cavo USB") {
		t.Errorf("Prompt should only list uncategorized rows:\n%s", gen.prompts[0])
	}
}

func TestGeminiCategorizer_Batches(t *testing.T) {
	v, _ := NewCategoryValidator(context.Background(), mustRules(t))
	gen := &mockGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "{}", nil
	}}
	c := NewGeminiCategorizer(gen, v)
	c.batchSize = 2

	rows := make([]domain.LedgerRow, 5)
	for i := range rows {
		rows[i] = domain.LedgerRow{OrderID: string(rune('A' + i)), Description: "x"}
	}
	if _, err := c.Categorize(context.Background(), rows); err != nil {
		t.Fatalf("Categorize() error = %v", err)
	}
	if len(gen.prompts) != 3 {
		t.Errorf("Expected 3 batches, got %d", len(gen.prompts))
	}
}

func TestGeminiCategorizer_Errors(t *testing.T) {
	v, _ := NewCategoryValidator(context.Background(), mustRules(t))
	rows := []domain.LedgerRow{{OrderID: "A1", Description: "x"}}

	failing := &mockGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("quota exceeded")
	}}
	if _, err := NewGeminiCategorizer(failing, v).Categorize(context.Background(), rows); err == nil {
		t.Error("Expected generator error to propagate")
	}

	garbage := &mockGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "I think it is Electronics", nil
	}}
	if _, err := NewGeminiCategorizer(garbage, v).Categorize(context.Background(), rows); err == nil {
		t.Error("Expected JSON error for non-JSON reply")
	}
}

func TestChain(t *testing.T) {
	v, _ := NewCategoryValidator(context.Background(), mustRules(t))
	gen := &mockGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return `{"2": "Books"}`, nil
	}}
	rs := mustRules(t)
	rs.Default = ""

	c := Chain(NewKeywordCategorizer(rs), NewGeminiCategorizer(gen, v))
	got, err := c.Categorize(context.Background(), []domain.LedgerRow{
		{OrderID: "1", Description: "Cavo USB"},
		{OrderID: "2", Description: "Il nome della rosa"},
	})
	if err != nil {
		t.Fatalf("Categorize() error = %v", err)
	}
	if got[0].Category != "Electronics" || got[1].Category != "Books" {
		t.Errorf("Unexpected categories: %q, %q", got[0].Category, got[1].Category)
	}
	if strings.Contains(gen.prompts[0], "Cavo USB") {
		t.Error("Model was asked about a row the keyword rules already categorized")
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a": "b"}`, `{"a": "b"}`},
		{"fenced", "```json\n{\"a\": \"b\"}\n```", `{"a": "b"}`},
		{"chatty", "Here you go: {\"a\": \"b\"} hope it helps", `{"a": "b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.input); got != tt.want {
				t.Errorf("cleanModelJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}
