package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/logger"
)

const (
	// DefaultModelName is the Gemini model used for categorization.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultBatchSize bounds how many rows go into one prompt.
	DefaultBatchSize = 50
)

// Generator sends a prompt to a language model and returns its text reply.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenAIGenerator is the Generator backed by the Gemini API. Credentials come
// from the environment (GOOGLE_API_KEY or Vertex AI settings).
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator creates a Gemini client for model.
func NewGenAIGenerator(ctx context.Context, model string) (*GenAIGenerator, error) {
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGenAIGenerator: create genai client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

// Generate implements Generator.
func (g *GenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Generate: empty response from model")
	}
	return text, nil
}

// GeminiCategorizer asks a model to pick one allowed category per order.
// Answers outside the allowed list are dropped.
type GeminiCategorizer struct {
	gen       Generator
	validator *CategoryValidator
	batchSize int
}

// NewGeminiCategorizer creates a categorizer constrained by validator.
func NewGeminiCategorizer(gen Generator, validator *CategoryValidator) *GeminiCategorizer {
	return &GeminiCategorizer{gen: gen, validator: validator, batchSize: DefaultBatchSize}
}

// Categorize implements Categorizer.
func (g *GeminiCategorizer) Categorize(ctx context.Context, rows []domain.LedgerRow) ([]domain.LedgerRow, error) {
	log := logger.FromContext(ctx)

	out := make([]domain.LedgerRow, len(rows))
	copy(out, rows)

	var pending []int
	for i := range out {
		if out[i].Category == "" {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += g.batchSize {
		end := start + g.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		items := make([]promptItem, 0, len(batch))
		for _, i := range batch {
			items = append(items, promptItem{
				OrderID:     out[i].OrderID,
				Description: out[i].Description,
				Amount:      out[i].Amount,
				Currency:    out[i].Currency,
			})
		}

		prompt, err := buildCategorizePrompt(g.validator.Names(), items)
		if err != nil {
			return nil, fmt.Errorf("Categorize: %w", err)
		}
		raw, err := g.gen.Generate(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("Categorize: %w", err)
		}

		var answers map[string]string
		if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &answers); err != nil {
			return nil, fmt.Errorf("Categorize: unmarshal JSON: %w\nraw response: %s", err, raw)
		}

		for _, i := range batch {
			answer := strings.TrimSpace(answers[out[i].OrderID])
			if answer == "" {
				continue
			}
			name, err := g.validator.ValidateCategory(answer)
			if err != nil {
				log.Warn().
					Str("order_id", out[i].OrderID).
					Str("category", answer).
					Msg("Model returned a category outside the allowed list, ignoring")
				continue
			}
			out[i].Category = name
		}
	}

	return out, nil
}

// cleanModelJSON strips Markdown fences and any text around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
