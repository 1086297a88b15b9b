package categorize

import (
	"encoding/json"
	"fmt"
	"strings"
)

type promptItem struct {
	OrderID     string `json:"order_id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

// buildCategorizePrompt lists the allowed categories and the orders to
// classify, formatted for LLM consumption.
func buildCategorizePrompt(categories []string, items []promptItem) (string, error) {
	if len(categories) == 0 {
		return "", fmt.Errorf("buildCategorizePrompt: no categories")
	}
	orders, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("buildCategorizePrompt: encode orders: %w", err)
	}

	var b strings.Builder
	b.WriteString("You classify online shop orders (mostly Amazon Italy, descriptions may be Italian) into spending categories.\n\n")
	b.WriteString("Use ONLY the following Categories:\n\n")
	for _, c := range categories {
		b.WriteString("  - " + c + "\n")
	}
	b.WriteString("\nOrders:\n")
	b.Write(orders)
	b.WriteString("\n\n")

	b.WriteString("CATEGORY ASSIGNMENT RULES:\n")
	b.WriteString("1. Category must be EXACTLY one of the category names shown above (case-sensitive).\n")
	b.WriteString("2. Classify by the product described, not by the amount.\n")
	b.WriteString("3. If you are unsure, omit the order from the answer.\n\n")

	b.WriteString("Return ONLY a JSON object mapping order_id to category, e.g. {\"402-123\": \"Electronics\"}.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Do NOT use ```json or any Markdown.\n")
	b.WriteString("Output must begin with \"{\" and end with \"}\".\n")

	return b.String(), nil
}
