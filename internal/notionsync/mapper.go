package notionsync

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/order-ledger/internal/domain"
)

// Property names of the ledger database.
const (
	PropDescription = "Description"
	PropDate        = "Date"
	PropAmount      = "Amount"
	PropCurrency    = "Currency"
	PropCategory    = "Category"
	PropTags        = "Tags"
	PropOrderID     = "Order ID"
	PropRowKey      = "Row Key"
	PropAmbiguous   = "Ambiguous"
)

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

// LedgerRowToNotionProperties converts a ledger row to Notion page properties.
// Category and Tags are only set when the row carries them.
func LedgerRowToNotionProperties(row domain.LedgerRow) notionapi.Properties {
	amount, _ := row.Value.Float64()
	date := notionapi.Date(time.Date(row.OrderDate.Year(), row.OrderDate.Month(), row.OrderDate.Day(), 0, 0, 0, 0, time.UTC))

	props := notionapi.Properties{
		PropDescription: notionapi.TitleProperty{Title: richText(row.Description)},
		PropDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &date},
		},
		PropAmount: notionapi.NumberProperty{Number: amount},
		PropCurrency: notionapi.SelectProperty{
			Select: notionapi.Option{Name: row.Currency},
		},
		PropOrderID:   notionapi.RichTextProperty{RichText: richText(row.OrderID)},
		PropRowKey:    notionapi.RichTextProperty{RichText: richText(row.Key())},
		PropAmbiguous: notionapi.CheckboxProperty{Checkbox: row.Ambiguous},
	}

	if row.Category != "" {
		props[PropCategory] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: row.Category},
		}
	}

	if len(row.Tags) > 0 {
		opts := make([]notionapi.Option, 0, len(row.Tags))
		for _, tag := range row.Tags {
			opts = append(opts, notionapi.Option{Name: tag})
		}
		props[PropTags] = notionapi.MultiSelectProperty{MultiSelect: opts}
	}

	return props
}

// extractRowKey reads the row key back from a queried page. Returns empty
// string if not found.
func extractRowKey(page notionapi.Page) string {
	prop, ok := page.Properties[PropRowKey]
	if !ok {
		return ""
	}
	switch p := prop.(type) {
	case *notionapi.RichTextProperty:
		return plainText(p.RichText)
	case notionapi.RichTextProperty:
		return plainText(p.RichText)
	}
	return ""
}

func plainText(rt []notionapi.RichText) string {
	if len(rt) == 0 {
		return ""
	}
	if rt[0].PlainText != "" {
		return rt[0].PlainText
	}
	if rt[0].Text != nil {
		return rt[0].Text.Content
	}
	return ""
}
