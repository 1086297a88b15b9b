package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/order-ledger/internal/config"
	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/locale"
)

// ProcessStep is a single normalization step. Applying a step twice has the
// same effect as applying it once.
type ProcessStep interface {
	Name() string
	Apply(state *ProcessState) error
}

// ProcessState holds the working set shared across steps.
type ProcessState struct {
	Settings config.Settings
	Items    []*WorkItem
	Rows     []domain.LedgerRow
	Report   *Report

	// OnError decides what happens to a record that cannot be mapped.
	OnError func(*domain.ProcessingError) error
}

// WorkItem is a record on its way to becoming a ledger row.
type WorkItem struct {
	Record    *domain.OrderRecord
	Ambiguous bool
	Date      string // output-formatted date, set by DateFormatStep
}

// Step 1: DeduplicateStep collapses exact duplicates and flags ids whose
// records disagree on content.
type DeduplicateStep struct{}

func (s *DeduplicateStep) Name() string { return "deduplicate" }

func (s *DeduplicateStep) Apply(state *ProcessState) error {
	def := state.Settings.DefaultCurrency
	seen := make(map[string]bool, len(state.Items))
	variants := make(map[string]map[string]bool)

	kept := state.Items[:0]
	for _, item := range state.Items {
		id := item.Record.OrderID
		hash := item.Record.ContentHashWithDefault(def)
		key := id + "/" + hash
		if seen[key] {
			state.Report.DuplicatesCollapsed++
			continue
		}
		seen[key] = true
		if variants[id] == nil {
			variants[id] = make(map[string]bool)
		}
		variants[id][hash] = true
		kept = append(kept, item)
	}
	for i := len(kept); i < len(state.Items); i++ {
		state.Items[i] = nil
	}
	state.Items = kept

	for _, item := range state.Items {
		if len(variants[item.Record.OrderID]) > 1 {
			item.Ambiguous = true
		}
	}
	return nil
}

// Step 2: CurrencyStep stamps the default currency on records without one.
// Amounts are never converted.
type CurrencyStep struct{}

func (s *CurrencyStep) Name() string { return "currency" }

func (s *CurrencyStep) Apply(state *ProcessState) error {
	for _, item := range state.Items {
		cur := strings.ToUpper(strings.TrimSpace(item.Record.Currency))
		if cur == "" {
			cur = state.Settings.DefaultCurrency
		}
		item.Record.Currency = cur
	}
	return nil
}

// Step 3: DateFormatStep renders order dates with the configured layout.
type DateFormatStep struct{}

func (s *DateFormatStep) Name() string { return "date-format" }

func (s *DateFormatStep) Apply(state *ProcessState) error {
	layout := state.Settings.OutputDateFormat
	if layout == "" {
		layout = config.DefaultOutputDateFormat
	}
	for _, item := range state.Items {
		if item.Record.OrderDate.IsZero() {
			item.Date = ""
			continue
		}
		item.Date = item.Record.OrderDate.Format(layout)
	}
	return nil
}

// Step 4: SchemaMapStep projects every item onto the fixed ledger schema.
type SchemaMapStep struct{}

func (s *SchemaMapStep) Name() string { return "schema-map" }

func (s *SchemaMapStep) Apply(state *ProcessState) error {
	state.Rows = make([]domain.LedgerRow, 0, len(state.Items))
	state.Report.Skipped = 0
	state.Report.SkippedIDs = nil
	state.Report.Ambiguous = 0

	for _, item := range state.Items {
		row, err := mapRow(item, state.Settings)
		if err != nil {
			perr := &domain.ProcessingError{OrderID: item.Record.OrderID, Err: err}
			if state.OnError == nil {
				return perr
			}
			if policyErr := state.OnError(perr); policyErr != nil {
				return policyErr
			}
			state.Report.Skipped++
			state.Report.SkippedIDs = append(state.Report.SkippedIDs, item.Record.OrderID)
			continue
		}
		if row.Ambiguous {
			state.Report.Ambiguous++
		}
		state.Rows = append(state.Rows, row)
	}
	return nil
}

func mapRow(item *WorkItem, settings config.Settings) (domain.LedgerRow, error) {
	rec := item.Record
	if strings.TrimSpace(rec.OrderID) == "" {
		return domain.LedgerRow{}, fmt.Errorf("order id is empty")
	}
	if item.Date == "" {
		return domain.LedgerRow{}, fmt.Errorf("order date is missing")
	}
	if strings.TrimSpace(rec.Description) == "" {
		return domain.LedgerRow{}, fmt.Errorf("description is empty")
	}
	cur, err := locale.NormalizeCurrency(rec.Currency)
	if err != nil {
		return domain.LedgerRow{}, err
	}

	tags := make([]string, 0, len(settings.DefaultTags)+1)
	tags = append(tags, settings.DefaultTags...)
	if item.Ambiguous {
		tags = append(tags, domain.TagAmbiguousDuplicate)
	}
	if len(tags) == 0 {
		tags = nil
	}

	return domain.LedgerRow{
		Date:        item.Date,
		Amount:      domain.FormatAmount(rec.Amount),
		Description: rec.Description,
		Currency:    cur,
		Category:    settings.DefaultCategory,
		Tags:        tags,
		OrderID:     rec.OrderID,
		OrderDate:   rec.OrderDate,
		Value:       rec.Amount,
		Merchant:    rec.Merchant,
		Ambiguous:   item.Ambiguous,
	}, nil
}

// Step 5: SortStep orders the ledger by date, then order id. Rows that tie
// keep their extraction order.
type SortStep struct{}

func (s *SortStep) Name() string { return "sort" }

func (s *SortStep) Apply(state *ProcessState) error {
	sort.SliceStable(state.Rows, func(i, j int) bool {
		a, b := state.Rows[i], state.Rows[j]
		if !a.OrderDate.Equal(b.OrderDate) {
			return a.OrderDate.Before(b.OrderDate)
		}
		return a.OrderID < b.OrderID
	})
	return nil
}

// DefaultSteps returns the normalization chain in its required order.
func DefaultSteps() []ProcessStep {
	return []ProcessStep{
		&DeduplicateStep{},
		&CurrencyStep{},
		&DateFormatStep{},
		&SchemaMapStep{},
		&SortStep{},
	}
}
