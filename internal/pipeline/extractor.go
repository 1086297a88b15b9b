package pipeline

import (
	"context"
	"errors"

	"github.com/dvloznov/order-ledger/internal/config"
	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/logger"
)

// RawPage is one page of order history as captured by the browsing
// collaborator.
type RawPage struct {
	Year int         `json:"year"`
	Page int         `json:"page"`
	Rows []RawFields `json:"rows"`

	// Pagination. HasNext wins when present; otherwise the page has a
	// successor when NextURL is set and the next control is not disabled.
	HasNext      *bool  `json:"has_next,omitempty"`
	NextURL      string `json:"next_url,omitempty"`
	NextDisabled bool   `json:"next_disabled,omitempty"`
}

// HasNextPage derives the pagination continuation flag.
func (p *RawPage) HasNextPage() bool {
	if p == nil {
		return false
	}
	if p.HasNext != nil {
		return *p.HasNext
	}
	return p.NextURL != "" && !p.NextDisabled
}

// PageResult is the outcome of extracting one page.
type PageResult struct {
	Records    []*domain.OrderRecord
	HasNext    bool
	Candidates int
	Skipped    int
	Failures   []*domain.ValidationError
}

// Extractor turns raw pages into validated order records. It keeps no state
// between pages.
type Extractor struct {
	settings config.Settings
}

// NewExtractor creates an extractor bound to settings.
func NewExtractor(settings config.Settings) *Extractor {
	return &Extractor{settings: settings}
}

// ExtractPage validates every row of page in on-page order. Invalid rows are
// skipped and counted, never fatal.
func (e *Extractor) ExtractPage(ctx context.Context, page *RawPage, year int) *PageResult {
	log := logger.FromContext(ctx)

	result := &PageResult{HasNext: page.HasNextPage()}
	if page == nil {
		return result
	}

	src := domain.SourcePage{Year: year, Page: page.Page}
	result.Candidates = len(page.Rows)
	result.Records = make([]*domain.OrderRecord, 0, len(page.Rows))

	for i, row := range page.Rows {
		rec, err := NewOrderRecord(row, src, e.settings)
		if err != nil {
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				verr = &domain.ValidationError{Field: "row", Reason: err.Error()}
			}
			result.Skipped++
			result.Failures = append(result.Failures, verr)
			log.Debug().
				Str("source_page", src.String()).
				Int("row", i).
				Str("order_id", verr.OrderID).
				Str("field", verr.Field).
				Str("reason", verr.Reason).
				Msg("Skipping invalid order row")
			continue
		}
		result.Records = append(result.Records, rec)
	}

	if result.Candidates > 0 && len(result.Records) == 0 {
		log.Warn().
			Str("source_page", src.String()).
			Int("candidates", result.Candidates).
			Msg("Data quality: page yielded no valid orders")
	}

	return result
}
