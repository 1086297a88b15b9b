package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/logger"
	"github.com/dvloznov/order-ledger/internal/pipeline"
)

// YearStats counts what one year of captures produced.
type YearStats struct {
	Year       int
	Pages      int
	Candidates int
	Extracted  int
	Skipped    int
	BudgetHit  bool
}

// RunStats aggregates a driver run.
type RunStats struct {
	Years      []YearStats
	Pages      int
	Candidates int
	Extracted  int
	Skipped    int
}

func (s *RunStats) add(y YearStats) {
	s.Years = append(s.Years, y)
	s.Pages += y.Pages
	s.Candidates += y.Candidates
	s.Extracted += y.Extracted
	s.Skipped += y.Skipped
}

// Driver feeds pages to the extractor until a year runs out of pages, a page
// reports no successor, or the per-year page budget is spent.
type Driver struct {
	source     PageSource
	extractor  *pipeline.Extractor
	pageBudget int

	// OnPage, when set, observes every extracted page.
	OnPage func(year, page int, res *pipeline.PageResult)
}

// NewDriver creates a driver. A pageBudget of zero or less means no limit.
func NewDriver(source PageSource, extractor *pipeline.Extractor, pageBudget int) *Driver {
	return &Driver{
		source:     source,
		extractor:  extractor,
		pageBudget: pageBudget,
	}
}

// Run extracts every year in years into session. Cancellation is checked
// between pages; on cancellation the records gathered so far stay in session
// and ctx.Err() is returned together with the partial stats.
func (d *Driver) Run(ctx context.Context, session *domain.CaptureSession, years domain.YearRange) (*RunStats, error) {
	log := logger.FromContext(ctx)
	stats := &RunStats{}

	for _, year := range years.Years() {
		ys := YearStats{Year: year}

		for page := 1; d.pageBudget <= 0 || page <= d.pageBudget; page++ {
			if err := ctx.Err(); err != nil {
				stats.add(ys)
				return stats, err
			}

			raw, err := d.source.Page(ctx, year, page)
			if errors.Is(err, ErrNoPage) {
				break
			}
			if err != nil {
				stats.add(ys)
				return stats, fmt.Errorf("Run: year %d page %d: %w", year, page, err)
			}

			res := d.extractor.ExtractPage(ctx, raw, year)
			if err := session.Append(res.Records...); err != nil {
				stats.add(ys)
				return stats, fmt.Errorf("Run: %w", err)
			}
			ys.Pages++
			ys.Candidates += res.Candidates
			ys.Extracted += len(res.Records)
			ys.Skipped += res.Skipped
			if d.OnPage != nil {
				d.OnPage(year, page, res)
			}

			if !res.HasNext {
				break
			}
			if d.pageBudget > 0 && page == d.pageBudget {
				ys.BudgetHit = true
				log.Warn().
					Int("year", year).
					Int("page_budget", d.pageBudget).
					Msg("Page budget reached, later pages were not extracted")
			}
		}

		log.Info().
			Int("year", year).
			Int("pages", ys.Pages).
			Int("candidates", ys.Candidates).
			Int("extracted", ys.Extracted).
			Int("skipped", ys.Skipped).
			Msg("Finished year")
		stats.add(ys)
	}

	return stats, nil
}
