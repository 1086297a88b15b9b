package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/order-ledger/internal/config"
	"github.com/dvloznov/order-ledger/internal/domain"
)

// Report summarises a Process call. Skipped and ambiguous counts are always
// reported, even on success.
type Report struct {
	Input               int
	DuplicatesCollapsed int
	Ambiguous           int
	Skipped             int
	SkippedIDs          []string
	Output              int
}

// SkipAndContinue is an OnError policy that drops unmappable records.
func SkipAndContinue(*domain.ProcessingError) error { return nil }

// Processor turns order records into a sorted ledger.
type Processor struct {
	settings config.Settings
	steps    []ProcessStep

	// OnError is called for each record that cannot be schema-mapped. A nil
	// return skips the record; a non-nil return aborts Process. A nil OnError
	// aborts on the first failure.
	OnError func(*domain.ProcessingError) error

	Logger zerolog.Logger
}

// NewProcessor creates a processor running DefaultSteps.
func NewProcessor(settings config.Settings) *Processor {
	return &Processor{
		settings: settings,
		steps:    DefaultSteps(),
		Logger:   zerolog.Nop(),
	}
}

// NewProcessorWithSteps creates a processor running a custom step chain.
func NewProcessorWithSteps(settings config.Settings, steps ...ProcessStep) *Processor {
	return &Processor{
		settings: settings,
		steps:    steps,
		Logger:   zerolog.Nop(),
	}
}

// Process normalizes records into ledger rows. The input records are not
// modified; the processor works on copies.
func (p *Processor) Process(records []*domain.OrderRecord) ([]domain.LedgerRow, *Report, error) {
	report := &Report{Input: len(records)}
	state := &ProcessState{
		Settings: p.settings,
		Items:    make([]*WorkItem, 0, len(records)),
		Report:   report,
		OnError:  p.OnError,
	}
	for _, r := range records {
		if r == nil {
			continue
		}
		rec := *r
		state.Items = append(state.Items, &WorkItem{Record: &rec})
	}

	for _, step := range p.steps {
		if err := step.Apply(state); err != nil {
			return nil, report, fmt.Errorf("Process: step %s: %w", step.Name(), err)
		}
	}
	report.Output = len(state.Rows)

	p.Logger.Info().
		Int("input", report.Input).
		Int("duplicates_collapsed", report.DuplicatesCollapsed).
		Int("ambiguous", report.Ambiguous).
		Int("skipped", report.Skipped).
		Int("rows", report.Output).
		Msg("Processed order records")

	return state.Rows, report, nil
}
