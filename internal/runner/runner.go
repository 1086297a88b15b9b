// Package runner wires capture, cache, normalization and ledger output into
// the extract and replay runs the commands expose.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dvloznov/order-ledger/internal/cache"
	"github.com/dvloznov/order-ledger/internal/capture"
	"github.com/dvloznov/order-ledger/internal/categorize"
	"github.com/dvloznov/order-ledger/internal/config"
	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/ledger"
	"github.com/dvloznov/order-ledger/internal/logger"
	"github.com/dvloznov/order-ledger/internal/metrics"
	"github.com/dvloznov/order-ledger/internal/pipeline"
	"github.com/dvloznov/order-ledger/internal/recorder"
)

// ErrNoOrders is returned when a run produced no ledger rows. Nothing is
// written in that case, but an extracted session is still cached.
var ErrNoOrders = errors.New("no orders found")

// Deps are the collaborators of a Runner. Nil fields get no-op defaults,
// except Store which is required for caching and replay.
type Deps struct {
	Store       *cache.Store
	Recorder    recorder.Recorder
	Metrics     *metrics.Metrics
	Categorizer categorize.Categorizer
}

// Runner executes runs against one immutable Settings value.
type Runner struct {
	settings    config.Settings
	store       *cache.Store
	recorder    recorder.Recorder
	metrics     *metrics.Metrics
	categorizer categorize.Categorizer

	now func() time.Time
}

// New creates a runner.
func New(settings config.Settings, deps Deps) *Runner {
	r := &Runner{
		settings:    settings,
		store:       deps.Store,
		recorder:    deps.Recorder,
		metrics:     deps.Metrics,
		categorizer: deps.Categorizer,
		now:         time.Now,
	}
	if r.store == nil {
		r.store = cache.NewStore(settings.CacheDir)
	}
	if r.recorder == nil {
		r.recorder = recorder.NewNoopRecorder()
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	return r
}

// Options control ledger output for both run kinds.
type Options struct {
	// Output is the ledger path. Empty means a timestamped file in the
	// configured output directory; NoWrite skips writing altogether.
	Output  string
	NoWrite bool

	// Strict aborts on the first record that cannot be mapped instead of
	// skipping and counting it.
	Strict bool
}

// ExtractOptions add the capture source and cache behaviour.
type ExtractOptions struct {
	Options
	Source  capture.PageSource
	NoCache bool
}

// Result describes a finished (or interrupted) run.
type Result struct {
	RunID      string
	SessionKey string
	Partial    bool
	Capture    *capture.RunStats
	Report     *pipeline.Report
	Rows       []domain.LedgerRow
	Output     string
}

func (res *Result) summary() recorder.Summary {
	s := recorder.Summary{SessionKey: res.SessionKey, Output: res.Output}
	if res.Capture != nil {
		s.Pages = res.Capture.Pages
		s.Extracted = res.Capture.Extracted
		s.Skipped = res.Capture.Skipped
	}
	if res.Report != nil {
		s.DuplicatesCollapsed = res.Report.DuplicatesCollapsed
		s.Ambiguous = res.Report.Ambiguous
		s.Skipped += res.Report.Skipped
		s.RowsWritten = len(res.Rows)
		if res.Output == "" {
			s.RowsWritten = 0
		}
	}
	return s
}

// Extract drives the capture source over the configured years, caches the
// session and writes the ledger. When the context is cancelled mid-capture
// the records gathered so far are cached as a partial session and the
// context error is returned with the Result.
func (r *Runner) Extract(ctx context.Context, opts ExtractOptions) (*Result, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("Extract: no capture source")
	}
	years := r.settings.Years()
	started := r.now()

	// 1. Start a run in the history.
	runID, err := r.recorder.StartRun(ctx, recorder.KindExtract, years)
	if err != nil {
		return nil, fmt.Errorf("Extract: %w", err)
	}
	log := logger.WithRun(logger.FromContext(ctx), recorder.KindExtract, runID)
	ctx = logger.WithContext(ctx, log)
	res := &Result{RunID: runID}

	// 2. Capture pages into a new session.
	session := domain.NewCaptureSession(years, started)
	driver := capture.NewDriver(opts.Source, pipeline.NewExtractor(r.settings), r.settings.PageBudget)
	driver.OnPage = func(year, page int, pr *pipeline.PageResult) {
		r.metrics.ObservePage(year, len(pr.Records), pr.Skipped)
	}
	stats, runErr := driver.Run(ctx, session, years)
	res.Capture = stats

	if runErr != nil {
		session.Partial = true
		res.Partial = true
		log.Warn().Err(runErr).Int("records", session.Len()).Msg("Capture interrupted")
	}

	// 3. Cache the session, partial or not.
	if !opts.NoCache && (runErr == nil || session.Len() > 0) {
		key, err := r.store.Save(session)
		if err != nil {
			return r.fail(ctx, res, started, fmt.Errorf("Extract: %w", err))
		}
		res.SessionKey = key
		log.Info().Str("session", key).Bool("partial", session.Partial).Int("records", session.Len()).Msg("Cached capture session")
	} else {
		session.Seal()
	}

	if runErr != nil {
		return r.fail(ctx, res, started, runErr)
	}

	// 4. Normalize and write.
	if err := r.build(ctx, res, session.Records(), opts.Options); err != nil {
		return r.fail(ctx, res, started, fmt.Errorf("Extract: %w", err))
	}

	return r.succeed(ctx, res, recorder.KindExtract, started)
}

// Replay rebuilds a ledger from cached sessions. Several keys may be given to
// resume a partial capture with a later one; records from all sessions are
// normalized together so overlapping captures are deduplicated. No keys means
// the latest session.
func (r *Runner) Replay(ctx context.Context, keys []string, opts Options) (*Result, error) {
	if len(keys) == 0 {
		keys = []string{cache.Latest}
	}
	started := r.now()

	sessions := make([]*domain.CaptureSession, 0, len(keys))
	for _, key := range keys {
		s, err := r.store.Load(key)
		if err != nil {
			return nil, fmt.Errorf("Replay: %w", err)
		}
		sessions = append(sessions, s)
	}
	years := sessions[0].Years
	for _, s := range sessions[1:] {
		if s.Years.Start < years.Start {
			years.Start = s.Years.Start
		}
		if s.Years.End > years.End {
			years.End = s.Years.End
		}
	}

	runID, err := r.recorder.StartRun(ctx, recorder.KindReplay, years)
	if err != nil {
		return nil, fmt.Errorf("Replay: %w", err)
	}
	log := logger.WithRun(logger.FromContext(ctx), recorder.KindReplay, runID)
	ctx = logger.WithContext(ctx, log)
	res := &Result{RunID: runID, SessionKey: sessions[0].ID}

	var records []*domain.OrderRecord
	for _, s := range sessions {
		if s.Partial {
			log.Warn().Str("session", s.ID).Msg("Replaying a partial session")
			res.Partial = true
		}
		records = append(records, s.Records()...)
	}
	log.Info().Int("sessions", len(sessions)).Int("records", len(records)).Msg("Loaded cached sessions")

	if err := r.build(ctx, res, records, opts); err != nil {
		return r.fail(ctx, res, started, fmt.Errorf("Replay: %w", err))
	}
	return r.succeed(ctx, res, recorder.KindReplay, started)
}

// build normalizes records, applies the categorizer and writes the ledger.
func (r *Runner) build(ctx context.Context, res *Result, records []*domain.OrderRecord, opts Options) error {
	log := logger.FromContext(ctx)

	proc := pipeline.NewProcessor(r.settings)
	proc.Logger = log
	if !opts.Strict {
		proc.OnError = func(perr *domain.ProcessingError) error {
			log.Warn().Err(perr.Err).Str("order_id", perr.OrderID).Msg("Skipping order that cannot be mapped")
			return nil
		}
	}
	rows, report, err := proc.Process(records)
	res.Report = report
	if err != nil {
		return err
	}
	r.metrics.ObserveProcessing(report.DuplicatesCollapsed, report.Ambiguous, report.Skipped)

	if r.categorizer != nil && len(rows) > 0 {
		categorized, err := r.categorizer.Categorize(ctx, rows)
		if err != nil {
			return fmt.Errorf("categorize: %w", err)
		}
		rows = categorized
	}
	res.Rows = rows

	if len(rows) == 0 {
		return ErrNoOrders
	}
	if opts.NoWrite {
		return nil
	}

	dest := opts.Output
	if dest == "" {
		dest = filepath.Join(r.settings.OutputDir, ledger.DefaultFilename(r.now()))
	}
	if err := ledger.Write(rows, dest); err != nil {
		return err
	}
	if _, err := ledger.Validate(dest, r.settings.OutputDateFormat); err != nil {
		return fmt.Errorf("written ledger failed validation: %w", err)
	}
	res.Output = dest
	r.metrics.ObserveWrite(len(rows))
	log.Info().Str("output", dest).Int("rows", len(rows)).Msg("Ledger written")
	return nil
}

func (r *Runner) succeed(ctx context.Context, res *Result, kind string, started time.Time) (*Result, error) {
	finished := r.now()
	r.metrics.ObserveRun(kind, started, finished, nil)
	if err := r.recorder.FinishRun(ctx, res.RunID, res.summary(), nil); err != nil {
		return res, fmt.Errorf("finish run: %w", err)
	}
	return res, nil
}

// fail records the failed run. The history is updated even when ctx is
// already cancelled.
func (r *Runner) fail(ctx context.Context, res *Result, started time.Time, runErr error) (*Result, error) {
	kind := recorder.KindExtract
	if res.Capture == nil {
		kind = recorder.KindReplay
	}
	r.metrics.ObserveRun(kind, started, r.now(), runErr)

	bg := context.WithoutCancel(ctx)
	if err := r.recorder.FinishRun(bg, res.RunID, res.summary(), runErr); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to record run outcome")
	}
	return res, runErr
}
