package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/order-ledger/internal/cache"
	"github.com/dvloznov/order-ledger/internal/capture"
	"github.com/dvloznov/order-ledger/internal/config"
	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/metrics"
	"github.com/dvloznov/order-ledger/internal/pipeline"
	"github.com/dvloznov/order-ledger/internal/recorder"
)

// memSource serves pages from memory, keyed by year then page index.
type memSource struct {
	pages map[int][]*pipeline.RawPage

	// cancel, when set, is called after serving page cancelAfter.
	cancel      context.CancelFunc
	cancelAfter int
	served      int
}

func (m *memSource) Page(ctx context.Context, year, page int) (*pipeline.RawPage, error) {
	pages := m.pages[year]
	if page > len(pages) {
		return nil, capture.ErrNoPage
	}
	m.served++
	if m.cancel != nil && m.served == m.cancelAfter {
		m.cancel()
	}
	return pages[page-1], nil
}

type finished struct {
	summary recorder.Summary
	err     error
}

// mockRecorder keeps runs in memory.
type mockRecorder struct {
	started  []string
	finished map[string]finished
}

func (m *mockRecorder) StartRun(ctx context.Context, kind string, years domain.YearRange) (string, error) {
	id := kind + "-" + string(rune('a'+len(m.started)))
	m.started = append(m.started, id)
	return id, nil
}

func (m *mockRecorder) FinishRun(ctx context.Context, runID string, summary recorder.Summary, runErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.finished == nil {
		m.finished = make(map[string]finished)
	}
	m.finished[runID] = finished{summary: summary, err: runErr}
	return nil
}

func (m *mockRecorder) ListRuns(ctx context.Context, limit int) ([]*recorder.Run, error) {
	return nil, nil
}

func (m *mockRecorder) Close() error { return nil }

func yes() *bool { b := true; return &b }

func rawRow(id, date, amount, desc string) pipeline.RawFields {
	return pipeline.RawFields{"order_id": id, "date": date, "amount": amount, "description": desc}
}

type fixture struct {
	runner   *Runner
	store    *cache.Store
	recorder *mockRecorder
	metrics  *metrics.Metrics
	outDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	settings := config.Default().WithYears(2023, 2023)
	settings.CacheDir = filepath.Join(dir, "cache")
	settings.OutputDir = filepath.Join(dir, "output")

	f := &fixture{
		store:    cache.NewStore(settings.CacheDir),
		recorder: &mockRecorder{},
		metrics:  metrics.New(),
		outDir:   settings.OutputDir,
	}
	f.runner = New(settings, Deps{Store: f.store, Recorder: f.recorder, Metrics: f.metrics})
	f.runner.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return f
}

func twoPageSource() *memSource {
	return &memSource{pages: map[int][]*pipeline.RawPage{
		2023: {
			{Rows: []pipeline.RawFields{
				rawRow("A1", "12/03/2023", "-25.50", "Cavo USB"),
				rawRow("BAD", "2022-01-01", "-1", "fuori anno"),
			}, HasNext: yes()},
			{Rows: []pipeline.RawFields{
				rawRow("A0", "01/02/2023", "-3,00", "Pile"),
				rawRow("A1", "12/03/2023", "-25.50", " Cavo  USB "),
			}},
		},
	}}
}

func TestExtract_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.runner.Extract(ctx, ExtractOptions{Source: twoPageSource()})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	wantOut := filepath.Join(f.outDir, "orders_20240102_030405.csv")
	if res.Output != wantOut {
		t.Errorf("Output = %q, want %q", res.Output, wantOut)
	}
	data, err := os.ReadFile(res.Output)
	if err != nil {
		t.Fatal(err)
	}
	want := "date,amount,description,currency,category,tags\n" +
		"2023-02-01,-3.00,Pile,EUR,,\n" +
		"2023-03-12,-25.50,Cavo USB,EUR,,\n"
	if string(data) != want {
		t.Errorf("ledger =\n%s\nwant\n%s", data, want)
	}

	if res.Capture.Pages != 2 || res.Capture.Skipped != 1 || res.Report.DuplicatesCollapsed != 1 {
		t.Errorf("Unexpected stats: capture %+v, report %+v", res.Capture, res.Report)
	}

	cached, err := f.store.Load(res.SessionKey)
	if err != nil {
		t.Fatalf("cached session: %v", err)
	}
	if cached.Len() != 3 || cached.Partial {
		t.Errorf("cached %d records, partial=%v", cached.Len(), cached.Partial)
	}

	fin, ok := f.recorder.finished[res.RunID]
	if !ok || fin.err != nil {
		t.Fatalf("run not recorded as success: %+v", fin)
	}
	if fin.summary.RowsWritten != 2 || fin.summary.DuplicatesCollapsed != 1 || fin.summary.SessionKey != res.SessionKey {
		t.Errorf("Unexpected summary: %+v", fin.summary)
	}

	if got := counterValue(t, f.metrics, "order_ledger_rows_written_total"); got != 2 {
		t.Errorf("rows written metric = %v, want 2", got)
	}
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	mfs, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestExtract_CancelledSavesPartialSession(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := twoPageSource()
	src.cancel = cancel
	src.cancelAfter = 1

	res, err := f.runner.Extract(ctx, ExtractOptions{Source: src})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Extract() error = %v, want context.Canceled", err)
	}
	if !res.Partial || res.SessionKey == "" {
		t.Fatalf("Expected a cached partial session, got %+v", res)
	}

	cached, err := f.store.Load(res.SessionKey)
	if err != nil {
		t.Fatal(err)
	}
	if !cached.Partial || cached.Len() != 1 {
		t.Errorf("cached partial=%v with %d records", cached.Partial, cached.Len())
	}
	if fin := f.recorder.finished[res.RunID]; !errors.Is(fin.err, context.Canceled) {
		t.Errorf("run outcome = %v, want context.Canceled", fin.err)
	}
	if entries, _ := os.ReadDir(f.outDir); len(entries) != 0 {
		t.Error("Interrupted capture must not write a ledger")
	}
}

func TestExtract_NoCache(t *testing.T) {
	f := newFixture(t)
	res, err := f.runner.Extract(context.Background(), ExtractOptions{Source: twoPageSource(), NoCache: true})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.SessionKey != "" {
		t.Errorf("SessionKey = %q, want none", res.SessionKey)
	}
	if keys, _ := f.store.List(); len(keys) != 0 {
		t.Errorf("store holds %v", keys)
	}
}

func TestExtract_NoOrders(t *testing.T) {
	f := newFixture(t)
	src := &memSource{pages: map[int][]*pipeline.RawPage{
		2023: {{Rows: []pipeline.RawFields{rawRow("OLD", "2020-01-01", "-1", "x")}}},
	}}

	res, err := f.runner.Extract(context.Background(), ExtractOptions{Source: src})
	if !errors.Is(err, ErrNoOrders) {
		t.Fatalf("Extract() error = %v, want ErrNoOrders", err)
	}
	if res.Output != "" {
		t.Errorf("Output = %q, want none", res.Output)
	}
	if _, err := os.Stat(f.outDir); !os.IsNotExist(err) {
		t.Error("Expected no output directory for an empty ledger")
	}
}

func TestReplay_MergesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := domain.NewCaptureSession(domain.YearRange{Start: 2022, End: 2022}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	second := domain.NewCaptureSession(domain.YearRange{Start: 2022, End: 2023}, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	rec := func(id, date string) *domain.OrderRecord {
		d, _ := time.Parse(domain.DateLayout, date)
		return &domain.OrderRecord{OrderID: id, OrderDate: d, Amount: decimal.RequireFromString("-1"), Currency: "EUR", Description: "item " + id, Merchant: "Amazon"}
	}
	if err := first.Append(rec("X", "2022-12-31")); err != nil {
		t.Fatal(err)
	}
	if err := second.Append(rec("Y", "2023-01-01"), rec("X", "2022-12-31")); err != nil {
		t.Fatal(err)
	}
	k1, err := f.store.Save(first)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := f.store.Save(second)
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "ledger.csv")
	res, err := f.runner.Replay(ctx, []string{k1, k2}, Options{Output: out})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(res.Rows) != 2 || res.Report.DuplicatesCollapsed != 1 {
		t.Errorf("rows %d, report %+v", len(res.Rows), res.Report)
	}
	data, _ := os.ReadFile(out)
	if !strings.HasPrefix(string(data), "date,amount") || strings.Count(string(data), "\n") != 3 {
		t.Errorf("Unexpected ledger:\n%s", data)
	}
}

func TestReplay_LatestAndNoWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.runner.Extract(ctx, ExtractOptions{Source: twoPageSource(), Options: Options{NoWrite: true}}); err != nil {
		t.Fatal(err)
	}

	res, err := f.runner.Replay(ctx, nil, Options{NoWrite: true})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(res.Rows) != 2 || res.Output != "" {
		t.Errorf("Unexpected replay result: %d rows, output %q", len(res.Rows), res.Output)
	}
	if entries, _ := os.ReadDir(f.outDir); len(entries) != 0 {
		t.Error("NoWrite must not create a ledger")
	}
}

func TestReplay_EmptyStore(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.Replay(context.Background(), nil, Options{})
	var nf *domain.CacheNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Replay() error = %v, want CacheNotFoundError", err)
	}
	if len(f.recorder.started) != 0 {
		t.Error("No run should be recorded when nothing could be loaded")
	}
}

func TestExtract_StrictAbortsOnUnmappableRecord(t *testing.T) {
	f := newFixture(t)
	f.runner.settings.DefaultCurrency = "ZZZ"

	src := &memSource{pages: map[int][]*pipeline.RawPage{
		2023: {{Rows: []pipeline.RawFields{rawRow("A1", "2023-01-01", "-1", "x")}}},
	}}
	_, err := f.runner.Extract(context.Background(), ExtractOptions{Source: src, Options: Options{Strict: true}})
	var perr *domain.ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("Extract() error = %v, want ProcessingError", err)
	}
}

func TestReplay_MatchesExtractOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := &memSource{pages: map[int][]*pipeline.RawPage{
		2023: {{Rows: []pipeline.RawFields{
			rawRow("A1", "12/03/2023", "-25,500", "Cavo USB"),
			rawRow("A2", "13/03/2023", "-3,125", "Pile"),
		}}},
	}}

	live, err := f.runner.Extract(ctx, ExtractOptions{Source: src})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	out := filepath.Join(t.TempDir(), "replayed.csv")
	if _, err := f.runner.Replay(ctx, []string{live.SessionKey}, Options{Output: out}); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	liveData, err := os.ReadFile(live.Output)
	if err != nil {
		t.Fatal(err)
	}
	replayData, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(liveData) != string(replayData) {
		t.Errorf("replay differs from extract:\n%s\nvs\n%s", liveData, replayData)
	}
	if !strings.Contains(string(liveData), "2023-03-12,-25.50,Cavo USB") || !strings.Contains(string(liveData), "2023-03-13,-3.125,Pile") {
		t.Errorf("Unexpected ledger:\n%s", liveData)
	}
}
