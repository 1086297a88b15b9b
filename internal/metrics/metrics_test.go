package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObservePage(2023, 10, 2)
	m.ObservePage(2023, 5, 0)
	m.ObservePage(2024, 1, 1)
	m.ObserveProcessing(3, 2, 1)
	m.ObserveWrite(12)

	if got := testutil.ToFloat64(m.pages.WithLabelValues("2023")); got != 2 {
		t.Errorf("pages{2023} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.extracted); got != 16 {
		t.Errorf("extracted = %v, want 16", got)
	}
	if got := testutil.ToFloat64(m.skipped); got != 4 {
		t.Errorf("skipped = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.duplicatesCollapsed); got != 3 {
		t.Errorf("duplicates = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ambiguous); got != 2 {
		t.Errorf("ambiguous = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rowsWritten); got != 12 {
		t.Errorf("rows written = %v, want 12", got)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveWrite(1)
	if got := testutil.ToFloat64(b.rowsWritten); got != 0 {
		t.Errorf("second registry saw %v rows", got)
	}
}

func TestMetrics_ObserveRun(t *testing.T) {
	m := New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m.ObserveRun("extract", start, start.Add(2*time.Second), nil)
	m.ObserveRun("extract", start, start.Add(time.Second), errors.New("boom"))

	if got := testutil.ToFloat64(m.lastSuccess.WithLabelValues("extract")); got != float64(start.Add(2*time.Second).Unix()) {
		t.Errorf("last success = %v", got)
	}
	if got := testutil.CollectAndCount(m.runDuration); got != 2 {
		t.Errorf("run duration series = %d, want 2", got)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.ObservePage(2023, 4, 1)

	path := filepath.Join(t.TempDir(), "order_ledger.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`order_ledger_pages_total{year="2023"} 1`,
		"order_ledger_orders_extracted_total 4",
		"order_ledger_orders_skipped_total 1",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}

func TestMetrics_WriteTextfileBadDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "x.prom")
	if err := New().WriteTextfile(path); err == nil {
		t.Error("Expected error writing into a missing directory")
	}
}
