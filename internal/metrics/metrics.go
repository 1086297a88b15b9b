// Package metrics counts what a run did, for scraping through the
// node-exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "order_ledger"

// Metrics holds the counters of a single process.
type Metrics struct {
	// Registry owns these metrics. Exposed so callers can gather it.
	Registry *prometheus.Registry

	pages               *prometheus.CounterVec
	extracted           prometheus.Counter
	skipped             prometheus.Counter
	duplicatesCollapsed prometheus.Counter
	ambiguous           prometheus.Counter
	rowsWritten         prometheus.Counter
	runDuration         *prometheus.HistogramVec
	lastSuccess         *prometheus.GaugeVec
}

// New registers all metrics in a private registry, so it can be called more
// than once (e.g. in tests).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		pages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_total",
				Help:      "Captured pages processed, by year.",
			},
			[]string{"year"},
		),
		extracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_extracted_total",
			Help:      "Order records that passed validation.",
		}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_skipped_total",
			Help:      "Candidate rows dropped by validation or processing.",
		}),
		duplicatesCollapsed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_collapsed_total",
			Help:      "Identical records collapsed into one ledger row.",
		}),
		ambiguous: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ambiguous_rows_total",
			Help:      "Ledger rows tagged as ambiguous duplicates.",
		}),
		rowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Ledger rows written to the output file.",
		}),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs by kind and status.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"kind", "status"},
		),
		lastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run by kind.",
			},
			[]string{"kind"},
		),
	}
}

// ObservePage counts one captured page and what it yielded.
func (m *Metrics) ObservePage(year, extracted, skipped int) {
	m.pages.WithLabelValues(fmt.Sprint(year)).Inc()
	m.extracted.Add(float64(extracted))
	m.skipped.Add(float64(skipped))
}

// ObserveProcessing records the normalizer outcome.
func (m *Metrics) ObserveProcessing(collapsed, ambiguous, skipped int) {
	m.duplicatesCollapsed.Add(float64(collapsed))
	m.ambiguous.Add(float64(ambiguous))
	m.skipped.Add(float64(skipped))
}

// ObserveWrite records rows persisted to the ledger.
func (m *Metrics) ObserveWrite(rows int) {
	m.rowsWritten.Add(float64(rows))
}

// ObserveRun records the duration and outcome of a run.
func (m *Metrics) ObserveRun(kind string, started, finished time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.runDuration.WithLabelValues(kind, status).Observe(finished.Sub(started).Seconds())
	if err == nil {
		m.lastSuccess.WithLabelValues(kind).Set(float64(finished.Unix()))
	}
}

// WriteTextfile writes the registry in the text exposition format. The file
// is replaced atomically so the collector never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("WriteTextfile: %w", err)
	}
	return nil
}
