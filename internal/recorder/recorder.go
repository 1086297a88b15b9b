// Package recorder keeps a local history of extract and replay runs.
package recorder

import (
	"context"
	"time"

	"github.com/dvloznov/order-ledger/internal/domain"
)

// Run statuses.
const (
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Run kinds.
const (
	KindExtract = "extract"
	KindReplay  = "replay"
)

// Summary holds the counts reported at the end of a run.
type Summary struct {
	Pages               int    `json:"pages"`
	Extracted           int    `json:"extracted"`
	Skipped             int    `json:"skipped"`
	DuplicatesCollapsed int    `json:"duplicates_collapsed"`
	Ambiguous           int    `json:"ambiguous"`
	RowsWritten         int    `json:"rows_written"`
	SessionKey          string `json:"session_key,omitempty"`
	Output              string `json:"output,omitempty"`
}

// Run is one row of the history.
type Run struct {
	ID         string           `json:"run_id"`
	Kind       string           `json:"kind"`
	Years      domain.YearRange `json:"years"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"` // zero while running
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Summary    Summary          `json:"summary"`
}

// Recorder persists run history.
type Recorder interface {
	StartRun(ctx context.Context, kind string, years domain.YearRange) (string, error)
	FinishRun(ctx context.Context, runID string, summary Summary, runErr error) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}
