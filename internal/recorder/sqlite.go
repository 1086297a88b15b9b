package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/logger"
)

// DefaultListLimit is used by ListRuns when limit is not positive.
const DefaultListLimit = 20

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(ctx context.Context, dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteRecorder: open sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewSQLiteRecorder: set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, now: time.Now}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewSQLiteRecorder: migrate: %w", err)
	}

	log := logger.FromContext(ctx)

	log.Debug().Str("path", dbPath).Msg("Run history opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id               TEXT PRIMARY KEY,
			kind                 TEXT NOT NULL,
			start_year           INTEGER NOT NULL,
			end_year             INTEGER NOT NULL,
			started_ts           INTEGER NOT NULL,
			finished_ts          INTEGER,
			status               TEXT NOT NULL,
			error_message        TEXT,
			pages                INTEGER NOT NULL DEFAULT 0,
			extracted            INTEGER NOT NULL DEFAULT 0,
			skipped              INTEGER NOT NULL DEFAULT 0,
			duplicates_collapsed INTEGER NOT NULL DEFAULT 0,
			ambiguous            INTEGER NOT NULL DEFAULT 0,
			rows_written         INTEGER NOT NULL DEFAULT 0,
			session_key          TEXT,
			output               TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_ts)`,
	}

	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// StartRun inserts a RUNNING row and returns the generated run id.
func (r *SQLiteRecorder) StartRun(ctx context.Context, kind string, years domain.YearRange) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runID := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `INSERT INTO runs
		(run_id, kind, start_year, end_year, started_ts, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, kind, years.Start, years.End, r.now().UnixNano(), StatusRunning)
	if err != nil {
		return "", fmt.Errorf("StartRun: insert: %w", err)
	}
	return runID, nil
}

// FinishRun records the outcome of a run. A nil runErr marks it SUCCESS.
func (r *SQLiteRecorder) FinishRun(ctx context.Context, runID string, summary Summary, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := StatusSuccess
	var errMsg sql.NullString
	if runErr != nil {
		status = StatusFailed
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `UPDATE runs SET
			finished_ts = ?, status = ?, error_message = ?,
			pages = ?, extracted = ?, skipped = ?, duplicates_collapsed = ?,
			ambiguous = ?, rows_written = ?, session_key = ?, output = ?
		WHERE run_id = ?`,
		r.now().UnixNano(), status, errMsg,
		summary.Pages, summary.Extracted, summary.Skipped, summary.DuplicatesCollapsed,
		summary.Ambiguous, summary.RowsWritten, summary.SessionKey, summary.Output,
		runID)
	if err != nil {
		return fmt.Errorf("FinishRun: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("FinishRun: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("FinishRun: unknown run %s", runID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (r *SQLiteRecorder) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.QueryContext(ctx, `SELECT
			run_id, kind, start_year, end_year, started_ts, finished_ts, status, error_message,
			pages, extracted, skipped, duplicates_collapsed, ambiguous, rows_written,
			session_key, output
		FROM runs
		ORDER BY started_ts DESC, run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: query: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		var (
			run        Run
			started    int64
			finished   sql.NullInt64
			errMsg     sql.NullString
			sessionKey sql.NullString
			output     sql.NullString
		)
		err := rows.Scan(
			&run.ID, &run.Kind, &run.Years.Start, &run.Years.End, &started, &finished, &run.Status, &errMsg,
			&run.Summary.Pages, &run.Summary.Extracted, &run.Summary.Skipped, &run.Summary.DuplicatesCollapsed,
			&run.Summary.Ambiguous, &run.Summary.RowsWritten, &sessionKey, &output,
		)
		if err != nil {
			return nil, fmt.Errorf("ListRuns: scan: %w", err)
		}
		run.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			run.FinishedAt = time.Unix(0, finished.Int64).UTC()
		}
		run.Error = errMsg.String
		run.Summary.SessionKey = sessionKey.String
		run.Summary.Output = output.String
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRuns: rows: %w", err)
	}
	return runs, nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
