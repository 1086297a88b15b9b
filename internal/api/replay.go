package api

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/order-ledger/internal/jobs"
	"github.com/dvloznov/order-ledger/internal/ledger"
	"github.com/dvloznov/order-ledger/internal/logger"
	"github.com/dvloznov/order-ledger/internal/runner"
)

// NewReplayJobHandler returns the queue handler that runs replay jobs. Each
// job writes its own ledger into outputDir, named after the job so jobs
// finishing within the same second do not replace each other's file.
func NewReplayJobHandler(run *runner.Runner, outputDir string, now func() time.Time) jobs.JobHandler {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, job jobs.Job) error {
		rj, ok := job.(*jobs.ReplayJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}
		log := logger.FromContext(ctx)

		suffix := rj.JobID
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		name := strings.TrimSuffix(ledger.DefaultFilename(now()), ".csv") + "_" + suffix + ".csv"

		log.Info().Strs("sessions", rj.SessionKeys).Msg("Processing replay job")
		res, err := run.Replay(ctx, rj.SessionKeys, runner.Options{
			Output: filepath.Join(outputDir, name),
			Strict: rj.Strict,
		})
		if res != nil {
			rj.RunID = res.RunID
			rj.Output = res.Output
			rj.Rows = len(res.Rows)
		}
		if err != nil {
			return err
		}

		log.Info().Str("run_id", rj.RunID).Str("output", rj.Output).Int("rows", rj.Rows).Msg("Replay job completed")
		return nil
	}
}
