package api

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dvloznov/order-ledger/internal/cache"
	"github.com/dvloznov/order-ledger/internal/jobs"
	"github.com/dvloznov/order-ledger/internal/logger"
)

// Scheduler enqueues a replay of the latest cached session on a cron
// schedule, keeping the newest ledger and the metrics fresh while a capture
// tool drops new sessions into the cache.
type Scheduler struct {
	cron      *cron.Cron
	publisher jobs.Publisher
	ctx       context.Context
}

// NewScheduler registers the replay on spec (standard five-field cron syntax
// or descriptors such as @daily).
func NewScheduler(ctx context.Context, spec string, publisher jobs.Publisher) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		publisher: publisher,
		ctx:       ctx,
	}
	if _, err := s.cron.AddFunc(spec, s.EnqueueLatest); err != nil {
		return nil, fmt.Errorf("NewScheduler: register %q: %w", spec, err)
	}
	return s, nil
}

// EnqueueLatest publishes one replay job for the latest session.
func (s *Scheduler) EnqueueLatest() {
	log := logger.FromContext(s.ctx)
	job := &jobs.ReplayJob{SessionKeys: []string{cache.Latest}}
	if err := s.publisher.PublishReplay(s.ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue scheduled replay")
		return
	}
	log.Info().Str("job_id", job.JobID).Msg("Scheduled replay enqueued")
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	log := logger.FromContext(s.ctx)
	log.Info().Msg("Replay scheduler started")
}

// Stop stops the scheduler and waits for a running enqueue to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log := logger.FromContext(s.ctx)
	log.Info().Msg("Replay scheduler stopped")
}
