package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/order-ledger/internal/api"
	"github.com/dvloznov/order-ledger/internal/cache"
	"github.com/dvloznov/order-ledger/internal/config"
	"github.com/dvloznov/order-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/order-ledger/internal/logger"
	"github.com/dvloznov/order-ledger/internal/metrics"
	"github.com/dvloznov/order-ledger/internal/recorder"
	"github.com/dvloznov/order-ledger/internal/runner"
)

func main() {
	// Parse command-line flags
	var (
		port       = flag.String("port", "8080", "HTTP server port")
		configPath = flag.String("config", "order-ledger.yaml", "Path to the settings file")
		history    = flag.String("history", "", "Run history database (overrides history_db)")
		schedule   = flag.String("replay-schedule", "", "Cron schedule for replaying the latest session (e.g. @daily)")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()
	logger.SetDebug(*debug)

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}
	if *history != "" {
		settings.HistoryDB = *history
	}
	if err := settings.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid settings")
	}

	ctx := logger.WithContext(context.Background(), log)

	rec := recorder.Recorder(recorder.NewNoopRecorder())
	if settings.HistoryDB != "" {
		sqliteRec, err := recorder.NewSQLiteRecorder(ctx, settings.HistoryDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open run history")
		}
		rec = sqliteRec
	} else {
		log.Warn().Msg("No history_db configured - /api/runs will be empty")
	}
	defer rec.Close()

	store := cache.NewStore(settings.CacheDir)
	m := metrics.New()
	run := runner.New(settings, runner.Deps{Store: store, Recorder: rec, Metrics: m})

	// Initialize job infrastructure. Replays write ledgers into the same
	// output directory, so one worker runs them in order.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 1, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, api.NewReplayJobHandler(run, settings.OutputDir, nil)); err != nil {
		rec.Close()
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}
	log.Info().Msg("Job worker started")

	if *schedule != "" {
		sched, err := api.NewScheduler(workerCtx, *schedule, jobQueue)
		if err != nil {
			jobQueue.Stop(context.Background())
			rec.Close()
			log.Fatal().Err(err).Msg("Invalid replay schedule")
		}
		sched.Start()
		defer sched.Stop()
	}

	handler := api.NewRouter(api.Deps{
		Store:     store,
		Publisher: jobQueue,
		Jobs:      jobStore,
		Recorder:  rec,
		Gatherer:  m.Registry,
		Log:       log,
	})

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", *port).Str("cache_dir", settings.CacheDir).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var failed error
	select {
	case <-quit:
	case failed = <-serveErr:
		log.Error().Err(failed).Msg("Failed to start server")
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting jobs and wait for the running replay
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if failed != nil {
		rec.Close()
		os.Exit(1)
	}
	log.Info().Msg("Server exited")
}
