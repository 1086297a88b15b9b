// Package api assembles the HTTP service that exposes the capture cache,
// replay jobs and run history.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dvloznov/order-ledger/internal/api/handlers"
	"github.com/dvloznov/order-ledger/internal/api/middleware"
	"github.com/dvloznov/order-ledger/internal/cache"
	"github.com/dvloznov/order-ledger/internal/jobs"
	"github.com/dvloznov/order-ledger/internal/recorder"
)

// Deps are the collaborators the routes serve.
type Deps struct {
	Store     *cache.Store
	Publisher jobs.Publisher
	Jobs      jobs.JobStore
	Recorder  recorder.Recorder
	Gatherer  prometheus.Gatherer
	Log       zerolog.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	sessions := handlers.NewSessionsHandler(d.Store)
	replays := handlers.NewReplaysHandler(d.Publisher)
	jobsHandler := handlers.NewJobsHandler(d.Jobs)
	runs := handlers.NewRunsHandler(d.Recorder)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Log))
	r.Use(middleware.Recovery(d.Log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", sessions.ListSessions)
		r.Get("/sessions/{key}", sessions.GetSession)

		r.Post("/replays", replays.EnqueueReplay)

		r.Get("/jobs", jobsHandler.ListJobs)
		r.Get("/jobs/{id}", jobsHandler.GetJob)

		r.Get("/runs", runs.ListRuns)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	return r
}
