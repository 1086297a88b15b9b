// Package handlers implements the HTTP endpoints of the ledger service.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/order-ledger/internal/api/middleware"
	"github.com/dvloznov/order-ledger/internal/cache"
	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/jobs"
	"github.com/dvloznov/order-ledger/internal/logger"
	"github.com/dvloznov/order-ledger/internal/recorder"
)

// maxRetries caps the retries a client may request for a replay job.
const maxRetries = 5

// SessionView is the JSON form of a cached session.
type SessionView struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	YearRange []int     `json:"year_range,omitempty"`
	Records   int       `json:"records"`
	Partial   bool      `json:"partial"`
	SizeBytes int64     `json:"size_bytes"`
	Error     string    `json:"error,omitempty"`
}

func newSessionView(info *cache.SessionInfo) SessionView {
	return SessionView{
		Key:       info.Key,
		CreatedAt: info.CreatedAt,
		YearRange: []int{info.Years.Start, info.Years.End},
		Records:   info.Records,
		Partial:   info.Partial,
		SizeBytes: info.SizeBytes,
	}
}

// SessionsHandler serves the capture cache.
type SessionsHandler struct {
	store *cache.Store
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(store *cache.Store) *SessionsHandler {
	return &SessionsHandler{store: store}
}

// ListSessions handles GET /api/sessions. Sessions that fail to load are
// listed with their error.
func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	keys, err := h.store.List()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sessions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	sessions := make([]SessionView, 0, len(keys))
	for _, key := range keys {
		info, err := h.store.Info(key)
		if err != nil {
			sessions = append(sessions, SessionView{Key: key, Error: err.Error()})
			continue
		}
		sessions = append(sessions, newSessionView(info))
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession handles GET /api/sessions/{key}. The key "latest" resolves to
// the newest session.
func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	info, err := h.store.Info(key)
	var notFound *domain.CacheNotFoundError
	var corrupt *domain.CacheCorruptError
	switch {
	case errors.As(err, &notFound):
		middleware.WriteError(w, http.StatusNotFound, "Session not found")
		return
	case errors.As(err, &corrupt):
		middleware.WriteError(w, http.StatusUnprocessableEntity, corrupt.Error())
		return
	case err != nil:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("key", key).Msg("Failed to read session")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read session")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, newSessionView(info))
}

// ReplaysHandler enqueues replay jobs.
type ReplaysHandler struct {
	publisher jobs.Publisher
}

// NewReplaysHandler creates a new replays handler.
func NewReplaysHandler(publisher jobs.Publisher) *ReplaysHandler {
	return &ReplaysHandler{publisher: publisher}
}

// EnqueueReplay handles POST /api/replays.
func (h *ReplaysHandler) EnqueueReplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionKeys []string `json:"session_keys"`
		Strict      bool     `json:"strict"`
		MaxRetries  int      `json:"max_retries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MaxRetries < 0 || req.MaxRetries > maxRetries {
		middleware.WriteError(w, http.StatusBadRequest, "max_retries must be between 0 and "+strconv.Itoa(maxRetries))
		return
	}

	log := logger.FromContext(r.Context())
	job := &jobs.ReplayJob{
		SessionKeys: req.SessionKeys,
		Strict:      req.Strict,
		MaxRetries:  req.MaxRetries,
	}
	if err := h.publisher.PublishReplay(r.Context(), job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue replay job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue replay job")
		return
	}

	log.Info().Str("job_id", job.JobID).Strs("sessions", job.SessionKeys).Msg("Replay job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
		Limit:  intParam(query.Get("limit")),
		Offset: intParam(query.Get("offset")),
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// RunsHandler serves the run history.
type RunsHandler struct {
	recorder recorder.Recorder
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(rec recorder.Recorder) *RunsHandler {
	return &RunsHandler{recorder: rec}
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.recorder.ListRuns(r.Context(), intParam(r.URL.Query().Get("limit")))
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*recorder.Run{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// intParam parses a non-negative query parameter; anything else is 0.
func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
