// Package handlers serves the run API: enqueueing runs and retries, and
// reading runs, jobs, windows and staging state.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/pos-ingest/internal/api/middleware"
	"github.com/dvloznov/pos-ingest/internal/jobs"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/pipeline"
	"github.com/dvloznov/pos-ingest/internal/staging"
)

// RunsHandler enqueues runs and lists recorded ones.
type RunsHandler struct {
	publisher   jobs.Publisher
	recorder    pipeline.RunRecorder
	stagingRoot string
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(publisher jobs.Publisher, recorder pipeline.RunRecorder, stagingRoot string) *RunsHandler {
	return &RunsHandler{
		publisher:   publisher,
		recorder:    recorder,
		stagingRoot: stagingRoot,
	}
}

// EnqueueRun handles POST /api/runs
func (h *RunsHandler) EnqueueRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		At         string `json:"at"`
		AllowStale bool   `json:"allow_stale"`
	}
	if err := decodeOptional(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job := &jobs.RunJob{Type: jobs.JobTypeRun, AllowStale: req.AllowStale}
	if req.At != "" {
		at, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "at must be an RFC3339 timestamp")
			return
		}
		job.At = at
	}

	h.publish(w, r, job)
}

// EnqueueRetry handles POST /api/runs/retry
func (h *RunsHandler) EnqueueRetry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RunID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	if err := staging.ValidateRunID(req.RunID); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid run_id")
		return
	}
	if _, err := staging.Open(h.stagingRoot, req.RunID); err != nil {
		middleware.WriteError(w, http.StatusNotFound, "No staging directory for run")
		return
	}
	loaded, err := h.recorder.HasLoaded(r.Context(), req.RunID)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("run_id", req.RunID).Msg("Failed to check run ledger")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to check run ledger")
		return
	}
	if loaded {
		middleware.WriteError(w, http.StatusConflict, "Run was already loaded")
		return
	}

	h.publish(w, r, &jobs.RunJob{Type: jobs.JobTypeRetry, RetryOf: req.RunID})
}

func (h *RunsHandler) publish(w http.ResponseWriter, r *http.Request, job *jobs.RunJob) {
	log := logger.FromContext(r.Context())

	if err := h.publisher.PublishRun(r.Context(), job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue job")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("type", string(job.Type)).Msg("Job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.recorder.ListRecentRuns(r.Context(), limit)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// decodeOptional decodes a JSON body into v, accepting an empty body.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
