// Package api assembles the HTTP routes of the run API.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/pos-ingest/internal/api/handlers"
	"github.com/dvloznov/pos-ingest/internal/api/middleware"
)

// NewRouter maps the API routes onto the handlers.
func NewRouter(runs *handlers.RunsHandler, jobsHandler *handlers.JobsHandler, ops *handlers.OpsHandler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			runs.ListRuns(w, r)
		case http.MethodPost:
			runs.EnqueueRun(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/runs/retry", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			runs.EnqueueRetry(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/api/window", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			ops.GetWindow(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/staging", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			ops.GetStaging(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return mux
}
