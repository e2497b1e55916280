package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/dvloznov/pos-ingest/internal/api/middleware"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/staging"
	"github.com/dvloznov/pos-ingest/internal/window"
)

// OpsHandler answers operational questions: which window a time maps to and
// what is left in staging.
type OpsHandler struct {
	resolver    *window.Resolver
	stagingRoot string
}

// NewOpsHandler creates a new ops handler.
func NewOpsHandler(resolver *window.Resolver, stagingRoot string) *OpsHandler {
	return &OpsHandler{resolver: resolver, stagingRoot: stagingRoot}
}

// GetWindow handles GET /api/window?at=RFC3339
func (h *OpsHandler) GetWindow(w http.ResponseWriter, r *http.Request) {
	at := time.Now()
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "at must be an RFC3339 timestamp")
			return
		}
		at = t
	}

	win, err := h.resolver.Resolve(at)
	if errors.Is(err, window.ErrNoValidWindow) {
		middleware.WriteJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":       "No extraction window",
			"valid_hours": h.resolver.Hours(),
		})
		return
	}
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"date":   win.Date.String(),
		"hour":   win.Hour,
		"prefix": win.Prefix,
	})
}

// GetStaging handles GET /api/staging
func (h *OpsHandler) GetStaging(w http.ResponseWriter, r *http.Request) {
	runs, err := staging.Leftovers(h.stagingRoot)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to read staging")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read staging")
		return
	}
	if runs == nil {
		runs = []string{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"leftover_runs": runs,
		"clean":         len(runs) == 0,
	})
}
