package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/pipeline"
	"github.com/alfredjeanlab/listings/internal/store"
)

// Handler returns an http.Handler with all routes registered.
// When an auth token is configured, every route except GET /v1/health and
// GET /metrics requires Authorization: Bearer <token>.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/runs/latest", s.handleLatestRun)
	mux.HandleFunc("GET /v1/runs/current", s.handleCurrentRun)
	mux.HandleFunc("POST /v1/runs", s.handleTriggerRun)
	mux.HandleFunc("GET /v1/listings", s.handleListListings)
	mux.HandleFunc("GET /v1/listings/{key...}", s.handleGetListing)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return RecoveryMiddleware(s.log, LoggingMiddleware(s.log, AuthMiddleware(s.token, mux)))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLatestRun handles GET /v1/runs/latest.
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.LatestRun(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no run recorded yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load latest run")
		s.log.Error("latest run", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse(summary))
}

// handleCurrentRun handles GET /v1/runs/current.
func (s *Server) handleCurrentRun(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

// handleTriggerRun handles POST /v1/runs. With ?wait=true the request blocks
// until the run finishes and returns its summary.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		summary, err := s.runner.Run(r.Context())
		if errors.Is(err, pipeline.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runResponse(summary))
		return
	}

	if err := s.startRun(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type runBody struct {
	*model.Summary
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
}

func runResponse(s *model.Summary) runBody {
	return runBody{Summary: s, Status: s.Status(), ExitCode: s.ExitCode()}
}

// handleListListings handles GET /v1/listings.
func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.RecordFilter{
		SourceName: q.Get("source"),
		Kind:       model.Kind(q.Get("kind")),
		ActiveOnly: true,
		Limit:      100,
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active flag")
			return
		}
		filter.ActiveOnly = active
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}

	recs, err := s.store.ListRecords(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		s.log.Error("list listings", "error", err)
		return
	}
	if recs == nil {
		recs = []*model.CanonicalRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": recs, "count": len(recs)})
}

// handleGetListing handles GET /v1/listings/{key}. Natural keys contain a
// colon, so the key is taken from the rest of the path.
func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, err := s.store.Get(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load listing")
		s.log.Error("get listing", "key", key, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
