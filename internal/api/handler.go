package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/gwlsn/clipshrink"
	"github.com/gwlsn/clipshrink/internal/config"
	"github.com/gwlsn/clipshrink/internal/jobs"
	"github.com/gwlsn/clipshrink/internal/logger"
	"github.com/gwlsn/clipshrink/internal/planner"
)

// requestTimeout bounds store work done on behalf of a request.
const requestTimeout = 30 * time.Second

// Handler provides HTTP API handlers
type Handler struct {
	orch    *jobs.Orchestrator
	cfg     *config.Config
	cfgPath string
	cfgMu   sync.Mutex
}

// NewHandler creates a new API handler. cfgPath may be empty, in which
// case config changes are not saved.
func NewHandler(orch *jobs.Orchestrator, cfg *config.Config, cfgPath string) *Handler {
	return &Handler{orch: orch, cfg: cfg, cfgPath: cfgPath}
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps domain errors to status codes.
func writeErr(w http.ResponseWriter, err error) {
	var missing *jobs.MissingSourceError
	switch {
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, jobs.ErrRecordingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrNoRecordings), errors.As(err, &missing):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": clipshrink.Version,
	})
}

// ListRecordings handles GET /api/recordings
func (h *Handler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := h.orch.ListRecordings(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// CreateRecording handles POST /api/recordings
func (h *Handler) CreateRecording(w http.ResponseWriter, r *http.Request) {
	var in jobs.RecordingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rec, err := h.orch.RegisterRecording(ctx, in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetRecording handles GET /api/recordings/{id}
func (h *Handler) GetRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orch.GetRecording(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecording handles DELETE /api/recordings/{id}?delete_file=true
func (h *Handler) DeleteRecording(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.orch.DeleteRecording(ctx, mux.Vars(r)["id"], queryBool(r, "delete_file")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitBatchRequest is the request body for POST /api/batches
type SubmitBatchRequest struct {
	RecordingIDs []string        `json:"recording_ids"`
	Config       json.RawMessage `json:"config"`
}

// SubmitBatch handles POST /api/batches. Jobs run in the background and
// report through /api/events.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.RecordingIDs) == 0 {
		writeError(w, http.StatusBadRequest, "no recordings provided")
		return
	}

	settings, err := planner.DecodeSettings(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}

	sub, err := h.orch.SubmitBatch(r.Context(), req.RecordingIDs, settings)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	views, err := h.orch.ListJobs(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.orch.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CancelJob handles POST /api/jobs/{id}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.orch.CancelJob(ctx, id); err != nil {
		writeErr(w, err)
		return
	}
	view, err := h.orch.GetJob(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteJob handles DELETE /api/jobs/{id}?delete_output=true
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.orch.DeleteJob(ctx, mux.Vars(r)["id"], queryBool(r, "delete_output")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orch.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetConfig handles GET /api/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"workers":     h.cfg.Workers,
		"queue_size":  h.cfg.QueueSize,
		"output_dir":  h.cfg.OutputDir,
		"log_level":   logger.Level(),
		"ffmpeg_path": h.cfg.FFmpegPath,
	})
}

// UpdateConfigRequest holds the settings that can change at runtime.
type UpdateConfigRequest struct {
	LogLevel *string `json:"log_level,omitempty"`
}

// UpdateConfig handles PUT /api/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()

	if req.LogLevel != nil {
		switch *req.LogLevel {
		case "debug", "info", "warn", "error":
		default:
			writeError(w, http.StatusBadRequest, "log_level must be one of debug, info, warn, error")
			return
		}
		h.cfg.LogLevel = *req.LogLevel
		logger.SetLevel(*req.LogLevel)
	}

	if h.cfgPath != "" {
		if err := h.cfg.Save(h.cfgPath); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save config: "+err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
