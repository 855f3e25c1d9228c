package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/trustpilot-scraper/internal/database"
	"github.com/maltedev/trustpilot-scraper/internal/jobs"
)

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// RunManager is the part of jobs.Manager the API exposes.
type RunManager interface {
	CreateRun(ctx context.Context, country string, trigger jobs.Trigger) (*jobs.Run, error)
	GetRun(ctx context.Context, runID string) (*jobs.Run, error)
	ListRuns(ctx context.Context) ([]*jobs.Run, error)
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type OutboxCounter interface {
	Counts(ctx context.Context) (map[string]int64, error)
}

type Handlers struct {
	jobs   RunManager
	db     Pinger
	outbox OutboxCounter
	logger *slog.Logger
}

// NewHandlers creates new API handlers.
func NewHandlers(jobs RunManager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:   jobs,
		logger: logger.With("component", "api"),
	}
}

// WithDatabase adds database and outbox checks to the health endpoint.
func (h *Handlers) WithDatabase(db Pinger, outbox OutboxCounter) *Handlers {
	h.db = db
	h.outbox = outbox
	return h
}

// CreateRunRequest asks for a crawl of one country.
type CreateRunRequest struct {
	Country string `json:"country"`
}

type CreateRunResponse struct {
	RunID   string      `json:"run_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Country == "" {
		h.respondError(w, http.StatusBadRequest, "country is required")
		return
	}

	run, err := h.jobs.CreateRun(r.Context(), req.Country, jobs.TriggerAPI)
	if errors.Is(err, jobs.ErrInvalidCountry) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to create run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateRunResponse{
		RunID:   run.ID,
		Status:  run.Status,
		Message: "Run created successfully",
	})
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	run, err := h.jobs.GetRun(r.Context(), runID)
	if errors.Is(err, jobs.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.jobs.ListRuns(r.Context())
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// Health reports "ok", "warning" or "error". Database and outbox checks
// only run when WithDatabase was called.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Warn("database ping failed", "error", err)
			health["status"] = "error"
			health["database"] = "unreachable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}
		health["database"] = "ok"
	}

	if h.outbox != nil {
		counts, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Warn("failed to count outbox events", "error", err)
		}
		pending := counts[database.OutboxStatusPending] + counts[database.OutboxStatusFailed]
		deadLetter := counts[database.OutboxStatusDeadLetter]

		health["outbox"] = map[string]any{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
