package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/state"
)

// defaultRunLimit bounds the run history returned without an explicit limit.
const defaultRunLimit = 20

// RunProvider is the read surface the run endpoints need.
type RunProvider interface {
	RecentRuns(ctx context.Context, limit int) ([]domain.Run, error)
	Run(ctx context.Context, id string) (domain.Run, error)
	LastRunAt(ctx context.Context) (time.Time, error)
	Stats(ctx context.Context) (state.Stats, error)
}

// RunHandler serves pipeline run history and dataset statistics.
type RunHandler struct {
	provider RunProvider
	logger   *slog.Logger
}

// NewRunHandler creates a RunHandler backed by the given provider.
func NewRunHandler(provider RunProvider, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		provider: provider,
		logger:   logHandler(logger, "run"),
	}
}

// runView is the JSON shape of a single run.
type runView struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Step        string `json:"step,omitempty"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toRunView(r domain.Run) runView {
	v := runView{
		ID:        r.ID,
		Status:    string(r.Status),
		Step:      r.Step,
		Error:     r.Error,
		StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		v.CompletedAt = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// ListRuns returns recent pipeline runs, newest first.
// Query params: limit (default 20, max 500).
// GET /api/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	runs, err := h.provider.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toRunView(run))
	}

	lastRunAt, err := h.provider.LastRunAt(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "last run timestamp unavailable", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":        views,
		"count":       len(views),
		"last_run_at": formatTime(lastRunAt),
	})
}

// GetRun returns a single pipeline run by id.
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}

	run, err := h.provider.Run(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get run failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, toRunView(run))
}

// GetStats returns row counts for the persisted pipeline datasets.
// GET /api/stats
func (h *RunHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.provider.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stats failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"groups":       stats.Groups,
		"markets":      stats.Markets,
		"implications": stats.Implications,
		"pairs":        stats.Pairs,
		"portfolios":   stats.Portfolios,
	})
}
