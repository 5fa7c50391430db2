package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// PipelineTrigger requests an extra pipeline run. The pipeline run loop
// implements it; requests are dropped when one is already pending.
type PipelineTrigger interface {
	Trigger()
}

// PipelineHandler serves the pipeline trigger endpoint.
type PipelineHandler struct {
	trigger PipelineTrigger // nil when no pipeline loop runs in this process
	logger  *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler. trigger may be nil when the
// process runs in serve-only mode.
func NewPipelineHandler(trigger PipelineTrigger, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{
		trigger: trigger,
		logger:  logHandler(logger, "pipeline"),
	}
}

// TriggerPipeline enqueues one pipeline run.
// POST /api/pipeline/trigger
func (h *PipelineHandler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusConflict, "no pipeline loop is running in this process")
		return
	}

	h.logger.InfoContext(r.Context(), "pipeline trigger requested")
	h.trigger.Trigger()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      "pipeline run enqueued",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
