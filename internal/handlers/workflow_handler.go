package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

// defaultRetryMaxAgeHours bounds retry-failed when max_age_hours is absent
const defaultRetryMaxAgeHours = 24

// WorkflowHandler exposes the workflow manager's operator surface
type WorkflowHandler struct {
	manager interfaces.WorkflowManager
	logger  arbor.ILogger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(manager interfaces.WorkflowManager, logger arbor.ILogger) *WorkflowHandler {
	return &WorkflowHandler{
		manager: manager,
		logger:  logger,
	}
}

// StatusHandler handles GET /api/workflow/status
func (h *WorkflowHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, h.manager.Status())
}

// ProcessPendingHandler handles POST /api/workflow/process-pending
func (h *WorkflowHandler) ProcessPendingHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	started, err := h.manager.TriggerProcessing(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "triggered",
		"started": started,
	})
}

// RetryFailedHandler handles POST /api/workflow/retry-failed?max_age_hours=N
func (h *WorkflowHandler) RetryFailedHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	maxAge, err := QueryInt(r, "max_age_hours", defaultRetryMaxAgeHours)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	requeued, err := h.manager.RetryFailed(r.Context(), maxAge)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "requeued",
		"requeued":      requeued,
		"max_age_hours": maxAge,
	})
}

// ProcessAllHandler handles POST /api/workflow/process-all?limit=N.
// A missing limit uses the configured batch size.
func (h *WorkflowHandler) ProcessAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	limit, err := QueryInt(r, "limit", 0)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	started, err := h.manager.ProcessAllPending(r.Context(), limit)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "started",
		"started": started,
	})
}

// ProgressHandler handles GET /api/workflow/progress and
// GET /api/workflow/progress/{submissionId}
func (h *WorkflowHandler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	submissionID := PathID(r, "/api/workflow/progress/")
	if submissionID == "" {
		entries := h.manager.AllProgress()
		if entries == nil {
			entries = []*models.ProgressEntry{}
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"progress": entries,
			"count":    len(entries),
		})
		return
	}

	entry, ok := h.manager.Progress(submissionID)
	if !ok {
		WriteError(w, http.StatusNotFound, "No progress recorded for submission")
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// StopAutoRetryHandler handles POST /api/workflow/stop-auto-retry/{submissionId}
func (h *WorkflowHandler) StopAutoRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	submissionID := PathID(r, "/api/workflow/stop-auto-retry/")
	if submissionID == "" {
		WriteError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	submission, err := h.manager.StopAutoRetry(r.Context(), submissionID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, submission)
}
