package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
)

// JobHandler handles submission job endpoints
type JobHandler struct {
	jobs    interfaces.JobService
	manager interfaces.WorkflowManager
	logger  arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs interfaces.JobService, manager interfaces.WorkflowManager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:    jobs,
		manager: manager,
		logger:  logger,
	}
}

// StartJobRequest is the body of POST /api/jobs/start. An empty
// DirectoryIDs targets every directory.
type StartJobRequest struct {
	ProductID    string   `json:"product_id" validate:"required"`
	DirectoryIDs []string `json:"directory_ids" validate:"omitempty,dive,required"`
}

// StartJobHandler handles POST /api/jobs/start
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req StartJobRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.jobs.StartJob(r.Context(), req.ProductID, req.DirectoryIDs)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Str("job_id", result.JobID).
		Str("product_id", result.ProductID).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Msg("Submission job started")

	WriteJSON(w, http.StatusOK, result)
}

// JobStatusHandler handles GET /api/jobs/status/{productId}
func (h *JobHandler) JobStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	productID := PathID(r, "/api/jobs/status/")
	if productID == "" {
		WriteError(w, http.StatusBadRequest, "Product ID is required")
		return
	}

	breakdown, err := h.jobs.JobStatus(r.Context(), productID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, breakdown)
}

// ProcessSubmissionHandler handles POST /api/jobs/process/{submissionId}
func (h *JobHandler) ProcessSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	submissionID := PathID(r, "/api/jobs/process/")
	if submissionID == "" {
		WriteError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	if err := h.manager.ProcessSubmission(r.Context(), submissionID); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":        "started",
		"submission_id": submissionID,
		"message":       "Submission scheduled for processing",
	})
}
