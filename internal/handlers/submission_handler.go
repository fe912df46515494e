package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

const defaultLogLimit = 200

// CreateSubmissionRequest is the body of POST /api/submissions
type CreateSubmissionRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	DirectoryID string `json:"directory_id" validate:"required"`
}

// UpdateSubmissionRequest is the body of PUT /api/submissions/{id}.
// Omitted fields are left unchanged.
type UpdateSubmissionRequest struct {
	Status       *models.SubmissionStatus `json:"status" validate:"omitempty,oneof=pending submitted approved failed auto_retry_suppressed"`
	ErrorMessage *string                  `json:"error_message" validate:"omitempty,max=2000"`
	RetryCount   *int                     `json:"retry_count" validate:"omitempty,min=0"`
}

// SubmissionHandler manages submission records and their logs
type SubmissionHandler struct {
	submissions interfaces.SubmissionStorage
	products    interfaces.ProductStorage
	directories interfaces.DirectoryStorage
	logs        interfaces.SubmissionLogStorage
	logger      arbor.ILogger
}

// NewSubmissionHandler creates a new submission handler
func NewSubmissionHandler(storage interfaces.StorageManager, logger arbor.ILogger) *SubmissionHandler {
	return &SubmissionHandler{
		submissions: storage.SubmissionStorage(),
		products:    storage.ProductStorage(),
		directories: storage.DirectoryStorage(),
		logs:        storage.SubmissionLogStorage(),
		logger:      logger,
	}
}

// ListSubmissionsHandler handles GET /api/submissions?status=&product_id=&limit=&offset=
func (h *SubmissionHandler) ListSubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := GetPaginationParams(r)
	opts := interfaces.SubmissionListOptions{
		ProductID: r.URL.Query().Get("product_id"),
		Status:    models.SubmissionStatus(r.URL.Query().Get("status")),
		Limit:     limit,
		Offset:    offset,
	}
	if opts.Status != "" && !opts.Status.IsValid() {
		WriteError(w, http.StatusBadRequest, "Unknown status filter")
		return
	}

	submissions, err := h.submissions.ListSubmissions(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if submissions == nil {
		submissions = []*models.Submission{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": submissions,
		"count":       len(submissions),
		"limit":       limit,
		"offset":      offset,
	})
}

// CreateSubmissionHandler handles POST /api/submissions
func (h *SubmissionHandler) CreateSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSubmissionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	product, err := h.products.GetProduct(ctx, req.ProductID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if product == nil {
		WriteError(w, http.StatusNotFound, "Product not found")
		return
	}
	directory, err := h.directories.GetDirectory(ctx, req.DirectoryID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if directory == nil {
		WriteError(w, http.StatusNotFound, "Directory not found")
		return
	}

	existing, err := h.submissions.FindByPair(ctx, req.ProductID, req.DirectoryID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if existing != nil {
		WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"status":        "error",
			"error":         "Submission already exists for this product and directory",
			"submission_id": existing.ID,
		})
		return
	}

	submission := &models.Submission{
		ID:          common.NewSubmissionID(),
		ProductID:   req.ProductID,
		DirectoryID: req.DirectoryID,
		Status:      models.SubmissionPending,
	}
	if err := h.submissions.CreateSubmission(ctx, submission); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Str("submission_id", submission.ID).
		Str("product_id", submission.ProductID).
		Str("directory_id", submission.DirectoryID).
		Msg("Submission created")
	WriteJSON(w, http.StatusCreated, submission)
}

// GetSubmissionHandler handles GET /api/submissions/{id}
func (h *SubmissionHandler) GetSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	submission, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, submission)
}

// UpdateSubmissionHandler handles PUT /api/submissions/{id}
func (h *SubmissionHandler) UpdateSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	id := PathID(r, "/api/submissions/")

	var req UpdateSubmissionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	update := models.SubmissionUpdate{
		Status:       req.Status,
		ErrorMessage: req.ErrorMessage,
		RetryCount:   req.RetryCount,
	}
	if req.Status != nil && *req.Status == models.SubmissionPending {
		none := models.ErrorKind("")
		update.ErrorKind = &none
	}

	submission, err := h.submissions.UpdateSubmission(r.Context(), id, update)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if submission == nil {
		WriteError(w, http.StatusNotFound, "Submission not found")
		return
	}
	WriteJSON(w, http.StatusOK, submission)
}

// DeleteSubmissionHandler handles DELETE /api/submissions/{id}
func (h *SubmissionHandler) DeleteSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	submission, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}

	if err := h.submissions.DeleteSubmission(r.Context(), submission.ID); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if err := h.logs.DeleteLogs(r.Context(), submission.ID); err != nil {
		h.logger.Warn().Err(err).Str("submission_id", submission.ID).Msg("Failed to delete submission logs")
	}

	h.logger.Info().Str("submission_id", submission.ID).Msg("Submission deleted")
	WriteSuccess(w, "Submission deleted")
}

// LogsHandler handles GET /api/submissions/{id}/logs?limit=N
func (h *SubmissionHandler) LogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	submission, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}
	limit, err := QueryInt(r, "limit", defaultLogLimit)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.logs.GetLogs(r.Context(), submission.ID, limit)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if logs == nil {
		logs = []models.SubmissionLogEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"submission_id": submission.ID,
		"logs":          logs,
		"count":         len(logs),
	})
}

func (h *SubmissionHandler) loadSubmission(w http.ResponseWriter, r *http.Request) (*models.Submission, bool) {
	id := PathID(r, "/api/submissions/")
	submission, err := h.submissions.GetSubmission(r.Context(), id)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return nil, false
	}
	if submission == nil {
		WriteError(w, http.StatusNotFound, "Submission not found")
		return nil, false
	}
	return submission, true
}
