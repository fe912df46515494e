package interfaces

import (
	"context"

	"github.com/ternarybob/genieops/internal/models"
)

// StageReporter receives pipeline progress updates
type StageReporter func(stage models.Stage, percent int, message string)

// Submitter runs one end-to-end submission pipeline
type Submitter interface {
	Submit(ctx context.Context, directory *models.Directory, product *models.Product, opts SubmitOptions) *models.WorkflowResult
}

// SubmitOptions carries per-run settings
type SubmitOptions struct {
	SubmissionID   string
	ScreenshotPath string
	Report         StageReporter
}

// WorkflowManager is the operator-facing scheduler surface
type WorkflowManager interface {
	Start(ctx context.Context) error
	Stop() error
	Status() *models.WorkflowStatus
	TriggerProcessing(ctx context.Context) (int, error)
	ProcessSubmission(ctx context.Context, submissionID string) error
	ProcessAllPending(ctx context.Context, limit int) (int, error)
	RetryFailed(ctx context.Context, maxAgeHours int) (int, error)
	StopAutoRetry(ctx context.Context, submissionID string) (*models.Submission, error)
	Progress(submissionID string) (*models.ProgressEntry, bool)
	AllProgress() []*models.ProgressEntry
}

// JobService starts submission jobs and reports their status
type JobService interface {
	StartJob(ctx context.Context, productID string, directoryIDs []string) (*models.JobStartResult, error)
	JobStatus(ctx context.Context, productID string) (*models.StatusBreakdown, error)
}

// ReportService renders a product's submission status as a document
type ReportService interface {
	ProductReportPDF(ctx context.Context, productID string) ([]byte, error)
}
