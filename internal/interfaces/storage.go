// -----------------------------------------------------------------------
// Storage interfaces - repository contracts consumed by the workflow core
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/genieops/internal/models"
)

// SubmissionStorage is the repository for submission records.
// Get returns nil, nil when the record does not exist.
type SubmissionStorage interface {
	CreateSubmission(ctx context.Context, submission *models.Submission) error
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	GetPendingSubmissions(ctx context.Context, limit int) ([]*models.Submission, error)
	// UpdateSubmission applies a partial update and returns the stored record, nil if missing
	UpdateSubmission(ctx context.Context, id string, update models.SubmissionUpdate) (*models.Submission, error)
	DeleteSubmission(ctx context.Context, id string) error
	ListSubmissions(ctx context.Context, opts SubmissionListOptions) ([]*models.Submission, error)
	// ListFailedBefore returns failed submissions last updated before cutoff
	ListFailedBefore(ctx context.Context, cutoff time.Time) ([]*models.Submission, error)
	FindByPair(ctx context.Context, productID, directoryID string) (*models.Submission, error)
	CountByStatus(ctx context.Context, productID string) (map[models.SubmissionStatus]int, error)
}

// SubmissionListOptions filters ListSubmissions
type SubmissionListOptions struct {
	ProductID string
	Status    models.SubmissionStatus
	Limit     int
	Offset    int
}

// ProductStorage is the repository for products
type ProductStorage interface {
	SaveProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetProductByURL(ctx context.Context, url string) (*models.Product, error)
	ListProducts(ctx context.Context) ([]*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

// DirectoryStorage is the repository for directories
type DirectoryStorage interface {
	SaveDirectory(ctx context.Context, directory *models.Directory) error
	GetDirectory(ctx context.Context, id string) (*models.Directory, error)
	GetDirectoryByURL(ctx context.Context, url string) (*models.Directory, error)
	ListDirectories(ctx context.Context) ([]*models.Directory, error)
	DeleteDirectory(ctx context.Context, id string) error
}

// SubmissionLogStorage keeps log lines captured per submission
type SubmissionLogStorage interface {
	AppendLogs(ctx context.Context, submissionID string, entries []models.SubmissionLogEntry) error
	GetLogs(ctx context.Context, submissionID string, limit int) ([]models.SubmissionLogEntry, error)
	DeleteLogs(ctx context.Context, submissionID string) error
}

// StorageManager composes all repositories behind one handle
type StorageManager interface {
	SubmissionStorage() SubmissionStorage
	ProductStorage() ProductStorage
	DirectoryStorage() DirectoryStorage
	SubmissionLogStorage() SubmissionLogStorage
	LoadCatalogFile(ctx context.Context, path string) error
	Close() error
}
