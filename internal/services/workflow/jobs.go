package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

// JobService creates the submissions of a job and reports their status
type JobService struct {
	submissions interfaces.SubmissionStorage
	products    interfaces.ProductStorage
	directories interfaces.DirectoryStorage
	logger      arbor.ILogger
	now         func() time.Time
}

var _ interfaces.JobService = (*JobService)(nil)

// NewJobService creates a JobService
func NewJobService(storage interfaces.StorageManager, logger arbor.ILogger) *JobService {
	return &JobService{
		submissions: storage.SubmissionStorage(),
		products:    storage.ProductStorage(),
		directories: storage.DirectoryStorage(),
		logger:      logger,
		now:         time.Now,
	}
}

// StartJob creates one pending submission per directory for the product.
// Existing (product, directory) pairs are skipped. An empty directoryIDs
// targets every directory.
func (s *JobService) StartJob(ctx context.Context, productID string, directoryIDs []string) (*models.JobStartResult, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, models.NewWorkflowError(models.ErrorPersistence, "", "failed to load product", err)
	}
	if product == nil {
		return nil, fmt.Errorf("product %s: %w", productID, interfaces.ErrNotFound)
	}

	directories, err := s.resolveDirectories(ctx, directoryIDs)
	if err != nil {
		return nil, err
	}
	if len(directories) == 0 {
		return nil, fmt.Errorf("no directories available for submission: %w", interfaces.ErrInvalidState)
	}

	now := s.now()
	result := &models.JobStartResult{
		JobID:       common.NewJobID(product.ID, now),
		ProductID:   product.ID,
		Submissions: []string{},
	}

	for _, directory := range directories {
		existing, err := s.submissions.FindByPair(ctx, product.ID, directory.ID)
		if err != nil {
			return nil, models.NewWorkflowError(models.ErrorPersistence, "", "failed to check existing submission", err)
		}
		if existing != nil {
			s.logger.Debug().
				Str("product_id", product.ID).
				Str("directory_id", directory.ID).
				Str("submission_id", existing.ID).
				Msg("Submission already exists, skipping")
			result.Skipped++
			continue
		}

		sub := &models.Submission{
			ID:          common.NewSubmissionID(),
			JobID:       result.JobID,
			ProductID:   product.ID,
			DirectoryID: directory.ID,
			Status:      models.SubmissionPending,
			CreatedAt:   now,
		}
		if err := s.submissions.CreateSubmission(ctx, sub); err != nil {
			return nil, models.NewWorkflowError(models.ErrorPersistence, "", "failed to create submission", err)
		}
		result.Created++
		result.Submissions = append(result.Submissions, sub.ID)
	}

	s.logger.Info().
		Str("job_id", result.JobID).
		Str("product_id", product.ID).
		Int("directories", len(directories)).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Msg("Submission job started")
	return result, nil
}

func (s *JobService) resolveDirectories(ctx context.Context, ids []string) ([]*models.Directory, error) {
	if len(ids) == 0 {
		all, err := s.directories.ListDirectories(ctx)
		if err != nil {
			return nil, models.NewWorkflowError(models.ErrorPersistence, "", "failed to list directories", err)
		}
		return all, nil
	}

	seen := make(map[string]bool, len(ids))
	out := make([]*models.Directory, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		directory, err := s.directories.GetDirectory(ctx, id)
		if err != nil {
			return nil, models.NewWorkflowError(models.ErrorPersistence, "", "failed to load directory", err)
		}
		if directory == nil {
			return nil, fmt.Errorf("directory %s: %w", id, interfaces.ErrNotFound)
		}
		out = append(out, directory)
	}
	return out, nil
}

// JobStatus counts the product's submissions per status
func (s *JobService) JobStatus(ctx context.Context, productID string) (*models.StatusBreakdown, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, models.NewWorkflowError(models.ErrorPersistence, "", "failed to load product", err)
	}
	if product == nil {
		return nil, fmt.Errorf("product %s: %w", productID, interfaces.ErrNotFound)
	}

	submissions, err := s.submissions.ListSubmissions(ctx, interfaces.SubmissionListOptions{ProductID: productID})
	if err != nil {
		return nil, models.NewWorkflowError(models.ErrorPersistence, "", "failed to list submissions", err)
	}

	breakdown := &models.StatusBreakdown{
		ProductID:   productID,
		Total:       len(submissions),
		ByStatus:    make(map[models.SubmissionStatus]int, len(models.AllSubmissionStatuses)),
		Submissions: submissions,
	}
	for _, status := range models.AllSubmissionStatuses {
		breakdown.ByStatus[status] = 0
	}
	for _, sub := range submissions {
		breakdown.ByStatus[sub.Status]++
	}
	return breakdown, nil
}
