package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SubmissionStorage implements the SubmissionStorage interface for Badger
type SubmissionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	// mu serialises read-modify-write updates
	mu sync.Mutex
}

// NewSubmissionStorage creates a new SubmissionStorage instance
func NewSubmissionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SubmissionStorage {
	return &SubmissionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SubmissionStorage) CreateSubmission(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		return fmt.Errorf("submission ID is required")
	}
	if submission.Status == "" {
		submission.Status = models.SubmissionPending
	}
	now := time.Now()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now

	if err := s.db.Store().Insert(submission.ID, submission); err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

func (s *SubmissionStorage) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var submission models.Submission
	err := s.db.Store().Get(id, &submission)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &submission, nil
}

// GetPendingSubmissions returns pending submissions, oldest first
func (s *SubmissionStorage) GetPendingSubmissions(ctx context.Context, limit int) ([]*models.Submission, error) {
	var submissions []models.Submission
	query := badgerhold.Where("Status").Eq(models.SubmissionPending).SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&submissions, query); err != nil {
		return nil, fmt.Errorf("failed to get pending submissions: %w", err)
	}
	return toSubmissionPtrs(submissions), nil
}

func (s *SubmissionStorage) UpdateSubmission(ctx context.Context, id string, update models.SubmissionUpdate) (*models.Submission, error) {
	if update.Status != nil && !update.Status.IsValid() {
		return nil, fmt.Errorf("invalid submission status: %s", *update.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var submission models.Submission
	err := s.db.Store().Get(id, &submission)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load submission for update: %w", err)
	}

	update.Apply(&submission, time.Now())

	if err := s.db.Store().Update(id, &submission); err != nil {
		return nil, fmt.Errorf("failed to update submission: %w", err)
	}
	return &submission, nil
}

func (s *SubmissionStorage) DeleteSubmission(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.Submission{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	return nil
}

func (s *SubmissionStorage) ListSubmissions(ctx context.Context, opts interfaces.SubmissionListOptions) ([]*models.Submission, error) {
	var submissions []models.Submission

	var query *badgerhold.Query
	switch {
	case opts.ProductID != "" && opts.Status != "":
		query = badgerhold.Where("ProductID").Eq(opts.ProductID).And("Status").Eq(opts.Status)
	case opts.ProductID != "":
		query = badgerhold.Where("ProductID").Eq(opts.ProductID)
	case opts.Status != "":
		query = badgerhold.Where("Status").Eq(opts.Status)
	default:
		query = badgerhold.Where("ID").Ne("")
	}
	query = query.SortBy("CreatedAt").Reverse()
	if opts.Offset > 0 {
		query = query.Skip(opts.Offset)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	if err := s.db.Store().Find(&submissions, query); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return toSubmissionPtrs(submissions), nil
}

func (s *SubmissionStorage) ListFailedBefore(ctx context.Context, cutoff time.Time) ([]*models.Submission, error) {
	var submissions []models.Submission
	query := badgerhold.Where("Status").Eq(models.SubmissionFailed).And("UpdatedAt").Lt(cutoff).SortBy("UpdatedAt")
	if err := s.db.Store().Find(&submissions, query); err != nil {
		return nil, fmt.Errorf("failed to list failed submissions: %w", err)
	}
	return toSubmissionPtrs(submissions), nil
}

func (s *SubmissionStorage) FindByPair(ctx context.Context, productID, directoryID string) (*models.Submission, error) {
	var submissions []models.Submission
	query := badgerhold.Where("ProductID").Eq(productID).And("DirectoryID").Eq(directoryID).Limit(1)
	if err := s.db.Store().Find(&submissions, query); err != nil {
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}
	if len(submissions) == 0 {
		return nil, nil
	}
	return &submissions[0], nil
}

func (s *SubmissionStorage) CountByStatus(ctx context.Context, productID string) (map[models.SubmissionStatus]int, error) {
	counts := make(map[models.SubmissionStatus]int, len(models.AllSubmissionStatuses))
	for _, status := range models.AllSubmissionStatuses {
		query := badgerhold.Where("Status").Eq(status)
		if productID != "" {
			query = query.And("ProductID").Eq(productID)
		}
		count, err := s.db.Store().Count(&models.Submission{}, query)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s submissions: %w", status, err)
		}
		counts[status] = int(count)
	}
	return counts, nil
}

func toSubmissionPtrs(submissions []models.Submission) []*models.Submission {
	result := make([]*models.Submission, len(submissions))
	for i := range submissions {
		result[i] = &submissions[i]
	}
	return result
}
