package badger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// logSequence keeps log keys unique within the same nanosecond
var logSequence uint64

// SubmissionLogStorage implements the SubmissionLogStorage interface for Badger
type SubmissionLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSubmissionLogStorage creates a new SubmissionLogStorage instance
func NewSubmissionLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SubmissionLogStorage {
	return &SubmissionLogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SubmissionLogStorage) AppendLogs(ctx context.Context, submissionID string, entries []models.SubmissionLogEntry) error {
	for _, entry := range entries {
		entry.SubmissionID = submissionID
		if entry.FullTimestamp == "" {
			entry.FullTimestamp = time.Now().Format(time.RFC3339Nano)
		}

		seq := atomic.AddUint64(&logSequence, 1)
		key := fmt.Sprintf("%s_%d_%d", submissionID, time.Now().UnixNano(), seq)

		if err := s.db.Store().Insert(key, &entry); err != nil {
			return fmt.Errorf("failed to append submission log: %w", err)
		}
	}
	return nil
}

// GetLogs returns the most recent entries in chronological order
func (s *SubmissionLogStorage) GetLogs(ctx context.Context, submissionID string, limit int) ([]models.SubmissionLogEntry, error) {
	var logs []models.SubmissionLogEntry
	query := badgerhold.Where("SubmissionID").Eq(submissionID).SortBy("FullTimestamp").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to get submission logs: %w", err)
	}

	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

func (s *SubmissionLogStorage) DeleteLogs(ctx context.Context, submissionID string) error {
	if err := s.db.Store().DeleteMatching(&models.SubmissionLogEntry{}, badgerhold.Where("SubmissionID").Eq(submissionID)); err != nil {
		return fmt.Errorf("failed to delete submission logs: %w", err)
	}
	return nil
}
