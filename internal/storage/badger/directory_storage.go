package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DirectoryStorage implements the DirectoryStorage interface for Badger
type DirectoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDirectoryStorage creates a new DirectoryStorage instance
func NewDirectoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DirectoryStorage {
	return &DirectoryStorage{
		db:     db,
		logger: logger,
	}
}

// SaveDirectory inserts or updates a directory, preserving CreatedAt
func (s *DirectoryStorage) SaveDirectory(ctx context.Context, directory *models.Directory) error {
	if directory.ID == "" {
		return fmt.Errorf("directory ID is required")
	}

	now := time.Now()
	var existing models.Directory
	if err := s.db.Store().Get(directory.ID, &existing); err == nil {
		directory.CreatedAt = existing.CreatedAt
	} else if directory.CreatedAt.IsZero() {
		directory.CreatedAt = now
	}
	directory.UpdatedAt = now

	if err := s.db.Store().Upsert(directory.ID, directory); err != nil {
		return fmt.Errorf("failed to save directory: %w", err)
	}
	return nil
}

func (s *DirectoryStorage) GetDirectory(ctx context.Context, id string) (*models.Directory, error) {
	var directory models.Directory
	err := s.db.Store().Get(id, &directory)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get directory: %w", err)
	}
	return &directory, nil
}

func (s *DirectoryStorage) GetDirectoryByURL(ctx context.Context, url string) (*models.Directory, error) {
	var directories []models.Directory
	if err := s.db.Store().Find(&directories, badgerhold.Where("URL").Eq(url).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to find directory by url: %w", err)
	}
	if len(directories) == 0 {
		return nil, nil
	}
	return &directories[0], nil
}

func (s *DirectoryStorage) ListDirectories(ctx context.Context) ([]*models.Directory, error) {
	var directories []models.Directory
	if err := s.db.Store().Find(&directories, badgerhold.Where("ID").Ne("").SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list directories: %w", err)
	}
	result := make([]*models.Directory, len(directories))
	for i := range directories {
		result[i] = &directories[i]
	}
	return result, nil
}

func (s *DirectoryStorage) DeleteDirectory(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.Directory{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete directory: %w", err)
	}
	return nil
}
