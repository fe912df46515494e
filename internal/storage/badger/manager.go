package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db            *BadgerDB
	submission    interfaces.SubmissionStorage
	product       interfaces.ProductStorage
	directory     interfaces.DirectoryStorage
	submissionLog interfaces.SubmissionLogStorage
	logger        arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := newManager(db, logger)
	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:            db,
		submission:    NewSubmissionStorage(db, logger),
		product:       NewProductStorage(db, logger),
		directory:     NewDirectoryStorage(db, logger),
		submissionLog: NewSubmissionLogStorage(db, logger),
		logger:        logger,
	}
}

// SubmissionStorage returns the Submission storage interface
func (m *Manager) SubmissionStorage() interfaces.SubmissionStorage {
	return m.submission
}

// ProductStorage returns the Product storage interface
func (m *Manager) ProductStorage() interfaces.ProductStorage {
	return m.product
}

// DirectoryStorage returns the Directory storage interface
func (m *Manager) DirectoryStorage() interfaces.DirectoryStorage {
	return m.directory
}

// SubmissionLogStorage returns the SubmissionLog storage interface
func (m *Manager) SubmissionLogStorage() interfaces.SubmissionLogStorage {
	return m.submissionLog
}

// LoadCatalogFile imports products and directories from a YAML catalog
func (m *Manager) LoadCatalogFile(ctx context.Context, path string) error {
	return LoadCatalogFile(ctx, m.product, m.directory, path, m.logger)
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
