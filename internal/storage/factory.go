package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/storage/badger"
)

// NewStorageManager opens the Badger-backed storage manager and imports the
// configured catalog file. A catalog that fails to load is logged and
// skipped so the service still starts with the stored catalog.
func NewStorageManager(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	manager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage manager: %w", err)
	}

	logger.Debug().
		Str("storage", "badger").
		Str("path", config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	if err := manager.LoadCatalogFile(ctx, config.Storage.CatalogFile); err != nil {
		logger.Warn().Err(err).Str("path", config.Storage.CatalogFile).Msg("Failed to load catalog file")
	}

	return manager, nil
}
