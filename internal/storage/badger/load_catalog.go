package badger

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the YAML document imported on startup
// Format:
//
//	products:
//	  - name: Acme
//	    url: https://acme.io
//	    contact_email: hi@acme.io
//	directories:
//	  - name: SaaSHub
//	    url: https://www.saashub.com/submit
type CatalogFile struct {
	Products    []models.Product   `yaml:"products"`
	Directories []models.Directory `yaml:"directories"`
}

var catalogValidator = validator.New()

// LoadCatalogFile upserts the products and directories listed in a YAML file.
// Entries are matched by URL so repeated imports do not create duplicates.
// Invalid entries are skipped with a warning.
func LoadCatalogFile(ctx context.Context, products interfaces.ProductStorage, directories interfaces.DirectoryStorage, path string, logger arbor.ILogger) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug().Str("path", path).Msg("Catalog file does not exist, skipping")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	var catalog CatalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}

	loaded, skipped := 0, 0

	for i := range catalog.Products {
		product := catalog.Products[i]
		if err := catalogValidator.Struct(&product); err != nil {
			logger.Warn().Err(err).Str("name", product.Name).Msg("Skipping invalid catalog product")
			skipped++
			continue
		}
		if product.ID == "" {
			existing, err := products.GetProductByURL(ctx, product.URL)
			if err != nil {
				return err
			}
			if existing != nil {
				product.ID = existing.ID
			} else {
				product.ID = common.NewProductID()
			}
		}
		if err := products.SaveProduct(ctx, &product); err != nil {
			return err
		}
		loaded++
	}

	for i := range catalog.Directories {
		directory := catalog.Directories[i]
		if err := catalogValidator.Struct(&directory); err != nil {
			logger.Warn().Err(err).Str("name", directory.Name).Msg("Skipping invalid catalog directory")
			skipped++
			continue
		}
		if directory.ID == "" {
			existing, err := directories.GetDirectoryByURL(ctx, directory.URL)
			if err != nil {
				return err
			}
			if existing != nil {
				directory.ID = existing.ID
			} else {
				directory.ID = common.NewDirectoryID()
			}
		}
		if err := directories.SaveDirectory(ctx, &directory); err != nil {
			return err
		}
		loaded++
	}

	logger.Info().
		Str("path", path).
		Int("loaded", loaded).
		Int("skipped", skipped).
		Msg("Catalog imported")

	return nil
}
