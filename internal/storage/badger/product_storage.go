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

// ProductStorage implements the ProductStorage interface for Badger
type ProductStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProductStorage creates a new ProductStorage instance
func NewProductStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProductStorage {
	return &ProductStorage{
		db:     db,
		logger: logger,
	}
}

// SaveProduct inserts or updates a product, preserving CreatedAt
func (s *ProductStorage) SaveProduct(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		return fmt.Errorf("product ID is required")
	}

	now := time.Now()
	var existing models.Product
	if err := s.db.Store().Get(product.ID, &existing); err == nil {
		product.CreatedAt = existing.CreatedAt
	} else if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	if err := s.db.Store().Upsert(product.ID, product); err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *ProductStorage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.Store().Get(id, &product)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

func (s *ProductStorage) GetProductByURL(ctx context.Context, url string) (*models.Product, error) {
	var products []models.Product
	if err := s.db.Store().Find(&products, badgerhold.Where("URL").Eq(url).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to find product by url: %w", err)
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

func (s *ProductStorage) ListProducts(ctx context.Context) ([]*models.Product, error) {
	var products []models.Product
	if err := s.db.Store().Find(&products, badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	result := make([]*models.Product, len(products))
	for i := range products {
		result[i] = &products[i]
	}
	return result, nil
}

func (s *ProductStorage) DeleteProduct(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.Product{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}
