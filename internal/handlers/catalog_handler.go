package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

// ProductRequest is the body of product create and update
type ProductRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	URL          string `json:"url" validate:"required,url"`
	Description  string `json:"description" validate:"max=5000"`
	Category     string `json:"category" validate:"max=100"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
	LogoPath     string `json:"logo_path"`
}

// DirectoryRequest is the body of directory create and update
type DirectoryRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	URL         string `json:"url" validate:"required,url"`
	Description string `json:"description" validate:"max=5000"`
	Category    string `json:"category" validate:"max=100"`
}

// CatalogHandler manages products and directories
type CatalogHandler struct {
	products    interfaces.ProductStorage
	directories interfaces.DirectoryStorage
	submissions interfaces.SubmissionStorage
	reports     interfaces.ReportService
	logger      arbor.ILogger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(storage interfaces.StorageManager, reports interfaces.ReportService, logger arbor.ILogger) *CatalogHandler {
	return &CatalogHandler{
		products:    storage.ProductStorage(),
		directories: storage.DirectoryStorage(),
		submissions: storage.SubmissionStorage(),
		reports:     reports,
		logger:      logger,
	}
}

// -----------------------------------------------------------------------
// Products
// -----------------------------------------------------------------------

// ListProductsHandler handles GET /api/products
func (h *CatalogHandler) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if products == nil {
		products = []*models.Product{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"products": products,
		"count":    len(products),
	})
}

// CreateProductHandler handles POST /api/products
func (h *CatalogHandler) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.products.GetProductByURL(r.Context(), req.URL)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if existing != nil {
		WriteError(w, http.StatusConflict, fmt.Sprintf("Product with URL %s already exists (%s)", req.URL, existing.ID))
		return
	}

	product := &models.Product{ID: common.NewProductID()}
	req.applyTo(product)
	if err := h.products.SaveProduct(r.Context(), product); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	h.logger.Info().Str("product_id", product.ID).Str("name", product.Name).Msg("Product created")
	WriteJSON(w, http.StatusCreated, product)
}

// GetProductHandler handles GET /api/products/{id}
func (h *CatalogHandler) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	product, ok := h.loadProduct(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, product)
}

// UpdateProductHandler handles PUT /api/products/{id}
func (h *CatalogHandler) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	product, ok := h.loadProduct(w, r)
	if !ok {
		return
	}

	var req ProductRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.applyTo(product)

	if err := h.products.SaveProduct(r.Context(), product); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, product)
}

// DeleteProductHandler handles DELETE /api/products/{id}. Products that
// still have submissions are kept.
func (h *CatalogHandler) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	product, ok := h.loadProduct(w, r)
	if !ok {
		return
	}

	subs, err := h.submissions.ListSubmissions(r.Context(), interfaces.SubmissionListOptions{ProductID: product.ID, Limit: 1})
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if len(subs) > 0 {
		WriteError(w, http.StatusConflict, "Product has submissions; delete them first")
		return
	}

	if err := h.products.DeleteProduct(r.Context(), product.ID); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	h.logger.Info().Str("product_id", product.ID).Msg("Product deleted")
	WriteSuccess(w, "Product deleted")
}

// ProductReportHandler handles GET /api/products/{id}/report.pdf
func (h *CatalogHandler) ProductReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	productID := PathID(r, "/api/products/")
	out, err := h.reports.ProductReportPDF(r.Context(), productID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s-report.pdf"`, productID))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (h *CatalogHandler) loadProduct(w http.ResponseWriter, r *http.Request) (*models.Product, bool) {
	id := PathID(r, "/api/products/")
	product, err := h.products.GetProduct(r.Context(), id)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return nil, false
	}
	if product == nil {
		WriteError(w, http.StatusNotFound, "Product not found")
		return nil, false
	}
	return product, true
}

func (req ProductRequest) applyTo(p *models.Product) {
	p.Name = strings.TrimSpace(req.Name)
	p.URL = req.URL
	p.Description = req.Description
	p.Category = req.Category
	p.ContactEmail = req.ContactEmail
	p.LogoPath = req.LogoPath
}

// -----------------------------------------------------------------------
// Directories
// -----------------------------------------------------------------------

// ListDirectoriesHandler handles GET /api/directories
func (h *CatalogHandler) ListDirectoriesHandler(w http.ResponseWriter, r *http.Request) {
	directories, err := h.directories.ListDirectories(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if directories == nil {
		directories = []*models.Directory{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"directories": directories,
		"count":       len(directories),
	})
}

// CreateDirectoryHandler handles POST /api/directories
func (h *CatalogHandler) CreateDirectoryHandler(w http.ResponseWriter, r *http.Request) {
	var req DirectoryRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.directories.GetDirectoryByURL(r.Context(), req.URL)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if existing != nil {
		WriteError(w, http.StatusConflict, fmt.Sprintf("Directory with URL %s already exists (%s)", req.URL, existing.ID))
		return
	}

	directory := &models.Directory{ID: common.NewDirectoryID()}
	req.applyTo(directory)
	if err := h.directories.SaveDirectory(r.Context(), directory); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	h.logger.Info().Str("directory_id", directory.ID).Str("name", directory.Name).Msg("Directory created")
	WriteJSON(w, http.StatusCreated, directory)
}

// GetDirectoryHandler handles GET /api/directories/{id}
func (h *CatalogHandler) GetDirectoryHandler(w http.ResponseWriter, r *http.Request) {
	directory, ok := h.loadDirectory(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, directory)
}

// UpdateDirectoryHandler handles PUT /api/directories/{id}
func (h *CatalogHandler) UpdateDirectoryHandler(w http.ResponseWriter, r *http.Request) {
	directory, ok := h.loadDirectory(w, r)
	if !ok {
		return
	}

	var req DirectoryRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.applyTo(directory)

	if err := h.directories.SaveDirectory(r.Context(), directory); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, directory)
}

// DeleteDirectoryHandler handles DELETE /api/directories/{id}
func (h *CatalogHandler) DeleteDirectoryHandler(w http.ResponseWriter, r *http.Request) {
	directory, ok := h.loadDirectory(w, r)
	if !ok {
		return
	}
	if err := h.directories.DeleteDirectory(r.Context(), directory.ID); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	h.logger.Info().Str("directory_id", directory.ID).Msg("Directory deleted")
	WriteSuccess(w, "Directory deleted")
}

func (h *CatalogHandler) loadDirectory(w http.ResponseWriter, r *http.Request) (*models.Directory, bool) {
	id := PathID(r, "/api/directories/")
	directory, err := h.directories.GetDirectory(r.Context(), id)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return nil, false
	}
	if directory == nil {
		WriteError(w, http.StatusNotFound, "Directory not found")
		return nil, false
	}
	return directory, true
}

func (req DirectoryRequest) applyTo(d *models.Directory) {
	d.Name = strings.TrimSpace(req.Name)
	d.URL = req.URL
	d.Description = req.Description
	d.Category = req.Category
}
