package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/start", s.app.JobHandler.StartJobHandler)             // POST
	mux.HandleFunc("/api/jobs/status/", s.app.JobHandler.JobStatusHandler)          // GET /{productId}
	mux.HandleFunc("/api/jobs/process/", s.app.JobHandler.ProcessSubmissionHandler) // POST /{submissionId}

	// API routes - Workflow manager
	mux.HandleFunc("/api/workflow/status", s.app.WorkflowHandler.StatusHandler)
	mux.HandleFunc("/api/workflow/process-pending", s.app.WorkflowHandler.ProcessPendingHandler)
	mux.HandleFunc("/api/workflow/retry-failed", s.app.WorkflowHandler.RetryFailedHandler)
	mux.HandleFunc("/api/workflow/process-all", s.app.WorkflowHandler.ProcessAllHandler)
	mux.HandleFunc("/api/workflow/progress", s.app.WorkflowHandler.ProgressHandler)
	mux.HandleFunc("/api/workflow/progress/", s.app.WorkflowHandler.ProgressHandler)
	mux.HandleFunc("/api/workflow/stop-auto-retry/", s.app.WorkflowHandler.StopAutoRetryHandler)

	// API routes - Catalog
	mux.HandleFunc("/api/products", s.handleProductRoutes)
	mux.HandleFunc("/api/products/", s.handleProductRoutes)
	mux.HandleFunc("/api/directories", s.handleDirectoryRoutes)
	mux.HandleFunc("/api/directories/", s.handleDirectoryRoutes)

	// API routes - Submissions
	mux.HandleFunc("/api/submissions", s.handleSubmissionRoutes)
	mux.HandleFunc("/api/submissions/", s.handleSubmissionRoutes)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleProductRoutes routes /api/products, /api/products/{id} and
// /api/products/{id}/report.pdf
func (s *Server) handleProductRoutes(w http.ResponseWriter, r *http.Request) {
	h := s.app.CatalogHandler
	if RouteByPathSuffix(w, r, "/api/products/", []PathSuffixRouter{
		{Suffix: "/report.pdf", Handler: h.ProductReportHandler},
	}) {
		return
	}
	RouteResource(w, r, "/api/products/",
		h.ListProductsHandler, h.CreateProductHandler,
		h.GetProductHandler, h.UpdateProductHandler, h.DeleteProductHandler)
}

// handleDirectoryRoutes routes /api/directories and /api/directories/{id}
func (s *Server) handleDirectoryRoutes(w http.ResponseWriter, r *http.Request) {
	h := s.app.CatalogHandler
	RouteResource(w, r, "/api/directories/",
		h.ListDirectoriesHandler, h.CreateDirectoryHandler,
		h.GetDirectoryHandler, h.UpdateDirectoryHandler, h.DeleteDirectoryHandler)
}

// handleSubmissionRoutes routes /api/submissions, /api/submissions/{id}
// and /api/submissions/{id}/logs
func (s *Server) handleSubmissionRoutes(w http.ResponseWriter, r *http.Request) {
	h := s.app.SubmissionHandler
	if RouteByPathSuffix(w, r, "/api/submissions/", []PathSuffixRouter{
		{Suffix: "/logs", Handler: h.LogsHandler},
	}) {
		return
	}
	RouteResource(w, r, "/api/submissions/",
		h.ListSubmissionsHandler, h.CreateSubmissionHandler,
		h.GetSubmissionHandler, h.UpdateSubmissionHandler, h.DeleteSubmissionHandler)
}
