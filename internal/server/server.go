package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/genieops/internal/app"
)

// Server manages the HTTP server and routes
type Server struct {
	app            *app.App
	router         *http.ServeMux
	server         *http.Server
	defaultLimiter *clientLimiter
	jobsLimiter    *clientLimiter
}

// New creates a new HTTP server with the given app
func New(application *app.App) *Server {
	limits := application.Config.RateLimit
	s := &Server{
		app:            application,
		defaultLimiter: newClientLimiter(limits.RequestsPerMinute, limits.Burst),
		jobsLimiter:    newClientLimiter(limits.JobsPerMinute, limits.Burst),
	}

	// Setup routes
	s.router = s.setupRoutes()

	// Create HTTP server. WriteTimeout stays 0 so websocket streams and
	// report rendering are not cut off.
	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.router)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
