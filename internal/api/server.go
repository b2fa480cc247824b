package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/batch-mailer/internal/config"
)

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, h *Handlers, hc *HealthChecker) *Server {
	return &Server{
		config:  cfg,
		handler: SetupRoutes(h, hc, cfg.AllowedOrigins),
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start starts the HTTP server on the configured address.
func (s *Server) Start() error {
	return s.ListenAndServe(s.config.Addr())
}

// ListenAndServe serves on addr. Progress streams stay open for the length
// of a run, so there is no write timeout.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
