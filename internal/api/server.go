package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/claimwatch/claimwatch/internal/domain"
	"github.com/claimwatch/claimwatch/internal/engine"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, eng *engine.Engine, version string) *Server {
	handler := NewHandler(eng, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Fraud analysis
	router.Post("/analyze", handler.Analyze)
	router.Post("/analyze/batch", handler.AnalyzeBatch)

	// Analysis retrieval
	router.Get("/analyses", handler.ListAnalyses)
	router.Get("/analyses/{id}", handler.GetAnalysis)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)
	router.Post("/rules/{id}/enable", handler.EnableRule)
	router.Post("/rules/{id}/disable", handler.DisableRule)

	// Pattern catalog
	router.Get("/patterns", handler.ListPatterns)

	// Risk thresholds
	router.Get("/thresholds", handler.GetThresholds)
	router.Put("/thresholds", handler.UpdateThresholds)

	// Blacklist management
	router.Get("/blacklist", handler.ListBlacklist)
	router.Post("/blacklist", handler.AddBlacklist)
	router.Delete("/blacklist/{entity}", handler.RemoveBlacklist)

	// Statistics
	router.Get("/statistics", handler.Statistics)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
