package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensense-health/kestrel/internal/alerts"
	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/history"
	"github.com/opensense-health/kestrel/internal/norms"
	"github.com/opensense-health/kestrel/internal/pipeline"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *alerts.Engine, store *norms.Store, processor *pipeline.Processor, histSvc *history.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, store, processor, histSvc, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Screening submissions
		r.Post("/assessments", handler.Score)
		r.Get("/assessments/{id}", handler.GetAssessment)

		// Longitudinal retrieval
		r.Get("/subjects/{id}/assessments", handler.ListSubjectAssessments)

		// Calibration management
		r.Get("/norms", handler.GetNorms)
		r.Put("/norms", handler.UpdateNorms)
		r.Post("/norms/reload", handler.ReloadNorms)

		// Alert rule management
		r.Get("/alert-rules", handler.ListAlertRules)
		r.Get("/alert-rules/{id}", handler.GetAlertRule)
		r.Post("/alert-rules", handler.CreateAlertRule)
		r.Delete("/alert-rules/{id}", handler.DeleteAlertRule)
		r.Post("/alert-rules/reload", handler.ReloadAlertRules)
	})

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
