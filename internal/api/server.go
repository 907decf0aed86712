package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/verifier"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(cfg domain.ServerConfig, svc *verifier.Service, auth *Authenticator, limiter *RateLimiter, metrics http.Handler, version string) *Server {
	handler := NewHandler(svc, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Unauthenticated endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}
	router.Get("/v1/validation-types", handler.ListValidationTypes)
	router.Get("/v1/validation-types/{type}/cost", handler.EstimateCost)

	// Authenticated API
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(limiter.Middleware)

		// Admin only
		r.Group(func(r chi.Router) {
			r.Use(handler.RequireAdmin)

			r.Put("/v1/model", handler.UpdateModel)
			r.Post("/v1/model/retrain", handler.RetrainModel)
			r.Post("/v1/patterns", handler.CreatePattern)
			r.Post("/v1/admins", handler.AddAdmin)
		})

		// Admins and the identity service
		r.Group(func(r chi.Router) {
			r.Use(handler.RequireCaller)

			// Validation
			r.Post("/v1/validations", handler.Validate)
			r.Get("/v1/validations/{id}", handler.GetValidation)
			r.Get("/v1/validations/{id}/status", handler.GetValidationStatus)
			r.Post("/v1/identities/{identityID}/validate", handler.ValidateIdentity)
			r.Get("/v1/identities/{identityID}/validations", handler.ListIdentityValidations)
			r.Post("/v1/deepfake", handler.DetectDeepfake)

			// Model
			r.Get("/v1/model", handler.GetModel)
			r.Get("/v1/model/metrics", handler.GetModelMetrics)

			// Pattern registry
			r.Get("/v1/patterns", handler.ListPatterns)
			r.Get("/v1/patterns/{id}", handler.GetPattern)
		})
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
