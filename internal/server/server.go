// Package server provides the HTTP server and routing for Divvy.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/engine"
	"github.com/aristath/divvy/internal/modules/scoring"
	"github.com/aristath/divvy/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Log        zerolog.Logger
	Engine     *engine.Engine
	Store      *scoring.Store
	RefreshJob scheduler.Job // Optional; enables the manual refresh endpoint
	Port       int
	DevMode    bool
}

// Server is the HTTP server.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	engine     *engine.Engine
	store      *scoring.Store
	refreshJob scheduler.Job
	health     *HealthHandler
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		engine:     cfg.Engine,
		store:      cfg.Store,
		refreshJob: cfg.RefreshJob,
		health:     NewHealthHandler(cfg.Log, cfg.Store),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(5 * time.Minute))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.health.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/portfolios", s.handleBuildPortfolio)
		r.Post("/portfolios/all-tiers", s.handleBuildAllTiers)
		r.Post("/backtests", s.handleRunBacktest)
		r.Get("/securities/{symbol}/sustainability", s.handleGetSustainability)
		r.Get("/securities/{symbol}/risk", s.handleGetRiskMetrics)
		r.Get("/snapshot", s.handleSnapshotStatus)
		r.Post("/snapshot/refresh", s.handleSnapshotRefresh)
	})
}

// Start starts the HTTP server, blocking until shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
