// Package server provides the HTTP server and routing for the
// matching, risk and negotiation engine, following the teacher's
// chi-based Server shape (middleware stack, Start/Shutdown).
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

	"github.com/rnrl/matchengine/internal/app"
	"github.com/rnrl/matchengine/internal/reliability"
)

// Config holds server configuration.
type Config struct {
	Log         zerolog.Logger
	Port        int
	DevMode     bool
	App         *app.Service
	Reliability *reliability.HealthMonitor
}

// Server is the HTTP front door onto the §6.1 command surface.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	app         *app.Service
	reliability *reliability.HealthMonitor
}

// New builds a Server and wires its middleware and routes.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		app:         cfg.App,
		reliability: cfg.Reliability,
	}
	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/requirements", s.handleCreateRequirement)
		r.Post("/availabilities", s.handleCreateAvailability)
		r.Post("/orders/{orderID}/cancel", s.handleCancelOrder)

		r.Post("/negotiations", s.handleStartNegotiation)
		r.Post("/negotiations/{negotiationID}/offers", s.handleOffer)
		r.Post("/negotiations/{negotiationID}/accept", s.handleAccept)
		r.Post("/negotiations/{negotiationID}/reject", s.handleReject)
		r.Post("/negotiations/{negotiationID}/withdraw", s.handleWithdraw)

		r.Get("/matches", s.handleGetMatches)
		r.Post("/risk/assess-trade", s.handleAssessTradeRisk)
	})
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.reliability != nil {
		snap := s.reliability.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"cpu_percent":    snap.CPUPercent,
			"memory_percent": snap.MemoryPercent,
			"disk_free_gb":   snap.DiskFreeGB,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Start begins serving; it blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
