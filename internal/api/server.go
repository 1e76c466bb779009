// Package api exposes the risk engine over HTTP/JSON
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"risk_engine/internal/core"
	"risk_engine/internal/engine"
	"risk_engine/internal/infrastructure/health"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Options configures the HTTP server
type Options struct {
	Addr               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	AllowedOrigins     []string
	RateLimitPerSecond float64
	RateLimitBurst     int
	// AssessmentTimeout bounds a single assessment computation
	AssessmentTimeout time.Duration
}

// Server routes API requests to the engine service
type Server struct {
	opts    Options
	service *engine.Service
	health  *health.HealthManager
	stream  http.Handler
	limiter *userLimiter
	router  chi.Router
	srv     *http.Server
	logger  core.ILogger
}

// NewServer builds the router. health and stream may be nil.
func NewServer(opts Options, service *engine.Service, hm *health.HealthManager, stream http.Handler, logger core.ILogger) *Server {
	s := &Server{
		opts:    opts,
		service: service,
		health:  hm,
		stream:  stream,
		logger:  logger.WithField("component", "api_server"),
	}
	if opts.RateLimitPerSecond > 0 {
		s.limiter = newUserLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.stream != nil {
		r.Method(http.MethodGet, "/ws/alerts", s.stream)
	}

	r.Route("/api/v1/risk", func(r chi.Router) {
		r.Use(requireUser)
		r.Use(s.rateLimit)

		r.Route("/assessment", func(r chi.Router) {
			r.Get("/", s.handleGetAssessment)
			r.Post("/stress-test", s.handleStressTest)
			r.Delete("/cache", s.handleClearCache)
		})

		r.Route("/limits", func(r chi.Router) {
			r.Get("/", s.handleListLimits)
			r.Post("/", s.handleCreateLimit)
			r.Patch("/", s.handleUpdateLimit)
			r.Delete("/", s.handleDeleteLimit)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Post("/{alertID}/read", s.handleMarkAlertRead)
			r.Post("/{alertID}/resolve", s.handleResolveAlert)
		})

		r.Route("/margin-calls", func(r chi.Router) {
			r.Get("/", s.handleListMarginCalls)
			r.Post("/{callID}/resolve", s.handleResolveMarginCall)
		})

		r.Get("/metrics", s.handleMetricsSummary)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.opts.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
