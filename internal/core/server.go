// Package core provides the HTTP chassis for the billing API: the chi
// router, the middleware chain, the JSON envelope and health probes. Domain
// handlers attach themselves through V1RouteRegistrars.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stowage/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	// RecordRequest records latency and count for one request. endpoint is
	// the matched route pattern, not the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of handlers under /v1.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the API so tests can swap them.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	HealthProbes      []HealthProbe
	V1RouteRegistrars []RouteRegistrar

	// closers run on Shutdown in registration order.
	closers []func()

	router *chi.Mux
}

// NewServer creates a Server with an empty router. Call MountRoutes after
// registering probes and route registrars.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn to run during Shutdown, typically a pool Close.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases resources registered with OnShutdown. It stops early if
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for _, fn := range s.closers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown interrupted: %w", err)
		}
		fn()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
