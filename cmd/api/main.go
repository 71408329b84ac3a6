// Package main is the entry point for the billing API server.
//
// It loads configuration, opens the database, builds the billing components
// and serves the chi router until SIGINT or SIGTERM, then drains in-flight
// requests and flushes buffered metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stowage/internal/api/handlers"
	"stowage/internal/app"
	"stowage/internal/config"
	"stowage/internal/core"
	"stowage/internal/telemetry"
	"stowage/internal/types"
)

const metricsFlushInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// The SSM client is created lazily and never used when APP_ENV=local.
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("stowage billing API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := buildServer(cfg, comps, logger)
	if err != nil {
		comps.Close()
		return err
	}
	srv.OnShutdown(comps.Close)

	if cw, ok := comps.Metrics.(*telemetry.CloudWatchRecorder); ok {
		go cw.Run(ctx, metricsFlushInterval)
	}

	return serve(ctx, srv, cfg, logger)
}

// buildServer mounts every handler on a new core.Server.
func buildServer(cfg *config.Config, comps *app.Components, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = comps.Metrics
	if comps.Pool != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("database", comps.Pool))
	}

	billingHandler := handlers.NewBillingHandler(
		comps.Engine,
		&measuredMaterializer{next: comps.Materializer, metrics: comps.Metrics},
		comps.Invoices,
		cfg,
		srv.Validator,
		logger,
	)
	containerHandler := handlers.NewContainerHandler(comps.Containers, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		billingHandler.RegisterRoutes,
		containerHandler.RegisterRoutes,
	)
	srv.MountRoutes()
	return srv, nil
}

// measuredMaterializer records API-triggered materializations.
type measuredMaterializer struct {
	next    handlers.InvoiceMaterializer
	metrics telemetry.BillingMetrics
}

func (m *measuredMaterializer) Materialize(ctx context.Context, drafts []types.Invoice) (*types.MaterializeResult, error) {
	res, err := m.next.Materialize(ctx, drafts)
	if err == nil {
		m.metrics.RecordMaterialization(ctx, "api", res)
	}
	return res, err
}

// serve runs the HTTP server until ctx is cancelled, then shuts down with
// the configured deadline.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
