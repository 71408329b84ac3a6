// Package main is the entrypoint for the cutoff-runner Lambda function.
//
// An EventBridge rule invokes it on the billing cutoff day with a
// scheduler.CutoffPayload. Each invocation simulates the closing window,
// materializes the drafts unless dry_run is set, archives the run to S3 and
// records metrics. Dependencies are built once per cold start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"stowage/internal/app"
	"stowage/internal/config"
	"stowage/internal/scheduler"
	"stowage/internal/telemetry"
)

// CutoffRunner is the part of scheduler.CutoffJob the handler calls.
type CutoffRunner interface {
	Run(ctx context.Context, payload scheduler.CutoffPayload) (*scheduler.CutoffResult, error)
}

// Handler holds the dependencies of the Lambda handler.
type Handler struct {
	Job     CutoffRunner
	Metrics telemetry.Recorder
	Logger  *slog.Logger
}

// Handle runs one billing cutoff. A returned error makes the invocation
// fail so EventBridge can retry; that only happens when nothing was
// persisted or the run could not start.
func (h *Handler) Handle(ctx context.Context, payload scheduler.CutoffPayload) (*scheduler.CutoffResult, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res, err := h.Job.Run(ctx, payload)

	if h.Metrics != nil {
		if flushErr := h.Metrics.Flush(ctx); flushErr != nil {
			logger.WarnContext(ctx, "failed to flush metrics", "error", flushErr)
		}
	}

	if err != nil {
		logger.ErrorContext(ctx, "cutoff run failed", "error", err)
		return nil, fmt.Errorf("cutoff run: %w", err)
	}
	return res, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("cutoff-runner Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = app.NewLogger(cfg.LogLevel)

	comps, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to build components", "error", err)
		os.Exit(1)
	}

	handler := newHandler(comps, "cutoff-runner-"+uuid.NewString(), logger)

	logger.Info("cutoff-runner Lambda initialized",
		"archive_enabled", comps.Archiver != nil,
		"cutoff_day", cfg.Billing.CutoffDay,
	)
	lambda.Start(handler.Handle)
}

// newHandler wires a CutoffJob on top of the built components.
func newHandler(comps *app.Components, workerID string, logger *slog.Logger) *Handler {
	deps := scheduler.CutoffJobDeps{
		Simulator:    comps.Engine,
		Materializer: comps.Materializer,
		Lock:         comps.RunLocks,
		History:      comps.RunHistory,
		Metrics:      comps.Metrics,
		WorkerID:     workerID,
		Logger:       logger,
	}
	// Keep the interface nil rather than holding a nil *archive.Archiver.
	if comps.Archiver != nil {
		deps.Archiver = comps.Archiver
	}
	return &Handler{
		Job:     scheduler.NewCutoffJob(deps),
		Metrics: comps.Metrics,
		Logger:  logger,
	}
}
