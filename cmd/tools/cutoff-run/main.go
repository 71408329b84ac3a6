// Package main implements the cutoff-run CLI for running a billing cutoff
// directly, bypassing the Lambda shim. It is meant for local development,
// backfills and replays.
//
// Usage:
//
//	go run ./cmd/tools/cutoff-run --dry-run
//	go run ./cmd/tools/cutoff-run --reference-time=2025-03-25T06:00:00Z
//	go run ./cmd/tools/cutoff-run --print-payload --dry-run
//	go run ./cmd/tools/cutoff-run --apply-schema --dry-run
//	go run ./cmd/tools/cutoff-run --show-archive=billing-runs/2025/03/<run_id>.json.zst
//
// Configuration is read like the other binaries (environment, .env file,
// SSM outside local). The run result, or the archived run record with
// --show-archive, is printed as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"stowage/internal/app"
	"stowage/internal/archive"
	"stowage/internal/config"
	"stowage/internal/db"
	"stowage/internal/scheduler"
)

type options struct {
	payload      scheduler.CutoffPayload
	printPayload bool
	applySchema  bool
	showArchive  string
}

// runLoader reads archived run records. *archive.Archiver implements it.
type runLoader interface {
	Load(ctx context.Context, key string) (*archive.RunRecord, error)
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if opts.printPayload {
		if err := writeJSON(os.Stdout, opts.payload); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags builds the run options. Parse errors are reported on stderr.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("cutoff-run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	refTime := fs.String("reference-time", "", "Override the run date (RFC3339 or YYYY-MM-DD)")
	dryRun := fs.Bool("dry-run", false, "Simulate and archive without persisting invoices")
	printPayload := fs.Bool("print-payload", false, "Print the Lambda payload JSON and exit")
	applySchema := fs.Bool("apply-schema", false, "Create missing tables before running (development databases)")
	showArchive := fs.String("show-archive", "", "Print the archived run record at this S3 key instead of running")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: cutoff-run [flags]\n\n")
		fmt.Fprintf(stderr, "Run the billing cutoff directly, bypassing Lambda.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{
		payload: scheduler.CutoffPayload{
			DryRun:  *dryRun,
			Trigger: scheduler.TriggerManual,
		},
		printPayload: *printPayload,
		applySchema:  *applySchema,
		showArchive:  *showArchive,
	}
	if *refTime != "" {
		t, err := parseReferenceTime(*refTime)
		if err != nil {
			fmt.Fprintf(stderr, "error: invalid --reference-time %q: %v\n", *refTime, err)
			return options{}, err
		}
		opts.payload.ReferenceTime = &t
	}
	return opts, nil
}

func parseReferenceTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}

func execute(ctx context.Context, opts options) error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel)

	comps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	if opts.showArchive != "" {
		if comps.Archiver == nil {
			return fmt.Errorf("--show-archive needs BILLING_ARCHIVE_BUCKET to be set")
		}
		return showArchive(ctx, comps.Archiver, opts.showArchive, os.Stdout)
	}

	if opts.applySchema {
		if err := db.ApplySchema(ctx, comps.Pool); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	deps := scheduler.CutoffJobDeps{
		Simulator:    comps.Engine,
		Materializer: comps.Materializer,
		Lock:         comps.RunLocks,
		History:      comps.RunHistory,
		Metrics:      comps.Metrics,
		WorkerID:     "cutoff-run-" + uuid.NewString(),
		Logger:       logger,
	}
	if comps.Archiver != nil {
		deps.Archiver = comps.Archiver
	}

	res, err := scheduler.NewCutoffJob(deps).Run(ctx, opts.payload)
	if flushErr := comps.Metrics.Flush(context.WithoutCancel(ctx)); flushErr != nil {
		logger.Warn("failed to flush metrics", "error", flushErr)
	}
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, res)
}

// showArchive prints the run record stored at key.
func showArchive(ctx context.Context, loader runLoader, key string, w io.Writer) error {
	rec, err := loader.Load(ctx, key)
	if err != nil {
		return err
	}
	return writeJSON(w, rec)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
