package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stowage/internal/archive"
	"stowage/internal/telemetry"
	"stowage/internal/types"
)

// lockTTL covers the longest expected run with margin.
const lockTTL = 15 * time.Minute

// Simulator computes draft invoices for a date.
type Simulator interface {
	Simulate(ctx context.Context, today time.Time) (*types.SimulationResult, error)
	Window(today time.Time) (types.BillingWindow, error)
}

// Materializer persists draft invoices.
type Materializer interface {
	Materialize(ctx context.Context, drafts []types.Invoice) (*types.MaterializeResult, error)
}

// RunArchiver stores the audit record of a run.
type RunArchiver interface {
	Archive(ctx context.Context, rec archive.RunRecord) (string, error)
}

// RunLocker abstracts the distributed lock that keeps two workers from
// materializing the same period concurrently.
type RunLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

// RunHistory records runs per billing period. PeriodBilled is what keeps a
// period from being materialized twice, since materialization itself is not
// idempotent.
type RunHistory interface {
	Start(ctx context.Context, runID, trigger, period string, dryRun bool) error
	PeriodBilled(ctx context.Context, period string) (bool, error)
	Finish(ctx context.Context, runID string, out types.RunOutcome) error
}

// CutoffJobDeps holds the collaborators of a CutoffJob. Archiver, Lock and
// History are optional.
type CutoffJobDeps struct {
	Simulator    Simulator
	Materializer Materializer
	Archiver     RunArchiver
	Lock         RunLocker
	History      RunHistory
	Metrics      telemetry.BillingMetrics
	WorkerID     string
	Logger       *slog.Logger
}

// CutoffJob simulates the current billing window, materializes the drafts
// unless the run is dry, then archives and measures the run.
type CutoffJob struct {
	deps  CutoffJobDeps
	now   func() time.Time
	newID func() string
}

// NewCutoffJob creates a CutoffJob.
func NewCutoffJob(deps CutoffJobDeps) *CutoffJob {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NoopRecorder{}
	}
	if deps.WorkerID == "" {
		deps.WorkerID = uuid.NewString()
	}
	return &CutoffJob{
		deps:  deps,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Run executes one billing run.
//
// A simulation failure fails the run with nothing persisted. Materialization
// failures of single drafts are reported in the result with status partial.
// Archive and history failures are logged and never fail a run whose
// invoices were already persisted, since a retry would bill twice.
//
// A non-dry run for a period that an earlier run already billed is skipped.
// The lock only serializes runs that overlap in time; the history lookup
// covers replays after the lock was released.
func (j *CutoffJob) Run(ctx context.Context, payload CutoffPayload) (*CutoffResult, error) {
	started := j.now()
	ref := started
	if payload.ReferenceTime != nil {
		ref = payload.ReferenceTime.UTC()
	}
	today := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)

	trigger := payload.Trigger
	if trigger == "" {
		trigger = TriggerSchedule
	}

	runID := j.newID()
	logger := j.deps.Logger.With("run_id", runID, "trigger", string(trigger))
	ctx = types.WithRunID(ctx, runID)
	ctx = types.WithLogger(ctx, logger)

	window, err := j.deps.Simulator.Window(today)
	if err != nil {
		return nil, err
	}
	period := window.NextCutoff.Format("2006-01")

	result := &CutoffResult{
		RunID:     runID,
		Trigger:   trigger,
		AsOf:      today.Format(time.DateOnly),
		Period:    period,
		DryRun:    payload.DryRun,
		StartedAt: started,
	}

	logger.InfoContext(ctx, "Billing run started",
		"as_of", result.AsOf,
		"period", period,
		"dry_run", payload.DryRun,
		"worker_id", j.deps.WorkerID,
	)

	if !payload.DryRun && j.deps.Lock != nil {
		lockID := "billing_cutoff:" + period
		acquired, err := j.deps.Lock.Acquire(ctx, lockID, j.deps.WorkerID, lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquiring run lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "Run lock held by another worker, skipping", "lock_id", lockID)
			result.Status = string(types.RunStatusSkipped)
			return result, nil
		}
		defer func() {
			if err := j.deps.Lock.Release(context.WithoutCancel(ctx), lockID, j.deps.WorkerID); err != nil {
				logger.WarnContext(ctx, "Failed to release run lock", "lock_id", lockID, "error", err)
			}
		}()
	}

	if !payload.DryRun && j.deps.History != nil {
		billed, err := j.deps.History.PeriodBilled(ctx, period)
		if err != nil {
			return nil, fmt.Errorf("checking billing history for %s: %w", period, err)
		}
		if billed {
			logger.WarnContext(ctx, "Billing period already invoiced, skipping", "period", period)
			result.Status = string(types.RunStatusSkipped)
			return result, nil
		}
	}

	j.startHistory(ctx, logger, runID, trigger, period, payload.DryRun)

	sim, err := j.deps.Simulator.Simulate(ctx, today)
	if err != nil {
		logger.ErrorContext(ctx, "Billing simulation failed", "error", err)
		j.finishHistory(ctx, logger, runID, types.RunOutcome{Status: types.RunStatusFailed, Err: err})
		return nil, fmt.Errorf("billing run %s: %w", runID, err)
	}
	j.deps.Metrics.RecordSimulation(ctx, string(trigger), sim)

	result.Invoices = len(sim.Invoices)
	result.Skipped = len(sim.Skipped)
	result.TotalAmount = sim.TotalAmount

	var mat *types.MaterializeResult
	if !payload.DryRun && len(sim.Invoices) > 0 {
		mat, err = j.deps.Materializer.Materialize(ctx, sim.Invoices)
		if err != nil {
			logger.ErrorContext(ctx, "Materialization aborted", "error", err)
			j.finishHistory(ctx, logger, runID, types.RunOutcome{Status: types.RunStatusFailed, Err: err})
			return nil, fmt.Errorf("billing run %s: %w", runID, err)
		}
		j.deps.Metrics.RecordMaterialization(ctx, string(trigger), mat)
		result.Materialized = mat.Count
		result.Failed = len(mat.Failed)
	}

	if j.deps.Archiver != nil {
		key, err := j.deps.Archiver.Archive(ctx, archive.RunRecord{
			RunID:           runID,
			Trigger:         string(trigger),
			StartedAt:       started,
			FinishedAt:      j.now(),
			DryRun:          payload.DryRun,
			Simulation:      sim,
			Materialization: mat,
		})
		if err != nil {
			logger.ErrorContext(ctx, "Failed to archive billing run", "error", err)
		}
		result.ArchiveKey = key
	}

	status := types.RunStatusSuccess
	if result.Failed > 0 {
		status = types.RunStatusPartial
	}
	result.Status = string(status)

	j.finishHistory(ctx, logger, runID, types.RunOutcome{
		Status:     status,
		Invoices:   result.Materialized,
		Failed:     result.Failed,
		ArchiveKey: result.ArchiveKey,
	})

	logger.InfoContext(ctx, "Billing run complete",
		"status", result.Status,
		"invoices", result.Invoices,
		"materialized", result.Materialized,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"total_amount", result.TotalAmount,
	)
	return result, nil
}

func (j *CutoffJob) startHistory(ctx context.Context, logger *slog.Logger, runID string, trigger Trigger, period string, dryRun bool) {
	if j.deps.History == nil {
		return
	}
	if err := j.deps.History.Start(ctx, runID, string(trigger), period, dryRun); err != nil {
		logger.ErrorContext(ctx, "Failed to record billing run start", "error", err)
	}
}

func (j *CutoffJob) finishHistory(ctx context.Context, logger *slog.Logger, runID string, out types.RunOutcome) {
	if j.deps.History == nil {
		return
	}
	if err := j.deps.History.Finish(context.WithoutCancel(ctx), runID, out); err != nil {
		logger.ErrorContext(ctx, "Failed to record billing run outcome", "error", err)
	}
}
