package db

import (
	"context"
	"time"

	"stowage/internal/types"
)

// RunLockRepository provides distributed locking via the run_locks table so
// that only one billing run executes per lock id at a time.
type RunLockRepository struct {
	db  DBTX
	now func() time.Time
}

// NewRunLockRepository creates a RunLockRepository.
func NewRunLockRepository(db DBTX) *RunLockRepository {
	return &RunLockRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const acquireRunLockSQL = `
	INSERT INTO run_locks (id, worker_id, locked_at, expires_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE
	  SET worker_id = EXCLUDED.worker_id,
	      locked_at = EXCLUDED.locked_at,
	      expires_at = EXCLUDED.expires_at
	  WHERE run_locks.expires_at < $3`

// Acquire takes the lock for ttl. It returns false when another worker holds
// an unexpired lock with the same id. Expiry is computed in Go so the SQL
// never parses Go duration strings.
func (r *RunLockRepository) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	now := r.now()
	tag, err := r.db.Exec(ctx, acquireRunLockSQL, lockID, workerID, now, now.Add(ttl))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire run lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock if workerID still owns it.
func (r *RunLockRepository) Release(ctx context.Context, lockID, workerID string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM run_locks WHERE id = $1 AND worker_id = $2`,
		lockID, workerID,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release run lock", err)
	}
	return nil
}

// RunHistoryRepository records billing runs in the billing_runs table.
type RunHistoryRepository struct {
	db DBTX
}

// NewRunHistoryRepository creates a RunHistoryRepository.
func NewRunHistoryRepository(db DBTX) *RunHistoryRepository {
	return &RunHistoryRepository{db: db}
}

const startRunSQL = `
	INSERT INTO billing_runs (id, trigger, period, dry_run, started_at, status)
	VALUES ($1, $2, $3, $4, NOW(), 'running')`

// A running row without a held lock belongs to a worker that died mid-run
// and may already have persisted invoices, so it counts as billed until an
// operator marks it failed.
const periodBilledSQL = `
	SELECT EXISTS (
		SELECT 1 FROM billing_runs
		WHERE period = $1 AND NOT dry_run
		  AND status IN ('running', 'success', 'partial')
	)`

const finishRunSQL = `
	UPDATE billing_runs
	SET finished_at = NOW(), status = $2, invoices_count = $3, failed_count = $4,
	    archive_key = NULLIF($5, ''), error = $6
	WHERE id = $1`

// Start inserts a running billing_runs row for the billing period (YYYY-MM
// of the next cutoff).
func (r *RunHistoryRepository) Start(ctx context.Context, runID, trigger, period string, dryRun bool) error {
	if _, err := r.db.Exec(ctx, startRunSQL, runID, trigger, period, dryRun); err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictRunInProgress, "billing run "+runID+" already recorded", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to start billing run entry", err)
	}
	return nil
}

// PeriodBilled reports whether a non-dry run for period has already
// materialized invoices or may have done so.
func (r *RunHistoryRepository) PeriodBilled(ctx context.Context, period string) (bool, error) {
	var billed bool
	if err := r.db.QueryRow(ctx, periodBilledSQL, period).Scan(&billed); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up billing runs for "+period, err)
	}
	return billed, nil
}

// Finish stores the outcome of a run.
func (r *RunHistoryRepository) Finish(ctx context.Context, runID string, out types.RunOutcome) error {
	var errMsg *string
	if out.Err != nil {
		s := out.Err.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx, finishRunSQL, runID, string(out.Status), out.Invoices, out.Failed, out.ArchiveKey, errMsg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish billing run entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "billing run entry "+runID+" not found", nil)
	}
	return nil
}
