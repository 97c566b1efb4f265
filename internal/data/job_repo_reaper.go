package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/data/pgxutil"
	"github.com/stagepass/notify/internal/domain/model"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for notify reaper operations.
const (
	advisoryLockReaperMajor          = 2000
	advisoryLockReaperAbandon        = 1 // minor key for AbandonExpired
	advisoryLockReaperPruneCompleted = 2 // minor key for PruneCompleted
	advisoryLockReaperPruneFailed    = 3 // minor key for PruneFailed
	advisoryLockReaperRequeue        = 4 // minor key for RequeueExpiredLeases
)

// RequeueExpiredLeases returns jobs whose worker lease lapsed to the waiting
// state so another worker can pick them up. The reservation already charged
// the attempt, so the count is left untouched here.
func (r *JobRepo) RequeueExpiredLeases(ctx context.Context) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperRequeue).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
				UPDATE notification_jobs
				SET status = 'waiting', lease_expires_at = NULL, updated_at = $1
				WHERE status = 'active'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $1
			`, currentTime.UTC())
			if err != nil {
				return fmt.Errorf("requeue expired leases: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// AbandonExpired marks waiting jobs whose TTL lapsed as failed so stale
// notifications are never delivered late.
// Processes up to batchSize jobs per call to prevent long locks and I/O spikes.
// Uses advisory locks to prevent concurrent reaper instances from conflicting.
func (r *JobRepo) AbandonExpired(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperAbandon).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
				UPDATE notification_jobs
				SET status = 'failed',
					last_error = 'abandoned: job expired before delivery',
					completed_at = $1,
					updated_at = $1
				WHERE id IN (
					SELECT id FROM notification_jobs
					WHERE status = 'waiting'
					  AND expires_at IS NOT NULL
					  AND expires_at < $1
					ORDER BY expires_at
					LIMIT $2
				)
			`, currentTime.UTC(), batchSize)
			if err != nil {
				return fmt.Errorf("abandon expired jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// PruneCompleted deletes old completed jobs beyond the retention window,
// always keeping the most recent params.KeepMost rows for inspection.
func (r *JobRepo) PruneCompleted(ctx context.Context, params core.PruneParams) (int64, error) {
	return r.pruneTerminal(ctx, model.JobStatusCompleted, advisoryLockReaperPruneCompleted, params)
}

// PruneFailed deletes old terminally failed jobs beyond the retention window,
// always keeping the most recent params.KeepMost rows for replay.
func (r *JobRepo) PruneFailed(ctx context.Context, params core.PruneParams) (int64, error) {
	return r.pruneTerminal(ctx, model.JobStatusFailed, advisoryLockReaperPruneFailed, params)
}

// pruneTerminal deletes terminal jobs of the given status older than
// params.MaxAge, excluding the params.KeepMost most recent rows.
// Processes up to params.BatchSize rows per call.
func (r *JobRepo) pruneTerminal(ctx context.Context, status model.JobStatus, lockMinor int, params core.PruneParams) (int64, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("prune requires a terminal status, got: %s", status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, lockMinor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoffTime := r.timeProvider.Now().Add(-params.MaxAge).UTC()

			res, err := tx.ExecContext(ctx, `
				DELETE FROM notification_jobs
				WHERE id IN (
					SELECT id FROM notification_jobs
					WHERE status = $1
					  AND (completed_at < $2 OR (completed_at IS NULL AND updated_at < $2))
					  AND id NOT IN (
						SELECT id FROM notification_jobs
						WHERE status = $1
						ORDER BY COALESCE(completed_at, updated_at) DESC
						LIMIT $3
					  )
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $4
				)
			`, status, cutoffTime, params.KeepMost, params.BatchSize)
			if err != nil {
				return fmt.Errorf("prune %s jobs: %w", status, err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
