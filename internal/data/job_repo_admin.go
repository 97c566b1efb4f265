package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stagepass/notify/internal/domain/model"
)

// GetByID fetches a single job by its identifier.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM notification_jobs
		WHERE id = $1
	`, id)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// CancelWaiting removes a job that has not yet started. Active and
// terminal jobs are not cancelable.
func (r *JobRepo) CancelWaiting(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM notification_jobs
		WHERE id = $1 AND status = 'waiting'
	`, id)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish "gone" from "not cancelable" for callers that care.
		var exists bool
		if qerr := r.DB.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM notification_jobs WHERE id = $1)`, id,
		).Scan(&exists); qerr != nil {
			return false, fmt.Errorf("check job existence: %w", qerr)
		}
		if exists {
			return false, ErrJobNotCancelable
		}
		return false, nil
	}
	return true, nil
}

// Stats returns per-status counts across the queue.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var stats model.JobStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'waiting'),
			count(*) FILTER (WHERE status = 'active'),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed')
		FROM notification_jobs
	`).Scan(&stats.Waiting, &stats.Active, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &stats, nil
}

// ListFailedIDs returns identifiers of terminally failed jobs, oldest
// failure first, up to limit.
func (r *JobRepo) ListFailedIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id FROM notification_jobs
		WHERE status = 'failed'
		ORDER BY completed_at ASC NULLS LAST, created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if serr := rows.Scan(&id); serr != nil {
			return nil, fmt.Errorf("scan failed job id: %w", serr)
		}
		ids = append(ids, id)
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, fmt.Errorf("iterate failed jobs: %w", rerr)
	}
	return ids, nil
}

// RetryJob returns a terminally failed job to the waiting state with a
// fresh attempt budget. Returns false when the job is missing or not failed.
func (r *JobRepo) RetryJob(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE notification_jobs
		SET status = 'waiting',
		    attempt_count = 0,
		    last_error = NULL,
		    started_at = NULL,
		    completed_at = NULL,
		    lease_expires_at = NULL,
		    scheduled_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status = 'failed'
	`, id, currentTime)
	if err != nil {
		return false, fmt.Errorf("retry job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("retry rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
