package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/stagepass/notify/internal/data/pgxutil"
	"github.com/stagepass/notify/internal/domain/model"
)

// SQL used by ReserveNext to atomically reserve the next waiting job.
// Lowest priority number wins; ties break on enqueue order. TTL-expired
// jobs are skipped here and abandoned by the reaper.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM notification_jobs
    WHERE type = $1 AND status = 'waiting' AND scheduled_at <= $2
      AND (expires_at IS NULL OR expires_at > $2)
    ORDER BY priority ASC, scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE notification_jobs j
  SET
    status = 'active',
    started_at = COALESCE(j.started_at, $3),
    attempt_count = j.attempt_count + 1,
    lease_expires_at = $4,
    updated_at = $5
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.type, j.status, j.priority, j.payload, j.dedup_key, j.attempt_count, j.max_attempts, j.last_error, j.scheduled_at, j.started_at, j.completed_at, j.lease_expires_at, j.expires_at, j.created_at, j.updated_at`

// notifyChannel returns the LISTEN/NOTIFY channel for a job type.
func notifyChannel(jobType model.JobType) string {
	return "notification_job_added_" + string(jobType)
}

// Enqueue inserts a new waiting job and notifies listening workers.
// A dedup-key collision with a waiting or active job returns the
// existing job together with model.ErrDuplicateJob.
func (r *JobRepo) Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("enqueue request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = r.retry.MaxAttempts()
	}

	now := r.timeProvider.Now().UTC()
	var expiresAt *time.Time
	if req.TTL > 0 {
		t := now.Add(req.TTL)
		expiresAt = &t
	}

	var job *model.Job
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
              INSERT INTO notification_jobs(type, status, priority, payload, dedup_key, max_attempts, scheduled_at, expires_at)
              VALUES ($1,'waiting',$2,$3,$4,$5,$6,$7)
              RETURNING `+jobColumns,
				req.Type, req.Priority, []byte(req.Payload), req.DedupKey, maxAttempts, now, expiresAt)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			j, collectErr := collectJobFromRows(rows)
			rows.Close()
			if collectErr != nil {
				return fmt.Errorf("collect job: %w", collectErr)
			}

			if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, notifyChannel(req.Type), j.ID); execErr != nil {
				return fmt.Errorf("send job notification: %w", execErr)
			}

			job = j
			return nil
		},
	})
	if txErr != nil {
		if isUniqueViolation(txErr) && req.DedupKey != nil {
			existing, lookupErr := r.getByDedupKey(ctx, *req.DedupKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup duplicate job: %w", lookupErr)
			}
			return existing, model.ErrDuplicateJob
		}
		return nil, txErr
	}
	return job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func (r *JobRepo) getByDedupKey(ctx context.Context, dedupKey string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM notification_jobs
		WHERE dedup_key = $1 AND status IN ('waiting','active')
		ORDER BY created_at DESC
		LIMIT 1
	`, dedupKey)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ReserveNext reserves the next available job of the given type for processing.
// Expired leases of crashed workers are requeued first.
func (r *JobRepo) ReserveNext(
	ctx context.Context,
	jobType model.JobType,
	leaseSeconds int,
) (*model.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type: %s", jobType)
	}

	if _, err := r.RequeueExpiredLeases(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired leases: %w", err)
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				reserveNextUpdateSQL,
				jobType,
				currentTime.UTC(),
				currentTime.UTC(),
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on an active job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE notification_jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'active'
	`, jobID, leaseExpiration, currentTime)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Complete marks a job as completed successfully.
func (r *JobRepo) Complete(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE notification_jobs
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $2,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'active'
	`, id, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Fail records a failed attempt. While attempts remain the job returns to
// waiting with an exponentially growing delay (base doubling per attempt);
// once the ceiling is reached it becomes terminally failed and is retained
// for inspection and replay.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()
	baseSeconds := r.retry.Base().Seconds()

	query := `
      UPDATE notification_jobs
      SET
        last_error = $2,
        status = CASE WHEN attempt_count >= max_attempts THEN 'failed' ELSE 'waiting' END,
        completed_at = CASE WHEN attempt_count >= max_attempts THEN $3::timestamptz ELSE NULL END,
        lease_expires_at = NULL,
        scheduled_at = CASE WHEN attempt_count >= max_attempts THEN scheduled_at
                            ELSE $3::timestamptz + make_interval(secs => $4::double precision * power(2::double precision, GREATEST(attempt_count, 1) - 1)) END,
        updated_at = $3
      WHERE id = $1 AND status = 'active'
      RETURNING status
    `

	var status string
	if err := r.DB.QueryRowContext(ctx, query, id, errMsg, currentTime, baseSeconds).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("fail job: %w", err)
	}

	if r.logger != nil && status == string(model.JobStatusFailed) {
		r.logger.WarnContext(ctx, "job exhausted attempts", "job_id", id, "error", errMsg)
	}
	return true, nil
}

// WaitForNotification blocks until the store signals new jobs of the given type.
func (r *JobRepo) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	channel := notifyChannel(jobType)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}
