// Package data contains the Postgres and Redis adapters backing the
// notification queue and subscription stores.
package data

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/job"
	"github.com/stagepass/notify/internal/domain/model"
)

var (
	_ core.JobRepository       = (*JobRepo)(nil)
	_ core.JobReaperRepository = (*JobRepo)(nil)
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancelable is returned when cancelling a job that is no longer waiting.
	ErrJobNotCancelable = errors.New("job is not waiting and cannot be cancelled")
)

// JobRepoConfig holds configuration options for the job repository.
type JobRepoConfig struct {
	// Retry supplies the backoff base and the attempt ceiling applied when
	// an enqueue request does not set one. Nil uses the default schedule.
	Retry        *job.RetryPolicy
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides Postgres-backed queue operations for notification jobs.
type JobRepo struct {
	DB           *sql.DB
	retry        *job.RetryPolicy
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg JobRepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	// RetryPolicy methods are nil-safe and report the default schedule.
	return &JobRepo{
		DB:           db,
		retry:        cfg.Retry,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  type,
  status,
  priority,
  payload,
  dedup_key,
  attempt_count,
  max_attempts,
  last_error,
  scheduled_at,
  started_at,
  completed_at,
  lease_expires_at,
  expires_at,
  created_at,
  updated_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload             []byte
	dedupKey, lastError sql.NullString
	startedAt           sql.NullTime
	completedAt         sql.NullTime
	leaseExpiresAt      sql.NullTime
	expiresAt           sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&job.Priority,
		&d.payload,
		&d.dedupKey,
		&job.AttemptCount,
		&job.MaxAttempts,
		&d.lastError,
		&job.ScheduledAt,
		&d.startedAt,
		&d.completedAt,
		&d.leaseExpiresAt,
		&d.expiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Payload = cloneJSON(d.payload)
	job.DedupKey = cloneNullableString(d.dedupKey)
	job.LastError = cloneNullableString(d.lastError)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.ExpiresAt = cloneNullableTime(d.expiresAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	data.apply(job)
	return job, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
