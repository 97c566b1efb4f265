// Package service holds the business logic of the notification pipeline:
// queue intake, payload rendering, health evaluation, and retention.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stagepass/notify/internal/core"
	domainjob "github.com/stagepass/notify/internal/domain/job"
	"github.com/stagepass/notify/internal/domain/model"
)

// PauseKey is the cache key flagging that queue intake is paused.
const PauseKey = "notify:intake:paused"

// dedupKeyPrefix namespaces enqueue dedup keys in the shared cache.
const dedupKeyPrefix = "notify:dedup:"

// dedupFastPathTTL bounds how long a cache key suppresses re-enqueue.
// Postgres stays authoritative through the partial unique index; the
// cache only absorbs bursts without a round trip to the store.
const dedupFastPathTTL = 5 * time.Second

// QueueServiceOptions groups dependencies for QueueService.
type QueueServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	Cache           core.CacheRepository      // Optional: pause flag and dedup fast-path
	DefaultLease    time.Duration             // Required: default lease duration for jobs
	DefaultTTL      time.Duration             // Optional: TTL applied to enqueued jobs
	Logger          *slog.Logger              // Optional: structured logger
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
	TimeProvider    TimeProvider              // Optional: time source for dedup keys
}

// TimeProvider abstracts the clock for deterministic dedup keys in tests.
type TimeProvider interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// QueueService provides business logic for notification queue operations.
//
// This service manages:
// - The enqueue facade consumed by the event-mutation path
// - Job reservation and lease management
// - Pause/resume of intake
// - Pub/sub notification system for job availability
// - Graceful shutdown of listeners.
type QueueService struct {
	repo        core.JobRepository
	cache       core.CacheRepository
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	logger      *slog.Logger
	clock       TimeProvider
	defaultTTL  time.Duration
}

// NewQueueService constructs a new QueueService.
func NewQueueService(opts QueueServiceOptions) (*QueueService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = realClock{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "queue_service")
	}

	return &QueueService{
		repo:        opts.Repo,
		cache:       opts.Cache,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger,
		clock:       clock,
		defaultTTL:  opts.DefaultTTL,
	}, nil
}

// MustNewQueueService constructs a new QueueService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewQueueService(opts QueueServiceOptions) *QueueService {
	svc, err := NewQueueService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create QueueService: %v", err))
	}
	return svc
}

// EventUpdateInput is the enqueue facade input for schedule/venue changes.
type EventUpdateInput struct {
	EventID    string
	ChangeType model.ChangeType
	Changes    []model.EventChange
}

// QueueEventUpdateNotification enqueues an update notification for ticket
// holders of an event. A nil handle means the notification was not queued;
// the triggering mutation must never fail because of it, so backend
// trouble is logged as a warning, never returned.
func (s *QueueService) QueueEventUpdateNotification(ctx context.Context, input EventUpdateInput) *model.Job {
	if input.EventID == "" {
		s.warn(ctx, "dropping event update notification without event id")
		return nil
	}

	payload, err := json.Marshal(model.EventUpdateJobPayload{
		EventID:    input.EventID,
		ChangeType: input.ChangeType,
		Changes:    input.Changes,
	})
	if err != nil {
		s.warn(ctx, "failed to encode event update payload", "event_id", input.EventID, "error", err)
		return nil
	}

	// Second-resolution timestamp: near-simultaneous updates to the same
	// event within one second collapse into one job.
	dedupKey := fmt.Sprintf("event_update:%s:%s:%d",
		input.EventID, input.ChangeType, s.clock.Now().Unix())

	return s.enqueue(ctx, &model.EnqueueRequest{
		Type:     model.JobTypeEventUpdate,
		Payload:  payload,
		Priority: model.PriorityFor(model.JobTypeEventUpdate, input.ChangeType),
		DedupKey: &dedupKey,
		TTL:      s.defaultTTL,
	})
}

// QueueNewEventNotification enqueues a creation notice for users opted in
// to new-event announcements. Same facade contract: nil handle plus a
// warning when the backend is unavailable.
func (s *QueueService) QueueNewEventNotification(ctx context.Context, eventID string) *model.Job {
	if eventID == "" {
		s.warn(ctx, "dropping new event notification without event id")
		return nil
	}

	payload, err := json.Marshal(model.NewEventJobPayload{EventID: eventID})
	if err != nil {
		s.warn(ctx, "failed to encode new event payload", "event_id", eventID, "error", err)
		return nil
	}

	dedupKey := "new_event:" + eventID

	return s.enqueue(ctx, &model.EnqueueRequest{
		Type:     model.JobTypeNewEvent,
		Payload:  payload,
		Priority: model.PriorityFor(model.JobTypeNewEvent, ""),
		DedupKey: &dedupKey,
		TTL:      s.defaultTTL,
	})
}

func (s *QueueService) enqueue(ctx context.Context, req *model.EnqueueRequest) *model.Job {
	paused, err := s.Paused(ctx)
	if err != nil {
		s.warn(ctx, "pause flag unavailable, accepting job", "error", err)
	}
	if paused {
		s.warn(ctx, "queue intake paused, dropping notification", "type", req.Type)
		return nil
	}

	if req.DedupKey != nil && !s.claimDedupKey(ctx, *req.DedupKey) {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "duplicate notification collapsed before store",
				"type", req.Type, "dedup_key", *req.DedupKey)
		}
		return nil
	}

	job, err := s.repo.Enqueue(ctx, req)
	switch {
	case err == nil:
		if s.logger != nil {
			s.logger.InfoContext(ctx, "notification queued",
				"job_id", job.ID, "type", job.Type, "priority", job.Priority)
		}
		return job
	case errors.Is(err, model.ErrDuplicateJob):
		if s.logger != nil && job != nil {
			s.logger.DebugContext(ctx, "duplicate notification collapsed",
				"job_id", job.ID, "type", req.Type)
		}
		return job
	default:
		s.warn(ctx, "failed to queue notification", "type", req.Type, "error", err)
		return nil
	}
}

// claimDedupKey reserves a dedup key in the cache fast-path. True means
// the caller holds the key and should proceed to the store; a cache
// failure also returns true so the store's unique index decides alone.
func (s *QueueService) claimDedupKey(ctx context.Context, key string) bool {
	if s.cache == nil {
		return true
	}
	fresh, err := s.cache.SetIfAbsent(ctx, dedupKeyPrefix+key, []byte("1"), dedupFastPathTTL)
	if err != nil {
		s.warn(ctx, "dedup fast-path unavailable, deferring to store", "error", err)
		return true
	}
	return fresh
}

func (s *QueueService) warn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}

// Pause stops queue intake. Enqueue calls return nil handles until Resume.
func (s *QueueService) Pause(ctx context.Context) error {
	if s.cache == nil {
		return errors.New("pause requires a cache repository")
	}
	if err := s.cache.Set(ctx, PauseKey, []byte("1"), 0); err != nil {
		return fmt.Errorf("set pause flag: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "queue intake paused")
	}
	return nil
}

// Resume re-enables queue intake.
func (s *QueueService) Resume(ctx context.Context) error {
	if s.cache == nil {
		return errors.New("resume requires a cache repository")
	}
	if _, err := s.cache.Delete(ctx, PauseKey); err != nil {
		return fmt.Errorf("clear pause flag: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "queue intake resumed")
	}
	return nil
}

// Paused reports whether intake is currently paused.
func (s *QueueService) Paused(ctx context.Context) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	return s.cache.Exists(ctx, PauseKey)
}

// ReserveNext reserves the next available job of the given type for processing.
func (s *QueueService) ReserveNext(
	ctx context.Context,
	jobType model.JobType,
	lease time.Duration,
) (*model.Job, error) {
	seconds, clamped := s.leasePolicy.Resolve(lease)
	if clamped && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", lease, "job_type", jobType)
	}

	job, err := s.repo.ReserveNext(ctx, jobType, seconds)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve next job: %w", err)
	}
	return job, nil
}

// Subscribe creates a subscription for job notifications of the given type.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *QueueService) Subscribe(jobType model.JobType) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(jobType)
}

// Heartbeat extends the lease on a job to indicate it's still being processed.
func (s *QueueService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	seconds, _ := s.leasePolicy.Resolve(extend)
	updated, err := s.repo.Heartbeat(ctx, id, seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return updated, nil
}

// Complete marks a job as completed successfully.
func (s *QueueService) Complete(ctx context.Context, id string) (bool, error) {
	completed, err := s.repo.Complete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}
	if s.logger != nil && completed {
		s.logger.DebugContext(ctx, "job completed", "id", id)
	}
	return completed, nil
}

// Fail marks a job attempt as failed; the repo decides between retry and
// terminal failure.
func (s *QueueService) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}
	failed, err := s.repo.Fail(ctx, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	if s.logger != nil && failed {
		s.logger.DebugContext(ctx, "job attempt failed", "id", id, "error", errMsg)
	}
	return failed, nil
}

// GetByID returns a job by its ID.
func (s *QueueService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// CancelWaiting cancels a job that has not started yet.
func (s *QueueService) CancelWaiting(ctx context.Context, id string) (bool, error) {
	cancelled, err := s.repo.CancelWaiting(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", id, err)
	}
	if s.logger != nil && cancelled {
		s.logger.InfoContext(ctx, "job cancelled", "id", id)
	}
	return cancelled, nil
}

// Stats returns aggregate counts of jobs in each state.
func (s *QueueService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// RetryFailedResult summarises a bulk retry pass.
type RetryFailedResult struct {
	Requeued int      `json:"requeued"`
	Skipped  int      `json:"skipped"`
	IDs      []string `json:"ids,omitempty"`
}

// RetryFailed re-queues up to limit terminally failed jobs, oldest first.
// A single job's failure is logged and the batch continues.
func (s *QueueService) RetryFailed(ctx context.Context, limit int) (*RetryFailedResult, error) {
	ids, err := s.repo.ListFailedIDs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}

	result := &RetryFailedResult{}
	for _, id := range ids {
		retried, retryErr := s.repo.RetryJob(ctx, id)
		switch {
		case retryErr != nil:
			result.Skipped++
			s.warn(ctx, "failed to retry job, continuing batch", "job_id", id, "error", retryErr)
		case !retried:
			// Lost the race: the job changed state since listing.
			result.Skipped++
		default:
			result.Requeued++
			result.IDs = append(result.IDs, id)
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "bulk retry completed",
			"requeued", result.Requeued, "skipped", result.Skipped)
	}
	return result, nil
}

// WaitForNotification waits for a notification indicating new jobs are available.
func (s *QueueService) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	return s.repo.WaitForNotification(ctx, jobType)
}

// StopAllListeners stops all active job notification listeners.
// This should be called during graceful shutdown to clean up goroutines.
func (s *QueueService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all job listeners")
	}
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
