package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stagepass/notify/config"
	"github.com/stagepass/notify/internal/core"
	obserrors "github.com/stagepass/notify/internal/observability/errors"
	"github.com/stagepass/notify/internal/observability/metrics"
	"github.com/stagepass/notify/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo          core.JobReaperRepository    // Required: reaper repository
	Subscriptions core.SubscriptionRepository // Optional: enables the disabled-subscription sweep
	Tracker       *Tracker                    // Optional: enables in-memory history pruning
	Config        config.ReaperConfig         // Required: reaper configuration
	Logger        *slog.Logger                // Optional: structured logger
	Metrics       statsd.Sink                 // Optional: metrics sink (StatsD-compatible)
	TimeProvider  TimeProvider                // Optional: time source
}

// ReaperService owns queue and subscription retention.
//
// This service manages:
// - Requeueing jobs whose worker lease lapsed without a heartbeat.
// - Abandoning TTL-expired waiting jobs so stale notices never go out.
// - Pruning old completed and failed jobs to prevent database bloat.
// - Sweeping subscriptions disabled longer than the retention window.
type ReaperService struct {
	repo    core.JobReaperRepository
	subs    core.SubscriptionRepository
	tracker *Tracker
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
	clock   TimeProvider
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobReaperRepository is required")
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = realClock{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"completed_max_age", opts.Config.CompletedMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
			"disabled_retention", opts.Config.DisabledRetention,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		subs:    opts.Subscriptions,
		tracker: opts.Tracker,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		clock:   clock,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter prevents thundering herd when multiple instances start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
				// Continue running despite errors
			}
		}
	}
}

// RunOnce performs a single cleanup pass. Used by the admin CLI.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	return s.runCleanup(ctx)
}

// RunOnceOlderThan performs a single cleanup pass with both job prune
// retention windows overridden, so operators can force an aggressive
// prune without changing service configuration. A non-positive override
// keeps the configured windows.
func (s *ReaperService) RunOnceOlderThan(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return s.runCleanup(ctx)
	}
	override := *s
	override.config.CompletedMaxAge = olderThan
	override.config.FailedMaxAge = olderThan
	return override.runCleanup(ctx)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

type cleanupStep struct {
	label string
	fn    func(context.Context) (int64, error)
}

// runCleanup performs all cleanup operations, continuing past per-step
// failures so one broken step never starves the others.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()
	var errs []error

	steps := []cleanupStep{
		{label: "requeue_leases", fn: s.repo.RequeueExpiredLeases},
		{label: "abandon_expired", fn: s.abandonExpiredJobs},
		{label: "prune_completed", fn: s.pruneCompletedJobs},
		{label: "prune_failed", fn: s.pruneFailedJobs},
		{label: "sweep_disabled_subscriptions", fn: s.sweepDisabledSubscriptions},
	}

	for _, step := range steps {
		count, err := step.fn(ctx)
		s.emitStepMetric(step.label, count, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			if isContextCancellation(err) {
				break
			}
		}
	}

	if s.tracker != nil && s.config.TrackerRetentionHours > 0 {
		s.tracker.ClearOldData(s.config.TrackerRetentionHours)
	}

	if s.metrics != nil {
		result := metrics.ResultSuccess
		if len(errs) > 0 {
			result = metrics.ResultError
		}
		tags := map[string]string{"result": result}
		s.metrics.Count("reaper.cleanup", 1, tags)
		s.metrics.Timing("reaper.cleanup_duration", time.Since(start), metrics.CloneTags(tags))
		if len(errs) == 0 {
			s.metrics.Gauge("reaper.last_success_epoch", float64(s.clock.Now().Unix()), nil)
		}
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}
	return nil
}

// abandonExpiredJobs fails TTL-expired waiting jobs in batches until drained.
func (s *ReaperService) abandonExpiredJobs(ctx context.Context) (int64, error) {
	var totalCount int64
	for {
		count, err := s.repo.AbandonExpired(ctx, s.config.BatchSize)
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "abandoned expired jobs", "count", totalCount)
	}
	return totalCount, nil
}

func (s *ReaperService) pruneCompletedJobs(ctx context.Context) (int64, error) {
	return s.pruneLoop(ctx, "completed", s.repo.PruneCompleted, core.PruneParams{
		MaxAge:    s.config.CompletedMaxAge,
		KeepMost:  s.config.KeepCompleted,
		BatchSize: s.config.BatchSize,
	})
}

func (s *ReaperService) pruneFailedJobs(ctx context.Context) (int64, error) {
	return s.pruneLoop(ctx, "failed", s.repo.PruneFailed, core.PruneParams{
		MaxAge:    s.config.FailedMaxAge,
		KeepMost:  s.config.KeepFailed,
		BatchSize: s.config.BatchSize,
	})
}

// pruneLoop runs one prune operation in batches until no rows are affected.
func (s *ReaperService) pruneLoop(
	ctx context.Context,
	label string,
	fn func(context.Context, core.PruneParams) (int64, error),
	params core.PruneParams,
) (int64, error) {
	var totalCount int64
	for {
		count, err := fn(ctx, params)
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "pruned old jobs",
			"status", label,
			"count", totalCount,
			"max_age", params.MaxAge,
		)
	}
	return totalCount, nil
}

// sweepDisabledSubscriptions removes subscriptions that have stayed disabled
// past the retention window.
func (s *ReaperService) sweepDisabledSubscriptions(ctx context.Context) (int64, error) {
	if s.subs == nil || s.config.DisabledRetention <= 0 {
		return 0, nil
	}

	cutoff := s.clock.Now().Add(-s.config.DisabledRetention)
	count, err := s.subs.DeleteDisabledBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if count > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "swept disabled subscriptions",
			"count", count,
			"retention", s.config.DisabledRetention,
		)
	}
	return count, nil
}

func (s *ReaperService) emitStepMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("reaper.rows_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
