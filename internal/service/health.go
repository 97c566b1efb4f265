package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/stagepass/notify/internal/core"
)

// HealthState is the tri-state health value used across all components.
type HealthState string

const (
	// HealthHealthy indicates normal operation.
	HealthHealthy HealthState = "healthy"
	// HealthWarning indicates degradation that has not breached critical thresholds.
	HealthWarning HealthState = "warning"
	// HealthCritical indicates the pipeline needs operator attention.
	HealthCritical HealthState = "critical"
)

// Queue health thresholds. Deterministic: same stats, same state.
const (
	queueWaitingWarning  = 50
	queueWaitingCritical = 100
	queueFailedWarning   = 10
	queueFailedCritical  = 20

	backlogWarning  = 50
	backlogAlert    = 100
	backlogCritical = 200

	errorRateWarning  = 0.10
	errorRateCritical = 0.25

	avgProcessingAlert = 30 * time.Second
)

// DefaultHealthWindow is the rolling window used for rate computations.
const DefaultHealthWindow = 15 * time.Minute

// QueueHealth is the compact queue-level health report.
type QueueHealth struct {
	Store     bool `json:"store"`
	Queue     bool `json:"queue"`
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
}

// SystemHealth is the full operational health report.
type SystemHealth struct {
	Overall    HealthState            `json:"overall"`
	Components map[string]HealthState `json:"components"`
	Metrics    SystemMetrics          `json:"metrics"`
	Alerts     []string               `json:"alerts"`
}

// SystemMetrics carries the rolled-up numbers behind the health state.
type SystemMetrics struct {
	QueueBacklog          int     `json:"queueBacklog"`
	ErrorRate             float64 `json:"errorRate"`
	AverageProcessingTime float64 `json:"averageProcessingTime"`
	SubscriptionCount     int     `json:"subscriptionCount"`
}

// WorkerProbe exposes the worker's in-flight job count to health checks.
type WorkerProbe interface {
	InFlight() int
}

// HealthServiceOptions groups dependencies for HealthService.
type HealthServiceOptions struct {
	Jobs          core.JobRepository
	Subscriptions core.SubscriptionRepository
	Tracker       *Tracker
	Worker        WorkerProbe // Optional: enables idle-worker detection
	Window        time.Duration
	Logger        *slog.Logger
}

// HealthService evaluates queue and pipeline health against fixed thresholds.
type HealthService struct {
	jobs    core.JobRepository
	subs    core.SubscriptionRepository
	tracker *Tracker
	worker  WorkerProbe
	window  time.Duration
	logger  *slog.Logger
}

// NewHealthService creates a HealthService.
func NewHealthService(opts HealthServiceOptions) *HealthService {
	window := opts.Window
	if window <= 0 {
		window = DefaultHealthWindow
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "health")
	}
	return &HealthService{
		jobs:    opts.Jobs,
		subs:    opts.Subscriptions,
		tracker: opts.Tracker,
		worker:  opts.Worker,
		window:  window,
		logger:  logger,
	}
}

// QueueHealth reports store reachability and per-state counts. The Queue
// flag is true only when the queue state is healthy.
func (s *HealthService) QueueHealth(ctx context.Context) *QueueHealth {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "queue store unreachable", "error", err)
		}
		return &QueueHealth{Store: false, Queue: false}
	}

	state := queueState(true, stats.Waiting, stats.Failed)
	return &QueueHealth{
		Store:     true,
		Queue:     state == HealthHealthy,
		Waiting:   stats.Waiting,
		Active:    stats.Active,
		Completed: stats.Completed,
		Failed:    stats.Failed,
	}
}

// queueState computes the queue health state from reachability and counts.
func queueState(storeReachable bool, waiting, failed int) HealthState {
	switch {
	case !storeReachable, waiting > queueWaitingCritical, failed > queueFailedCritical:
		return HealthCritical
	case waiting > queueWaitingWarning, failed > queueFailedWarning:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// SystemHealth evaluates the pipeline as a whole: component states,
// rolled-up metrics, and the active alert list.
func (s *HealthService) SystemHealth(ctx context.Context) *SystemHealth {
	stats, statsErr := s.jobs.Stats(ctx)
	storeReachable := statsErr == nil

	var waiting, active, failed int
	if stats != nil {
		waiting = stats.Waiting
		active = stats.Active
		failed = stats.Failed
	}

	var errorRate float64
	var avgProcessing time.Duration
	if s.tracker != nil {
		errorRate = s.tracker.ErrorRate(s.window)
		avgProcessing = s.tracker.AverageProcessingTime(s.window)
	}

	subscriptionCount := 0
	dbReachable := true
	if s.subs != nil {
		count, err := s.subs.Count(ctx)
		if err != nil {
			dbReachable = false
			if s.logger != nil {
				s.logger.WarnContext(ctx, "subscription store unreachable", "error", err)
			}
		} else {
			subscriptionCount = count
		}
	}

	qState := queueState(storeReachable, waiting, failed)
	workerIdle := s.worker != nil && s.worker.InFlight() == 0 && active > 0

	overall := overallState(overallInput{
		storeReachable: storeReachable && dbReachable,
		queue:          qState,
		errorRate:      errorRate,
		backlog:        waiting,
		workerIdle:     workerIdle,
	})

	components := map[string]HealthState{
		"store":    boolState(storeReachable),
		"queue":    qState,
		"worker":   boolState(!workerIdle),
		"database": boolState(dbReachable),
	}

	return &SystemHealth{
		Overall:    overall,
		Components: components,
		Metrics: SystemMetrics{
			QueueBacklog:          waiting,
			ErrorRate:             errorRate,
			AverageProcessingTime: avgProcessing.Seconds(),
			SubscriptionCount:     subscriptionCount,
		},
		Alerts: buildAlerts(alertInput{
			storeReachable: storeReachable,
			failed:         failed,
			backlog:        waiting,
			errorRate:      errorRate,
			avgProcessing:  avgProcessing,
		}),
	}
}

type overallInput struct {
	storeReachable bool
	queue          HealthState
	errorRate      float64
	backlog        int
	workerIdle     bool
}

func overallState(in overallInput) HealthState {
	switch {
	case !in.storeReachable,
		in.queue == HealthCritical,
		in.errorRate > errorRateCritical,
		in.backlog > backlogCritical:
		return HealthCritical
	case in.queue == HealthWarning,
		in.workerIdle,
		in.errorRate > errorRateWarning,
		in.backlog > backlogWarning:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

type alertInput struct {
	storeReachable bool
	failed         int
	backlog        int
	errorRate      float64
	avgProcessing  time.Duration
}

// buildAlerts returns every active alert; several may coexist.
func buildAlerts(in alertInput) []string {
	alerts := []string{}
	if !in.storeReachable {
		alerts = append(alerts, "queue store unreachable")
	}
	if in.failed > queueFailedWarning {
		alerts = append(alerts, "failed job count exceeds threshold")
	}
	if in.backlog > backlogAlert {
		alerts = append(alerts, "queue backlog exceeds threshold")
	}
	if in.errorRate > errorRateWarning {
		alerts = append(alerts, "delivery error rate exceeds threshold")
	}
	if in.avgProcessing > avgProcessingAlert {
		alerts = append(alerts, "average job processing time exceeds threshold")
	}
	return alerts
}

func boolState(ok bool) HealthState {
	if ok {
		return HealthHealthy
	}
	return HealthCritical
}
