// Package notifyrunner pulls notification jobs off the queue and fans
// them out to push subscriptions.
package notifyrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/model"
	"github.com/stagepass/notify/internal/observability/metrics"
	"github.com/stagepass/notify/internal/observability/statsd"
	"github.com/stagepass/notify/internal/push"
	"github.com/stagepass/notify/internal/service"
)

// Defaults applied when RunnerOptions leaves a knob unset.
const (
	DefaultLease        = 30 * time.Second
	DefaultConcurrency  = 5
	DefaultPollInterval = 15 * time.Second
)

// Urgency threshold: priorities at or below this send with high urgency
// so push services wake devices for cancellations and time changes.
const highUrgencyPriority = 2

// RunnerOptions configures the notification worker.
type RunnerOptions struct {
	Queue      *service.QueueService // Required: queue facade
	Audience   core.AudienceResolver // Required: event and subscription lookup
	Dispatcher core.Dispatcher       // Required: per-job fan-out
	Renderer   *service.Renderer     // Required: payload rendering
	Tracker    *service.Tracker      // Optional: error/performance accounting
	Logger     *slog.Logger          // Optional: structured logger
	Metrics    statsd.Sink           // Optional: metrics sink

	Lease        time.Duration // per-job lease duration; defaults to 30s
	Concurrency  int           // number of worker goroutines; defaults to 5
	PollInterval time.Duration // queue re-check interval when idle; defaults to 15s
}

// Runner drains notification jobs and dispatches them to subscribers.
type Runner struct {
	queue      *service.QueueService
	audience   core.AudienceResolver
	dispatcher core.Dispatcher
	renderer   *service.Renderer
	tracker    *service.Tracker
	logger     *slog.Logger
	metrics    statsd.Sink

	lease        time.Duration
	workers      int
	pollInterval time.Duration

	inFlight atomic.Int64
}

// NewRunner validates dependencies and constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue service is required")
	}
	if opts.Audience == nil {
		return nil, errors.New("audience resolver is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("renderer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify_runner")

	lease := opts.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Runner{
		queue:        opts.Queue,
		audience:     opts.Audience,
		dispatcher:   opts.Dispatcher,
		renderer:     opts.Renderer,
		tracker:      opts.Tracker,
		logger:       logger,
		metrics:      opts.Metrics,
		lease:        lease,
		workers:      workers,
		pollInterval: pollInterval,
	}, nil
}

// InFlight returns the number of jobs currently being processed.
func (r *Runner) InFlight() int {
	return int(r.inFlight.Load())
}

// jobTypes lists the queue types this runner drains, in priority order.
var jobTypes = []model.JobType{model.JobTypeEventUpdate, model.JobTypeNewEvent}

// Run starts worker goroutines and processes jobs until the context is
// cancelled. Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting notification runner",
		"workers", r.workers,
		"lease", r.lease,
		"poll_interval", r.pollInterval,
	)

	unsubUpdate, updateCh := r.queue.Subscribe(model.JobTypeEventUpdate)
	defer unsubUpdate()
	unsubNew, newCh := r.queue.Subscribe(model.JobTypeNewEvent)
	defer unsubNew()

	g, ctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			return r.workerLoop(ctx, updateCh, newCh)
		})
	}

	err := g.Wait()
	r.queue.StopAllListeners()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) workerLoop(ctx context.Context, updateCh, newCh <-chan struct{}) error {
	for ctx.Err() == nil {
		reserved := false
		for _, jt := range jobTypes {
			job, err := r.queue.ReserveNext(ctx, jt, r.lease)
			switch {
			case err == nil:
				if job != nil {
					reserved = true
					r.processJob(ctx, job)
				}
			case errors.Is(err, model.ErrNoJobsAvailable):
				// fall through to the next type
			default:
				return fmt.Errorf("reserve next: %w", err)
			}
		}
		if !reserved {
			if !r.waitForWork(ctx, updateCh, newCh) {
				return nil
			}
		}
	}
	return nil
}

// waitForWork blocks until a wakeup, the poll interval, or shutdown.
// Requeued and retried jobs produce no wakeup, so the timer is the
// pickup path for them. Returns false when the context is done.
func (r *Runner) waitForWork(ctx context.Context, updateCh, newCh <-chan struct{}) bool {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-updateCh:
		return true
	case <-newCh:
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    string(job.Type),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	stopHeartbeat := r.startHeartbeat(ctx, job.ID)
	defer stopHeartbeat()

	dispatched, err := r.handle(ctx, job)
	if err != nil {
		if _, ferr := r.queue.Fail(ctx, job.ID, err.Error()); ferr != nil {
			r.logger.ErrorContext(ctx, "fail job error",
				"job_id", job.ID, "error", ferr, "original_error", err)
		}
		emit("failed", metrics.ResultError, err)
		return
	}

	if completed, cerr := r.queue.Complete(ctx, job.ID); cerr != nil {
		r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", cerr)
		emit("completed", metrics.ResultError, cerr)
	} else {
		result := metrics.ResultNoop
		if completed {
			result = metrics.ResultSuccess
		}
		emit("completed", result, nil)
	}

	if dispatched != nil {
		r.recordJobOutcome(ctx, job, dispatched, time.Since(start))
	}
}

// startHeartbeat extends the job lease on a ticker until the returned
// stop function is called. Heartbeats run at a third of the lease so a
// single missed tick never loses the job.
func (r *Runner) startHeartbeat(ctx context.Context, jobID string) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	interval := r.lease / 3
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if ok, err := r.queue.Heartbeat(hbCtx, jobID, r.lease); err != nil {
					r.logger.WarnContext(hbCtx, "heartbeat error", "job_id", jobID, "error", err)
				} else if !ok {
					r.logger.WarnContext(hbCtx, "heartbeat lost job lease", "job_id", jobID)
					return
				}
			}
		}
	}()

	return cancel
}

// handle resolves the audience, renders the payload, and fans it out.
// A nil DispatchResult with nil error means the job had no recipients.
func (r *Runner) handle(ctx context.Context, job *model.Job) (*model.DispatchResult, error) {
	event, subs, changeType, changes, err := r.resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	if len(subs) == 0 {
		r.logger.InfoContext(ctx, "no recipients for job",
			"job_id", job.ID, "type", job.Type, "event_id", event.ID)
		if r.tracker != nil {
			r.tracker.RecordJobPerformance(model.JobPerformance{
				JobID:       job.ID,
				Type:        job.Type,
				CompletedAt: time.Now(),
			})
		}
		return nil, nil
	}

	var payload *model.NotificationPayload
	switch job.Type {
	case model.JobTypeEventUpdate:
		payload, err = r.renderer.RenderEventUpdate(event, changeType, changes)
	case model.JobTypeNewEvent:
		payload, err = r.renderer.RenderNewEvent(event)
	default:
		err = fmt.Errorf("no handler for job type %s", job.Type)
	}
	if err != nil {
		return nil, err
	}

	body, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	opts := core.SendOptions{Topic: event.ID}
	if job.Priority <= highUrgencyPriority {
		opts.Urgency = "high"
	}

	result, err := r.dispatcher.Dispatch(ctx, subs, body, opts)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	// A dispatch where nothing got through is worth another attempt;
	// partial failure is terminal for this job, the tracker keeps the detail.
	if result.Sent == 0 && result.Failed > 0 {
		r.trackDispatch(job, event.ID, result)
		return result, fmt.Errorf("all %d deliveries failed", result.Failed)
	}

	return result, nil
}

// resolve decodes the job payload and loads the event plus its audience.
func (r *Runner) resolve(
	ctx context.Context,
	job *model.Job,
) (*core.EventInfo, []*model.PushSubscription, model.ChangeType, []model.EventChange, error) {
	switch job.Type {
	case model.JobTypeEventUpdate:
		var p model.EventUpdateJobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, nil, "", nil, fmt.Errorf("decode payload: %w", err)
		}
		event, err := r.audience.EventByID(ctx, p.EventID)
		if err != nil {
			return nil, nil, "", nil, fmt.Errorf("load event %s: %w", p.EventID, err)
		}
		subs, err := r.audience.SubscriptionsForEvent(ctx, p.EventID)
		if err != nil {
			return nil, nil, "", nil, fmt.Errorf("load audience for event %s: %w", p.EventID, err)
		}
		return event, subs, p.ChangeType, p.Changes, nil

	case model.JobTypeNewEvent:
		var p model.NewEventJobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, nil, "", nil, fmt.Errorf("decode payload: %w", err)
		}
		event, err := r.audience.EventByID(ctx, p.EventID)
		if err != nil {
			return nil, nil, "", nil, fmt.Errorf("load event %s: %w", p.EventID, err)
		}
		subs, err := r.audience.SubscriptionsForNewEvents(ctx)
		if err != nil {
			return nil, nil, "", nil, fmt.Errorf("load new-event audience: %w", err)
		}
		return event, subs, "", nil, nil

	default:
		return nil, nil, "", nil, fmt.Errorf("no handler for job type %s", job.Type)
	}
}

// recordJobOutcome feeds the tracker and triggers the invalid-endpoint sweep.
func (r *Runner) recordJobOutcome(
	ctx context.Context,
	job *model.Job,
	result *model.DispatchResult,
	elapsed time.Duration,
) {
	if r.tracker == nil {
		return
	}

	eventID := extractEventID(job.Payload)
	r.trackDispatch(job, eventID, result)
	// The dispatcher's own classification is authoritative for gone
	// endpoints, even when an error record carries no status code.
	r.tracker.TrackInvalidEndpoints(result.InvalidEndpoints)
	r.tracker.RecordJobPerformance(model.JobPerformance{
		JobID:            job.ID,
		Type:             job.Type,
		Sent:             result.Sent,
		Failed:           result.Failed,
		InvalidEndpoints: len(result.InvalidEndpoints),
		ProcessingTimeMs: elapsed.Milliseconds(),
		CompletedAt:      time.Now(),
	})

	if r.tracker.PendingInvalidCount() > 0 {
		summary, err := r.tracker.PerformBatchCleanup(ctx)
		if err != nil {
			// Endpoints stay pending; the next job's sweep retries them.
			r.logger.WarnContext(ctx, "invalid endpoint cleanup failed", "error", err)
		} else if summary.Removed > 0 {
			r.logger.InfoContext(ctx, "disabled invalid endpoints",
				"submitted", summary.Submitted, "removed", summary.Removed)
		}
	}
}

// trackDispatch replays per-endpoint failures into the tracker.
func (r *Runner) trackDispatch(job *model.Job, eventID string, result *model.DispatchResult) {
	if r.tracker == nil {
		return
	}
	for _, e := range result.Errors {
		r.tracker.TrackError(e.Endpoint, &push.DeliveryError{
			Endpoint:   e.Endpoint,
			StatusCode: e.StatusCode,
			Class:      push.ClassifyStatus(e.StatusCode),
			Message:    e.Message,
		}, job.ID, eventID)
	}
}

// extractEventID pulls the event id out of either payload shape.
func extractEventID(raw json.RawMessage) string {
	var p struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	return p.EventID
}
