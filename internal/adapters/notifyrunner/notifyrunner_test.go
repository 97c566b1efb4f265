package notifyrunner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/model"
	"github.com/stagepass/notify/internal/service"
)

type stubJobRepo struct {
	mu        sync.Mutex
	completed []string
	failed    map[string]string
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{failed: make(map[string]string)}
}

func (s *stubJobRepo) Enqueue(context.Context, *model.EnqueueRequest) (*model.Job, error) {
	return nil, nil
}

func (s *stubJobRepo) GetByID(context.Context, string) (*model.Job, error) {
	return nil, nil
}

func (s *stubJobRepo) ReserveNext(context.Context, model.JobType, int) (*model.Job, error) {
	return nil, model.ErrNoJobsAvailable
}

func (s *stubJobRepo) WaitForNotification(ctx context.Context, _ model.JobType) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubJobRepo) Heartbeat(context.Context, string, int) (bool, error) {
	return true, nil
}

func (s *stubJobRepo) Complete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	return true, nil
}

func (s *stubJobRepo) Fail(_ context.Context, id, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = errMsg
	return true, nil
}

func (s *stubJobRepo) CancelWaiting(context.Context, string) (bool, error) {
	return false, nil
}

func (s *stubJobRepo) Stats(context.Context) (*model.JobStats, error) {
	return &model.JobStats{}, nil
}

func (s *stubJobRepo) ListFailedIDs(context.Context, int) ([]string, error) {
	return nil, nil
}

func (s *stubJobRepo) RetryJob(context.Context, string) (bool, error) {
	return false, nil
}

type stubAudience struct {
	event     *core.EventInfo
	eventSubs []*model.PushSubscription
	newSubs   []*model.PushSubscription
}

func (s *stubAudience) EventByID(context.Context, string) (*core.EventInfo, error) {
	return s.event, nil
}

func (s *stubAudience) SubscriptionsForEvent(context.Context, string) ([]*model.PushSubscription, error) {
	return s.eventSubs, nil
}

func (s *stubAudience) SubscriptionsForNewEvents(context.Context) ([]*model.PushSubscription, error) {
	return s.newSubs, nil
}

type stubDispatcher struct {
	mu      sync.Mutex
	result  *model.DispatchResult
	calls   int
	payload []byte
	opts    core.SendOptions
}

func (s *stubDispatcher) Dispatch(
	_ context.Context,
	_ []*model.PushSubscription,
	payload []byte,
	opts core.SendOptions,
) (*model.DispatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.payload = payload
	s.opts = opts
	return s.result, nil
}

type stubSubsRepo struct {
	mu       sync.Mutex
	disabled []string
}

func (s *stubSubsRepo) Upsert(context.Context, *model.UpsertSubscriptionRequest) (*model.PushSubscription, error) {
	return nil, nil
}

func (s *stubSubsRepo) ListEnabledForEvent(context.Context, string) ([]*model.PushSubscription, error) {
	return nil, nil
}

func (s *stubSubsRepo) ListEnabledForCategory(context.Context, model.NotificationCategory) ([]*model.PushSubscription, error) {
	return nil, nil
}

func (s *stubSubsRepo) DisableByEndpoints(_ context.Context, endpoints []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = append(s.disabled, endpoints...)
	return int64(len(endpoints)), nil
}

func (s *stubSubsRepo) DeleteByEndpoints(context.Context, []string) (int64, error) {
	return 0, nil
}

func (s *stubSubsRepo) DeleteDisabledBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *stubSubsRepo) Count(context.Context) (int, error) {
	return 0, nil
}

func subscription(endpoint string) *model.PushSubscription {
	return &model.PushSubscription{
		Endpoint: endpoint,
		Keys:     model.SubscriptionKeys{P256dh: "p", Auth: "a"},
		UserID:   "user-1",
		Enabled:  true,
	}
}

func eventUpdateJob(t *testing.T, priority int, changeType model.ChangeType) *model.Job {
	t.Helper()
	payload, err := json.Marshal(model.EventUpdateJobPayload{
		EventID:    "evt-1",
		ChangeType: changeType,
	})
	require.NoError(t, err)
	return &model.Job{
		ID:       "job-1",
		Type:     model.JobTypeEventUpdate,
		Status:   model.JobStatusActive,
		Priority: priority,
		Payload:  payload,
	}
}

type runnerFixture struct {
	runner     *Runner
	repo       *stubJobRepo
	dispatcher *stubDispatcher
	subs       *stubSubsRepo
	tracker    *service.Tracker
}

func newRunnerFixture(t *testing.T, audience *stubAudience, result *model.DispatchResult) *runnerFixture {
	t.Helper()

	repo := newStubJobRepo()
	queue := service.MustNewQueueService(service.QueueServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
	})
	subs := &stubSubsRepo{}
	tracker := service.NewTracker(service.TrackerOptions{Subscriptions: subs})
	dispatcher := &stubDispatcher{result: result}

	runner, err := NewRunner(RunnerOptions{
		Queue:      queue,
		Audience:   audience,
		Dispatcher: dispatcher,
		Renderer:   service.NewRenderer(service.RenderOptions{BaseURL: "https://tickets.example.com"}),
		Tracker:    tracker,
	})
	require.NoError(t, err)

	return &runnerFixture{
		runner:     runner,
		repo:       repo,
		dispatcher: dispatcher,
		subs:       subs,
		tracker:    tracker,
	}
}

func TestProcessJobCompletesAndTracks(t *testing.T) {
	audience := &stubAudience{
		event: &core.EventInfo{ID: "evt-1", Title: "Jazz Night", OrganizerName: "Blue Note"},
		eventSubs: []*model.PushSubscription{
			subscription("https://push.example/a"),
			subscription("https://push.example/b"),
			subscription("https://push.example/gone"),
		},
	}
	fx := newRunnerFixture(t, audience, &model.DispatchResult{
		Sent:             2,
		Failed:           1,
		InvalidEndpoints: []string{"https://push.example/gone"},
		Errors: []model.DispatchError{
			{Endpoint: "https://push.example/gone", StatusCode: 410, Message: "gone"},
		},
	})

	fx.runner.processJob(context.Background(), eventUpdateJob(t, model.PriorityCancellation, model.ChangeTypeCancellation))

	require.Equal(t, []string{"job-1"}, fx.repo.completed)
	assert.Empty(t, fx.repo.failed)
	assert.Equal(t, 1, fx.dispatcher.calls)

	var payload model.NotificationPayload
	require.NoError(t, json.Unmarshal(fx.dispatcher.payload, &payload))
	assert.Equal(t, "Event cancelled: Jazz Night", payload.Title)
	assert.Equal(t, "high", fx.dispatcher.opts.Urgency)
	assert.Equal(t, "evt-1", fx.dispatcher.opts.Topic)

	stats := fx.tracker.GetErrorStats()
	assert.Equal(t, int64(1), stats.TotalErrors)
	assert.Equal(t, int64(1), stats.ErrorsByStatusCode[410])

	// The permanently gone endpoint was swept immediately.
	assert.Equal(t, []string{"https://push.example/gone"}, fx.subs.disabled)
	assert.Zero(t, fx.tracker.PendingInvalidCount())
	assert.Zero(t, fx.runner.InFlight())
}

func TestProcessJobSweepsInvalidEndpointWithoutStatusCode(t *testing.T) {
	audience := &stubAudience{
		event: &core.EventInfo{ID: "evt-1", Title: "Jazz Night"},
		eventSubs: []*model.PushSubscription{
			subscription("https://push.example/a"),
			subscription("https://push.example/gone"),
		},
	}
	// The error record carries no status code; the dispatcher's invalid
	// list alone must be enough to trigger the sweep.
	fx := newRunnerFixture(t, audience, &model.DispatchResult{
		Sent:             1,
		Failed:           1,
		InvalidEndpoints: []string{"https://push.example/gone"},
		Errors: []model.DispatchError{
			{Endpoint: "https://push.example/gone", Message: "subscription expired"},
		},
	})

	fx.runner.processJob(context.Background(), eventUpdateJob(t, model.PriorityTimeChange, model.ChangeTypeTimeChange))

	require.Equal(t, []string{"job-1"}, fx.repo.completed)
	assert.Equal(t, []string{"https://push.example/gone"}, fx.subs.disabled)
	assert.Zero(t, fx.tracker.PendingInvalidCount())
}

func TestProcessJobFailsWhenAllDeliveriesFail(t *testing.T) {
	audience := &stubAudience{
		event: &core.EventInfo{ID: "evt-1", Title: "Jazz Night"},
		eventSubs: []*model.PushSubscription{
			subscription("https://push.example/a"),
			subscription("https://push.example/b"),
		},
	}
	fx := newRunnerFixture(t, audience, &model.DispatchResult{
		Sent:   0,
		Failed: 2,
		Errors: []model.DispatchError{
			{Endpoint: "https://push.example/a", StatusCode: 500, Message: "server error"},
			{Endpoint: "https://push.example/b", StatusCode: 503, Message: "unavailable"},
		},
	})

	fx.runner.processJob(context.Background(), eventUpdateJob(t, model.PriorityTimeChange, model.ChangeTypeTimeChange))

	assert.Empty(t, fx.repo.completed)
	require.Contains(t, fx.repo.failed, "job-1")
	assert.Contains(t, fx.repo.failed["job-1"], "all 2 deliveries failed")

	stats := fx.tracker.GetErrorStats()
	assert.Equal(t, int64(2), stats.TotalErrors)
}

func TestProcessJobNoRecipientsCompletes(t *testing.T) {
	audience := &stubAudience{
		event: &core.EventInfo{ID: "evt-1", Title: "Jazz Night"},
	}
	fx := newRunnerFixture(t, audience, &model.DispatchResult{})

	fx.runner.processJob(context.Background(), eventUpdateJob(t, model.PriorityVenueChange, model.ChangeTypeVenueChange))

	assert.Equal(t, []string{"job-1"}, fx.repo.completed)
	assert.Zero(t, fx.dispatcher.calls)
}

func TestProcessJobFailsOnUndecodablePayload(t *testing.T) {
	audience := &stubAudience{event: &core.EventInfo{ID: "evt-1"}}
	fx := newRunnerFixture(t, audience, &model.DispatchResult{})

	fx.runner.processJob(context.Background(), &model.Job{
		ID:      "job-bad",
		Type:    model.JobTypeEventUpdate,
		Payload: json.RawMessage(`{`),
	})

	require.Contains(t, fx.repo.failed, "job-bad")
	assert.Contains(t, fx.repo.failed["job-bad"], "decode payload")
}

func TestProcessJobNewEventUsesDefaultUrgency(t *testing.T) {
	audience := &stubAudience{
		event:   &core.EventInfo{ID: "evt-2", Title: "Open Mic"},
		newSubs: []*model.PushSubscription{subscription("https://push.example/c")},
	}
	fx := newRunnerFixture(t, audience, &model.DispatchResult{Sent: 1})

	payload, err := json.Marshal(model.NewEventJobPayload{EventID: "evt-2"})
	require.NoError(t, err)
	fx.runner.processJob(context.Background(), &model.Job{
		ID:       "job-2",
		Type:     model.JobTypeNewEvent,
		Priority: model.PriorityDefault,
		Payload:  payload,
	})

	require.Equal(t, []string{"job-2"}, fx.repo.completed)
	assert.Empty(t, fx.dispatcher.opts.Urgency)

	var rendered model.NotificationPayload
	require.NoError(t, json.Unmarshal(fx.dispatcher.payload, &rendered))
	assert.Equal(t, "New event: Open Mic", rendered.Title)
}
