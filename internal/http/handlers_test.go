package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/notify/internal/data"
	"github.com/stagepass/notify/internal/domain/model"
	"github.com/stagepass/notify/internal/service"
)

type stubJobRepo struct {
	jobs      map[string]*model.Job
	stats     *model.JobStats
	statsErr  error
	failedIDs []string
	cancelErr error
	retried   []string
}

func (r *stubJobRepo) Enqueue(_ context.Context, req *model.EnqueueRequest) (*model.Job, error) {
	return &model.Job{ID: "job-new", Type: req.Type, Status: model.JobStatusWaiting}, nil
}

func (r *stubJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return job, nil
}

func (r *stubJobRepo) ReserveNext(context.Context, model.JobType, int) (*model.Job, error) {
	return nil, model.ErrNoJobsAvailable
}

func (r *stubJobRepo) WaitForNotification(ctx context.Context, _ model.JobType) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *stubJobRepo) Heartbeat(context.Context, string, int) (bool, error) { return true, nil }
func (r *stubJobRepo) Complete(context.Context, string) (bool, error)      { return true, nil }
func (r *stubJobRepo) Fail(context.Context, string, string) (bool, error)  { return true, nil }

func (r *stubJobRepo) CancelWaiting(_ context.Context, id string) (bool, error) {
	if r.cancelErr != nil {
		return false, r.cancelErr
	}
	_, ok := r.jobs[id]
	return ok, nil
}

func (r *stubJobRepo) Stats(context.Context) (*model.JobStats, error) {
	if r.statsErr != nil {
		return nil, r.statsErr
	}
	if r.stats == nil {
		return &model.JobStats{}, nil
	}
	return r.stats, nil
}

func (r *stubJobRepo) ListFailedIDs(_ context.Context, limit int) ([]string, error) {
	if limit < len(r.failedIDs) {
		return r.failedIDs[:limit], nil
	}
	return r.failedIDs, nil
}

func (r *stubJobRepo) RetryJob(_ context.Context, id string) (bool, error) {
	r.retried = append(r.retried, id)
	return true, nil
}

type stubSubsRepo struct {
	upserted *model.UpsertSubscriptionRequest
	deleted  []string
}

func (s *stubSubsRepo) Upsert(_ context.Context, req *model.UpsertSubscriptionRequest) (*model.PushSubscription, error) {
	s.upserted = req
	return &model.PushSubscription{
		Endpoint:  req.Endpoint,
		Keys:      req.Keys,
		UserID:    req.UserID,
		UserAgent: req.UserAgent,
		Enabled:   true,
	}, nil
}

func (s *stubSubsRepo) ListEnabledForEvent(context.Context, string) ([]*model.PushSubscription, error) {
	return nil, nil
}

func (s *stubSubsRepo) ListEnabledForCategory(context.Context, model.NotificationCategory) ([]*model.PushSubscription, error) {
	return nil, nil
}

func (s *stubSubsRepo) DisableByEndpoints(context.Context, []string) (int64, error) {
	return 0, nil
}

func (s *stubSubsRepo) DeleteByEndpoints(_ context.Context, endpoints []string) (int64, error) {
	s.deleted = append(s.deleted, endpoints...)
	return int64(len(endpoints)), nil
}

func (s *stubSubsRepo) DeleteDisabledBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *stubSubsRepo) Count(context.Context) (int, error) { return 0, nil }

type fakeCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string][]byte{}}
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) SetIfAbsent(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = value
	return true, nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *fakeCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	delete(c.values, key)
	return ok, nil
}

func (c *fakeCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type routerFixture struct {
	repo    *stubJobRepo
	subs    *stubSubsRepo
	handler http.Handler
}

func newRouterFixture(t *testing.T, repo *stubJobRepo) *routerFixture {
	t.Helper()
	if repo == nil {
		repo = &stubJobRepo{jobs: map[string]*model.Job{}}
	}
	subs := &stubSubsRepo{}
	queue := service.MustNewQueueService(service.QueueServiceOptions{
		Repo:         repo,
		Cache:        newFakeCache(),
		DefaultLease: 30 * time.Second,
	})
	tracker := service.NewTracker(service.TrackerOptions{Subscriptions: subs})
	health := service.NewHealthService(service.HealthServiceOptions{
		Jobs:          repo,
		Subscriptions: subs,
		Tracker:       tracker,
	})
	handler := NewRouter(RouterServices{
		Queue:         queue,
		Subscriptions: subs,
		Health:        health,
	})
	return &routerFixture{repo: repo, subs: subs, handler: handler}
}

func (f *routerFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

const (
	testJobID       = "5f3a1d52-7c44-4c0a-9a36-6fd0a3fbd101"
	testAbsentJobID = "0e1f6f0a-2f4b-4b8e-8f6d-92c5a8f4e202"
)

func TestHealthzEndpoint(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodHead, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestGetJob(t *testing.T) {
	repo := &stubJobRepo{jobs: map[string]*model.Job{
		testJobID: {ID: testJobID, Type: model.JobTypeEventUpdate, Status: model.JobStatusWaiting, Priority: 1},
	}}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodGet, "/api/jobs/"+testJobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, testJobID, job.ID)
	assert.Equal(t, model.JobTypeEventUpdate, job.Type)
}

func TestGetJobNotFound(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/jobs/"+testAbsentJobID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["error"])
}

func TestCancelJob(t *testing.T) {
	repo := &stubJobRepo{jobs: map[string]*model.Job{
		testJobID: {ID: testJobID, Status: model.JobStatusWaiting},
	}}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodPost, "/api/jobs/"+testJobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelJobNotCancelable(t *testing.T) {
	repo := &stubJobRepo{
		jobs:      map[string]*model.Job{},
		cancelErr: data.ErrJobNotCancelable,
	}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodPost, "/api/jobs/"+testJobID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_cancelable", body["error"])
}

func TestGetJobRejectsMalformedID(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/jobs/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_path", body["error"])
}

func TestCancelJobUnknownIDIs404(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/jobs/"+testAbsentJobID+"/cancel", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	repo := &stubJobRepo{
		jobs:  map[string]*model.Job{},
		stats: &model.JobStats{Waiting: 4, Active: 1, Completed: 20, Failed: 2},
	}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodGet, "/api/jobs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats model.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.Waiting)
	assert.Equal(t, 2, stats.Failed)
}

func TestRetryFailedEndpoint(t *testing.T) {
	repo := &stubJobRepo{
		jobs:      map[string]*model.Job{},
		failedIDs: []string{"a", "b", "c"},
	}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodPost, "/api/jobs/retry-failed?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result service.RetryFailedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Requeued)
	assert.Equal(t, []string{"a", "b"}, repo.retried)
}

func TestRetryFailedIgnoresBadLimit(t *testing.T) {
	repo := &stubJobRepo{
		jobs:      map[string]*model.Job{},
		failedIDs: []string{"a"},
	}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodPost, "/api/jobs/retry-failed?limit=banana", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result service.RetryFailedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Requeued)
}

func TestUpsertSubscription(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/subscriptions", model.UpsertSubscriptionRequest{
		Endpoint: "https://push.example/ep-1",
		Keys:     model.SubscriptionKeys{P256dh: "pk", Auth: "auth"},
		UserID:   "user-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var sub model.PushSubscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "https://push.example/ep-1", sub.Endpoint)
	assert.True(t, sub.Enabled)
	require.NotNil(t, f.subs.upserted)
	assert.Equal(t, "user-1", f.subs.upserted.UserID)
}

func TestUpsertSubscriptionRejectsMissingKeys(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/subscriptions", model.UpsertSubscriptionRequest{
		Endpoint: "https://push.example/ep-1",
		UserID:   "user-1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_subscription", body["error"])
}

func TestUpsertSubscriptionRejectsUnknownFields(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/subscriptions", map[string]any{
		"endpoint": "https://push.example/ep-1",
		"bogus":    true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnsubscribe(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/subscriptions/unsubscribe", map[string]any{
		"endpoints": []string{"https://push.example/ep-1", "https://push.example/ep-2"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body["removed"])
	assert.Len(t, f.subs.deleted, 2)
}

func TestUnsubscribeRequiresEndpoints(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/subscriptions/unsubscribe", map[string]any{
		"endpoints": []string{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueHealthEndpoint(t *testing.T) {
	repo := &stubJobRepo{
		jobs:  map[string]*model.Job{},
		stats: &model.JobStats{Waiting: 3, Active: 1, Completed: 9, Failed: 1},
	}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodGet, "/api/health/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.QueueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Store)
	assert.True(t, report.Queue)
	assert.Equal(t, 3, report.Waiting)
}

func TestQueueHealthUnreachableStoreIs503(t *testing.T) {
	repo := &stubJobRepo{
		jobs:     map[string]*model.Job{},
		statsErr: errors.New("connection refused"),
	}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodGet, "/api/health/queue", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report service.QueueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Store)
}

func TestSystemHealthEndpoint(t *testing.T) {
	repo := &stubJobRepo{
		jobs:  map[string]*model.Job{},
		stats: &model.JobStats{Waiting: 2},
	}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodGet, "/api/health/system", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, service.HealthHealthy, report.Overall)
	assert.Empty(t, report.Alerts)
}

func TestSystemHealthCriticalIs503(t *testing.T) {
	repo := &stubJobRepo{
		jobs:  map[string]*model.Job{},
		stats: &model.JobStats{Waiting: 250},
	}
	f := newRouterFixture(t, repo)

	rec := f.do(t, http.MethodGet, "/api/health/system", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report service.SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, service.HealthCritical, report.Overall)
	assert.NotEmpty(t, report.Alerts)
}

func TestPauseAndResumeEndpoints(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/queue/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["paused"])

	rec = f.do(t, http.MethodPost, "/api/queue/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["paused"])
}

func TestRecoverMiddlewareCatchesPanics(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(fmt.Errorf("boom"))
	})
	handler := Recover(discardLogger())(panicking)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
