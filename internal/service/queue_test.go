package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/notify/internal/domain/model"
)

type fakeJobRepo struct {
	mu sync.Mutex

	enqueued   []*model.EnqueueRequest
	enqueueJob *model.Job
	enqueueErr error

	reserveErr error

	failedIDs   []string
	retryResult map[string]bool
	retryErr    map[string]error
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		retryResult: make(map[string]bool),
		retryErr:    make(map[string]error),
	}
}

func (f *fakeJobRepo) Enqueue(_ context.Context, req *model.EnqueueRequest) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, req)
	if f.enqueueErr != nil {
		return f.enqueueJob, f.enqueueErr
	}
	if f.enqueueJob != nil {
		return f.enqueueJob, nil
	}
	return &model.Job{
		ID:       "job-1",
		Type:     req.Type,
		Status:   model.JobStatusWaiting,
		Priority: req.Priority,
		Payload:  req.Payload,
		DedupKey: req.DedupKey,
	}, nil
}

func (f *fakeJobRepo) GetByID(context.Context, string) (*model.Job, error) { return nil, nil }

func (f *fakeJobRepo) ReserveNext(context.Context, model.JobType, int) (*model.Job, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	return nil, model.ErrNoJobsAvailable
}

func (f *fakeJobRepo) WaitForNotification(ctx context.Context, _ model.JobType) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeJobRepo) Heartbeat(context.Context, string, int) (bool, error) { return true, nil }
func (f *fakeJobRepo) Complete(context.Context, string) (bool, error)       { return true, nil }
func (f *fakeJobRepo) Fail(context.Context, string, string) (bool, error)   { return true, nil }
func (f *fakeJobRepo) CancelWaiting(context.Context, string) (bool, error)  { return false, nil }

func (f *fakeJobRepo) Stats(context.Context) (*model.JobStats, error) {
	return &model.JobStats{}, nil
}

func (f *fakeJobRepo) ListFailedIDs(context.Context, int) ([]string, error) {
	return f.failedIDs, nil
}

func (f *fakeJobRepo) RetryJob(_ context.Context, id string) (bool, error) {
	if err := f.retryErr[id]; err != nil {
		return false, err
	}
	return f.retryResult[id], nil
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string][]byte
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string][]byte)}
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeCache) SetIfAbsent(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeCache) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	delete(f.values, key)
	return ok, nil
}

func (f *fakeCache) Exists(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestQueueService(t *testing.T, repo *fakeJobRepo, cache *fakeCache) *QueueService {
	t.Helper()
	opts := QueueServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
		TimeProvider: fixedClock{now: time.Unix(1700000000, 0)},
	}
	if cache != nil {
		opts.Cache = cache
	}
	svc, err := NewQueueService(opts)
	require.NoError(t, err)
	return svc
}

func TestQueueEventUpdateNotification(t *testing.T) {
	repo := newFakeJobRepo()
	svc := newTestQueueService(t, repo, nil)

	job := svc.QueueEventUpdateNotification(context.Background(), EventUpdateInput{
		EventID:    "evt-1",
		ChangeType: model.ChangeTypeCancellation,
	})

	require.NotNil(t, job)
	require.Len(t, repo.enqueued, 1)
	req := repo.enqueued[0]
	assert.Equal(t, model.JobTypeEventUpdate, req.Type)
	assert.Equal(t, model.PriorityCancellation, req.Priority)
	require.NotNil(t, req.DedupKey)
	assert.Equal(t, "event_update:evt-1:cancellation:1700000000", *req.DedupKey)
}

func TestQueueEventUpdateNotificationPriorities(t *testing.T) {
	tests := []struct {
		changeType model.ChangeType
		priority   int
	}{
		{model.ChangeTypeCancellation, model.PriorityCancellation},
		{model.ChangeTypeTimeChange, model.PriorityTimeChange},
		{model.ChangeTypeVenueChange, model.PriorityVenueChange},
		{"something_else", model.PriorityDefault},
	}

	for _, tt := range tests {
		t.Run(string(tt.changeType), func(t *testing.T) {
			repo := newFakeJobRepo()
			svc := newTestQueueService(t, repo, nil)

			job := svc.QueueEventUpdateNotification(context.Background(), EventUpdateInput{
				EventID:    "evt-1",
				ChangeType: tt.changeType,
			})

			require.NotNil(t, job)
			assert.Equal(t, tt.priority, repo.enqueued[0].Priority)
		})
	}
}

func TestQueueNewEventNotificationDedupKey(t *testing.T) {
	repo := newFakeJobRepo()
	svc := newTestQueueService(t, repo, nil)

	job := svc.QueueNewEventNotification(context.Background(), "evt-9")

	require.NotNil(t, job)
	req := repo.enqueued[0]
	assert.Equal(t, model.JobTypeNewEvent, req.Type)
	assert.Equal(t, model.PriorityDefault, req.Priority)
	require.NotNil(t, req.DedupKey)
	assert.Equal(t, "new_event:evt-9", *req.DedupKey)
}

func TestQueueFacadeNeverErrors(t *testing.T) {
	t.Run("missing event id", func(t *testing.T) {
		repo := newFakeJobRepo()
		svc := newTestQueueService(t, repo, nil)

		assert.Nil(t, svc.QueueEventUpdateNotification(context.Background(), EventUpdateInput{}))
		assert.Nil(t, svc.QueueNewEventNotification(context.Background(), ""))
		assert.Empty(t, repo.enqueued)
	})

	t.Run("repository down", func(t *testing.T) {
		repo := newFakeJobRepo()
		repo.enqueueErr = errors.New("connection refused")
		svc := newTestQueueService(t, repo, nil)

		job := svc.QueueEventUpdateNotification(context.Background(), EventUpdateInput{
			EventID:    "evt-1",
			ChangeType: model.ChangeTypeTimeChange,
		})
		assert.Nil(t, job)
	})
}

func TestQueueFacadeReturnsExistingJobOnDuplicate(t *testing.T) {
	repo := newFakeJobRepo()
	existing := &model.Job{ID: "existing", Type: model.JobTypeNewEvent, Status: model.JobStatusWaiting}
	repo.enqueueJob = existing
	repo.enqueueErr = model.ErrDuplicateJob
	svc := newTestQueueService(t, repo, nil)

	job := svc.QueueNewEventNotification(context.Background(), "evt-9")

	require.NotNil(t, job)
	assert.Equal(t, "existing", job.ID)
}

func TestEnqueueDedupFastPathSkipsStore(t *testing.T) {
	repo := newFakeJobRepo()
	cache := newFakeCache()
	svc := newTestQueueService(t, repo, cache)

	first := svc.QueueNewEventNotification(context.Background(), "evt-9")
	require.NotNil(t, first)
	require.Len(t, repo.enqueued, 1)

	second := svc.QueueNewEventNotification(context.Background(), "evt-9")
	assert.Nil(t, second)
	assert.Len(t, repo.enqueued, 1, "cache absorbs the duplicate before the store")

	if _, ok := cache.values[dedupKeyPrefix+"new_event:evt-9"]; !ok {
		t.Errorf("dedup key was not claimed in the cache")
	}
}

func TestPauseDropsIntake(t *testing.T) {
	repo := newFakeJobRepo()
	cache := newFakeCache()
	svc := newTestQueueService(t, repo, cache)

	require.NoError(t, svc.Pause(context.Background()))

	paused, err := svc.Paused(context.Background())
	require.NoError(t, err)
	assert.True(t, paused)

	job := svc.QueueNewEventNotification(context.Background(), "evt-9")
	assert.Nil(t, job)
	assert.Empty(t, repo.enqueued)

	require.NoError(t, svc.Resume(context.Background()))
	job = svc.QueueNewEventNotification(context.Background(), "evt-9")
	assert.NotNil(t, job)
}

func TestEnqueueAcceptsWhenPauseFlagUnavailable(t *testing.T) {
	repo := newFakeJobRepo()
	cache := newFakeCache()
	cache.err = errors.New("redis down")
	svc := newTestQueueService(t, repo, cache)

	job := svc.QueueNewEventNotification(context.Background(), "evt-9")

	require.NotNil(t, job)
	require.Len(t, repo.enqueued, 1)
}

func TestPauseRequiresCache(t *testing.T) {
	svc := newTestQueueService(t, newFakeJobRepo(), nil)

	assert.Error(t, svc.Pause(context.Background()))
	assert.Error(t, svc.Resume(context.Background()))

	paused, err := svc.Paused(context.Background())
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestReserveNextPassesThroughNoJobs(t *testing.T) {
	svc := newTestQueueService(t, newFakeJobRepo(), nil)

	_, err := svc.ReserveNext(context.Background(), model.JobTypeEventUpdate, time.Second)
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
}

func TestRetryFailedContinuesPastErrors(t *testing.T) {
	repo := newFakeJobRepo()
	repo.failedIDs = []string{"a", "b", "c"}
	repo.retryResult["a"] = true
	repo.retryErr["b"] = errors.New("deadlock detected")
	repo.retryResult["c"] = false // raced to another state since listing
	svc := newTestQueueService(t, repo, nil)

	result, err := svc.RetryFailed(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Requeued)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, []string{"a"}, result.IDs)
}
