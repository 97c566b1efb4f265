// Package core provides the port interfaces and shared parameter types of
// the notify dispatch system. Services depend on these contracts, not on
// concrete repository or client implementations.
package core

import (
	"context"
	"time"

	"github.com/stagepass/notify/internal/domain/model"
)

// JobRepository defines the interface for notification job queue operations.
type JobRepository interface {
	Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context, jobType model.JobType) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	CancelWaiting(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (*model.JobStats, error)
	ListFailedIDs(ctx context.Context, limit int) ([]string, error)
	RetryJob(ctx context.Context, id string) (bool, error)
}

// JobReaperRepository defines retention and abandonment operations on the queue store.
type JobReaperRepository interface {
	AbandonExpired(ctx context.Context, batchSize int) (int64, error)
	PruneCompleted(ctx context.Context, params PruneParams) (int64, error)
	PruneFailed(ctx context.Context, params PruneParams) (int64, error)
	RequeueExpiredLeases(ctx context.Context) (int64, error)
}

// PruneParams groups retention pruning parameters.
type PruneParams struct {
	MaxAge    time.Duration
	KeepMost  int
	BatchSize int
}

// SubscriptionRepository defines the interface for push subscription storage.
type SubscriptionRepository interface {
	Upsert(ctx context.Context, req *model.UpsertSubscriptionRequest) (*model.PushSubscription, error)
	ListEnabledForEvent(ctx context.Context, eventID string) ([]*model.PushSubscription, error)
	ListEnabledForCategory(ctx context.Context, category model.NotificationCategory) ([]*model.PushSubscription, error)
	DisableByEndpoints(ctx context.Context, endpoints []string) (int64, error)
	DeleteByEndpoints(ctx context.Context, endpoints []string) (int64, error)
	DeleteDisabledBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
}

// EventInfo is the minimal event shape needed to render a notification.
type EventInfo struct {
	ID            string
	Title         string
	OrganizerName string
	Status        string
}

// AudienceResolver resolves notification recipients and the event context
// needed for rendering. Owned by the platform schema; only the lookup
// surface lives here.
type AudienceResolver interface {
	EventByID(ctx context.Context, eventID string) (*EventInfo, error)
	SubscriptionsForEvent(ctx context.Context, eventID string) ([]*model.PushSubscription, error)
	SubscriptionsForNewEvents(ctx context.Context) ([]*model.PushSubscription, error)
}

// CacheRepository defines the shared cache operations backing dedup
// fast-paths and the intake pause flag.
type CacheRepository interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// SendOptions carries per-send delivery parameters for the push provider.
type SendOptions struct {
	TTL     time.Duration
	Urgency string
	Topic   string
}

// PushSender delivers one payload to one subscription endpoint.
type PushSender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload []byte, opts SendOptions) error
}

// Dispatcher fans one payload out to many subscriptions under a concurrency bound.
type Dispatcher interface {
	Dispatch(ctx context.Context, subs []*model.PushSubscription, payload []byte, opts SendOptions) (*model.DispatchResult, error)
}
