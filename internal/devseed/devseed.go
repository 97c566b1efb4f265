// Package devseed populates a development database with sample push
// subscriptions and notification jobs so the dispatch pipeline has
// something to chew on locally. It is idempotent: subscriptions are
// upserted by endpoint and jobs carry dedup keys, so repeated runs do
// not pile up duplicates.
package devseed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stagepass/notify/internal/data"
	"github.com/stagepass/notify/internal/domain/model"
)

// Services bundles the repositories needed for development seeding.
type Services struct {
	DB   *sql.DB
	jobs *data.JobRepo
	subs *data.SubscriptionRepo
}

// NewServices constructs the repositories used for seeding against the provided DB.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:   db,
		jobs: data.NewJobRepo(db, data.JobRepoConfig{}),
		subs: data.NewSubscriptionRepo(db),
	}
}

// Run executes the full development seeding workflow against the provided DB.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := 0
	failures += seedSubscriptions(ctx, svcs.subs, logger)
	failures += seedJobs(ctx, svcs.jobs, logger)
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func seedSubscriptions(ctx context.Context, repo *data.SubscriptionRepo, logger *slog.Logger) int {
	failures := 0
	for _, req := range defaultSubscriptions() {
		if _, err := repo.Upsert(ctx, req); err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to seed subscription",
					"endpoint", req.Endpoint, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "seeded subscription", "user_id", req.UserID)
		}
	}
	return failures
}

func defaultSubscriptions() []*model.UpsertSubscriptionRequest {
	return []*model.UpsertSubscriptionRequest{
		{
			Endpoint: "https://push.example.test/send/dev-alice",
			Keys: model.SubscriptionKeys{
				P256dh: "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM",
				Auth:   "tBHItJI5svbpez7KI4CCXg",
			},
			UserID:    "dev-alice",
			UserAgent: "devseed/1.0 (desktop)",
		},
		{
			Endpoint: "https://push.example.test/send/dev-bob",
			Keys: model.SubscriptionKeys{
				P256dh: "BLc4xRzKlaORKWhyvbmEG1iVWSVXhLWkMgQjZW0wCRGKLGZDSe1VAcma6gvmZ1v5uDcBKbhcOz7mvcdHcRmTFC0",
				Auth:   "FPssNDTKnInHVndSTdbKFw",
			},
			UserID:    "dev-bob",
			UserAgent: "devseed/1.0 (mobile)",
		},
	}
}

func seedJobs(ctx context.Context, repo *data.JobRepo, logger *slog.Logger) int {
	failures := 0
	for _, spec := range defaultJobs() {
		if err := enqueueSeedJob(ctx, repo, spec, logger); err != nil {
			failures++
		}
	}
	return failures
}

func enqueueSeedJob(ctx context.Context, repo *data.JobRepo, spec jobSpec, logger *slog.Logger) error {
	payload, err := spec.payload.Marshal()
	if err != nil {
		if logger != nil {
			logger.ErrorContext(ctx, "failed to marshal seed payload",
				"event_id", spec.payload.EventID, "error", err)
		}
		return err
	}
	dedup := spec.dedupKey
	job, err := repo.Enqueue(ctx, &model.EnqueueRequest{
		Type:     spec.payload.Type,
		Payload:  payload,
		Priority: spec.priority,
		DedupKey: &dedup,
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicateJob) {
			if logger != nil {
				logger.InfoContext(ctx, "seed job already queued", "dedup_key", dedup)
			}
			return nil
		}
		if logger != nil {
			logger.ErrorContext(ctx, "failed to enqueue seed job",
				"dedup_key", dedup, "error", err)
		}
		return err
	}
	if logger != nil {
		logger.InfoContext(ctx, "seeded job", "job_id", job.ID, "type", job.Type)
	}
	return nil
}

type jobSpec struct {
	payload  model.NotificationPayload
	priority int
	dedupKey string
}

func defaultJobs() []jobSpec {
	return []jobSpec{
		{
			payload: model.NotificationPayload{
				Type:    model.JobTypeNewEvent,
				EventID: "evt-dev-0001",
				Title:   "New Show: The Midnight Set",
				Body:    "Tickets are now on sale for The Midnight Set at Harbor Hall.",
				URL:     "/events/evt-dev-0001",
			},
			priority: model.PriorityDefault,
			dedupKey: "devseed:new_event:evt-dev-0001",
		},
		{
			payload: model.NotificationPayload{
				Type:    model.JobTypeEventUpdate,
				EventID: "evt-dev-0002",
				Title:   "Time Change: Riverside Acoustic",
				Body:    "Riverside Acoustic now starts at 20:00 instead of 19:00.",
				URL:     "/events/evt-dev-0002",
				ChangeDetails: &model.ChangeDetails{
					Field:    "start_time",
					OldValue: "19:00",
					NewValue: "20:00",
				},
			},
			priority: model.PriorityFor(model.JobTypeEventUpdate, model.ChangeTypeTimeChange),
			dedupKey: "devseed:time_change:evt-dev-0002",
		},
		{
			payload: model.NotificationPayload{
				Type:    model.JobTypeEventUpdate,
				EventID: "evt-dev-0003",
				Title:   "Cancelled: Open Mic Finale",
				Body:    "Open Mic Finale has been cancelled. Refunds are on the way.",
				URL:     "/events/evt-dev-0003",
				ChangeDetails: &model.ChangeDetails{
					Field:    "status",
					OldValue: "scheduled",
					NewValue: "cancelled",
				},
			},
			priority: model.PriorityFor(model.JobTypeEventUpdate, model.ChangeTypeCancellation),
			dedupKey: "devseed:cancellation:evt-dev-0003",
		},
	}
}
