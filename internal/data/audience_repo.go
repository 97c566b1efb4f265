package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/model"
)

// ErrEventNotFound is returned when an event does not exist in the platform schema.
var ErrEventNotFound = errors.New("event not found")

// AudienceRepo resolves notification recipients against the ticketing
// platform schema. The events and tickets tables are owned by the
// platform; this repo only reads them.
type AudienceRepo struct {
	DB   *sql.DB
	subs *SubscriptionRepo
}

// NewAudienceRepo creates a new AudienceRepo with the given database connection.
func NewAudienceRepo(db *sql.DB) *AudienceRepo {
	return &AudienceRepo{DB: db, subs: NewSubscriptionRepo(db)}
}

// EventByID returns the minimal event context needed to render a notification.
func (r *AudienceRepo) EventByID(ctx context.Context, eventID string) (*core.EventInfo, error) {
	var info core.EventInfo
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, title, organizer_name, status
		FROM events
		WHERE id = $1
	`, eventID).Scan(&info.ID, &info.Title, &info.OrganizerName, &info.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &info, nil
}

// SubscriptionsForEvent returns enabled subscriptions of ticket holders
// for the given event.
func (r *AudienceRepo) SubscriptionsForEvent(ctx context.Context, eventID string) ([]*model.PushSubscription, error) {
	return r.subs.ListEnabledForEvent(ctx, eventID)
}

// SubscriptionsForNewEvents returns enabled subscriptions of users opted
// in to new-event announcements.
func (r *AudienceRepo) SubscriptionsForNewEvents(ctx context.Context) ([]*model.PushSubscription, error) {
	return r.subs.ListEnabledForCategory(ctx, model.CategoryNewEvents)
}

var _ core.AudienceResolver = (*AudienceRepo)(nil)
