package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/data/pgxutil"
	"github.com/stagepass/notify/internal/domain/model"
)

// ErrSubscriptionNotFound is returned when a push subscription does not exist.
var ErrSubscriptionNotFound = errors.New("push subscription not found")

// SubscriptionRepo implements the SubscriptionRepository interface using PostgreSQL.
type SubscriptionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSubscriptionRepo creates a new SubscriptionRepo with the given database connection.
func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo {
	return &SubscriptionRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const subscriptionColumns = `endpoint, p256dh, auth, user_id, user_agent, enabled, created_at, last_seen_at, disabled_at`

func scanSubscription(row pgx.Row) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var userAgent sql.NullString
	var disabledAt sql.NullTime
	err := row.Scan(
		&sub.Endpoint,
		&sub.Keys.P256dh,
		&sub.Keys.Auth,
		&sub.UserID,
		&userAgent,
		&sub.Enabled,
		&sub.CreatedAt,
		&sub.LastSeenAt,
		&disabledAt,
	)
	if err != nil {
		return nil, err
	}
	if userAgent.Valid {
		sub.UserAgent = userAgent.String
	}
	if disabledAt.Valid {
		t := disabledAt.Time.UTC()
		sub.DisabledAt = &t
	}
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.LastSeenAt = sub.LastSeenAt.UTC()
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*model.PushSubscription, error) {
	var subs []*model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// Upsert registers a push subscription, keyed on endpoint. Re-subscribing
// refreshes the key material, re-enables a disabled row, and bumps last_seen_at.
func (r *SubscriptionRepo) Upsert(
	ctx context.Context,
	req *model.UpsertSubscriptionRequest,
) (*model.PushSubscription, error) {
	if req == nil {
		return nil, errors.New("upsert request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()
	var out *model.PushSubscription
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		row := conn.QueryRow(ctx, `
			INSERT INTO push_subscriptions (endpoint, p256dh, auth, user_id, user_agent, enabled, created_at, last_seen_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), TRUE, $6, $6)
			ON CONFLICT (endpoint)
			DO UPDATE SET
				p256dh = EXCLUDED.p256dh,
				auth = EXCLUDED.auth,
				user_id = EXCLUDED.user_id,
				user_agent = EXCLUDED.user_agent,
				enabled = TRUE,
				disabled_at = NULL,
				last_seen_at = EXCLUDED.last_seen_at
			RETURNING `+subscriptionColumns+`
		`, req.Endpoint, req.Keys.P256dh, req.Keys.Auth, req.UserID, req.UserAgent, now)
		sub, err := scanSubscription(row)
		if err != nil {
			return err
		}
		out = sub
		return nil
	}); err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return out, nil
}

// ListEnabledForEvent returns enabled subscriptions of users holding a
// ticket for the given event.
func (r *SubscriptionRepo) ListEnabledForEvent(ctx context.Context, eventID string) ([]*model.PushSubscription, error) {
	var subs []*model.PushSubscription
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+subscriptionColumns+`
			FROM push_subscriptions
			WHERE enabled
			  AND user_id IN (SELECT user_id FROM tickets WHERE event_id = $1)
			ORDER BY created_at
		`, eventID)
		if err != nil {
			return err
		}
		defer rows.Close()
		subs, err = collectSubscriptions(rows)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list subscriptions for event: %w", err)
	}
	return subs, nil
}

// ListEnabledForCategory returns enabled subscriptions of users opted in
// to the given notification category.
func (r *SubscriptionRepo) ListEnabledForCategory(
	ctx context.Context,
	category model.NotificationCategory,
) ([]*model.PushSubscription, error) {
	var subs []*model.PushSubscription
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+subscriptionColumns+`
			FROM push_subscriptions
			WHERE enabled
			  AND user_id IN (
				SELECT user_id FROM notification_preferences
				WHERE category = $1 AND opted_in
			  )
			ORDER BY created_at
		`, category)
		if err != nil {
			return err
		}
		defer rows.Close()
		subs, err = collectSubscriptions(rows)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list subscriptions for category: %w", err)
	}
	return subs, nil
}

// DisableByEndpoints soft-disables subscriptions the push service reported
// as gone. Disabled rows are retained for the retention window, then swept.
func (r *SubscriptionRepo) DisableByEndpoints(ctx context.Context, endpoints []string) (int64, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}

	now := r.timeProvider.Now().UTC()
	var rowsAffected int64
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE push_subscriptions
			SET enabled = FALSE, disabled_at = $2
			WHERE endpoint = ANY($1) AND enabled
		`, endpoints, now)
		if err != nil {
			return err
		}
		rowsAffected = ct.RowsAffected()
		return nil
	}); err != nil {
		return 0, fmt.Errorf("disable subscriptions: %w", err)
	}
	return rowsAffected, nil
}

// DeleteByEndpoints removes subscriptions outright, used by explicit
// unsubscribe calls.
func (r *SubscriptionRepo) DeleteByEndpoints(ctx context.Context, endpoints []string) (int64, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}

	var rowsAffected int64
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ANY($1)`, endpoints)
		if err != nil {
			return err
		}
		rowsAffected = ct.RowsAffected()
		return nil
	}); err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	return rowsAffected, nil
}

// DeleteDisabledBefore sweeps disabled subscriptions whose disabled_at is
// older than the cutoff.
func (r *SubscriptionRepo) DeleteDisabledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var rowsAffected int64
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			DELETE FROM push_subscriptions
			WHERE NOT enabled AND disabled_at IS NOT NULL AND disabled_at < $1
		`, cutoff.UTC())
		if err != nil {
			return err
		}
		rowsAffected = ct.RowsAffected()
		return nil
	}); err != nil {
		return 0, fmt.Errorf("sweep disabled subscriptions: %w", err)
	}
	return rowsAffected, nil
}

// Count returns the number of enabled subscriptions.
func (r *SubscriptionRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM push_subscriptions WHERE enabled`,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return count, nil
}

var _ core.SubscriptionRepository = (*SubscriptionRepo)(nil)
