package model

import (
	"errors"
	"strings"
	"time"
)

// DefaultDisabledRetention is how long a disabled subscription is kept
// before the age-based sweep removes it.
const DefaultDisabledRetention = 30 * 24 * time.Hour

// SubscriptionKeys holds the client key material required to encrypt a push message.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is one recipient's registered push endpoint.
// The endpoint is the unique key; re-subscribing updates in place.
type PushSubscription struct {
	Endpoint   string           `json:"endpoint"              db:"endpoint"`
	Keys       SubscriptionKeys `json:"keys"`
	UserID     string           `json:"user_id"               db:"user_id"`
	UserAgent  string           `json:"user_agent,omitempty"  db:"user_agent"`
	Enabled    bool             `json:"enabled"               db:"enabled"`
	CreatedAt  time.Time        `json:"created_at"            db:"created_at"`
	LastSeenAt time.Time        `json:"last_seen_at"          db:"last_seen_at"`
	DisabledAt *time.Time       `json:"disabled_at,omitempty" db:"disabled_at"`
}

// UpsertSubscriptionRequest represents a subscribe (or re-subscribe) call.
type UpsertSubscriptionRequest struct {
	Endpoint  string           `json:"endpoint"`
	Keys      SubscriptionKeys `json:"keys"`
	UserID    string           `json:"user_id"`
	UserAgent string           `json:"user_agent,omitempty"`
}

// Validate validates the UpsertSubscriptionRequest fields.
func (r *UpsertSubscriptionRequest) Validate() error {
	if strings.TrimSpace(r.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(r.Keys.P256dh) == "" || strings.TrimSpace(r.Keys.Auth) == "" {
		return errors.New("subscription keys are required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	return nil
}

// NotificationCategory names a user preference bucket for opt-in notices.
type NotificationCategory string

// CategoryNewEvents is the preference consulted for new-event notifications.
const CategoryNewEvents NotificationCategory = "new_events"
