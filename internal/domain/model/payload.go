package model

import (
	"encoding/json"
	"fmt"
)

// Payload size contract enforced before anything reaches the push provider.
const (
	// MaxTitleLength is the maximum rendered title length, ellipsis included.
	MaxTitleLength = 100
	// MaxBodyLength is the maximum rendered body length, ellipsis included.
	MaxBodyLength = 200
	// MaxPayloadBytes is the maximum serialized payload size accepted by the provider.
	MaxPayloadBytes = 4096
)

const ellipsis = "..."

// ChangeDetails describes the field-level change embedded in update notifications.
type ChangeDetails struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue,omitempty"`
	NewValue string `json:"newValue,omitempty"`
}

// NotificationAction is an action button attached to a push notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// NotificationPayload is the message rendered for one notification job and
// fanned out to every recipient endpoint.
type NotificationPayload struct {
	Type          JobType              `json:"type"`
	EventID       string               `json:"eventId"`
	Title         string               `json:"title"`
	Body          string               `json:"body"`
	URL           string               `json:"url"`
	Icon          string               `json:"icon,omitempty"`
	Badge         string               `json:"badge,omitempty"`
	Actions       []NotificationAction `json:"actions,omitempty"`
	ChangeDetails *ChangeDetails       `json:"changeDetails,omitempty"`
}

// Marshal serializes the payload to the provider wire format.
func (p *NotificationPayload) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal notification payload: %w", err)
	}
	return data, nil
}

// Trim enforces the payload size contract in place. Title and body are
// truncated first; if the serialized form is still oversized, optional
// fields are dropped in a fixed order. Type, event id, url, title, and
// body are never removed.
func (p *NotificationPayload) Trim() error {
	p.Title = truncate(p.Title, MaxTitleLength)
	p.Body = truncate(p.Body, MaxBodyLength)

	drops := []func(){
		func() { p.Actions = nil },
		func() { p.Badge = "" },
		func() { p.Icon = "" },
		func() { p.ChangeDetails = nil },
	}

	for {
		data, err := p.Marshal()
		if err != nil {
			return err
		}
		if len(data) <= MaxPayloadBytes {
			return nil
		}
		if len(drops) == 0 {
			return fmt.Errorf("payload exceeds %d bytes after dropping optional fields", MaxPayloadBytes)
		}
		drops[0]()
		drops = drops[1:]
	}
}

// truncate shortens s to at most limit runes, replacing the tail with an
// ellipsis when truncation happens. The result never exceeds limit.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= len(ellipsis) {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(ellipsis)]) + ellipsis
}
