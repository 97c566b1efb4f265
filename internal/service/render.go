package service

import (
	"fmt"
	"strings"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/model"
)

// RenderOptions carries the deployment-specific parts of a rendered payload.
type RenderOptions struct {
	// BaseURL prefixes the event link embedded in every notification.
	BaseURL string
	// IconURL and BadgeURL decorate notifications when set.
	IconURL  string
	BadgeURL string
}

// Renderer builds notification payloads from job data and event context.
// Rendering is deterministic: the same job and event always produce the
// same payload.
type Renderer struct {
	opts RenderOptions
}

// NewRenderer creates a Renderer.
func NewRenderer(opts RenderOptions) *Renderer {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Renderer{opts: opts}
}

// RenderEventUpdate builds the payload for a schedule/venue/cancellation
// notice. The payload is trimmed to the provider size contract before return.
func (r *Renderer) RenderEventUpdate(
	event *core.EventInfo,
	changeType model.ChangeType,
	changes []model.EventChange,
) (*model.NotificationPayload, error) {
	payload := &model.NotificationPayload{
		Type:    model.JobTypeEventUpdate,
		EventID: event.ID,
		URL:     r.eventURL(event.ID),
		Icon:    r.opts.IconURL,
		Badge:   r.opts.BadgeURL,
	}

	switch changeType {
	case model.ChangeTypeCancellation:
		r.renderCancellation(payload, event)
	case model.ChangeTypeTimeChange:
		r.renderTimeChange(payload, event, changes)
	case model.ChangeTypeVenueChange:
		r.renderVenueChange(payload, event, changes)
	default:
		r.renderGenericUpdate(payload, event)
	}

	if err := payload.Trim(); err != nil {
		return nil, fmt.Errorf("trim event update payload: %w", err)
	}
	return payload, nil
}

// RenderNewEvent builds the payload for a creation notice.
func (r *Renderer) RenderNewEvent(event *core.EventInfo) (*model.NotificationPayload, error) {
	payload := &model.NotificationPayload{
		Type:    model.JobTypeNewEvent,
		EventID: event.ID,
		Title:   "New event: " + event.Title,
		Body:    fmt.Sprintf("%s just published a new event. Tickets are available now.", organizerName(event)),
		URL:     r.eventURL(event.ID),
		Icon:    r.opts.IconURL,
		Badge:   r.opts.BadgeURL,
	}
	if err := payload.Trim(); err != nil {
		return nil, fmt.Errorf("trim new event payload: %w", err)
	}
	return payload, nil
}

// renderCancellation always uses a fixed title and body naming the organizer.
func (r *Renderer) renderCancellation(payload *model.NotificationPayload, event *core.EventInfo) {
	payload.Title = "Event cancelled: " + event.Title
	payload.Body = fmt.Sprintf("%s has cancelled this event. Check your tickets for refund details.", organizerName(event))
	payload.ChangeDetails = &model.ChangeDetails{
		Field:    "status",
		OldValue: "ACTIVE",
		NewValue: "CANCELLED",
	}
}

func (r *Renderer) renderTimeChange(payload *model.NotificationPayload, event *core.EventInfo, changes []model.EventChange) {
	payload.Title = "Schedule change: " + event.Title

	change := findChange(changes, "startDate", "startTime")
	if change == nil {
		payload.Body = "The schedule for this event has changed. Check the event page for the new time."
		return
	}

	payload.Body = fmt.Sprintf("This event moved from %s to %s.", change.OldValue, change.NewValue)
	payload.ChangeDetails = &model.ChangeDetails{
		Field:    "time",
		OldValue: change.OldValue,
		NewValue: change.NewValue,
	}
}

func (r *Renderer) renderVenueChange(payload *model.NotificationPayload, event *core.EventInfo, changes []model.EventChange) {
	payload.Title = "Venue change: " + event.Title

	change := findChange(changes, "venue", "address")
	if change == nil {
		payload.Body = "The venue for this event has changed. Check the event page for the new location."
		return
	}

	payload.Body = fmt.Sprintf("This event moved from %s to %s.", change.OldValue, change.NewValue)
	payload.ChangeDetails = &model.ChangeDetails{
		Field:    "venue",
		OldValue: change.OldValue,
		NewValue: change.NewValue,
	}
}

func (r *Renderer) renderGenericUpdate(payload *model.NotificationPayload, event *core.EventInfo) {
	payload.Title = "Event updated: " + event.Title
	payload.Body = "Details for this event have changed. Check the event page for the latest information."
}

func (r *Renderer) eventURL(eventID string) string {
	if r.opts.BaseURL == "" {
		return "/events/" + eventID
	}
	return r.opts.BaseURL + "/events/" + eventID
}

// findChange returns the first change entry whose field matches any of the
// given names, case-insensitively.
func findChange(changes []model.EventChange, fields ...string) *model.EventChange {
	for i := range changes {
		for _, f := range fields {
			if strings.EqualFold(changes[i].Field, f) {
				return &changes[i]
			}
		}
	}
	return nil
}

func organizerName(event *core.EventInfo) string {
	if strings.TrimSpace(event.OrganizerName) == "" {
		return "The organizer"
	}
	return event.OrganizerName
}
