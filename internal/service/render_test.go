package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/model"
)

func testEvent() *core.EventInfo {
	return &core.EventInfo{
		ID:            "evt-1",
		Title:         "Jazz Night",
		OrganizerName: "Blue Note",
		Status:        "ACTIVE",
	}
}

func TestRenderCancellation(t *testing.T) {
	r := NewRenderer(RenderOptions{BaseURL: "https://tickets.example.com/"})

	payload, err := r.RenderEventUpdate(testEvent(), model.ChangeTypeCancellation, nil)

	require.NoError(t, err)
	assert.Equal(t, model.JobTypeEventUpdate, payload.Type)
	assert.Equal(t, "Event cancelled: Jazz Night", payload.Title)
	assert.Equal(t, "Blue Note has cancelled this event. Check your tickets for refund details.", payload.Body)
	assert.Equal(t, "https://tickets.example.com/events/evt-1", payload.URL)
	require.NotNil(t, payload.ChangeDetails)
	assert.Equal(t, "status", payload.ChangeDetails.Field)
	assert.Equal(t, "CANCELLED", payload.ChangeDetails.NewValue)
}

func TestRenderTimeChange(t *testing.T) {
	r := NewRenderer(RenderOptions{})

	t.Run("with start date change", func(t *testing.T) {
		payload, err := r.RenderEventUpdate(testEvent(), model.ChangeTypeTimeChange, []model.EventChange{
			{Field: "capacity", OldValue: "100", NewValue: "200"},
			{Field: "startDate", OldValue: "2026-09-01 19:00", NewValue: "2026-09-02 20:00"},
		})

		require.NoError(t, err)
		assert.Equal(t, "Schedule change: Jazz Night", payload.Title)
		assert.Equal(t, "This event moved from 2026-09-01 19:00 to 2026-09-02 20:00.", payload.Body)
		require.NotNil(t, payload.ChangeDetails)
		assert.Equal(t, "time", payload.ChangeDetails.Field)
	})

	t.Run("field match is case-insensitive", func(t *testing.T) {
		payload, err := r.RenderEventUpdate(testEvent(), model.ChangeTypeTimeChange, []model.EventChange{
			{Field: "StartTime", OldValue: "19:00", NewValue: "21:00"},
		})

		require.NoError(t, err)
		assert.Contains(t, payload.Body, "19:00")
	})

	t.Run("without usable change falls back", func(t *testing.T) {
		payload, err := r.RenderEventUpdate(testEvent(), model.ChangeTypeTimeChange, nil)

		require.NoError(t, err)
		assert.Equal(t, "The schedule for this event has changed. Check the event page for the new time.", payload.Body)
		assert.Nil(t, payload.ChangeDetails)
	})
}

func TestRenderVenueChange(t *testing.T) {
	r := NewRenderer(RenderOptions{})

	payload, err := r.RenderEventUpdate(testEvent(), model.ChangeTypeVenueChange, []model.EventChange{
		{Field: "venue", OldValue: "Main Hall", NewValue: "Garden Stage"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Venue change: Jazz Night", payload.Title)
	assert.Equal(t, "This event moved from Main Hall to Garden Stage.", payload.Body)
	require.NotNil(t, payload.ChangeDetails)
	assert.Equal(t, "venue", payload.ChangeDetails.Field)
}

func TestRenderGenericUpdate(t *testing.T) {
	r := NewRenderer(RenderOptions{})

	payload, err := r.RenderEventUpdate(testEvent(), "price_change", nil)

	require.NoError(t, err)
	assert.Equal(t, "Event updated: Jazz Night", payload.Title)
	assert.Nil(t, payload.ChangeDetails)
}

func TestRenderNewEvent(t *testing.T) {
	r := NewRenderer(RenderOptions{
		BaseURL: "https://tickets.example.com",
		IconURL: "https://cdn.example.com/icon.png",
	})

	payload, err := r.RenderNewEvent(testEvent())

	require.NoError(t, err)
	assert.Equal(t, model.JobTypeNewEvent, payload.Type)
	assert.Equal(t, "New event: Jazz Night", payload.Title)
	assert.Equal(t, "Blue Note just published a new event. Tickets are available now.", payload.Body)
	assert.Equal(t, "https://cdn.example.com/icon.png", payload.Icon)
}

func TestRenderUsesOrganizerFallback(t *testing.T) {
	r := NewRenderer(RenderOptions{})
	event := testEvent()
	event.OrganizerName = "  "

	payload, err := r.RenderNewEvent(event)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload.Body, "The organizer just published"))
}

func TestRenderTruncatesLongTitles(t *testing.T) {
	r := NewRenderer(RenderOptions{})
	event := testEvent()
	event.Title = strings.Repeat("x", 300)

	payload, err := r.RenderEventUpdate(event, model.ChangeTypeCancellation, nil)

	require.NoError(t, err)
	assert.Len(t, []rune(payload.Title), model.MaxTitleLength)
	assert.True(t, strings.HasSuffix(payload.Title, "..."))
}

func TestRenderIsDeterministic(t *testing.T) {
	r := NewRenderer(RenderOptions{BaseURL: "https://tickets.example.com"})
	changes := []model.EventChange{{Field: "startDate", OldValue: "a", NewValue: "b"}}

	first, err := r.RenderEventUpdate(testEvent(), model.ChangeTypeTimeChange, changes)
	require.NoError(t, err)
	second, err := r.RenderEventUpdate(testEvent(), model.ChangeTypeTimeChange, changes)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
