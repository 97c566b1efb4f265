package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basePayload() NotificationPayload {
	return NotificationPayload{
		Type:    JobTypeEventUpdate,
		EventID: "evt-1",
		Title:   "Event updated",
		Body:    "Something about the event changed",
		URL:     "/events/evt-1",
	}
}

func TestTrimTruncatesTitleAndBody(t *testing.T) {
	p := basePayload()
	p.Title = strings.Repeat("t", 150)
	p.Body = strings.Repeat("b", 300)

	require.NoError(t, p.Trim())

	assert.Len(t, p.Title, MaxTitleLength)
	assert.True(t, strings.HasSuffix(p.Title, "..."))
	assert.Len(t, p.Body, MaxBodyLength)
	assert.True(t, strings.HasSuffix(p.Body, "..."))
}

func TestTrimLeavesShortFieldsAlone(t *testing.T) {
	p := basePayload()
	p.Icon = "/icon.png"

	require.NoError(t, p.Trim())

	assert.Equal(t, "Event updated", p.Title)
	assert.Equal(t, "/icon.png", p.Icon)
}

func TestTrimDropsOptionalFieldsInOrder(t *testing.T) {
	// Filler large enough that the serialized payload only fits once
	// actions, badge, and icon are gone.
	filler := strings.Repeat("x", 2000)

	p := basePayload()
	p.Actions = []NotificationAction{
		{Action: "view", Title: filler},
		{Action: "dismiss", Title: filler},
	}
	p.Badge = filler
	p.Icon = filler
	p.ChangeDetails = &ChangeDetails{Field: "time", OldValue: "a", NewValue: "b"}

	require.NoError(t, p.Trim())

	data, err := p.Marshal()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), MaxPayloadBytes)

	// Actions dropped first, then badge, then icon. ChangeDetails fits
	// once the big fields are gone, so it survives.
	assert.Nil(t, p.Actions)
	assert.Empty(t, p.Badge)
	assert.Empty(t, p.Icon)
	assert.NotNil(t, p.ChangeDetails)

	// Required fields are never dropped.
	assert.Equal(t, JobTypeEventUpdate, p.Type)
	assert.Equal(t, "evt-1", p.EventID)
	assert.Equal(t, "/events/evt-1", p.URL)
}

func TestTrimErrorsWhenRequiredFieldsTooLarge(t *testing.T) {
	p := basePayload()
	// URL is required and never dropped, so an oversized URL cannot be fixed.
	p.URL = "/events/" + strings.Repeat("y", MaxPayloadBytes)

	err := p.Trim()
	require.Error(t, err)
}
