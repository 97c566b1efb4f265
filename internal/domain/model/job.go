// Package model defines the core data types and structures used throughout the notify dispatch system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the type of notification job to be dispatched.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a notification job.
type JobStatus string

const (
	// JobTypeEventUpdate represents a notification about a schedule/venue change on an existing event.
	JobTypeEventUpdate JobType = "event_update"
	// JobTypeNewEvent represents a notification about a newly published event.
	JobTypeNewEvent JobType = "new_event"

	// JobStatusWaiting indicates a job is waiting to be dispatched.
	JobStatusWaiting JobStatus = "waiting"
	// JobStatusActive indicates a job is currently being dispatched.
	JobStatusActive JobStatus = "active"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has exhausted its attempts or was abandoned.
	JobStatusFailed JobStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// ErrDuplicateJob is returned when an enqueue collides with an existing
// waiting or active job carrying the same dedup key.
var ErrDuplicateJob = errors.New("duplicate job for dedup key")

// ErrIntakePaused is returned when enqueue is attempted while queue intake is paused.
var ErrIntakePaused = errors.New("queue intake is paused")

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeEventUpdate || t == JobTypeNewEvent
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusWaiting || s == JobStatusActive || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal returns true once a job can no longer transition.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ChangeType identifies what kind of mutation triggered an event-update notification.
type ChangeType string

const (
	// ChangeTypeCancellation indicates the event was cancelled.
	ChangeTypeCancellation ChangeType = "cancellation"
	// ChangeTypeTimeChange indicates the event's start date or time moved.
	ChangeTypeTimeChange ChangeType = "time_change"
	// ChangeTypeVenueChange indicates the event's venue or address moved.
	ChangeTypeVenueChange ChangeType = "venue_change"
)

// Priority levels, lower number is more urgent.
const (
	PriorityCancellation = 1
	PriorityTimeChange   = 2
	PriorityVenueChange  = 3
	PriorityDefault      = 5
)

// PriorityFor maps a job type and change type to a queue priority.
// It is a pure function so the mapping stays testable in isolation.
func PriorityFor(jobType JobType, changeType ChangeType) int {
	if jobType == JobTypeNewEvent {
		return PriorityDefault
	}
	switch changeType {
	case ChangeTypeCancellation:
		return PriorityCancellation
	case ChangeTypeTimeChange:
		return PriorityTimeChange
	case ChangeTypeVenueChange:
		return PriorityVenueChange
	default:
		return PriorityDefault
	}
}

// Job represents a notification job with all its queue metadata.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	DedupKey       *string         `json:"dedup_key,omitempty"        db:"dedup_key"`
	AttemptCount   int             `json:"attempt_count"              db:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"               db:"max_attempts"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"       db:"expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// EventChange captures one field-level change carried by an update notification.
type EventChange struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue,omitempty"`
	NewValue string `json:"newValue,omitempty"`
}

// EventUpdateJobPayload is the payload stored for event_update jobs.
type EventUpdateJobPayload struct {
	EventID    string        `json:"event_id"`
	ChangeType ChangeType    `json:"change_type"`
	Changes    []EventChange `json:"changes,omitempty"`
}

// NewEventJobPayload is the payload stored for new_event jobs.
type NewEventJobPayload struct {
	EventID string `json:"event_id"`
}

// EnqueueRequest represents a request to enqueue a new notification job.
type EnqueueRequest struct {
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	DedupKey    *string         `json:"dedup_key,omitempty"`
	TTL         time.Duration   `json:"ttl,omitempty"`
	MaxAttempts int             `json:"max_attempts"`
}

// Validate validates the EnqueueRequest fields.
func (r *EnqueueRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	if r.TTL < 0 {
		return errors.New("ttl must be >= 0")
	}
	return nil
}

// JobStats represents aggregate counts of jobs in each state.
type JobStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Backlog returns the number of jobs still waiting to be processed.
func (s *JobStats) Backlog() int {
	return s.Waiting
}
