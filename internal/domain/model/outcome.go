package model

import "time"

// DeliveryClass is the closed taxonomy of per-recipient delivery results.
type DeliveryClass string

const (
	// DeliveryDelivered indicates the provider accepted the message.
	DeliveryDelivered DeliveryClass = "delivered"
	// DeliveryGone indicates the endpoint no longer exists (404/410).
	DeliveryGone DeliveryClass = "gone"
	// DeliveryPayloadTooLarge indicates the provider rejected the payload size (413).
	DeliveryPayloadTooLarge DeliveryClass = "payload_too_large"
	// DeliveryRateLimited indicates the provider throttled the send (429).
	DeliveryRateLimited DeliveryClass = "rate_limited"
	// DeliveryFailed covers every other provider failure.
	DeliveryFailed DeliveryClass = "failed"
)

// Permanent reports whether the class marks the recipient as permanently unreachable.
func (c DeliveryClass) Permanent() bool {
	return c == DeliveryGone
}

// DeliveryOutcome records the result of a single send attempt.
type DeliveryOutcome struct {
	Endpoint   string        `json:"endpoint"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Class      DeliveryClass `json:"class"`
}

// DispatchError retains the failure detail for one endpoint within a dispatch.
type DispatchError struct {
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
}

// DispatchResult aggregates the outcomes of one fan-out call.
// Sent+Failed always equals the number of subscriptions dispatched to.
type DispatchResult struct {
	Sent             int             `json:"sent"`
	Failed           int             `json:"failed"`
	InvalidEndpoints []string        `json:"invalid_endpoints,omitempty"`
	Errors           []DispatchError `json:"errors,omitempty"`
}

// Total returns the number of subscriptions covered by the dispatch.
func (r *DispatchResult) Total() int {
	return r.Sent + r.Failed
}

// JobPerformance captures per-job dispatch metrics for the rolling tracker window.
type JobPerformance struct {
	JobID            string    `json:"job_id"`
	Type             JobType   `json:"type"`
	Sent             int       `json:"sent"`
	Failed           int       `json:"failed"`
	InvalidEndpoints int       `json:"invalid_endpoints"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CompletedAt      time.Time `json:"completed_at"`
}
