package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/model"
	"github.com/stagepass/notify/internal/push"
)

// RingCapacity bounds the tracker's in-memory history. Rolling rates are
// computed from these buffers; multi-instance deployments have
// per-instance metrics.
const RingCapacity = 1000

// ErrorRecord is one classified delivery failure kept for rate computation.
type ErrorRecord struct {
	Endpoint   string              `json:"endpoint"`
	StatusCode int                 `json:"status_code,omitempty"`
	Class      model.DeliveryClass `json:"class"`
	Message    string              `json:"message"`
	JobID      string              `json:"job_id,omitempty"`
	EventID    string              `json:"event_id,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// ErrorStats is the aggregate view over everything tracked so far.
type ErrorStats struct {
	TotalErrors            int64                         `json:"total_errors"`
	ErrorsByStatusCode     map[int]int64                 `json:"errors_by_status_code"`
	ErrorsByType           map[model.DeliveryClass]int64 `json:"errors_by_type"`
	InvalidEndpointsFound  int64                         `json:"invalid_endpoints_found"`
	SubscriptionsCleanedUp int64                         `json:"subscriptions_cleaned_up"`
}

// CleanupSummary reports one batch cleanup pass over invalid endpoints.
type CleanupSummary struct {
	Submitted int   `json:"submitted"`
	Removed   int64 `json:"removed"`
}

// Tracker counts classified delivery errors, keeps rolling performance
// windows, and owns the invalid-endpoint cleanup backlog. All state is
// process-local and mutex-protected.
type Tracker struct {
	mu sync.RWMutex

	totalErrors        int64
	errorsByStatusCode map[int]int64
	errorsByType       map[model.DeliveryClass]int64
	cleanedUp          int64

	// pendingInvalid holds endpoints awaiting batch cleanup, deduplicated.
	pendingInvalid map[string]struct{}
	invalidFound   int64

	errorRing []ErrorRecord
	perfRing  []model.JobPerformance

	subs   core.SubscriptionRepository
	logger *slog.Logger
	clock  TimeProvider
}

// TrackerOptions groups dependencies for Tracker.
type TrackerOptions struct {
	Subscriptions core.SubscriptionRepository // Required for PerformBatchCleanup
	Logger        *slog.Logger
	TimeProvider  TimeProvider
}

// NewTracker creates a Tracker.
func NewTracker(opts TrackerOptions) *Tracker {
	clock := opts.TimeProvider
	if clock == nil {
		clock = realClock{}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "tracker")
	}
	return &Tracker{
		errorsByStatusCode: make(map[int]int64),
		errorsByType:       make(map[model.DeliveryClass]int64),
		pendingInvalid:     make(map[string]struct{}),
		subs:               opts.Subscriptions,
		logger:             logger,
		clock:              clock,
	}
}

// TrackError records one classified delivery failure. Permanently gone
// endpoints join the cleanup backlog.
func (t *Tracker) TrackError(endpoint string, err error, jobID, eventID string) {
	if err == nil {
		return
	}

	record := ErrorRecord{
		Endpoint:   endpoint,
		Class:      model.DeliveryFailed,
		Message:    err.Error(),
		JobID:      jobID,
		EventID:    eventID,
		OccurredAt: t.clock.Now(),
	}

	var deliveryErr *push.DeliveryError
	if errors.As(err, &deliveryErr) {
		record.StatusCode = deliveryErr.StatusCode
		record.Class = deliveryErr.Class
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalErrors++
	if record.StatusCode > 0 {
		t.errorsByStatusCode[record.StatusCode]++
	}
	t.errorsByType[record.Class]++

	if record.Class.Permanent() && endpoint != "" {
		if _, seen := t.pendingInvalid[endpoint]; !seen {
			t.pendingInvalid[endpoint] = struct{}{}
			t.invalidFound++
		}
	}

	t.errorRing = appendBounded(t.errorRing, record)
}

// TrackInvalidEndpoints adds endpoints the dispatcher classified as gone
// without individual error records (the dispatch result already carries them).
func (t *Tracker) TrackInvalidEndpoints(endpoints []string) {
	if len(endpoints) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ep := range endpoints {
		if ep == "" {
			continue
		}
		if _, seen := t.pendingInvalid[ep]; !seen {
			t.pendingInvalid[ep] = struct{}{}
			t.invalidFound++
		}
	}
}

// GetErrorStats returns a snapshot of the aggregate error counters.
func (t *Tracker) GetErrorStats() ErrorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byCode := make(map[int]int64, len(t.errorsByStatusCode))
	for k, v := range t.errorsByStatusCode {
		byCode[k] = v
	}
	byType := make(map[model.DeliveryClass]int64, len(t.errorsByType))
	for k, v := range t.errorsByType {
		byType[k] = v
	}

	return ErrorStats{
		TotalErrors:            t.totalErrors,
		ErrorsByStatusCode:     byCode,
		ErrorsByType:           byType,
		InvalidEndpointsFound:  t.invalidFound,
		SubscriptionsCleanedUp: t.cleanedUp,
	}
}

// RecordJobPerformance appends one finished job's metrics to the rolling window.
func (t *Tracker) RecordJobPerformance(perf model.JobPerformance) {
	if perf.CompletedAt.IsZero() {
		perf.CompletedAt = t.clock.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perfRing = appendBounded(t.perfRing, perf)
}

// RecentPerformance returns job metrics completed within the window.
func (t *Tracker) RecentPerformance(window time.Duration) []model.JobPerformance {
	cutoff := t.clock.Now().Add(-window)
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []model.JobPerformance
	for _, p := range t.perfRing {
		if p.CompletedAt.After(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// ErrorRate returns the fraction of failed sends among all sends completed
// within the window, in [0,1]. No sends means rate zero.
func (t *Tracker) ErrorRate(window time.Duration) float64 {
	recent := t.RecentPerformance(window)
	var sent, failed int
	for _, p := range recent {
		sent += p.Sent
		failed += p.Failed
	}
	total := sent + failed
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// AverageProcessingTime returns the mean job processing time within the window.
func (t *Tracker) AverageProcessingTime(window time.Duration) time.Duration {
	recent := t.RecentPerformance(window)
	if len(recent) == 0 {
		return 0
	}
	var totalMs int64
	for _, p := range recent {
		totalMs += p.ProcessingTimeMs
	}
	return time.Duration(totalMs/int64(len(recent))) * time.Millisecond
}

// PendingInvalidCount returns the size of the cleanup backlog.
func (t *Tracker) PendingInvalidCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pendingInvalid)
}

// PerformBatchCleanup disables every endpoint in the cleanup backlog via
// the subscription store. The backlog is only cleared on success so a
// failed pass retries the same endpoints later.
func (t *Tracker) PerformBatchCleanup(ctx context.Context) (*CleanupSummary, error) {
	if t.subs == nil {
		return nil, errors.New("batch cleanup requires a subscription repository")
	}

	t.mu.Lock()
	endpoints := make([]string, 0, len(t.pendingInvalid))
	for ep := range t.pendingInvalid {
		endpoints = append(endpoints, ep)
	}
	t.mu.Unlock()

	summary := &CleanupSummary{Submitted: len(endpoints)}
	if len(endpoints) == 0 {
		return summary, nil
	}

	removed, err := t.subs.DisableByEndpoints(ctx, endpoints)
	if err != nil {
		return nil, err
	}
	summary.Removed = removed

	t.mu.Lock()
	for _, ep := range endpoints {
		delete(t.pendingInvalid, ep)
	}
	t.cleanedUp += removed
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.InfoContext(ctx, "invalid endpoint cleanup completed",
			"submitted", summary.Submitted, "removed", removed)
	}
	return summary, nil
}

// ClearOldData drops error and performance records older than the given
// number of hours.
func (t *Tracker) ClearOldData(hours int) {
	if hours <= 0 {
		return
	}
	cutoff := t.clock.Now().Add(-time.Duration(hours) * time.Hour)

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.errorRing[:0]
	for _, r := range t.errorRing {
		if r.OccurredAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	t.errorRing = kept

	keptPerf := t.perfRing[:0]
	for _, p := range t.perfRing {
		if p.CompletedAt.After(cutoff) {
			keptPerf = append(keptPerf, p)
		}
	}
	t.perfRing = keptPerf
}

// appendBounded appends to a ring slice, evicting the oldest entry once
// the capacity is reached.
func appendBounded[T any](ring []T, item T) []T {
	if len(ring) >= RingCapacity {
		copy(ring, ring[1:])
		ring[len(ring)-1] = item
		return ring
	}
	return append(ring, item)
}
