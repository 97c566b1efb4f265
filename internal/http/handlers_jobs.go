// Package httpx provides the HTTP admin and intake surface of the notify
// dispatch system.
package httpx

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/stagepass/notify/internal/data"
	"github.com/stagepass/notify/internal/service"
)

// Bounds for the bulk retry endpoint.
const (
	defaultRetryLimit = 50
	maxRetryLimit     = 500
)

// JobHandlers provides HTTP handlers for queue administration.
type JobHandlers struct {
	Svc *service.QueueService
}

// GetJob handles HTTP requests to inspect a single job.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	job, err := h.Svc.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// jobIDFromPath extracts and validates the job id path segment. Job ids
// are UUIDs; anything else is rejected before touching the store.
func jobIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if _, err := uuid.Parse(jobID); err != nil {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id must be a uuid")},
		)
		return "", false
	}
	return jobID, true
}

// CancelJob handles HTTP requests to cancel a waiting job.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	cancelled, err := h.Svc.CancelWaiting(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotCancelable) {
			WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "not_cancelable", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "cancel_failed", Err: err})
		return
	}
	if !cancelled {
		WriteError(
			w,
			ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: errors.New("job not found")},
		)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Stats handles HTTP requests to retrieve aggregate queue counts.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// RetryFailed handles HTTP requests to re-queue failed jobs in bulk.
func (h *JobHandlers) RetryFailed(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultRetryLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxRetryLimit {
		limit = maxRetryLimit
	}

	result, err := h.Svc.RetryFailed(r.Context(), limit)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "retry_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Pause handles HTTP requests to stop queue intake.
func (h *JobHandlers) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Pause(r.Context()); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "pause_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Resume handles HTTP requests to re-enable queue intake.
func (h *JobHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Resume(r.Context()); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "resume_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": false})
}
