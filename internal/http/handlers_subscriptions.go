package httpx

import (
	"errors"
	"net/http"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/model"
)

// SubscriptionHandlers provides HTTP handlers for push subscription
// registration and removal.
type SubscriptionHandlers struct {
	Repo core.SubscriptionRepository
}

// Upsert handles HTTP requests to register or refresh a push subscription.
func (h *SubscriptionHandlers) Upsert(w http.ResponseWriter, r *http.Request) {
	var req model.UpsertSubscriptionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}
	if err := req.Validate(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_subscription", Err: err})
		return
	}

	sub, err := h.Repo.Upsert(r.Context(), &req)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "upsert_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, sub)
}

type unsubscribeRequest struct {
	Endpoints []string `json:"endpoints"`
}

// Unsubscribe handles HTTP requests to remove subscriptions by endpoint.
func (h *SubscriptionHandlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Endpoints) == 0 {
		WriteError(
			w,
			ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "invalid_request",
				Err:     errors.New("at least one endpoint is required"),
			},
		)
		return
	}

	removed, err := h.Repo.DeleteByEndpoints(r.Context(), req.Endpoints)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "unsubscribe_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
