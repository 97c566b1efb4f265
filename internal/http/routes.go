package httpx

import (
	"log/slog"
	"net/http"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/service"
)

// RouterServices carries the service dependencies the HTTP surface needs.
type RouterServices struct {
	Queue         *service.QueueService
	Subscriptions core.SubscriptionRepository
	Health        *service.HealthService
	Reaper        *service.ReaperService
	Logger        *slog.Logger
}

// NewRouter builds the HTTP handler for the admin and intake surface.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	registerHealthRoutes(mux, services)
	registerJobRoutes(mux, services)
	registerSubscriptionRoutes(mux, services)
	registerAdminRoutes(mux, services)

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return Recover(logger)(Logging(logger)(mux))
}

func registerHealthRoutes(mux *http.ServeMux, services RouterServices) {
	h := &HealthHandlers{Svc: services.Health}
	mux.HandleFunc("GET /api/health/queue", h.QueueHealth)
	mux.HandleFunc("GET /api/health/system", h.SystemHealth)
}

func registerJobRoutes(mux *http.ServeMux, services RouterServices) {
	h := &JobHandlers{Svc: services.Queue}
	mux.HandleFunc("GET /api/jobs/stats", h.Stats)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("POST /api/jobs/retry-failed", h.RetryFailed)
}

func registerSubscriptionRoutes(mux *http.ServeMux, services RouterServices) {
	h := &SubscriptionHandlers{Repo: services.Subscriptions}
	mux.HandleFunc("POST /api/subscriptions", h.Upsert)
	mux.HandleFunc("POST /api/subscriptions/unsubscribe", h.Unsubscribe)
}

func registerAdminRoutes(mux *http.ServeMux, services RouterServices) {
	jobs := &JobHandlers{Svc: services.Queue}
	mux.HandleFunc("POST /api/queue/pause", jobs.Pause)
	mux.HandleFunc("POST /api/queue/resume", jobs.Resume)

	if services.Reaper != nil {
		admin := &AdminHandlers{Reaper: services.Reaper}
		mux.HandleFunc("POST /api/admin/cleanup", admin.RunCleanup)
	}
}

// AdminHandlers exposes maintenance operations over HTTP.
type AdminHandlers struct {
	Reaper *service.ReaperService
}

// RunCleanup handles HTTP requests to run a single retention cleanup pass.
func (h *AdminHandlers) RunCleanup(w http.ResponseWriter, r *http.Request) {
	if err := h.Reaper.RunOnce(r.Context()); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "cleanup_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
