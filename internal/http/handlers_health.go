package httpx

import (
	"io"
	"net/http"

	"github.com/stagepass/notify/internal/service"
)

const healthResponse = `{"status":"ok"}`

// healthHandler responds to liveness probes.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// HealthHandlers provides the detailed health reporting endpoints.
type HealthHandlers struct {
	Svc *service.HealthService
}

// QueueHealth handles HTTP requests for the compact queue health report.
// Degraded queues report 200 with the state in the body; only an
// unreachable store maps to 503 so probes can distinguish outage from
// backlog.
func (h *HealthHandlers) QueueHealth(w http.ResponseWriter, r *http.Request) {
	report := h.Svc.QueueHealth(r.Context())
	code := http.StatusOK
	if !report.Store {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, report)
}

// SystemHealth handles HTTP requests for the full pipeline health report.
func (h *HealthHandlers) SystemHealth(w http.ResponseWriter, r *http.Request) {
	report := h.Svc.SystemHealth(r.Context())
	code := http.StatusOK
	if report.Overall == service.HealthCritical {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, report)
}
