package handlers

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandler responds with service health information.
type HealthHandler struct {
	Checks []HealthChecker
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handle implements GET /healthz. Any failing dependency turns the answer into 503.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.Checks) > 0 {
		resp.Checks = make(map[string]string, len(h.Checks))
	}
	for _, check := range h.Checks {
		if err := check.Check(ctx); err != nil {
			resp.Checks[check.Name()] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[check.Name()] = "ok"
	}

	respondJSON(r.Context(), w, status, resp)
}
