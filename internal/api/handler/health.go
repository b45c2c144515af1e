package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler serves liveness and readiness probes. Readiness pings the
// backing services registered via AddCheck.
type HealthHandler struct {
	checks map[string]func(ctx context.Context) error
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{checks: map[string]func(ctx context.Context) error{}}
}

// AddCheck registers a named dependency ping for the readiness probe.
func (h *HealthHandler) AddCheck(name string, ping func(ctx context.Context) error) {
	h.checks[name] = ping
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Live reports process liveness only.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready pings every registered dependency. Any failure yields 503 with the
// per-dependency result so operators can see which backend is down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	JSON(w, status, resp)
}
