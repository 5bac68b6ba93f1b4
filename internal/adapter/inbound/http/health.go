package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/hatago/hatago/internal/adapter/outbound/memory"
	"github.com/hatago/hatago/internal/domain/upstream"
	"github.com/hatago/hatago/internal/service/hub"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health for the /health endpoint.
type HealthChecker struct {
	sessionStore *memory.SessionStore
	hub          *hub.Hub
	version      string
}

// NewHealthChecker creates a HealthChecker. Pass nil for sessionStore or hub
// if either isn't wired yet (e.g. in unit tests).
func NewHealthChecker(sessionStore *memory.SessionStore, h *hub.Hub, version string) *HealthChecker {
	return &HealthChecker{sessionStore: sessionStore, hub: h, version: version}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.sessionStore != nil {
		checks["session_store"] = fmt.Sprintf("ok: %d sessions", h.sessionStore.Size())
	} else {
		checks["session_store"] = "not configured"
	}

	if h.hub != nil {
		failing := 0
		for _, state := range h.hub.Activation().States() {
			if state.Actual == upstream.ActualFailing {
				failing++
			}
		}
		if failing > 0 {
			checks["upstreams"] = fmt.Sprintf("degraded: %d failing", failing)
			healthy = false
		} else {
			checks["upstreams"] = "ok"
		}
	} else {
		checks["upstreams"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
