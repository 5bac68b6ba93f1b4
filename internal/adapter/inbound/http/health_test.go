package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hatago/hatago/internal/adapter/outbound/memory"
	"github.com/hatago/hatago/internal/adapter/outbound/transport"
	"github.com/hatago/hatago/internal/domain/upstream"
	"github.com/hatago/hatago/internal/service/activation"
	"github.com/hatago/hatago/internal/service/hub"
)

func newFailingHub(t *testing.T) *hub.Hub {
	t.Helper()
	factory := func(spec *upstream.Spec) (*transport.UpstreamSession, error) {
		return nil, errors.New("connection refused")
	}
	h := hub.New(upstream.StrategyNamespace, "_", slog.Default(), hub.WithClientFactory(activation.ClientFactory(factory)))
	t.Cleanup(func() { _ = h.Stop(context.Background()) })

	if err := h.Init([]*upstream.Spec{
		{ID: "weather", Kind: upstream.KindStdio, Local: &upstream.LocalProcess{Command: "fake"}, ActivationPolicy: upstream.PolicyAlways},
	}, nil); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return h
}

func TestHealthChecker_Healthy(t *testing.T) {
	sessionStore := memory.NewSessionStore(time.Hour)
	hc := NewHealthChecker(sessionStore, nil, "test-version")

	health := hc.Check()

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["session_store"] != "ok: 0 sessions" {
		t.Errorf("session_store check = %q", health.Checks["session_store"])
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	hc := NewHealthChecker(nil, nil, "")
	health := hc.Check()

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["session_store"] != "not configured" {
		t.Errorf("session_store = %q, want 'not configured'", health.Checks["session_store"])
	}
	if health.Checks["upstreams"] != "not configured" {
		t.Errorf("upstreams = %q, want 'not configured'", health.Checks["upstreams"])
	}
}

func TestHealthChecker_Handler_HTTP(t *testing.T) {
	sessionStore := memory.NewSessionStore(time.Hour)
	hc := NewHealthChecker(sessionStore, nil, "1.0.0")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Response status = %q, want healthy", resp.Status)
	}
	if resp.Version != "1.0.0" {
		t.Errorf("Response version = %q, want 1.0.0", resp.Version)
	}
}

func TestHealthChecker_Unhealthy_UpstreamFailing(t *testing.T) {
	h := newFailingHub(t)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := h.Activation().State("weather"); ok && state.Actual == upstream.ActualFailing {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	hc := NewHealthChecker(nil, h, "")
	health := hc.Check()

	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy (upstream failing)", health.Status)
	}
}

func TestHealthChecker_Handler_Unhealthy_503(t *testing.T) {
	h := newFailingHub(t)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := h.Activation().State("weather"); ok && state.Actual == upstream.ActualFailing {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	hc := NewHealthChecker(nil, h, "")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want %d (503 Service Unavailable)", rec.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Response status = %q, want unhealthy", resp.Status)
	}
}

func TestHealthChecker_GoroutineCount(t *testing.T) {
	hc := NewHealthChecker(nil, nil, "")
	health := hc.Check()

	if health.Checks["goroutines"] == "" {
		t.Error("goroutines check should be present")
	}
	if health.Checks["goroutines"] == "0" {
		t.Error("goroutines count should be > 0")
	}
}
