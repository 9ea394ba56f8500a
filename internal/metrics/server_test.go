package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()

	if cfg.Port != 9102 {
		t.Errorf("Port = %d, want 9102", cfg.Port)
	}
	if cfg.MetricsPath != "/metrics" {
		t.Errorf("MetricsPath = %s, want /metrics", cfg.MetricsPath)
	}
	if cfg.HealthPath != "/health" {
		t.Errorf("HealthPath = %s, want /health", cfg.HealthPath)
	}
	if cfg.StatusPath != "/status" {
		t.Errorf("StatusPath = %s, want /status", cfg.StatusPath)
	}
}

func TestServer_HealthHandler(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)

	server.RegisterHealthCheck("stream", func() Check {
		return Healthy("connected")
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if status.Status != "healthy" {
		t.Errorf("status = %s, want healthy", status.Status)
	}
	if status.Checks["stream"].Message != "connected" {
		t.Errorf("stream check message = %q, want connected", status.Checks["stream"].Message)
	}
}

func TestServer_HealthHandler_Unhealthy(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Version = "1.2.3"
	server := NewServer(cfg, nil)

	server.RegisterHealthCheck("stream", func() Check {
		return Healthy("")
	})
	server.RegisterHealthCheck("exchange", func() Check {
		return Unhealthy("balance refresh failing")
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.healthHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if status.Status != "unhealthy" {
		t.Errorf("status = %s, want unhealthy", status.Status)
	}
	if len(status.Checks) != 2 {
		t.Errorf("checks count = %d, want 2", len(status.Checks))
	}
	if len(status.Failing) != 1 || status.Failing[0] != "exchange" {
		t.Errorf("failing = %v, want [exchange]", status.Failing)
	}
	if status.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", status.Version)
	}
}

func TestServer_StatusHandler(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	server.statusHandler(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status code without snapshot = %d, want %d", w.Code, http.StatusNotFound)
	}

	server.SetStatus(func() any {
		return map[string]any{"open_orders": 2, "cash": "100.5"}
	})

	w = httptest.NewRecorder()
	server.statusHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["cash"] != "100.5" {
		t.Errorf("cash = %v, want 100.5", got["cash"])
	}
	if got["open_orders"] != float64(2) {
		t.Errorf("open_orders = %v, want 2", got["open_orders"])
	}
}

func TestServer_ReadyHandler(t *testing.T) {
	tests := []struct {
		name     string
		check    Check
		wantCode int
	}{
		{"ready", Healthy(""), http.StatusOK},
		{"not ready", Unhealthy("stream down"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(DefaultServerConfig(), nil)
			check := tt.check
			server.RegisterHealthCheck("c", func() Check { return check })

			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			server.readyHandler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestServer_LiveHandler(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	w := httptest.NewRecorder()

	server.liveHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "alive" {
		t.Errorf("body = %s, want alive", w.Body.String())
	}
}

func TestServer_RunAndShutdown(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Port = 19102
	server := NewServer(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
