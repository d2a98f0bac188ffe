package metrics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"pressbot/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	s := NewServer(ServerConfig{Version: "test", Collector: c, Logger: testLogger()})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestCollector_CountsEvents(t *testing.T) {
	c := NewCollector("test")
	eb := bus.NewEventBus(testLogger())
	c.Attach(eb)

	eb.Emit(bus.Event{Type: bus.EventCommandHandled, Command: "post", Outcome: bus.OutcomeSuccess})
	eb.Emit(bus.Event{Type: bus.EventCommandHandled, Command: "post", Outcome: bus.OutcomeSuccess})
	eb.Emit(bus.Event{Type: bus.EventCommandHandled, Command: "frobnicate", Outcome: bus.OutcomeUsageError})
	eb.Emit(bus.Event{Type: bus.EventPublishCompleted, Mode: "file", Outcome: bus.OutcomeRemoteError, Duration: 120 * time.Millisecond})
	eb.Emit(bus.Event{Type: bus.EventTempFileCleanupError, Path: "/tmp/x.md"})

	body := scrape(t, c)
	for _, want := range []string{
		`pressbot_commands_total{command="post",outcome="success"} 2`,
		`pressbot_commands_total{command="other",outcome="usage_error"} 1`,
		`pressbot_publish_total{mode="file",outcome="remote_error"} 1`,
		`pressbot_tempfile_cleanup_failures_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(body, "frobnicate") {
		t.Error("unknown command name leaked into labels")
	}
}

func TestServer_Metrics(t *testing.T) {
	c := NewCollector("test")
	c.Observe(bus.Event{Type: bus.EventPublishCompleted, Mode: "text", Outcome: bus.OutcomeSuccess, Duration: time.Second})

	body := scrape(t, c)
	for _, want := range []string{
		`pressbot_publish_total{mode="text",outcome="success"} 1`,
		`pressbot_publish_duration_seconds_count{mode="text"} 1`,
		`pressbot_service_info{version="test"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestServer_Healthz(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]string
		wantStatus string
		wantCode   int
	}{
		{name: "no checks", wantStatus: StatusHealthy, wantCode: http.StatusOK},
		{name: "degraded", checks: map[string]string{"a": StatusHealthy, "b": StatusDegraded}, wantStatus: StatusDegraded, wantCode: http.StatusOK},
		{name: "unhealthy", checks: map[string]string{"a": StatusDegraded, "b": StatusUnhealthy}, wantStatus: StatusUnhealthy, wantCode: http.StatusServiceUnavailable},
		{name: "unknown status", checks: map[string]string{"a": "weird"}, wantStatus: StatusUnhealthy, wantCode: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ServerConfig{Version: "test", Collector: NewCollector("test"), Logger: testLogger()})
			for name, status := range tt.checks {
				s.AddCheck(name, func(context.Context) CheckResult { return CheckResult{Status: status} })
			}

			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var health HealthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
				t.Fatal(err)
			}
			if health.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", health.Status, tt.wantStatus)
			}
			if len(health.Checks) != len(tt.checks) {
				t.Errorf("checks = %v", health.Checks)
			}
		})
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := NewServer(ServerConfig{Addr: "127.0.0.1:0", Version: "test", Collector: NewCollector("test"), Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServer_RunListenError(t *testing.T) {
	ln := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "busy")
	}))
	defer ln.Close()

	addr := strings.TrimPrefix(ln.URL, "http://")
	s := NewServer(ServerConfig{Addr: addr, Version: "test", Collector: NewCollector("test"), Logger: testLogger()})

	err := s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ops server") {
		t.Fatalf("expected listen error, got %v", err)
	}
}
