package handlers

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/services"
)

func TestHealthHandlers_Healthz(t *testing.T) {
	started := testNow.Add(-90 * time.Second)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "staging", StartedAt: started}),
		WithHealthClock(func() time.Time { return testNow }),
	)

	rr := doRequest(t, http.HandlerFunc(h.Healthz), http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["version"] != "1.4.0" || body["commitSha"] != "abc123" || body["environment"] != "staging" {
		t.Fatalf("unexpected build metadata: %v", body)
	}
	if body["uptime"] != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %v", body["uptime"])
	}
	if body["timestamp"] != "2026-05-04T10:30:00Z" {
		t.Fatalf("unexpected timestamp %v", body["timestamp"])
	}
}

func TestHealthHandlers_Readyz(t *testing.T) {
	clock := func() time.Time { return testNow }

	t.Run("no system service", func(t *testing.T) {
		h := NewHealthHandlers(WithHealthClock(clock))
		rr := doRequest(t, http.HandlerFunc(h.Readyz), http.MethodGet, "/readyz", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("degraded stays ready", func(t *testing.T) {
		h := NewHealthHandlers(WithHealthClock(clock), WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusDegraded,
				Environment: "prod",
				Uptime:      time.Minute,
				Checks: map[string]domain.SystemHealthCheck{
					"redis":     {Status: domain.HealthStatusDegraded, Detail: "slow", Latency: 250 * time.Millisecond},
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
				},
			},
		}))
		rr := doRequest(t, http.HandlerFunc(h.Readyz), http.MethodGet, "/readyz", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		body := decodeBody(t, rr)
		if body["environment"] != "prod" {
			t.Fatalf("expected report environment, got %v", body["environment"])
		}
		checks, ok := body["checks"].([]any)
		if !ok || len(checks) != 2 {
			t.Fatalf("expected two checks, got %v", body["checks"])
		}
		first := checks[0].(map[string]any)
		second := checks[1].(map[string]any)
		if first["name"] != "firestore" || second["name"] != "redis" {
			t.Fatalf("expected checks sorted by name, got %v", checks)
		}
		if second["latencyMs"] != float64(250) {
			t.Fatalf("expected latency 250ms, got %v", second["latencyMs"])
		}
	})

	t.Run("error drains instance", func(t *testing.T) {
		h := NewHealthHandlers(WithHealthClock(clock), WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusError, Error: "unreachable"}},
			},
		}))
		rr := doRequest(t, http.HandlerFunc(h.Readyz), http.MethodGet, "/readyz", "", "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	})

	t.Run("report failure", func(t *testing.T) {
		h := NewHealthHandlers(WithHealthClock(clock), WithHealthSystemService(&stubSystemService{err: errors.New("boom")}))
		rr := doRequest(t, http.HandlerFunc(h.Readyz), http.MethodGet, "/readyz", "", "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		body := decodeBody(t, rr)
		if body["status"] != domain.HealthStatusError {
			t.Fatalf("expected error status, got %v", body["status"])
		}
	})
}
