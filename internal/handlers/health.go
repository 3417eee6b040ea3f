package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	build  services.BuildInfo
	system services.SystemService
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the version metadata echoed by the probes.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = build }
}

// WithHealthSystemService sets the service that runs the readiness dependency checks.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) { h.system = system }
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers. Without a system service /readyz reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthCheckPayload struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type healthPayload struct {
	Status      string               `json:"status"`
	Version     string               `json:"version,omitempty"`
	CommitSHA   string               `json:"commitSha,omitempty"`
	Environment string               `json:"environment,omitempty"`
	Uptime      string               `json:"uptime"`
	Timestamp   string               `json:"timestamp"`
	Checks      []healthCheckPayload `json:"checks,omitempty"`
}

// Healthz reports liveness. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, h.basePayload(domain.HealthStatusOK, now, now.Sub(h.build.StartedAt)))
}

// Readyz runs the dependency checks. An error status answers 503 so load balancers drain the
// instance; degraded stays 200.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, h.basePayload(domain.HealthStatusOK, now, now.Sub(h.build.StartedAt)))
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		payload := h.basePayload(domain.HealthStatusError, now, now.Sub(h.build.StartedAt))
		payload.Checks = []healthCheckPayload{{Name: "system", Status: domain.HealthStatusError, Error: err.Error()}}
		writeJSONResponse(w, http.StatusServiceUnavailable, payload)
		return
	}

	uptime := report.Uptime
	if uptime <= 0 {
		uptime = now.Sub(h.build.StartedAt)
	}
	payload := h.basePayload(report.Status, now, uptime)
	if report.Environment != "" {
		payload.Environment = report.Environment
	}
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		payload.Checks = append(payload.Checks, healthCheckPayload{
			Name:      name,
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		})
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

func (h *HealthHandlers) basePayload(status string, now time.Time, uptime time.Duration) healthPayload {
	if uptime < 0 {
		uptime = 0
	}
	return healthPayload{
		Status:      status,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      uptime.Truncate(time.Second).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}
