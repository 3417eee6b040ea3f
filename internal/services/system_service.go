package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// ReportTTL reuses the last collected report for this long. Zero probes on every call.
	ReportTTL time.Duration
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
	ttl        time.Duration

	probes singleflight.Group

	mu       sync.Mutex
	last     domain.SystemHealthReport
	lastTime time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the readiness probe. Concurrent probes share a
// single dependency fan-out.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
		ttl:   deps.ReportTTL,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	if report, ok := s.cached(); ok {
		return report, nil
	}

	value, err, _ := s.probes.Do("report", func() (any, error) {
		report, err := s.collect(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.last, s.lastTime = report, s.clock()
		s.mu.Unlock()
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return value.(SystemHealthReport), nil
}

func (s *systemService) cached() (SystemHealthReport, bool) {
	if s.ttl <= 0 {
		return SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTime.IsZero() || s.clock().Sub(s.lastTime) >= s.ttl {
		return SystemHealthReport{}, false
	}
	return s.last, true
}

func (s *systemService) collect(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if len(report.Checks) == 0 {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = deriveStatus(report.Checks)
	}
	return report, nil
}

// deriveStatus is the worst status among checks; unknown statuses count as degraded.
func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
