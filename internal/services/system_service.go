package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/repositories"
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
	// Integrations maps optional storefront integrations (payments, shiprocket, order events,
	// avatar uploads) to whether they were configured at startup.
	Integrations map[string]bool
	Clock        func() time.Time
	Build        BuildInfo
}

type systemService struct {
	probes   repositories.HealthRepository
	disabled []string
	clock    func() time.Time
	build    BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the readiness reporter.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	svc := &systemService{
		probes: deps.HealthRepository,
		clock:  func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.clock()
	}
	for name, enabled := range deps.Integrations {
		name = strings.TrimSpace(name)
		if name != "" && !enabled {
			svc.disabled = append(svc.disabled, name)
		}
	}
	sort.Strings(svc.disabled)
	return svc, nil
}

func (s *systemService) Health(ctx context.Context) (HealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	now := s.clock()

	if report.Checks == nil {
		report.Checks = make(map[string]domain.DependencyHealth, len(s.disabled))
	}
	for _, name := range s.disabled {
		if _, probed := report.Checks[name]; probed {
			continue
		}
		report.Checks[name] = domain.DependencyHealth{
			Status:    domain.HealthStatusDisabled,
			Detail:    "not configured",
			CheckedAt: now,
		}
	}

	if strings.TrimSpace(report.Status) == "" {
		report.Status = aggregateStatus(report.Checks)
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Version == "" {
		report.Version = strings.TrimSpace(s.build.Version)
	}
	if report.CommitSHA == "" {
		report.CommitSHA = strings.TrimSpace(s.build.CommitSHA)
	}
	if report.Environment == "" {
		report.Environment = strings.TrimSpace(s.build.Environment)
	}
	return report, nil
}

// aggregateStatus is error if any probe failed, degraded if any probe is slow, ok otherwise.
func aggregateStatus(checks map[string]domain.DependencyHealth) string {
	degraded := false
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusDegraded:
			degraded = true
		}
	}
	if degraded {
		return domain.HealthStatusDegraded
	}
	return domain.HealthStatusOK
}
