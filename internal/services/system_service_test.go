package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sfykart/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceHealthFillsBuildMetadata(t *testing.T) {
	start := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.HealthReport{
			Checks: map[string]domain.DependencyHealth{"firestore": {Status: domain.HealthStatusOK}},
		}},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: " v0.9.1 ", CommitSHA: "9f2c1e", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.Version != "v0.9.1" || report.CommitSHA != "9f2c1e" || report.Environment != "prod" {
		t.Fatalf("unexpected build metadata: %+v", report)
	}
	if report.Uptime != 90*time.Second {
		t.Fatalf("expected uptime 90s, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceReportsDisabledIntegrations(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.HealthReport{
			Checks: map[string]domain.DependencyHealth{"firestore": {Status: domain.HealthStatusOK}},
		}},
		Integrations: map[string]bool{"payments": true, "shiprocket": false, "orderEvents": false},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("disabled integrations must not change status, got %s", report.Status)
	}
	for _, name := range []string{"shiprocket", "orderEvents"} {
		if got := report.Checks[name].Status; got != domain.HealthStatusDisabled {
			t.Fatalf("expected %s disabled, got %q", name, got)
		}
	}
	if _, ok := report.Checks["payments"]; ok {
		t.Fatalf("configured integration should not be listed without a probe")
	}
}

func TestSystemServiceAggregatesProbeStatus(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.DependencyHealth
		want   string
	}{
		"slow kv degrades": {
			checks: map[string]domain.DependencyHealth{
				"kv":        {Status: domain.HealthStatusDegraded},
				"firestore": {Status: domain.HealthStatusOK},
			},
			want: domain.HealthStatusDegraded,
		},
		"failure wins": {
			checks: map[string]domain.DependencyHealth{
				"kv":        {Status: domain.HealthStatusDegraded},
				"firestore": {Status: domain.HealthStatusError},
			},
			want: domain.HealthStatusError,
		},
		"no probes": {want: domain.HealthStatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.HealthReport{Checks: tc.checks}},
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.Health(context.Background())
			if err != nil {
				t.Fatalf("Health: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceHealthPropagatesProbeError(t *testing.T) {
	boom := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: boom}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.Health(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}
