package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/sfykart/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	// Optional probes degrade the report instead of failing it.
	Optional bool
	Check    func(context.Context) error
}

// DependencyHealthOption customises the probe runner.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithProbeTimeout overrides the timeout used when a check omits its own.
func WithProbeTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithProbeClock injects the clock used for latency and timestamps.
func WithProbeClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository builds a HealthRepository over the provided probes. Names must be
// unique and every probe needs a check function.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, errors.New("health repository: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate dependency %s", name)
		}
		seen[name] = struct{}{}
	}

	repo := &dependencyHealthRepository{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Collect runs every probe concurrently and folds the results into one report.
func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	results := make(map[string]domain.DependencyHealth, len(r.checks))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for _, check := range r.checks {
		group.Go(func() error {
			result := r.probe(groupCtx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return domain.HealthReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.HealthReport{}, err
	}

	status := domain.HealthStatusOK
	for _, check := range r.checks {
		result := results[check.Name]
		if result.Status == domain.HealthStatusOK {
			continue
		}
		if check.Optional {
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
			continue
		}
		status = domain.HealthStatusError
	}

	return domain.HealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now().UTC(),
	}, nil
}

func (r *dependencyHealthRepository) probe(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(probeCtx)
	end := r.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end.UTC(),
	}
	switch {
	case err == nil && probeCtx.Err() == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(probeCtx.Err(), context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	case err == nil:
		result.Status = domain.HealthStatusError
		result.Detail = probeCtx.Err().Error()
	default:
		result.Status = domain.HealthStatusError
		result.Detail = err.Error()
	}
	return result
}
