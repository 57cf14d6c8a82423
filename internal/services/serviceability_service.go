package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sfykart/api/internal/shipping"
)

const defaultServiceabilityTTL = 6 * time.Hour

var (
	// ErrServiceabilityInvalidPincode indicates the pincode is not six digits.
	ErrServiceabilityInvalidPincode = errors.New("serviceability: enter a valid 6-digit pincode")
	// ErrServiceabilityUnavailable indicates the courier lookup failed.
	ErrServiceabilityUnavailable = errors.New("serviceability: unavailable")
)

type courierLookup interface {
	Serviceability(ctx context.Context, pincode string) (shipping.Result, error)
}

// ServiceabilityServiceDeps wires the courier lookup and its result cache.
type ServiceabilityServiceDeps struct {
	Couriers courierLookup
	CacheTTL time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type serviceabilityService struct {
	couriers courierLookup
	ttl      time.Duration
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)

	mu    sync.RWMutex
	cache map[string]Serviceability
}

// NewServiceabilityService constructs a ServiceabilityService.
func NewServiceabilityService(deps ServiceabilityServiceDeps) (ServiceabilityService, error) {
	if deps.Couriers == nil {
		return nil, errors.New("serviceability service: courier lookup is required")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultServiceabilityTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &serviceabilityService{
		couriers: deps.Couriers,
		ttl:      ttl,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		cache:  make(map[string]Serviceability),
	}, nil
}

// Check reports whether pincode is deliverable. Results are cached per pincode; lookup
// failures are never cached.
func (s *serviceabilityService) Check(ctx context.Context, pincode string) (Serviceability, error) {
	normalised, ok := NormalisePincode(pincode)
	if !ok {
		return Serviceability{}, ErrServiceabilityInvalidPincode
	}

	now := s.now()
	s.mu.RLock()
	cached, hit := s.cache[normalised]
	s.mu.RUnlock()
	if hit && now.Sub(cached.CheckedAt) < s.ttl {
		return cached, nil
	}

	result, err := s.couriers.Serviceability(ctx, normalised)
	if err != nil {
		s.logger(ctx, "serviceability.lookup_failed", map[string]any{"pincode": normalised, "error": err})
		return Serviceability{}, fmt.Errorf("%w: %v", ErrServiceabilityUnavailable, err)
	}

	entry := Serviceability{
		Pincode:     normalised,
		Deliverable: result.Deliverable,
		Couriers:    result.Couriers,
		CheckedAt:   now,
	}
	s.mu.Lock()
	s.cache[normalised] = entry
	s.pruneLocked(now)
	s.mu.Unlock()
	return entry, nil
}

func (s *serviceabilityService) pruneLocked(now time.Time) {
	for pin, entry := range s.cache {
		if now.Sub(entry.CheckedAt) >= s.ttl {
			delete(s.cache, pin)
		}
	}
}
