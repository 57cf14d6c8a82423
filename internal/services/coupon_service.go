package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sfykart/api/internal/repositories"
)

// ErrCouponNotFound is returned when no coupon or product offer carries the entered code.
var ErrCouponNotFound = errors.New("coupon: not found")

// ErrCouponUnavailable indicates the coupon catalog could not be read.
var ErrCouponUnavailable = errors.New("coupon: unavailable")

// CouponServiceDeps wires the coupon catalog.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewCouponService constructs a CouponService.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{coupons: deps.Coupons, logger: logger}, nil
}

// Resolve looks the code up in the coupon catalog first and then in the offers attached to each
// product in the cart, in cart order.
func (s *couponService) Resolve(ctx context.Context, code string, productKeys []string) (Coupon, error) {
	entered := strings.TrimSpace(code)
	if entered == "" {
		return Coupon{}, ErrCouponInvalid
	}

	coupon, err := s.coupons.FindCoupon(ctx, strings.ToUpper(entered))
	switch {
	case err == nil:
		if CodesMatch(entered, coupon.Code) {
			return coupon, nil
		}
	case isRepoNotFound(err):
	default:
		return Coupon{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}

	for _, key := range productKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		offers, err := s.coupons.ListProductOffers(ctx, key)
		if err != nil {
			if isRepoNotFound(err) {
				continue
			}
			s.logger(ctx, "coupon.offers_lookup_failed", map[string]any{"productKey": key, "error": err})
			continue
		}
		for _, offer := range offers {
			if CodesMatch(entered, offer.Code) {
				return offer, nil
			}
		}
	}
	return Coupon{}, ErrCouponNotFound
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
