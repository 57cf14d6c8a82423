package services

import (
	"errors"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"

	domain "github.com/sfykart/api/internal/domain"
)

var (
	// ErrCouponExpired is returned when the coupon's validTill has passed. Totals carry no discount.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponInvalid is returned when the entered code does not match the coupon definition.
	ErrCouponInvalid = errors.New("coupon: invalid code")
)

const defaultRoundingUnit = int64(100)

// PricingEngineDeps carries the delivery and rounding rules. Amounts are minor units.
type PricingEngineDeps struct {
	// FreeDeliveryThreshold is exclusive: delivery is free only when the subtotal exceeds it.
	FreeDeliveryThreshold int64
	DeliveryFee           int64
	// RoundingUnit is the granularity coupon discounts are rounded to.
	RoundingUnit int64
	Clock        func() time.Time
}

// CouponApplication pairs what the shopper typed with the coupon definition it resolved to.
type CouponApplication struct {
	EnteredCode string
	Coupon      Coupon
}

// PricingEngine computes cart totals. It holds no state beyond its rules.
type PricingEngine struct {
	threshold int64
	fee       int64
	unit      int64
	now       func() time.Time
}

// NewPricingEngine validates the pricing rules.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	threshold := deps.FreeDeliveryThreshold
	fee := deps.DeliveryFee
	unit := deps.RoundingUnit
	if unit == 0 {
		unit = defaultRoundingUnit
	}
	if threshold < 0 || fee < 0 || unit < 0 {
		return nil, errors.New("pricing engine: amounts must not be negative")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PricingEngine{
		threshold: threshold,
		fee:       fee,
		unit:      unit,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

// Compute totals for lines with an optional coupon. A rejected coupon still yields complete
// totals with zero discount, alongside ErrCouponExpired or ErrCouponInvalid.
func (e *PricingEngine) Compute(lines []CartLine, coupon *CouponApplication) (Totals, error) {
	var totals Totals
	for _, line := range lines {
		qty := int64(line.Quantity)
		if qty <= 0 || line.UnitPrice < 0 {
			continue
		}
		totals.Subtotal += line.UnitPrice * qty
		totals.ItemCount += line.Quantity
		if line.CompareAtPrice > line.UnitPrice {
			totals.YouSave += (line.CompareAtPrice - line.UnitPrice) * qty
		}
	}

	if totals.Subtotal > 0 && totals.Subtotal <= e.threshold {
		totals.DeliveryCharge = e.fee
	}

	var couponErr error
	if coupon != nil {
		outcome := CouponOutcome{Code: strings.TrimSpace(coupon.Coupon.Code)}
		discount, err := e.discount(totals.Subtotal, *coupon)
		switch {
		case err != nil:
			couponErr = err
			outcome.Reason = err.Error()
		default:
			totals.Discount = discount
			outcome.Applied = true
		}
		totals.Coupon = &outcome
	}

	totals.Payable = totals.Subtotal + totals.DeliveryCharge - totals.Discount
	if totals.Payable < 0 {
		totals.Payable = 0
	}
	return totals, couponErr
}

// CodesMatch compares coupon codes under Unicode case folding.
func CodesMatch(entered, code string) bool {
	a := strings.TrimSpace(entered)
	b := strings.TrimSpace(code)
	if a == "" || b == "" {
		return false
	}
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}

func (e *PricingEngine) discount(subtotal int64, app CouponApplication) (int64, error) {
	c := app.Coupon
	if !CodesMatch(app.EnteredCode, c.Code) {
		return 0, ErrCouponInvalid
	}
	if c.ValidTill != nil && e.now().After(c.ValidTill.UTC()) {
		return 0, ErrCouponExpired
	}
	if c.DiscountValue <= 0 || subtotal <= 0 {
		return 0, nil
	}

	var raw float64
	switch c.DiscountType {
	case domain.DiscountTypePercent:
		raw = float64(subtotal) * c.DiscountValue / 100
	case domain.DiscountTypeFlat:
		raw = c.DiscountValue
	default:
		return 0, ErrCouponInvalid
	}

	amount := e.round(raw)
	if amount > subtotal {
		amount = subtotal
	}
	return amount, nil
}

func (e *PricingEngine) round(value float64) int64 {
	if e.unit <= 1 {
		return int64(math.Round(value))
	}
	unit := float64(e.unit)
	return int64(math.Round(value/unit)) * e.unit
}
