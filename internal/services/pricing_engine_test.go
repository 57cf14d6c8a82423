package services

import (
	"errors"
	"testing"
	"time"

	domain "github.com/sfykart/api/internal/domain"
)

func newTestPricingEngine(t *testing.T, now time.Time) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{
		FreeDeliveryThreshold: 49900,
		DeliveryFee:           3900,
		RoundingUnit:          100,
		Clock:                 func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	return engine
}

func TestPricingEngineEmptyCartIsAllZero(t *testing.T) {
	engine := newTestPricingEngine(t, time.Now())
	totals, err := engine.Compute(nil, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if totals != (Totals{}) {
		t.Fatalf("expected zero totals, got %#v", totals)
	}
}

func TestPricingEngineDeliveryThreshold(t *testing.T) {
	engine := newTestPricingEngine(t, time.Now())
	cases := []struct {
		name     string
		price    int64
		delivery int64
		payable  int64
	}{
		{name: "below threshold", price: 30000, delivery: 3900, payable: 33900},
		{name: "above threshold", price: 60000, delivery: 0, payable: 60000},
		{name: "exactly threshold pays fee", price: 49900, delivery: 3900, payable: 53800},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals, err := engine.Compute([]CartLine{{ProductKey: "p", UnitPrice: tc.price, Quantity: 1}}, nil)
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if totals.Subtotal != tc.price || totals.DeliveryCharge != tc.delivery || totals.Payable != tc.payable {
				t.Fatalf("unexpected totals %#v", totals)
			}
		})
	}
}

func TestPricingEngineYouSaveAndItemCount(t *testing.T) {
	engine := newTestPricingEngine(t, time.Now())
	totals, err := engine.Compute([]CartLine{
		{ProductKey: "a", UnitPrice: 20000, CompareAtPrice: 25000, Quantity: 2},
		{ProductKey: "b", UnitPrice: 10000, CompareAtPrice: 9000, Quantity: 1},
		{ProductKey: "c", UnitPrice: 5000, Quantity: 3},
	}, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if totals.Subtotal != 65000 {
		t.Fatalf("expected subtotal 65000, got %d", totals.Subtotal)
	}
	if totals.YouSave != 10000 {
		t.Fatalf("expected youSave 10000, got %d", totals.YouSave)
	}
	if totals.ItemCount != 6 {
		t.Fatalf("expected 6 items, got %d", totals.ItemCount)
	}
}

func TestPricingEnginePercentCoupon(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	engine := newTestPricingEngine(t, now)
	validTill := now.Add(24 * time.Hour)
	coupon := &CouponApplication{
		EnteredCode: "save10",
		Coupon:      Coupon{Code: "SAVE10", DiscountType: domain.DiscountTypePercent, DiscountValue: 10, ValidTill: &validTill},
	}

	totals, err := engine.Compute([]CartLine{{ProductKey: "p", UnitPrice: 100000, Quantity: 1}}, coupon)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if totals.Discount != 10000 {
		t.Fatalf("expected discount 10000, got %d", totals.Discount)
	}
	if totals.Payable != 90000 {
		t.Fatalf("expected payable 90000, got %d", totals.Payable)
	}
	if totals.Coupon == nil || !totals.Coupon.Applied {
		t.Fatalf("expected applied coupon outcome, got %#v", totals.Coupon)
	}
}

func TestPricingEngineExpiredCouponLeavesDiscountZero(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	engine := newTestPricingEngine(t, now)
	validTill := now.Add(-time.Minute)
	coupon := &CouponApplication{
		EnteredCode: "SAVE10",
		Coupon:      Coupon{Code: "SAVE10", DiscountType: domain.DiscountTypePercent, DiscountValue: 10, ValidTill: &validTill},
	}

	totals, err := engine.Compute([]CartLine{{ProductKey: "p", UnitPrice: 100000, Quantity: 1}}, coupon)
	if !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired, got %v", err)
	}
	if totals.Discount != 0 || totals.Payable != 100000 {
		t.Fatalf("expected no discount, got %#v", totals)
	}
	if totals.Coupon == nil || totals.Coupon.Applied {
		t.Fatalf("expected rejected coupon outcome, got %#v", totals.Coupon)
	}
}

func TestPricingEngineFlatCouponCappedAtSubtotal(t *testing.T) {
	engine := newTestPricingEngine(t, time.Now())
	coupon := &CouponApplication{
		EnteredCode: "BIG",
		Coupon:      Coupon{Code: "big", DiscountType: domain.DiscountTypeFlat, DiscountValue: 50000},
	}
	totals, err := engine.Compute([]CartLine{{ProductKey: "p", UnitPrice: 20000, Quantity: 1}}, coupon)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if totals.Discount != 20000 {
		t.Fatalf("expected discount capped at 20000, got %d", totals.Discount)
	}
	if totals.Payable != 3900 {
		t.Fatalf("expected payable to equal delivery fee, got %d", totals.Payable)
	}
}

func TestPricingEngineRoundsPercentDiscount(t *testing.T) {
	engine := newTestPricingEngine(t, time.Now())
	coupon := &CouponApplication{
		EnteredCode: "X",
		Coupon:      Coupon{Code: "X", DiscountType: domain.DiscountTypePercent, DiscountValue: 15},
	}
	// 15% of 333.00 is 49.95, which rounds to 50.00.
	totals, err := engine.Compute([]CartLine{{ProductKey: "p", UnitPrice: 33300, Quantity: 1}}, coupon)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if totals.Discount != 5000 {
		t.Fatalf("expected discount 5000, got %d", totals.Discount)
	}
}

func TestPricingEngineMismatchedCode(t *testing.T) {
	engine := newTestPricingEngine(t, time.Now())
	coupon := &CouponApplication{
		EnteredCode: "SAVE20",
		Coupon:      Coupon{Code: "SAVE10", DiscountType: domain.DiscountTypePercent, DiscountValue: 10},
	}
	if _, err := engine.Compute([]CartLine{{ProductKey: "p", UnitPrice: 100000, Quantity: 1}}, coupon); !errors.Is(err, ErrCouponInvalid) {
		t.Fatalf("expected ErrCouponInvalid, got %v", err)
	}
}

func TestCodesMatchFoldsCase(t *testing.T) {
	if !CodesMatch(" ΣΑΣ ", "σας") {
		t.Fatalf("expected Unicode case folding to match")
	}
	if !CodesMatch("welcome", "WELCOME") {
		t.Fatalf("expected ASCII case-insensitive match")
	}
	if CodesMatch("", "") {
		t.Fatalf("empty codes must not match")
	}
}
