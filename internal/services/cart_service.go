package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/repositories"
)

var (
	errCartStoreRequired   = errors.New("cart service: store is required")
	errCartPricerRequired  = errors.New("cart service: pricing engine is required")
	errCartCatalogRequired = errors.New("cart service: catalog is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart could not be persisted.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartProductNotFound indicates a line names a product missing from the catalog.
var ErrCartProductNotFound = errors.New("cart service: product not found")

// ErrCartEmpty indicates an operation that needs items ran against an empty cart.
var ErrCartEmpty = errors.New("cart service: cart is empty")

// CartPricer computes totals for cart lines.
type CartPricer interface {
	Compute(lines []CartLine, coupon *CouponApplication) (Totals, error)
}

// CartServiceDeps wires the store, pricing and coupon dependencies for cart operations.
// Catalog supplies the price snapshot of every line added to the cart or bought now.
type CartServiceDeps struct {
	Store   repositories.CartStore
	Pricer  CartPricer
	Catalog CatalogService
	Coupons CouponService
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	store   repositories.CartStore
	pricer  CartPricer
	catalog CatalogService
	coupons CouponService
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Store == nil {
		return nil, errCartStoreRequired
	}
	if deps.Pricer == nil {
		return nil, errCartPricerRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		store:   deps.Store,
		pricer:  deps.Pricer,
		catalog: deps.Catalog,
		coupons: deps.Coupons,
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Load returns the device cart and its totals. It never fails on unreadable storage.
func (s *cartService) Load(ctx context.Context, deviceID string) (CartSummary, error) {
	cart, err := s.load(ctx, deviceID)
	if err != nil {
		return CartSummary{}, err
	}
	return s.summarise(ctx, cart), nil
}

// AddOrIncrement merges line into the cart by product key. Prices come from the catalog.
func (s *cartService) AddOrIncrement(ctx context.Context, deviceID string, line CartLine) (CartSummary, error) {
	if strings.TrimSpace(deviceID) == "" {
		return CartSummary{}, ErrCartInvalidInput
	}
	line, err := s.priceLine(ctx, line)
	if err != nil {
		return CartSummary{}, err
	}
	return s.mutate(ctx, deviceID, func(cart *Cart) error {
		cart.Lines = addOrIncrement(cart.Lines, line)
		return nil
	})
}

// UpdateQuantity changes a line's quantity by delta, clamped to the allowed range. Unknown keys are a no-op.
func (s *cartService) UpdateQuantity(ctx context.Context, deviceID, productKey string, delta int) (CartSummary, error) {
	key := strings.TrimSpace(productKey)
	if key == "" {
		return CartSummary{}, ErrCartInvalidInput
	}
	// Bounding delta first keeps the sum from overflowing for absurd inputs.
	delta = max(-domain.MaxLineQuantity, min(domain.MaxLineQuantity, delta))
	return s.mutate(ctx, deviceID, func(cart *Cart) error {
		if i := cart.Find(key); i >= 0 {
			cart.Lines[i].Quantity = domain.ClampQuantity(cart.Lines[i].Quantity + delta)
		}
		return nil
	})
}

// Remove drops the line with productKey. Missing keys are a no-op.
func (s *cartService) Remove(ctx context.Context, deviceID, productKey string) (CartSummary, error) {
	key := strings.TrimSpace(productKey)
	if key == "" {
		return CartSummary{}, ErrCartInvalidInput
	}
	return s.mutate(ctx, deviceID, func(cart *Cart) error {
		cart.Lines = removeLine(cart.Lines, key)
		return nil
	})
}

// Clear empties both the cart and the buy-now intent.
func (s *cartService) Clear(ctx context.Context, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return ErrCartInvalidInput
	}
	if err := s.store.Clear(ctx, deviceID); err != nil {
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	s.logger(ctx, "cart.cleared", map[string]any{"deviceId": deviceID})
	return nil
}

// SaveForLater parks a cart line in the saved list, keeping its quantity.
func (s *cartService) SaveForLater(ctx context.Context, deviceID, productKey string) (CartSummary, error) {
	key := strings.TrimSpace(productKey)
	if key == "" {
		return CartSummary{}, ErrCartInvalidInput
	}
	return s.mutate(ctx, deviceID, func(cart *Cart) error {
		i := cart.Find(key)
		if i < 0 {
			return nil
		}
		line := cart.Lines[i]
		cart.Lines = removeLine(cart.Lines, key)
		cart.SavedForLater = addOrIncrement(cart.SavedForLater, line)
		return nil
	})
}

// MoveToCart moves a saved line back into the cart through the add-or-increment rule.
func (s *cartService) MoveToCart(ctx context.Context, deviceID, productKey string) (CartSummary, error) {
	key := strings.TrimSpace(productKey)
	if key == "" {
		return CartSummary{}, ErrCartInvalidInput
	}
	return s.mutate(ctx, deviceID, func(cart *Cart) error {
		for _, line := range cart.SavedForLater {
			if line.ProductKey == key {
				cart.SavedForLater = removeLine(cart.SavedForLater, key)
				cart.Lines = addOrIncrement(cart.Lines, line)
				break
			}
		}
		return nil
	})
}

// ApplyCoupon validates the code against the catalog and the current cart before storing it.
// Rejected codes leave the cart untouched.
func (s *cartService) ApplyCoupon(ctx context.Context, deviceID, code string) (CartSummary, error) {
	entered := strings.TrimSpace(code)
	if entered == "" {
		return CartSummary{}, ErrCouponInvalid
	}
	if s.coupons == nil {
		return CartSummary{}, ErrCouponUnavailable
	}
	cart, err := s.load(ctx, deviceID)
	if err != nil {
		return CartSummary{}, err
	}
	if cart.IsEmpty() {
		return CartSummary{}, ErrCartEmpty
	}

	coupon, err := s.coupons.Resolve(ctx, entered, productKeys(cart.Lines))
	if err != nil {
		return CartSummary{}, err
	}
	if _, err := s.pricer.Compute(cart.Lines, &CouponApplication{EnteredCode: entered, Coupon: coupon}); err != nil {
		return CartSummary{}, err
	}

	cart.CouponCode = coupon.Code
	if err := s.save(ctx, deviceID, &cart); err != nil {
		return CartSummary{}, err
	}
	s.logger(ctx, "cart.coupon_applied", map[string]any{"deviceId": deviceID, "code": coupon.Code})
	return s.summarise(ctx, cart), nil
}

// RemoveCoupon clears the stored coupon code.
func (s *cartService) RemoveCoupon(ctx context.Context, deviceID string) (CartSummary, error) {
	return s.mutate(ctx, deviceID, func(cart *Cart) error {
		cart.CouponCode = ""
		return nil
	})
}

// SetBuyNow records a single-item intent that bypasses the cart at checkout.
func (s *cartService) SetBuyNow(ctx context.Context, deviceID string, line CartLine) (BuyNowIntent, error) {
	if strings.TrimSpace(deviceID) == "" {
		return BuyNowIntent{}, ErrCartInvalidInput
	}
	line, err := s.priceLine(ctx, line)
	if err != nil {
		return BuyNowIntent{}, err
	}
	intent := BuyNowIntent{Line: line, CreatedAt: s.now()}
	if err := s.store.SaveBuyNow(ctx, deviceID, intent); err != nil {
		return BuyNowIntent{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return intent, nil
}

// ClearBuyNow abandons the buy-now intent.
func (s *cartService) ClearBuyNow(ctx context.Context, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return ErrCartInvalidInput
	}
	if err := s.store.ClearBuyNow(ctx, deviceID); err != nil {
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return nil
}

func (s *cartService) mutate(ctx context.Context, deviceID string, fn func(cart *Cart) error) (CartSummary, error) {
	cart, err := s.load(ctx, deviceID)
	if err != nil {
		return CartSummary{}, err
	}
	if err := fn(&cart); err != nil {
		return CartSummary{}, err
	}
	if err := s.save(ctx, deviceID, &cart); err != nil {
		return CartSummary{}, err
	}
	return s.summarise(ctx, cart), nil
}

func (s *cartService) load(ctx context.Context, deviceID string) (Cart, error) {
	if strings.TrimSpace(deviceID) == "" {
		return Cart{}, ErrCartInvalidInput
	}
	cart, err := s.store.LoadCart(ctx, deviceID)
	if err != nil {
		s.logger(ctx, "cart.load_failed", map[string]any{"deviceId": deviceID, "error": err})
		return Cart{}, nil
	}
	return cart, nil
}

func (s *cartService) save(ctx context.Context, deviceID string, cart *Cart) error {
	cart.UpdatedAt = s.now()
	if err := s.store.SaveCart(ctx, deviceID, *cart); err != nil {
		s.logger(ctx, "cart.save_failed", map[string]any{"deviceId": deviceID, "error": err})
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return nil
}

// summarise prices the cart, re-resolving any stored coupon so expiry is evaluated now.
func (s *cartService) summarise(ctx context.Context, cart Cart) CartSummary {
	var app *CouponApplication
	var couponErr error
	if code := strings.TrimSpace(cart.CouponCode); code != "" && s.coupons != nil && !cart.IsEmpty() {
		coupon, err := s.coupons.Resolve(ctx, code, productKeys(cart.Lines))
		if err != nil {
			couponErr = err
		} else {
			app = &CouponApplication{EnteredCode: code, Coupon: coupon}
		}
	}
	totals, err := s.pricer.Compute(cart.Lines, app)
	if err != nil {
		couponErr = err
	}
	return CartSummary{Cart: cart, Totals: totals, CouponError: couponErr}
}

// priceLine replaces the caller's price snapshot with the catalog's. The caller's name and image
// are kept only when the catalog has none.
func (s *cartService) priceLine(ctx context.Context, line CartLine) (CartLine, error) {
	line, err := normaliseLine(line)
	if err != nil {
		return CartLine{}, err
	}
	product, err := s.catalog.Get(ctx, line.ProductKey)
	switch {
	case errors.Is(err, ErrProductNotFound):
		return CartLine{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, line.ProductKey)
	case err != nil:
		return CartLine{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	if key := product.Key(); key != "" {
		line.ProductKey = key
	}
	line.UnitPrice = product.Price
	line.CompareAtPrice = product.CompareAtPrice
	if product.Name != "" {
		line.DisplayName = product.Name
	}
	if product.ImageURL != "" {
		line.ImageURL = product.ImageURL
	}
	return line, nil
}

func normaliseLine(line CartLine) (CartLine, error) {
	line.ProductKey = strings.TrimSpace(line.ProductKey)
	line.DisplayName = strings.TrimSpace(line.DisplayName)
	if line.ProductKey == "" || line.UnitPrice < 0 || line.CompareAtPrice < 0 {
		return CartLine{}, ErrCartInvalidInput
	}
	if line.Quantity < domain.MinLineQuantity {
		line.Quantity = domain.MinLineQuantity
	}
	line.Quantity = domain.ClampQuantity(line.Quantity)
	return line, nil
}

func addOrIncrement(lines []CartLine, line CartLine) []CartLine {
	qty := line.Quantity
	if qty < domain.MinLineQuantity {
		qty = domain.MinLineQuantity
	}
	for i := range lines {
		if lines[i].ProductKey == line.ProductKey {
			lines[i].Quantity = domain.ClampQuantity(lines[i].Quantity + qty)
			return lines
		}
	}
	line.Quantity = domain.ClampQuantity(qty)
	return append(lines, line)
}

func removeLine(lines []CartLine, productKey string) []CartLine {
	out := lines[:0:0]
	for _, line := range lines {
		if line.ProductKey != productKey {
			out = append(out, line)
		}
	}
	return out
}

func productKeys(lines []CartLine) []string {
	keys := make([]string, 0, len(lines))
	for _, line := range lines {
		keys = append(keys, line.ProductKey)
	}
	return keys
}
