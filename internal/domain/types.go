package domain

import (
	"strings"
	"time"
)

// Monetary amounts across the domain are int64 values in the smallest currency unit (paise for INR).

const (
	// MinLineQuantity is the lowest quantity a cart line may hold.
	MinLineQuantity = 1
	// MaxLineQuantity is the highest quantity a cart line may hold.
	MaxLineQuantity = 99
	// DefaultCurrency is the storefront currency.
	DefaultCurrency = "INR"
)

// CartLine is a single product entry in a device cart with its price snapshot.
type CartLine struct {
	ProductKey     string
	DisplayName    string
	UnitPrice      int64
	CompareAtPrice int64
	ImageURL       string
	Quantity       int
}

// Cart holds the device-owned cart contents.
type Cart struct {
	Lines         []CartLine
	SavedForLater []CartLine
	CouponCode    string
	UpdatedAt     time.Time
}

// Find returns the index of the line with the given product key or -1.
func (c Cart) Find(productKey string) int {
	for i, line := range c.Lines {
		if line.ProductKey == productKey {
			return i
		}
	}
	return -1
}

// IsEmpty reports whether the cart has no purchasable lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// BuyNowIntent is a single-item purchase that bypasses the cart.
type BuyNowIntent struct {
	Line      CartLine
	CreatedAt time.Time
}

// ClampQuantity bounds a quantity to the allowed cart line range.
func ClampQuantity(q int) int {
	if q < MinLineQuantity {
		return MinLineQuantity
	}
	if q > MaxLineQuantity {
		return MaxLineQuantity
	}
	return q
}

// ProductKey picks the canonical cart identity for a product: slug first, id otherwise.
func ProductKey(slug, id string) string {
	if s := strings.TrimSpace(slug); s != "" {
		return s
	}
	return strings.TrimSpace(id)
}

// Address is a saved shipping or billing address in a user's address book.
type Address struct {
	ID        string
	Name      string
	Mobile    string
	Street    string
	Post      string
	District  string
	State     string
	Pincode   string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserProfile is the account record used for billing fallbacks and the cached profile blob.
type UserProfile struct {
	UID             string
	FirstName       string
	LastName        string
	Email           string
	Mobile          string
	PhotoURL        string
	BillingAddress  *Address
	DeliveryAddress *Address
	UpdatedAt       time.Time
}

// DisplayName joins the first and last name.
func (p UserProfile) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "Pending"
	OrderStatusProcessing     OrderStatus = "Processing"
	OrderStatusConfirmed      OrderStatus = "Confirmed"
	OrderStatusPacked         OrderStatus = "Packed"
	OrderStatusShipped        OrderStatus = "Shipped"
	OrderStatusOutForDelivery OrderStatus = "OutForDelivery"
	OrderStatusDelivered      OrderStatus = "Delivered"
	OrderStatusCancelled      OrderStatus = "Cancelled"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusProcessing:     1,
	OrderStatusConfirmed:      2,
	OrderStatusPacked:         3,
	OrderStatusShipped:        4,
	OrderStatusOutForDelivery: 5,
	OrderStatusDelivered:      6,
}

// Known reports whether the status is one of the recognised values.
func (s OrderStatus) Known() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := orderStatusRank[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle monotonic.
// Cancelled is terminal and reachable only through the cancel rules.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if s == OrderStatusCancelled || next == OrderStatusCancelled {
		return false
	}
	from, okFrom := orderStatusRank[s]
	to, okTo := orderStatusRank[next]
	return okFrom && okTo && to > from
}

// Cancellable reports whether a customer may still cancel an order in this status.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed:
		return true
	default:
		return false
	}
}

// PaymentStatus records how an order is paid.
type PaymentStatus string

const (
	PaymentStatusCOD  PaymentStatus = "COD"
	PaymentStatusPaid PaymentStatus = "PAID"
)

// PaymentMethod is the customer's payment choice at checkout.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodOnline PaymentMethod = "online"
)

// Valid reports whether the method is supported.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodOnline
}

// OrderItem is the snapshot of a purchased line stored on the order.
type OrderItem struct {
	ProductKey string
	Title      string
	ImageURL   string
	UnitPrice  int64
	Quantity   int
}

// RefundStatus tracks a refund's progress.
type RefundStatus string

const (
	RefundStatusRequested RefundStatus = "requested"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusInitiated RefundStatus = "initiated"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

// RefundMethod is where refunded money goes.
type RefundMethod string

const (
	RefundMethodWallet RefundMethod = "wallet"
	RefundMethodBank   RefundMethod = "bank"
)

// Refund is the server-managed refund sub-record of an order.
type Refund struct {
	Status RefundStatus
	Amount int64
	Method RefundMethod
	Date   *time.Time
	Note   string
}

// Order is an immutable purchase snapshot; only status and refund change after creation.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	BillingAddress  Address
	DeliveryAddress Address
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	PaymentID       string
	ProviderOrderID string
	Status          OrderStatus
	Currency        string
	Subtotal        int64
	DeliveryCharge  int64
	Discount        int64
	CouponCode      string
	TotalAmount     int64
	Refund          *Refund
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// DiscountType is the coupon discount kind.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFlat    DiscountType = "flat"
)

// Coupon is a read-only discount definition. DiscountValue is a percentage for percent
// coupons and an amount in minor units for flat coupons.
type Coupon struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue float64
	ValidTill     *time.Time
}

// CouponOutcome explains what happened to the coupon during a totals computation.
type CouponOutcome struct {
	Code    string
	Applied bool
	Reason  string
}

// Totals is the pricing summary of a set of cart lines.
type Totals struct {
	Subtotal       int64
	YouSave        int64
	ItemCount      int
	DeliveryCharge int64
	Discount       int64
	Payable        int64
	Coupon         *CouponOutcome
}

// ReturnEligibility is the derived, read-only return state of an order.
type ReturnEligibility struct {
	Eligible      bool
	Reason        string
	DaysRemaining int
}

// Serviceability is the result of a delivery pincode lookup.
type Serviceability struct {
	Pincode     string
	Deliverable bool
	Couriers    int
	CheckedAt   time.Time
}

// Product is a catalog entry. Prices are in paise.
type Product struct {
	ID             string
	Slug           string
	Name           string
	Description    string
	Category       string
	Price          int64
	CompareAtPrice int64
	ImageURL       string
	Trending       bool
	Featured       bool
	AvgRating      float64
	TotalReviews   int
}

// Key is the cart identity of the product.
func (p Product) Key() string {
	return ProductKey(p.Slug, p.ID)
}

// ProductFlag selects a curated product list.
type ProductFlag string

const (
	ProductFlagTrending ProductFlag = "trending"
	ProductFlagFeatured ProductFlag = "featured"
)

// ProductRating aggregates customer ratings for a product.
type ProductRating struct {
	ProductKey   string
	AvgRating    float64
	TotalReviews int
	RatingsCount map[int]int
}

// Review is a customer's rating and comment for a product.
type Review struct {
	ID         string
	ProductKey string
	UserID     string
	Rating     int
	Name       string
	Text       string
	CreatedAt  time.Time
}

// Dependency health states reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
	// HealthStatusDisabled marks an optional integration that is not configured. It never
	// affects the aggregate status.
	HealthStatusDisabled = "disabled"
)

// DependencyHealth is the outcome of probing one backing dependency.
type DependencyHealth struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for the readiness endpoint.
type HealthReport struct {
	Status      string
	Checks      map[string]DependencyHealth
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
