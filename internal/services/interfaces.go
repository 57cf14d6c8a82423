package services

import (
	"context"
	"time"

	domain "github.com/sfykart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart              = domain.Cart
	CartLine          = domain.CartLine
	BuyNowIntent      = domain.BuyNowIntent
	Totals            = domain.Totals
	Coupon            = domain.Coupon
	CouponOutcome     = domain.CouponOutcome
	Address           = domain.Address
	UserProfile       = domain.UserProfile
	Order             = domain.Order
	OrderItem         = domain.OrderItem
	OrderStatus       = domain.OrderStatus
	PaymentMethod     = domain.PaymentMethod
	Refund            = domain.Refund
	ReturnEligibility = domain.ReturnEligibility
	Serviceability    = domain.Serviceability
	Product           = domain.Product
	ProductRating     = domain.ProductRating
	Review            = domain.Review
	HealthReport      = domain.HealthReport
)

// CartSummary is a cart together with the totals recomputed after the last mutation.
type CartSummary struct {
	Cart   Cart
	Totals Totals
	// CouponError explains why a stored coupon did not apply. Nil when no coupon is stored or it applied.
	CouponError error
}

// CartService mutates the device cart. Every mutation persists before returning.
type CartService interface {
	Load(ctx context.Context, deviceID string) (CartSummary, error)
	AddOrIncrement(ctx context.Context, deviceID string, line CartLine) (CartSummary, error)
	UpdateQuantity(ctx context.Context, deviceID, productKey string, delta int) (CartSummary, error)
	Remove(ctx context.Context, deviceID, productKey string) (CartSummary, error)
	Clear(ctx context.Context, deviceID string) error
	SaveForLater(ctx context.Context, deviceID, productKey string) (CartSummary, error)
	MoveToCart(ctx context.Context, deviceID, productKey string) (CartSummary, error)
	ApplyCoupon(ctx context.Context, deviceID, code string) (CartSummary, error)
	RemoveCoupon(ctx context.Context, deviceID string) (CartSummary, error)
	SetBuyNow(ctx context.Context, deviceID string, line CartLine) (BuyNowIntent, error)
	ClearBuyNow(ctx context.Context, deviceID string) error
}

// CatalogService reads products for browsing and prices cart lines.
type CatalogService interface {
	Trending(ctx context.Context) ([]Product, error)
	Featured(ctx context.Context) ([]Product, error)
	Get(ctx context.Context, key string) (Product, error)
	Related(ctx context.Context, key string) ([]Product, error)
}

// CouponService resolves entered codes against the coupon catalog and product offers.
type CouponService interface {
	Resolve(ctx context.Context, code string, productKeys []string) (Coupon, error)
}

// CheckoutService drives checkout sessions from entry to order placement.
type CheckoutService interface {
	Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutView, error)
	Get(ctx context.Context, sessionID, deviceID string) (CheckoutView, error)
	SetDeliveryAddress(ctx context.Context, cmd SetDeliveryAddressCommand) (CheckoutView, error)
	SelectPayment(ctx context.Context, cmd SelectPaymentCommand) (CheckoutView, error)
	Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutView, error)
	CompletePayment(ctx context.Context, cmd CompletePaymentCommand) (CheckoutView, error)
	Abandon(ctx context.Context, sessionID, deviceID string) error
}

// OrderService exposes the reconciled order views and the post-purchase actions.
type OrderService interface {
	ListOrders(ctx context.Context, userID string) ([]OrderView, error)
	GetOrder(ctx context.Context, userID, orderID string) (OrderView, error)
	Watch(ctx context.Context, userID, orderID string, fn func(OrderView) error) error
	Cancel(ctx context.Context, userID, orderID string) (OrderView, error)
	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (OrderView, error)
	AdvanceStatus(ctx context.Context, cmd AdvanceOrderStatusCommand) (OrderView, error)
}

// AddressService manages a user's address book.
type AddressService interface {
	List(ctx context.Context, userID string) ([]Address, error)
	Add(ctx context.Context, userID string, addr Address) (Address, error)
	Update(ctx context.Context, userID, addressID string, patch AddressPatch) (Address, error)
	Delete(ctx context.Context, userID, addressID string) error
	SetDefault(ctx context.Context, userID, addressID string) ([]Address, error)
}

// ProfileService manages the account profile and its device cache.
type ProfileService interface {
	Get(ctx context.Context, userID, deviceID string) (UserProfile, error)
	Update(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error)
	AvatarUploadURL(ctx context.Context, userID, contentType string) (AvatarUpload, error)
	SignedOut(ctx context.Context, deviceID string) error
}

// ServiceabilityService answers whether a pincode can be delivered to.
type ServiceabilityService interface {
	Check(ctx context.Context, pincode string) (Serviceability, error)
}

// ReviewService records product reviews and ratings.
type ReviewService interface {
	Submit(ctx context.Context, cmd SubmitReviewCommand) (Review, ProductRating, error)
	Rating(ctx context.Context, productKey string) (ProductRating, error)
	List(ctx context.Context, productKey string, limit int) ([]Review, error)
}

// SystemService reports dependency health.
type SystemService interface {
	Health(ctx context.Context) (HealthReport, error)
}

// Order event types published after order writes.
const (
	OrderEventPlaced          = "order.placed"
	OrderEventCancelled       = "order.cancelled"
	OrderEventReturnRequested = "order.return_requested"
	OrderEventStatusChanged   = "order.status_changed"
)

// OrderEvent is the message published for downstream fulfilment and notification consumers.
type OrderEvent struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId,omitempty"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"paymentMethod,omitempty"`
	TotalAmount   int64     `json:"totalAmount"`
	Currency      string    `json:"currency,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// OrderEventPublisher delivers order events. Publishing is best effort; callers log failures.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

func orderEventFrom(eventType string, order Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		OccurredAt:    at,
	}
}
