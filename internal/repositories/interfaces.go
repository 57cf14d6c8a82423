package repositories

import (
	"context"

	domain "github.com/sfykart/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartStore persists the device-scoped cart and buy-now intent. Implementations hold no
// cross-device state; deviceID namespaces every key.
type CartStore interface {
	// LoadCart returns the stored cart. Missing or unreadable blobs yield an empty cart and a
	// nil error so callers never fail on a corrupt local cache.
	LoadCart(ctx context.Context, deviceID string) (domain.Cart, error)
	SaveCart(ctx context.Context, deviceID string, cart domain.Cart) error
	LoadBuyNow(ctx context.Context, deviceID string) (*domain.BuyNowIntent, error)
	SaveBuyNow(ctx context.Context, deviceID string, intent domain.BuyNowIntent) error
	ClearBuyNow(ctx context.Context, deviceID string) error
	// Clear removes both the cart and the buy-now intent.
	Clear(ctx context.Context, deviceID string) error
}

// ProfileCache keeps the last known user profile on the device namespace.
type ProfileCache interface {
	Load(ctx context.Context, deviceID string) (*domain.UserProfile, error)
	Save(ctx context.Context, deviceID string, profile domain.UserProfile) error
	Evict(ctx context.Context, deviceID string) error
}

// OrderMutation edits an order inside a transaction. Returning an error aborts the write.
type OrderMutation func(order *domain.Order) error

// OrderRepository persists orders. Every read passes through the repository's single
// normalisation step so callers only see canonical orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	// Update applies mutate transactionally and persists the mutable fields (status, refund,
	// delivery and cancellation stamps).
	Update(ctx context.Context, orderID string, mutate OrderMutation) (domain.Order, error)
	// Watch streams remote snapshots of the order until ctx ends. exists is false when the
	// document is missing.
	Watch(ctx context.Context, orderID string, fn func(order domain.Order, exists bool) error) error
}

// AddressRepository persists a user's address book.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID, addressID string) (domain.Address, error)
	Insert(ctx context.Context, userID string, addr domain.Address) (domain.Address, error)
	Update(ctx context.Context, userID string, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID, addressID string) error
	// SetDefault clears every other default and marks addressID in one transaction.
	SetDefault(ctx context.Context, userID, addressID string) (domain.Address, error)
}

// UserRepository stores account profiles.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	Upsert(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
}

// CouponRepository reads coupon definitions. Both collections are read-only to the API.
type CouponRepository interface {
	FindCoupon(ctx context.Context, code string) (domain.Coupon, error)
	ListProductOffers(ctx context.Context, productKey string) ([]domain.Coupon, error)
}

// CODPolicyRepository reports pincodes where cash on delivery is disabled.
type CODPolicyRepository interface {
	IsCODBlocked(ctx context.Context, pincode string) (bool, error)
}

// ProductRepository reads the catalog. The API never writes products.
type ProductRepository interface {
	// FindByKey resolves a product by slug first and document id otherwise.
	FindByKey(ctx context.Context, key string) (domain.Product, error)
	ListFlagged(ctx context.Context, flag domain.ProductFlag, limit int) ([]domain.Product, error)
	ListByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error)
	ListAll(ctx context.Context, limit int) ([]domain.Product, error)
}

// ReviewRepository stores reviews and the per-product rating aggregate.
type ReviewRepository interface {
	// Submit writes the review and folds its rating into the product aggregate atomically.
	Submit(ctx context.Context, review domain.Review) (domain.Review, domain.ProductRating, error)
	Rating(ctx context.Context, productKey string) (domain.ProductRating, error)
	ListByProduct(ctx context.Context, productKey string, limit int) ([]domain.Review, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
