package repositories

import "context"

// Registry exposes the stores the service layer is assembled from. Implementations own the
// underlying clients and release them on Close.
type Registry interface {
	Carts() CartStore
	ProfileCache() ProfileCache
	Orders() OrderRepository
	Addresses() AddressRepository
	Users() UserRepository
	Coupons() CouponRepository
	CODPolicy() CODPolicyRepository
	Reviews() ReviewRepository
	Products() ProductRepository
	Health() HealthRepository
	Close(ctx context.Context) error
}
