package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/iterator"

	pfirestore "github.com/sfykart/api/internal/platform/firestore"
	"github.com/sfykart/api/internal/platform/kvstore"
	"github.com/sfykart/api/internal/repositories"
	firestoreRepo "github.com/sfykart/api/internal/repositories/firestore"
	"github.com/sfykart/api/internal/repositories/local"
)

const (
	firestoreProbeTimeout = 1500 * time.Millisecond
	kvProbeTimeout        = 500 * time.Millisecond
	kvProbeKey            = "health:probe"
)

// RegistryDeps wires the clients the production registry builds its stores from.
type RegistryDeps struct {
	Firestore *pfirestore.Provider
	KV        kvstore.Store
	// KVClose releases the key-value backend. Optional.
	KVClose func() error
	// Checks are appended to the built-in firestore and kv readiness probes.
	Checks []repositories.DependencyCheck
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type registry struct {
	carts     *local.CartStore
	profiles  *local.ProfileCache
	orders    *firestoreRepo.OrderRepository
	addresses *firestoreRepo.AddressRepository
	users     *firestoreRepo.UserRepository
	coupons   *firestoreRepo.CouponRepository
	cod       *firestoreRepo.CODPolicyRepository
	reviews   *firestoreRepo.ReviewRepository
	products  *firestoreRepo.ProductRepository
	health    repositories.HealthRepository

	firestore *pfirestore.Provider
	kvClose   func() error
}

var _ repositories.Registry = (*registry)(nil)

// NewRegistry builds the Firestore repositories and the device-local stores.
func NewRegistry(deps RegistryDeps) (repositories.Registry, error) {
	if deps.Firestore == nil {
		return nil, errors.New("registry: firestore provider is required")
	}
	if deps.KV == nil {
		return nil, errors.New("registry: kv store is required")
	}
	logger := local.Logger(deps.Logger)

	reg := &registry{firestore: deps.Firestore, kvClose: deps.KVClose}
	var err error
	if reg.carts, err = local.NewCartStore(deps.KV, logger); err != nil {
		return nil, fmt.Errorf("registry: cart store: %w", err)
	}
	if reg.profiles, err = local.NewProfileCache(deps.KV, logger); err != nil {
		return nil, fmt.Errorf("registry: profile cache: %w", err)
	}
	if reg.orders, err = firestoreRepo.NewOrderRepository(deps.Firestore); err != nil {
		return nil, fmt.Errorf("registry: order repository: %w", err)
	}
	if reg.addresses, err = firestoreRepo.NewAddressRepository(deps.Firestore); err != nil {
		return nil, fmt.Errorf("registry: address repository: %w", err)
	}
	if reg.users, err = firestoreRepo.NewUserRepository(deps.Firestore); err != nil {
		return nil, fmt.Errorf("registry: user repository: %w", err)
	}
	if reg.coupons, err = firestoreRepo.NewCouponRepository(deps.Firestore); err != nil {
		return nil, fmt.Errorf("registry: coupon repository: %w", err)
	}
	if reg.cod, err = firestoreRepo.NewCODPolicyRepository(deps.Firestore); err != nil {
		return nil, fmt.Errorf("registry: cod policy repository: %w", err)
	}
	if reg.reviews, err = firestoreRepo.NewReviewRepository(deps.Firestore); err != nil {
		return nil, fmt.Errorf("registry: review repository: %w", err)
	}
	if reg.products, err = firestoreRepo.NewProductRepository(deps.Firestore); err != nil {
		return nil, fmt.Errorf("registry: product repository: %w", err)
	}

	checks := append(defaultChecks(deps.Firestore, deps.KV), deps.Checks...)
	var opts []repositories.DependencyHealthOption
	if deps.Clock != nil {
		opts = append(opts, repositories.WithProbeClock(deps.Clock))
	}
	if reg.health, err = repositories.NewDependencyHealthRepository(checks, opts...); err != nil {
		return nil, fmt.Errorf("registry: health repository: %w", err)
	}
	return reg, nil
}

func defaultChecks(provider *pfirestore.Provider, kv kvstore.Store) []repositories.DependencyCheck {
	return []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: firestoreProbeTimeout,
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				_, err = client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		},
		{
			Name:    "kv",
			Timeout: kvProbeTimeout,
			Check: func(ctx context.Context) error {
				_, _, err := kv.Get(ctx, kvProbeKey)
				return err
			},
		},
	}
}

func (r *registry) Carts() repositories.CartStore { return r.carts }
func (r *registry) ProfileCache() repositories.ProfileCache { return r.profiles }
func (r *registry) Orders() repositories.OrderRepository { return r.orders }
func (r *registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *registry) Users() repositories.UserRepository { return r.users }
func (r *registry) Coupons() repositories.CouponRepository { return r.coupons }
func (r *registry) CODPolicy() repositories.CODPolicyRepository { return r.cod }
func (r *registry) Reviews() repositories.ReviewRepository { return r.reviews }
func (r *registry) Products() repositories.ProductRepository { return r.products }
func (r *registry) Health() repositories.HealthRepository { return r.health }

// Close releases the key-value backend and the Firestore client.
func (r *registry) Close(context.Context) error {
	var errs []error
	if r.kvClose != nil {
		if err := r.kvClose(); err != nil {
			errs = append(errs, fmt.Errorf("close kv store: %w", err))
		}
	}
	if err := r.firestore.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close firestore: %w", err))
	}
	return errors.Join(errs...)
}
