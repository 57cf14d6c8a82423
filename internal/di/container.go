package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sfykart/api/internal/payments"
	"github.com/sfykart/api/internal/platform/config"
	"github.com/sfykart/api/internal/platform/storage"
	"github.com/sfykart/api/internal/repositories"
	"github.com/sfykart/api/internal/services"
	"github.com/sfykart/api/internal/shipping"
)

// Services bundles the service-layer contracts that handlers rely upon. A nil entry means the
// backing integration is not configured; the router answers those routes with 501.
type Services struct {
	Catalog        services.CatalogService
	Cart           services.CartService
	Coupons        services.CouponService
	Checkout       services.CheckoutService
	Orders         services.OrderService
	Addresses      services.AddressService
	Profiles       services.ProfileService
	Serviceability services.ServiceabilityService
	Reviews        services.ReviewService
	System         services.SystemService
}

// CourierLookup answers pincode serviceability from the courier aggregator.
type CourierLookup interface {
	Serviceability(ctx context.Context, pincode string) (shipping.Result, error)
}

// PaymentGateway creates and verifies provider orders.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.ProviderOrder, error)
	VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error)
}

// CheckoutMetrics records checkout outcomes.
type CheckoutMetrics interface {
	OrderPlaced(ctx context.Context, method string, elapsed time.Duration)
	SubmitFailed(ctx context.Context, method, reason string)
}

// AvatarSigner signs profile image uploads.
type AvatarSigner interface {
	SignedUpload(ctx context.Context, bucket, object string, opts storage.UploadOptions) (storage.SignedURL, error)
}

// Infra carries the external integrations. Leave a field nil when the integration is not
// configured; never store a typed nil pointer.
type Infra struct {
	Couriers CourierLookup
	Payments PaymentGateway
	Events   services.OrderEventPublisher
	Metrics  CheckoutMetrics
	Uploads  AvatarSigner
	Build    services.BuildInfo
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring supplies the Firestore and
// key-value registry; tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infra) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients and key-value backends.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infra) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	pricer, err := services.NewPricingEngine(services.PricingEngineDeps{
		FreeDeliveryThreshold: cfg.Pricing.FreeDeliveryThreshold,
		DeliveryFee:           cfg.Pricing.DeliveryFee,
		RoundingUnit:          cfg.Pricing.RoundingUnit,
		Clock:                 clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	if couponRepo := reg.Coupons(); couponRepo != nil {
		couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
			Coupons: couponRepo,
			Logger:  logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build coupon service: %w", err)
		}
		svc.Coupons = couponSvc
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Store:   reg.Carts(),
		Pricer:  pricer,
		Catalog: catalogSvc,
		Coupons: svc.Coupons,
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	profileDeps := services.ProfileServiceDeps{
		Users:         reg.Users(),
		Cache:         reg.ProfileCache(),
		Bucket:        cfg.Storage.ProfileBucket,
		ObjectPattern: cfg.Storage.ProfileObjectPattern,
		UploadTTL:     cfg.Storage.UploadURLTTL,
		Clock:         clock,
		Logger:        logger,
	}
	if infra.Uploads != nil {
		profileDeps.Uploads = infra.Uploads
	}
	profileSvc, err := services.NewProfileService(profileDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build profile service: %w", err)
	}
	svc.Profiles = profileSvc

	addressSvc, err := services.NewAddressService(services.AddressServiceDeps{
		Addresses: reg.Addresses(),
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build address service: %w", err)
	}
	svc.Addresses = addressSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           reg.Orders(),
		Addresses:        reg.Addresses(),
		Events:           infra.Events,
		ReturnWindowDays: cfg.Orders.ReturnWindowDays,
		Clock:            clock,
		Logger:           logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if infra.Payments != nil {
		checkoutDeps := services.CheckoutServiceDeps{
			Carts:      reg.Carts(),
			Pricer:     pricer,
			Coupons:    svc.Coupons,
			Profiles:   profileSvc,
			Orders:     reg.Orders(),
			CODPolicy:  reg.CODPolicy(),
			Payments:   infra.Payments,
			Events:     infra.Events,
			Currency:   cfg.Pricing.Currency,
			SessionTTL: cfg.Checkout.SessionTTL,
			Clock:      clock,
			Logger:     logger,
		}
		if infra.Metrics != nil {
			checkoutDeps.Metrics = infra.Metrics
		}
		checkoutSvc, err := services.NewCheckoutService(checkoutDeps)
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if infra.Couriers != nil {
		serviceabilitySvc, err := services.NewServiceabilityService(services.ServiceabilityServiceDeps{
			Couriers: infra.Couriers,
			CacheTTL: cfg.Shiprocket.CacheTTL,
			Clock:    clock,
			Logger:   logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build serviceability service: %w", err)
		}
		svc.Serviceability = serviceabilitySvc
	}

	if reviewRepo := reg.Reviews(); reviewRepo != nil {
		reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
			Reviews: reviewRepo,
			Clock:   clock,
			Logger:  logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build review service: %w", err)
		}
		svc.Reviews = reviewSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Integrations: map[string]bool{
				"payments":      infra.Payments != nil,
				"shiprocket":    infra.Couriers != nil,
				"orderEvents":   infra.Events != nil,
				"avatarUploads": infra.Uploads != nil,
			},
			Clock: clock,
			Build: build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
