package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sfykart/api/internal/di"
	"github.com/sfykart/api/internal/handlers"
	"github.com/sfykart/api/internal/payments"
	"github.com/sfykart/api/internal/platform/auth"
	"github.com/sfykart/api/internal/platform/config"
	pfirestore "github.com/sfykart/api/internal/platform/firestore"
	"github.com/sfykart/api/internal/platform/idempotency"
	"github.com/sfykart/api/internal/platform/jobs"
	"github.com/sfykart/api/internal/platform/kvstore"
	"github.com/sfykart/api/internal/platform/observability"
	"github.com/sfykart/api/internal/platform/requestctx"
	"github.com/sfykart/api/internal/platform/secrets"
	platformstorage "github.com/sfykart/api/internal/platform/storage"
	"github.com/sfykart/api/internal/repositories"
	"github.com/sfykart/api/internal/services"
	"github.com/sfykart/api/internal/shipping"
)

const (
	secretHealthReference  = "secret://system/healthz"
	redisIdempotencyPrefix = "sfy:idem"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)
	events := observability.NewEventLogger(logger)

	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var rdb redis.UniversalClient
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	kv, kvClose, err := kvstore.Open(ctx, cfg.KV, rdb)
	if err != nil {
		logger.Fatal("failed to open kv store", zap.Error(err), zap.String("backend", cfg.KV.Backend))
	}

	registry, err := di.NewRegistry(di.RegistryDeps{
		Firestore: firestoreProvider,
		KV:        kv,
		KVClose:   kvClose,
		Checks:    extraDependencyChecks(rdb, fetcher),
		Logger:    events,
	})
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	infra := di.Infra{
		Build:   buildInfo,
		Clock:   time.Now,
		Logger:  events,
		Metrics: observability.NewCheckoutMetrics(nil, logger.Named("metrics")),
	}

	if manager, err := newPaymentManager(cfg, events); err != nil {
		logger.Warn("payments: checkout disabled", zap.Error(err))
	} else {
		infra.Payments = manager
	}

	if couriers, err := newShiprocketClient(cfg, events); err != nil {
		logger.Warn("shiprocket: serviceability disabled", zap.Error(err))
	} else {
		infra.Couriers = couriers
	}

	if signer, err := newAvatarSigner(cfg); err != nil {
		logger.Warn("storage: avatar uploads disabled", zap.Error(err))
	} else {
		infra.Uploads = signer
	}

	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, projectID, clientOpts...)
		if err != nil {
			logger.Warn("pubsub: order events disabled", zap.Error(err))
		} else {
			topic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
			topic.EnableMessageOrdering = true
			defer func() {
				topic.Stop()
				if err := pubsubClient.Close(); err != nil {
					logger.Warn("pubsub close error", zap.Error(err))
				}
			}()
			publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
			if err != nil {
				logger.Warn("pubsub: order events disabled", zap.Error(err))
			} else {
				infra.Events = publisher
			}
		}
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if rdb != nil {
		idempotencyStore = idempotency.NewRedisStore(rdb, redisIdempotencyPrefix)
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, &http.Client{Timeout: 5 * time.Second}, time.Now)
	serviceVerifier := auth.NewServiceVerifier(cfg.Security.OIDC, jwks, logger.Named("auth"))

	svc := container.Services
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithAPIMiddlewares(handlers.RateLimitMiddleware(cfg.RateLimits.DevicePerMinute, time.Now)),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfo),
			handlers.WithHealthSystemService(svc.System),
		)),
		handlers.WithCartRoutes(handlers.NewCartHandlers(svc.Cart).Routes),
		handlers.WithMeRoutes(handlers.NewMeHandlers(authenticator, svc.Profiles, svc.Addresses).Routes),
		handlers.WithProductRoutes(handlers.NewProductHandlers(svc.Catalog, handlers.NewReviewHandlers(authenticator, svc.Reviews)).Routes),
		handlers.WithInternalRoutes(handlers.NewInternalOrderHandlers(svc.Orders).Routes),
		handlers.WithInternalMiddlewares(serviceVerifier.RequireService()),
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	opts = append(opts,
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderStreamRoutes(orderHandlers.StreamRoutes),
	)
	if svc.Checkout != nil {
		checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout,
			handlers.WithCheckoutIdempotency(idempotencyMiddleware))
		opts = append(opts, handlers.WithCheckoutRoutes(checkoutHandlers.Routes))
	}
	if svc.Serviceability != nil {
		opts = append(opts, handlers.WithServiceabilityRoutes(handlers.NewServiceabilityHandlers(svc.Serviceability).Routes))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("sfykart api listening",
			zap.String("environment", buildInfo.Environment),
			zap.String("kv_backend", cfg.KV.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	project := strings.TrimSpace(os.Getenv("API_SECRET_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("API_FIREBASE_PROJECT_ID"))
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := strings.TrimSpace(os.Getenv("API_SECRET_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if file := strings.TrimSpace(os.Getenv("API_FIREBASE_CREDENTIALS_FILE")); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a value. Production refuses to start
// without payment credentials; other environments degrade to a disabled checkout.
func requiredSecretNames() []string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT")))
	if env != "prod" && env != "production" {
		return nil
	}
	return []string{"Razorpay.KeySecret", "Shiprocket.Password"}
}

func extraDependencyChecks(rdb redis.UniversalClient, fetcher *secrets.Fetcher) []repositories.DependencyCheck {
	var checks []repositories.DependencyCheck
	if rdb != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return checks
}

func newPaymentManager(cfg config.Config, logger observability.EventLogger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)
	if strings.TrimSpace(cfg.Razorpay.KeyID) != "" {
		razorpay, err := payments.NewRazorpayProvider(payments.RazorpayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			BaseURL:       cfg.Razorpay.BaseURL,
			ReceiptPrefix: cfg.Razorpay.ReceiptPrefix,
			HTTPClient:    &http.Client{Timeout: 15 * time.Second},
			Logger:        payments.Logger(logger),
		})
		if err != nil {
			return nil, err
		}
		providers[payments.ProviderRazorpay] = razorpay
	}
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Stripe.APIKey,
			Logger: payments.Logger(logger),
		})
		if err != nil {
			return nil, err
		}
		providers[payments.ProviderStripe] = stripe
	}
	return payments.NewManager(providers)
}

func newShiprocketClient(cfg config.Config, logger observability.EventLogger) (*shipping.ShiprocketClient, error) {
	return shipping.NewShiprocketClient(shipping.Config{
		BaseURL:           cfg.Shiprocket.BaseURL,
		Email:             cfg.Shiprocket.Email,
		Password:          cfg.Shiprocket.Password,
		OriginPincode:     cfg.Shiprocket.OriginPincode,
		ParcelWeightKg:    cfg.Shiprocket.ParcelWeightKg,
		RequestsPerSecond: cfg.Shiprocket.RequestsPerSecond,
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
		Clock:             time.Now,
		Logger:            shipping.Logger(logger),
	})
}

func newAvatarSigner(cfg config.Config) (*platformstorage.Client, error) {
	if strings.TrimSpace(cfg.Storage.ProfileBucket) == "" {
		return nil, errors.New("profile bucket not configured")
	}
	signer, err := platformstorage.LoadSigner(cfg.Storage.SignerKey)
	if err != nil {
		return nil, err
	}
	return platformstorage.NewClient(signer)
}
