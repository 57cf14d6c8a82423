package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultKVBackend            = KVBackendMemory
	defaultSQLitePath           = "sfykart-kv.db"
	defaultCurrency             = "INR"
	defaultFreeDeliveryAbove    = int64(49900)
	defaultDeliveryFee          = int64(3900)
	defaultRoundingUnit         = int64(100)
	defaultCheckoutSessionTTL   = 30 * time.Minute
	defaultReturnWindowDays     = 7
	defaultRazorpayBaseURL      = "https://api.razorpay.com"
	defaultRazorpayReceipt      = "sfykart_rcpt_"
	defaultShiprocketBaseURL    = "https://apiv2.shiprocket.in"
	defaultShiprocketOrigin     = "110092"
	defaultShiprocketWeightKg   = 0.5
	defaultShiprocketRPS        = 5
	defaultShiprocketCacheTTL   = 6 * time.Hour
	defaultUploadURLTTL         = 15 * time.Minute
	defaultOrderEventsTopic     = "order-events"
	defaultRateLimitPerMinute   = 120
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultProfileObjectPattern = "profile/%s.jpg"
)

// KV backend identifiers accepted by API_KV_BACKEND.
const (
	KVBackendMemory = "memory"
	KVBackendSQLite = "sqlite"
	KVBackendRedis  = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	KV          KVConfig
	Redis       RedisConfig
	Pricing     PricingConfig
	Checkout    CheckoutConfig
	Orders      OrdersConfig
	Razorpay    RazorpayConfig
	Stripe      StripeConfig
	Shiprocket  ShiprocketConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig configures profile image uploads.
type StorageConfig struct {
	ProfileBucket        string
	ProfileObjectPattern string
	SignerKey            string
	UploadURLTTL         time.Duration
}

// PubSubConfig configures order event publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// KVConfig selects the key-value backend that holds device carts and profile caches.
type KVConfig struct {
	Backend    string
	SQLitePath string
}

// RedisConfig configures the Redis client used by the redis kv backend and idempotency store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PricingConfig centralises delivery and rounding rules. Amounts are minor units.
type PricingConfig struct {
	Currency              string
	FreeDeliveryThreshold int64
	DeliveryFee           int64
	RoundingUnit          int64
}

// CheckoutConfig controls checkout session lifetime.
type CheckoutConfig struct {
	SessionTTL time.Duration
}

// OrdersConfig controls post-purchase rules.
type OrdersConfig struct {
	ReturnWindowDays int
}

// RazorpayConfig holds Razorpay credentials.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	BaseURL       string
	ReceiptPrefix string
}

// StripeConfig holds Stripe credentials for non-INR payments.
type StripeConfig struct {
	APIKey string
}

// ShiprocketConfig holds shipping serviceability settings.
type ShiprocketConfig struct {
	BaseURL           string
	Email             string
	Password          string
	OriginPincode     string
	ParcelWeightKg    float64
	RequestsPerSecond int
	CacheTTL          time.Duration
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DevicePerMinute int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal callbacks.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "Razorpay.KeySecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the configuration from defaults, the .env file, the environment and secret lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ProfileBucket:        stringWithDefault(lookup, "API_STORAGE_PROFILE_BUCKET", ""),
			ProfileObjectPattern: stringWithDefault(lookup, "API_STORAGE_PROFILE_OBJECT_PATTERN", defaultProfileObjectPattern),
			SignerKey:            stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY", ""),
			UploadURLTTL:         durationWithDefault(lookup, "API_STORAGE_UPLOAD_URL_TTL", defaultUploadURLTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		KV: KVConfig{
			Backend:    strings.ToLower(stringWithDefault(lookup, "API_KV_BACKEND", defaultKVBackend)),
			SQLitePath: stringWithDefault(lookup, "API_KV_SQLITE_PATH", defaultSQLitePath),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Pricing: PricingConfig{
			Currency:              strings.ToUpper(stringWithDefault(lookup, "API_PRICING_CURRENCY", defaultCurrency)),
			FreeDeliveryThreshold: int64WithDefault(lookup, "API_PRICING_FREE_DELIVERY_THRESHOLD", defaultFreeDeliveryAbove),
			DeliveryFee:           int64WithDefault(lookup, "API_PRICING_DELIVERY_FEE", defaultDeliveryFee),
			RoundingUnit:          int64WithDefault(lookup, "API_PRICING_ROUNDING_UNIT", defaultRoundingUnit),
		},
		Checkout: CheckoutConfig{
			SessionTTL: durationWithDefault(lookup, "API_CHECKOUT_SESSION_TTL", defaultCheckoutSessionTTL),
		},
		Orders: OrdersConfig{
			ReturnWindowDays: intWithDefault(lookup, "API_ORDERS_RETURN_WINDOW_DAYS", defaultReturnWindowDays),
		},
		Razorpay: RazorpayConfig{
			KeyID:         stringWithDefault(lookup, "API_RAZORPAY_KEY_ID", ""),
			KeySecret:     stringWithDefault(lookup, "API_RAZORPAY_KEY_SECRET", ""),
			BaseURL:       stringWithDefault(lookup, "API_RAZORPAY_BASE_URL", defaultRazorpayBaseURL),
			ReceiptPrefix: stringWithDefault(lookup, "API_RAZORPAY_RECEIPT_PREFIX", defaultRazorpayReceipt),
		},
		Stripe: StripeConfig{
			APIKey: stringWithDefault(lookup, "API_STRIPE_API_KEY", ""),
		},
		Shiprocket: ShiprocketConfig{
			BaseURL:           stringWithDefault(lookup, "API_SHIPROCKET_BASE_URL", defaultShiprocketBaseURL),
			Email:             stringWithDefault(lookup, "API_SHIPROCKET_EMAIL", ""),
			Password:          stringWithDefault(lookup, "API_SHIPROCKET_PASSWORD", ""),
			OriginPincode:     stringWithDefault(lookup, "API_SHIPROCKET_ORIGIN_PINCODE", defaultShiprocketOrigin),
			ParcelWeightKg:    floatWithDefault(lookup, "API_SHIPROCKET_PARCEL_WEIGHT_KG", defaultShiprocketWeightKg),
			RequestsPerSecond: intWithDefault(lookup, "API_SHIPROCKET_RPS", defaultShiprocketRPS),
			CacheTTL:          durationWithDefault(lookup, "API_SHIPROCKET_CACHE_TTL", defaultShiprocketCacheTTL),
		},
		RateLimits: RateLimitConfig{
			DevicePerMinute: intWithDefault(lookup, "API_RATELIMIT_DEVICE_PER_MIN", defaultRateLimitPerMinute),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Storage.SignerKey", &cfg.Storage.SignerKey},
		{"Redis.Password", &cfg.Redis.Password},
		{"Razorpay.KeySecret", &cfg.Razorpay.KeySecret},
		{"Stripe.APIKey", &cfg.Stripe.APIKey},
		{"Shiprocket.Password", &cfg.Shiprocket.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if name != "" && resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	switch cfg.KV.Backend {
	case KVBackendMemory:
	case KVBackendSQLite:
		if strings.TrimSpace(cfg.KV.SQLitePath) == "" {
			missing = append(missing, "KV.SQLitePath")
		}
	case KVBackendRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "KV.Backend")
	}
	if len(cfg.Pricing.Currency) != 3 {
		missing = append(missing, "Pricing.Currency")
	}
	if cfg.Pricing.FreeDeliveryThreshold < 0 {
		missing = append(missing, "Pricing.FreeDeliveryThreshold")
	}
	if cfg.Pricing.DeliveryFee < 0 {
		missing = append(missing, "Pricing.DeliveryFee")
	}
	if cfg.Pricing.RoundingUnit <= 0 {
		missing = append(missing, "Pricing.RoundingUnit")
	}
	if cfg.Checkout.SessionTTL <= 0 {
		missing = append(missing, "Checkout.SessionTTL")
	}
	if cfg.Orders.ReturnWindowDays <= 0 {
		missing = append(missing, "Orders.ReturnWindowDays")
	}
	if cfg.Shiprocket.ParcelWeightKg <= 0 {
		missing = append(missing, "Shiprocket.ParcelWeightKg")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
