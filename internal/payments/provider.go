package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as authorised or captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// Provider keys.
const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrSignatureMismatch is returned when a payment callback signature does not verify.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrPaymentNotCompleted is returned when the provider does not report the payment as successful.
	ErrPaymentNotCompleted = errors.New("payments: payment not completed")
)

// ProviderError wraps failures returned by a payment provider API.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Code       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the call may succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// OrderRequest asks a provider for a payment handle. Amount is in minor units.
type OrderRequest struct {
	Amount         int64
	Currency       string
	Receipt        string
	CustomerEmail  string
	Notes          map[string]string
	IdempotencyKey string
}

// ProviderOrder is the handle the client uses to open the hosted checkout.
type ProviderOrder struct {
	Provider        string
	ProviderOrderID string
	Amount          int64
	Currency        string
	// PublicKey is the key the client SDK opens checkout with (Razorpay key id).
	PublicKey string
	// ClientSecret is set for providers that confirm on the client (Stripe).
	ClientSecret string
	Status       string
}

// VerifyRequest carries the client's success callback for server-side verification.
type VerifyRequest struct {
	ProviderOrderID string
	PaymentID       string
	Signature       string
}

// PaymentDetails normalises PSP specific fields for storage.
type PaymentDetails struct {
	Provider        string
	PaymentID       string
	ProviderOrderID string
	Status          Status
	Amount          int64
	Currency        string
	Method          string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (ProviderOrder, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers. INR routes to Razorpay when it is
// registered; everything else falls back to Stripe.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers:      copyMap,
		currencyRoutes: map[string]string{},
	}
	if _, ok := copyMap[ProviderRazorpay]; ok {
		m.currencyRoutes["INR"] = ProviderRazorpay
	}
	if _, ok := copyMap[ProviderStripe]; ok {
		m.defaultProvider = ProviderStripe
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, ErrUnsupportedProvider
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if providerKey, ok := m.currencyRoutes[currency]; ok && currency != "" {
		provider := strings.TrimSpace(strings.ToLower(providerKey))
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateOrder delegates to the provider resolved for the payment context.
func (m *Manager) CreateOrder(ctx context.Context, paymentCtx PaymentContext, req OrderRequest) (ProviderOrder, error) {
	if paymentCtx.Currency == "" {
		paymentCtx.Currency = req.Currency
	}
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return ProviderOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return ProviderOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// VerifyPayment delegates to the resolved provider. Callers pass the provider recorded on the
// ProviderOrder as PreferredProvider.
func (m *Manager) VerifyPayment(ctx context.Context, paymentCtx PaymentContext, req VerifyRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.VerifyPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}
