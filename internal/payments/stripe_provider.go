package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Logger records provider events.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	Intents   stripePaymentIntentAPI
}

// StripeProvider implements Provider on Stripe Payment Intents. The client confirms the intent
// with the returned client secret; verification re-reads the intent server side.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	account string
	logger  Logger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateOrder creates a Payment Intent for the order total.
func (p *StripeProvider) CreateOrder(ctx context.Context, req OrderRequest) (ProviderOrder, error) {
	if p == nil {
		return ProviderOrder{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return ProviderOrder{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Receipt != "" {
		params.Description = stripe.String(req.Receipt)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	if len(req.Notes) > 0 || req.Receipt != "" {
		params.Metadata = make(map[string]string, len(req.Notes)+1)
		for k, v := range req.Notes {
			params.Metadata[k] = v
		}
		if req.Receipt != "" {
			params.Metadata["receipt"] = req.Receipt
		}
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return ProviderOrder{}, stripeError("create payment intent", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	return ProviderOrder{
		Provider:        ProviderStripe,
		ProviderOrderID: intent.ID,
		Amount:          intent.Amount,
		Currency:        strings.ToUpper(string(intent.Currency)),
		ClientSecret:    intent.ClientSecret,
		Status:          string(intent.Status),
	}, nil
}

// VerifyPayment re-reads the Payment Intent and requires it to have succeeded.
func (p *StripeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.ProviderOrderID)
	if intentID == "" {
		intentID = strings.TrimSpace(req.PaymentID)
	}
	if intentID == "" {
		return PaymentDetails{}, errors.New("stripe: payment intent id is required")
	}
	if req.PaymentID != "" && req.PaymentID != intentID {
		return PaymentDetails{}, fmt.Errorf("%w: intent %s does not match payment %s", ErrSignatureMismatch, intentID, req.PaymentID)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(intentID, params)
	if err != nil {
		return PaymentDetails{}, stripeError("lookup payment intent", err)
	}

	details := stripePaymentDetails(intent)
	if details.Status != StatusSucceeded {
		p.logger(ctx, "payments.stripe.intent.incomplete", map[string]any{
			"paymentIntent": intent.ID,
			"status":        intent.Status,
		})
		return details, fmt.Errorf("%w: intent status %s", ErrPaymentNotCompleted, intent.Status)
	}
	return details, nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	method := ""
	if len(intent.PaymentMethodTypes) > 0 {
		method = intent.PaymentMethodTypes[0]
	}

	return PaymentDetails{
		Provider:        ProviderStripe,
		PaymentID:       intent.ID,
		ProviderOrderID: intent.ID,
		Status:          status,
		Amount:          intent.Amount,
		Currency:        strings.ToUpper(string(intent.Currency)),
		Method:          method,
	}
}

func stripeError(op string, err error) error {
	perr := &ProviderError{Provider: ProviderStripe, Op: op, Err: err}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		perr.StatusCode = serr.HTTPStatusCode
		perr.Code = string(serr.Code)
	}
	return perr
}
