package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe/stripe-go/v78"
)

type fakeIntents struct {
	created *stripe.PaymentIntentParams
	intent  *stripe.PaymentIntent
	err     error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	return f.intent, f.err
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return f.intent, f.err
}

func TestStripeCreateOrder(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:           "pi_1",
		Amount:       33900,
		Currency:     stripe.CurrencyUSD,
		ClientSecret: "pi_1_secret",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}}
	provider, err := NewStripeProvider(StripeProviderConfig{Intents: intents})
	require.NoError(t, err)

	order, err := provider.CreateOrder(context.Background(), OrderRequest{
		Amount:         33900,
		Currency:       "USD",
		Receipt:        "ORD1",
		IdempotencyKey: "ORD1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", order.ProviderOrderID)
	assert.Equal(t, "pi_1_secret", order.ClientSecret)
	assert.Equal(t, "USD", order.Currency)
	require.NotNil(t, intents.created)
	assert.Equal(t, "usd", *intents.created.Currency)
	assert.Equal(t, "ORD1", intents.created.Metadata["receipt"])
}

func TestStripeVerifyPayment(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:       "pi_1",
		Amount:   33900,
		Currency: stripe.CurrencyUSD,
		Status:   stripe.PaymentIntentStatusSucceeded,
	}}
	provider, err := NewStripeProvider(StripeProviderConfig{Intents: intents})
	require.NoError(t, err)

	details, err := provider.VerifyPayment(context.Background(), VerifyRequest{ProviderOrderID: "pi_1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, details.Status)
	assert.Equal(t, "pi_1", details.PaymentID)
}

func TestStripeVerifyRejectsIncompleteIntent(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusRequiresAction}}
	provider, err := NewStripeProvider(StripeProviderConfig{Intents: intents})
	require.NoError(t, err)

	_, err = provider.VerifyPayment(context.Background(), VerifyRequest{ProviderOrderID: "pi_1"})
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
}

func TestStripeWrapsAPIErrors(t *testing.T) {
	intents := &fakeIntents{err: &stripe.Error{HTTPStatusCode: 402, Code: stripe.ErrorCodeCardDeclined, Msg: "declined"}}
	provider, err := NewStripeProvider(StripeProviderConfig{Intents: intents})
	require.NoError(t, err)

	_, err = provider.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "USD"})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 402, perr.StatusCode)
	assert.Equal(t, string(stripe.ErrorCodeCardDeclined), perr.Code)
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	_, err := NewStripeProvider(StripeProviderConfig{})
	assert.Error(t, err)
}
