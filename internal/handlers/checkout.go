package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sfykart/api/internal/platform/auth"
	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/services"
)

// CheckoutHandlers exposes checkout sessions for signed-in users on a known device.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency guards order submission and the payment callback with mw.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Use(DeviceMiddleware(true))
	r.Post("/sessions", h.begin)
	r.Get("/sessions/{sessionID}", h.get)
	r.Delete("/sessions/{sessionID}", h.abandon)
	r.Put("/sessions/{sessionID}/delivery-address", h.setDeliveryAddress)
	r.Put("/sessions/{sessionID}/payment-method", h.selectPayment)

	guarded := r
	if h.idempotency != nil {
		guarded = r.With(h.idempotency)
	}
	guarded.Post("/sessions/{sessionID}/submit", h.submit)
	guarded.Post("/sessions/{sessionID}/payment-result", h.completePayment)
}

type deliveryAddressRequest struct {
	DeliverToDifferent bool            `json:"deliverToDifferent"`
	Address            *addressPayload `json:"address"`
}

type paymentMethodRequest struct {
	Method string `json:"method"`
}

type paymentResultRequest struct {
	Result          string `json:"result"`
	ProviderOrderID string `json:"providerOrderId"`
	PaymentID       string `json:"paymentId"`
	Signature       string `json:"signature"`
	FailureReason   string `json:"failureReason"`
}

type providerOrderPayload struct {
	Provider        string `json:"provider"`
	ProviderOrderID string `json:"providerOrderId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PublicKey       string `json:"publicKey,omitempty"`
	ClientSecret    string `json:"clientSecret,omitempty"`
}

type checkoutSessionPayload struct {
	SessionID          string                `json:"sessionId"`
	State              string                `json:"state"`
	Source             string                `json:"source"`
	Items              []linePayload         `json:"items"`
	Totals             totalsPayload         `json:"totals"`
	BillingAddress     addressPayload        `json:"billingAddress"`
	DeliveryAddress    addressPayload        `json:"deliveryAddress"`
	DeliverToDifferent bool                  `json:"deliverToDifferent"`
	PaymentMethod      string                `json:"paymentMethod,omitempty"`
	OrderID            string                `json:"orderId,omitempty"`
	Payment            *providerOrderPayload `json:"payment,omitempty"`
	FailureReason      string                `json:"failureReason,omitempty"`
	ExpiresAt          string                `json:"expiresAt,omitempty"`
}

func (h *CheckoutHandlers) begin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	view, err := h.checkout.Begin(ctx, services.BeginCheckoutCommand{
		DeviceID: deviceID(ctx),
		UserID:   identity.UID,
		Name:     identity.Name,
		Email:    identity.Email,
		Mobile:   identity.Phone,
	})
	h.respond(ctx, w, http.StatusCreated, view, err)
}

func (h *CheckoutHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	view, err := h.checkout.Get(ctx, chi.URLParam(r, "sessionID"), deviceID(ctx))
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *CheckoutHandlers) abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	if err := h.checkout.Abandon(ctx, chi.URLParam(r, "sessionID"), deviceID(ctx)); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) setDeliveryAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	var req deliveryAddressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd := services.SetDeliveryAddressCommand{
		SessionID: chi.URLParam(r, "sessionID"),
		DeviceID:  deviceID(ctx),
	}
	if req.DeliverToDifferent {
		if req.Address == nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "address is required when delivering to a different address", http.StatusBadRequest))
			return
		}
		addr := req.Address.toAddress()
		cmd.Address = &addr
	}
	view, err := h.checkout.SetDeliveryAddress(ctx, cmd)
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *CheckoutHandlers) selectPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	var req paymentMethodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	method := services.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	if !method.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "method must be cod or online", http.StatusBadRequest))
		return
	}
	view, err := h.checkout.SelectPayment(ctx, services.SelectPaymentCommand{
		SessionID: chi.URLParam(r, "sessionID"),
		DeviceID:  deviceID(ctx),
		Method:    method,
	})
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	view, err := h.checkout.Submit(ctx, services.SubmitCheckoutCommand{
		SessionID: chi.URLParam(r, "sessionID"),
		DeviceID:  deviceID(ctx),
	})
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *CheckoutHandlers) completePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	var req paymentResultRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := h.checkout.CompletePayment(ctx, services.CompletePaymentCommand{
		SessionID:       chi.URLParam(r, "sessionID"),
		DeviceID:        deviceID(ctx),
		Result:          strings.ToLower(strings.TrimSpace(req.Result)),
		ProviderOrderID: strings.TrimSpace(req.ProviderOrderID),
		PaymentID:       strings.TrimSpace(req.PaymentID),
		Signature:       strings.TrimSpace(req.Signature),
		FailureReason:   strings.TrimSpace(req.FailureReason),
	})
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *CheckoutHandlers) respond(ctx context.Context, w http.ResponseWriter, status int, view services.CheckoutView, err error) {
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, status, buildCheckoutPayload(view))
}

func buildCheckoutPayload(view services.CheckoutView) checkoutSessionPayload {
	payload := checkoutSessionPayload{
		SessionID:          view.SessionID,
		State:              string(view.State),
		Source:             string(view.Source),
		Items:              buildLinePayloads(view.Items),
		Totals:             buildTotalsPayload(view.Totals),
		BillingAddress:     buildAddressPayload(view.BillingAddress),
		DeliveryAddress:    buildAddressPayload(view.DeliveryAddress),
		DeliverToDifferent: view.DeliverToDifferent,
		PaymentMethod:      string(view.PaymentMethod),
		OrderID:            view.OrderID,
		FailureReason:      view.FailureReason,
		ExpiresAt:          formatTime(view.ExpiresAt),
	}
	if view.Payment != nil {
		payload.Payment = &providerOrderPayload{
			Provider:        view.Payment.Provider,
			ProviderOrderID: view.Payment.ProviderOrderID,
			Amount:          view.Payment.Amount,
			Currency:        view.Payment.Currency,
			PublicKey:       view.Payment.PublicKey,
			ClientSecret:    view.Payment.ClientSecret,
		}
	}
	return payload
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutAddressInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("address_invalid", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCODUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cod_unavailable", "cash on delivery is not available for this pincode", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSubmissionInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_progress", "order submission already in progress", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be completed", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		serviceUnavailable(ctx, w, "checkout")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout failed", http.StatusInternalServerError))
	}
}
