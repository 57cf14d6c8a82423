package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/services"
)

// CartHandlers exposes the device cart. Every mutation responds with the recomputed summary.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(DeviceMiddleware(true))
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productKey}", h.updateQuantity)
	r.Delete("/items/{productKey}", h.removeItem)
	r.Post("/items/{productKey}/save-for-later", h.saveForLater)
	r.Post("/saved/{productKey}/move-to-cart", h.moveToCart)
	r.Put("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
	r.Put("/buy-now", h.setBuyNow)
	r.Delete("/buy-now", h.clearBuyNow)
}

type cartResponse struct {
	Items         []linePayload `json:"items"`
	SavedForLater []linePayload `json:"savedForLater"`
	CouponCode    string        `json:"couponCode,omitempty"`
	CouponError   string        `json:"couponError,omitempty"`
	Totals        totalsPayload `json:"totals"`
	UpdatedAt     string        `json:"updatedAt,omitempty"`
}

type quantityRequest struct {
	Delta int `json:"delta"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type buyNowResponse struct {
	Item      linePayload `json:"item"`
	CreatedAt string      `json:"createdAt"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	summary, err := h.carts.Load(ctx, deviceID(ctx))
	h.respond(ctx, w, summary, err)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	if err := h.carts.Clear(ctx, deviceID(ctx)); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	var req lineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	line, err := req.toLine()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	summary, err := h.carts.AddOrIncrement(ctx, deviceID(ctx), line)
	h.respond(ctx, w, summary, err)
}

func (h *CartHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	var req quantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	summary, err := h.carts.UpdateQuantity(ctx, deviceID(ctx), chi.URLParam(r, "productKey"), req.Delta)
	h.respond(ctx, w, summary, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	summary, err := h.carts.Remove(ctx, deviceID(ctx), chi.URLParam(r, "productKey"))
	h.respond(ctx, w, summary, err)
}

func (h *CartHandlers) saveForLater(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	summary, err := h.carts.SaveForLater(ctx, deviceID(ctx), chi.URLParam(r, "productKey"))
	h.respond(ctx, w, summary, err)
}

func (h *CartHandlers) moveToCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	summary, err := h.carts.MoveToCart(ctx, deviceID(ctx), chi.URLParam(r, "productKey"))
	h.respond(ctx, w, summary, err)
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	var req couponRequest
	if !decodeBody(w, r, &req) {
		return
	}
	summary, err := h.carts.ApplyCoupon(ctx, deviceID(ctx), req.Code)
	h.respond(ctx, w, summary, err)
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	summary, err := h.carts.RemoveCoupon(ctx, deviceID(ctx))
	h.respond(ctx, w, summary, err)
}

func (h *CartHandlers) setBuyNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	var req lineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	line, err := req.toLine()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	intent, err := h.carts.SetBuyNow(ctx, deviceID(ctx), line)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buyNowResponse{
		Item:      buildLinePayloads([]services.CartLine{intent.Line})[0],
		CreatedAt: formatTime(intent.CreatedAt),
	})
}

func (h *CartHandlers) clearBuyNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	if err := h.carts.ClearBuyNow(ctx, deviceID(ctx)); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) respond(ctx context.Context, w http.ResponseWriter, summary services.CartSummary, err error) {
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	payload := cartResponse{
		Items:         buildLinePayloads(summary.Cart.Lines),
		SavedForLater: buildLinePayloads(summary.Cart.SavedForLater),
		CouponCode:    strings.TrimSpace(summary.Cart.CouponCode),
		Totals:        buildTotalsPayload(summary.Totals),
		UpdatedAt:     formatTime(summary.Cart.UpdatedAt),
	}
	if summary.CouponError != nil {
		payload.CouponError = summary.CouponError.Error()
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponNotFound), errors.Is(err, services.ErrCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", "invalid coupon code", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrCouponUnavailable):
		serviceUnavailable(ctx, w, "cart")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to update cart", http.StatusInternalServerError))
	}
}
