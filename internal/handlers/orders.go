package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/platform/auth"
	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/platform/observability"
	"github.com/sfykart/api/internal/services"
)

const (
	orderEventName       = "order"
	orderStreamHeartbeat = 15 * time.Second
)

// OrderHandlers exposes the signed-in user's orders and their post-purchase actions.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	heartbeat time.Duration
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:     authn,
		orders:    orders,
		heartbeat: orderStreamHeartbeat,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/return", h.requestReturn)
}

// StreamRoutes registers the long-lived order event stream. It is mounted outside request timeouts.
func (h *OrderHandlers) StreamRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/{orderID}", h.streamOrder)
}

type returnRequest struct {
	Reason string `json:"reason"`
	Method string `json:"method"`
}

type orderItemPayload struct {
	ProductKey string `json:"productKey"`
	Title      string `json:"title"`
	ImageURL   string `json:"imageUrl,omitempty"`
	UnitPrice  int64  `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
}

type refundPayload struct {
	Status string `json:"status"`
	Amount int64  `json:"amount"`
	Method string `json:"method,omitempty"`
	Date   string `json:"date,omitempty"`
	Note   string `json:"note,omitempty"`
}

type returnEligibilityPayload struct {
	Eligible      bool   `json:"eligible"`
	Reason        string `json:"reason,omitempty"`
	DaysRemaining int    `json:"daysRemaining"`
}

type orderPayload struct {
	ID              string                   `json:"id"`
	Status          string                   `json:"status"`
	PaymentMethod   string                   `json:"paymentMethod"`
	PaymentStatus   string                   `json:"paymentStatus"`
	PaymentID       string                   `json:"paymentId,omitempty"`
	Currency        string                   `json:"currency"`
	Items           []orderItemPayload       `json:"items"`
	Subtotal        int64                    `json:"subtotal"`
	DeliveryCharge  int64                    `json:"deliveryCharge"`
	Discount        int64                    `json:"discount"`
	CouponCode      string                   `json:"couponCode,omitempty"`
	TotalAmount     int64                    `json:"totalAmount"`
	BillingAddress  addressPayload           `json:"billingAddress"`
	DeliveryAddress addressPayload           `json:"deliveryAddress"`
	Refund          *refundPayload           `json:"refund,omitempty"`
	Return          returnEligibilityPayload `json:"return"`
	CanCancel       bool                     `json:"canCancel"`
	CreatedAt       string                   `json:"createdAt,omitempty"`
	UpdatedAt       string                   `json:"updatedAt,omitempty"`
	DeliveredAt     string                   `json:"deliveredAt,omitempty"`
	CancelledAt     string                   `json:"cancelledAt,omitempty"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	views, err := h.orders.ListOrders(ctx, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(views))
	for _, view := range views {
		items = append(items, buildOrderPayload(view))
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	view, err := h.orders.GetOrder(ctx, identity.UID, chi.URLParam(r, "orderID"))
	h.respond(ctx, w, view, err)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	view, err := h.orders.Cancel(ctx, identity.UID, chi.URLParam(r, "orderID"))
	h.respond(ctx, w, view, err)
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req returnRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	view, err := h.orders.RequestReturn(ctx, services.RequestReturnCommand{
		UserID:  identity.UID,
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  req.Reason,
		Method:  domain.RefundMethod(strings.ToLower(strings.TrimSpace(req.Method))),
	})
	h.respond(ctx, w, view, err)
}

// streamOrder pushes the order as server-sent events: the current state first, then every change
// until the client disconnects.
func (h *OrderHandlers) streamOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "streaming is not supported", http.StatusInternalServerError))
		return
	}

	// The stream outlives the server's WriteTimeout, so the deadline is lifted for this response.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		observability.FromContext(ctx).Warn("order stream write deadline", zap.Error(err))
	}

	var (
		mu      sync.Mutex
		started bool
	)
	done := make(chan struct{})
	var wg sync.WaitGroup
	if h.heartbeat > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(h.heartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					mu.Lock()
					if started {
						if _, err := io.WriteString(w, ": ping\n\n"); err == nil {
							flusher.Flush()
						}
					}
					mu.Unlock()
				}
			}
		}()
	}

	err := h.orders.Watch(ctx, identity.UID, chi.URLParam(r, "orderID"), func(view services.OrderView) error {
		data, err := json.Marshal(buildOrderPayload(view))
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if !started {
			started = true
			header := w.Header()
			header.Set("Content-Type", "text/event-stream")
			header.Set("Cache-Control", "no-cache")
			header.Set("Connection", "keep-alive")
			header.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
		}
		if _, err := fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", orderEventName, formatTime(view.Order.UpdatedAt), data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	close(done)
	wg.Wait()
	if err != nil && !started {
		writeOrderError(ctx, w, err)
	}
}

func (h *OrderHandlers) respond(ctx context.Context, w http.ResponseWriter, view services.OrderView, err error) {
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(view))
}

// InternalOrderHandlers accepts fulfilment status updates from authenticated backend services.
type InternalOrderHandlers struct {
	orders services.OrderService
}

// NewInternalOrderHandlers constructs internal order handlers.
func NewInternalOrderHandlers(orders services.OrderService) *InternalOrderHandlers {
	return &InternalOrderHandlers{orders: orders}
}

// Routes registers the /internal/orders endpoints.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/status", h.advanceStatus)
}

type orderStatusRequest struct {
	Status string     `json:"status"`
	At     *time.Time `json:"at"`
}

func (h *InternalOrderHandlers) advanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	var req orderStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status", http.StatusBadRequest))
		return
	}
	actor := "service"
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.Service {
		actor = chooseActor(identity.Email, identity.UID)
	}
	view, err := h.orders.AdvanceStatus(ctx, services.AdvanceOrderStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  status,
		At:      req.At,
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(view))
}

func chooseActor(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return "service"
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	raw = strings.TrimSpace(raw)
	for _, candidate := range []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusProcessing,
		domain.OrderStatusConfirmed,
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	} {
		if strings.EqualFold(raw, string(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

func buildOrderPayload(view services.OrderView) orderPayload {
	order := view.Order
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductKey: item.ProductKey,
			Title:      item.Title,
			ImageURL:   item.ImageURL,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
		})
	}
	payload := orderPayload{
		ID:              order.ID,
		Status:          string(order.Status),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentID:       order.PaymentID,
		Currency:        order.Currency,
		Items:           items,
		Subtotal:        order.Subtotal,
		DeliveryCharge:  order.DeliveryCharge,
		Discount:        order.Discount,
		CouponCode:      order.CouponCode,
		TotalAmount:     order.TotalAmount,
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		DeliveryAddress: buildAddressPayload(order.DeliveryAddress),
		Return: returnEligibilityPayload{
			Eligible:      view.Return.Eligible,
			Reason:        view.Return.Reason,
			DaysRemaining: view.Return.DaysRemaining,
		},
		CanCancel:   view.CanCancel,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		DeliveredAt: formatTimePtr(order.DeliveredAt),
		CancelledAt: formatTimePtr(order.CancelledAt),
	}
	if order.Refund != nil {
		payload.Refund = &refundPayload{
			Status: string(order.Refund.Status),
			Amount: order.Refund.Amount,
			Method: string(order.Refund.Method),
			Date:   formatTimePtr(order.Refund.Date),
			Note:   order.Refund.Note,
		}
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderReturnIneligible):
		httpx.WriteError(ctx, w, httpx.NewError("return_ineligible", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		serviceUnavailable(ctx, w, "order")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
