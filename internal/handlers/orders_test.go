package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/platform/auth"
	"github.com/sfykart/api/internal/services"
)

func sampleOrderView(status domain.OrderStatus) services.OrderView {
	created := time.Date(2024, 9, 20, 12, 0, 0, 0, time.UTC)
	return services.OrderView{
		Order: services.Order{
			ID:            "ORD01J9Z6X3Q4",
			UserID:        "user-1",
			Status:        status,
			PaymentMethod: domain.PaymentMethodCOD,
			PaymentStatus: domain.PaymentStatusCOD,
			Currency:      "INR",
			Items: []services.OrderItem{
				{ProductKey: "silk-saree", Title: "Silk Saree", UnitPrice: 45000, Quantity: 1},
			},
			Subtotal:       45000,
			DeliveryCharge: 3900,
			TotalAmount:    48900,
			CreatedAt:      created,
			UpdatedAt:      created,
		},
		Return:    services.ReturnEligibility{Eligible: false, Reason: "not delivered"},
		CanCancel: status.Cancellable(),
	}
}

func TestOrderHandlersList(t *testing.T) {
	service := &stubOrderService{
		listFunc: func(_ context.Context, userID string) ([]services.OrderView, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			return []services.OrderView{sampleOrderView(domain.OrderStatusConfirmed)}, nil
		},
	}
	handler := NewOrderHandlers(nil, service)
	rr := serve(t, "/orders", handler.Routes, http.MethodGet, "/orders", "", "user-1")
	assertStatus(t, rr, http.StatusOK)

	resp := decodeResponse[orderListResponse](t, rr)
	if len(resp.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(resp.Items))
	}
	got := resp.Items[0]
	if got.Status != "Confirmed" || got.TotalAmount != 48900 || !got.CanCancel {
		t.Fatalf("unexpected order payload %#v", got)
	}
	if got.Return.Reason != "not delivered" {
		t.Fatalf("expected return reason, got %#v", got.Return)
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	rr := serve(t, "/orders", handler.Routes, http.MethodGet, "/orders", "", "")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestOrderHandlersCancelErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{services.ErrOrderNotCancellable, http.StatusConflict, "order_not_cancellable"},
		{services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_service_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			service := &stubOrderService{
				cancelFunc: func(context.Context, string, string) (services.OrderView, error) {
					return services.OrderView{}, tc.err
				},
			}
			handler := NewOrderHandlers(nil, service)
			rr := serve(t, "/orders", handler.Routes, http.MethodPost, "/orders/ORD1/cancel", "", "user-1")
			assertStatus(t, rr, tc.status)
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected %q, got %q", tc.code, code)
			}
		})
	}
}

func TestOrderHandlersRequestReturn(t *testing.T) {
	var captured services.RequestReturnCommand
	service := &stubOrderService{
		returnFunc: func(_ context.Context, cmd services.RequestReturnCommand) (services.OrderView, error) {
			captured = cmd
			view := sampleOrderView(domain.OrderStatusDelivered)
			view.Order.Refund = &services.Refund{Status: domain.RefundStatusRequested, Amount: 48900, Method: cmd.Method}
			return view, nil
		},
	}
	handler := NewOrderHandlers(nil, service)
	rr := serve(t, "/orders", handler.Routes, http.MethodPost, "/orders/ORD1/return", `{"reason":"wrong size","method":"BANK"}`, "user-1")
	assertStatus(t, rr, http.StatusOK)

	if captured.OrderID != "ORD1" || captured.Method != domain.RefundMethodBank || captured.Reason != "wrong size" {
		t.Fatalf("unexpected command %#v", captured)
	}
	resp := decodeResponse[orderPayload](t, rr)
	if resp.Refund == nil || resp.Refund.Status != "requested" || resp.Refund.Method != "bank" {
		t.Fatalf("unexpected refund %#v", resp.Refund)
	}

	rr = serve(t, "/orders", handler.Routes, http.MethodPost, "/orders/ORD1/return", "", "user-1")
	assertStatus(t, rr, http.StatusOK)
	if captured.Method != "" {
		t.Fatalf("expected default method to be left to the service, got %q", captured.Method)
	}
}

func TestOrderHandlersStreamWritesEvents(t *testing.T) {
	service := &stubOrderService{
		watchFunc: func(_ context.Context, userID, orderID string, fn func(services.OrderView) error) error {
			if userID != "user-1" || orderID != "ORD1" {
				t.Fatalf("unexpected watch %q %q", userID, orderID)
			}
			if err := fn(sampleOrderView(domain.OrderStatusConfirmed)); err != nil {
				return err
			}
			return fn(sampleOrderView(domain.OrderStatusPacked))
		},
	}
	handler := NewOrderHandlers(nil, service)
	rr := serve(t, "/order-events", handler.StreamRoutes, http.MethodGet, "/order-events/ORD1", "", "user-1")
	assertStatus(t, rr, http.StatusOK)

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}
	body := rr.Body.String()
	if strings.Count(body, "event: order\n") != 2 {
		t.Fatalf("expected two events, got %q", body)
	}
	if !strings.Contains(body, `"status":"Packed"`) {
		t.Fatalf("expected packed update in %q", body)
	}
}

func TestOrderHandlersStreamOutlivesServerWriteTimeout(t *testing.T) {
	service := &stubOrderService{
		watchFunc: func(ctx context.Context, _, _ string, fn func(services.OrderView) error) error {
			if err := fn(sampleOrderView(domain.OrderStatusShipped)); err != nil {
				return err
			}
			select {
			case <-time.After(1500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			return fn(sampleOrderView(domain.OrderStatusDelivered))
		},
	}
	handler := NewOrderHandlers(nil, service)
	handler.heartbeat = 200 * time.Millisecond

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{UID: "user-1"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Route("/order-events", handler.StreamRoutes)

	srv := httptest.NewUnstartedServer(router)
	srv.Config.WriteTimeout = time.Second
	srv.Start()
	t.Cleanup(srv.Close)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "/order-events/ORD1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v (received %q)", err, raw)
	}
	body := string(raw)
	if got := strings.Count(body, "event: order\n"); got != 2 {
		t.Fatalf("expected both events past the write timeout, got %d in %q", got, body)
	}
	if !strings.Contains(body, `"status":"Delivered"`) {
		t.Fatalf("expected delivered update in %q", body)
	}
	if !strings.Contains(body, ": ping\n\n") {
		t.Fatalf("expected heartbeat comments while idle, got %q", body)
	}
}

func TestOrderHandlersStreamNotFound(t *testing.T) {
	service := &stubOrderService{
		watchFunc: func(context.Context, string, string, func(services.OrderView) error) error {
			return services.ErrOrderNotFound
		},
	}
	handler := NewOrderHandlers(nil, service)
	rr := serve(t, "/order-events", handler.StreamRoutes, http.MethodGet, "/order-events/ORD404", "", "user-1")
	assertStatus(t, rr, http.StatusNotFound)
}

func TestInternalOrderHandlersAdvanceStatus(t *testing.T) {
	var captured services.AdvanceOrderStatusCommand
	service := &stubOrderService{
		advanceFunc: func(_ context.Context, cmd services.AdvanceOrderStatusCommand) (services.OrderView, error) {
			captured = cmd
			return sampleOrderView(cmd.Status), nil
		},
	}
	handler := NewInternalOrderHandlers(service)
	rr := serve(t, "/internal", handler.Routes, http.MethodPost, "/internal/orders/ORD1/status", `{"status":"outfordelivery"}`, "")
	assertStatus(t, rr, http.StatusOK)
	if captured.Status != domain.OrderStatusOutForDelivery || captured.Actor != "service" {
		t.Fatalf("unexpected command %#v", captured)
	}

	rr = serve(t, "/internal", handler.Routes, http.MethodPost, "/internal/orders/ORD1/status", `{"status":"lost"}`, "")
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestInternalOrderHandlersRejectsBackwardsTransition(t *testing.T) {
	service := &stubOrderService{
		advanceFunc: func(context.Context, services.AdvanceOrderStatusCommand) (services.OrderView, error) {
			return services.OrderView{}, services.ErrOrderInvalidTransition
		},
	}
	handler := NewInternalOrderHandlers(service)
	rr := serve(t, "/internal", handler.Routes, http.MethodPost, "/internal/orders/ORD1/status", `{"status":"Pending"}`, "")
	assertStatus(t, rr, http.StatusConflict)
}
