package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sfykart/api/internal/services"
)

func sampleSummary() services.CartSummary {
	return services.CartSummary{
		Cart: services.Cart{
			Lines: []services.CartLine{
				{ProductKey: "silk-saree", DisplayName: "Silk Saree", UnitPrice: 45000, CompareAtPrice: 60000, Quantity: 1},
			},
			SavedForLater: []services.CartLine{
				{ProductKey: "cotton-kurta", DisplayName: "Cotton Kurta", UnitPrice: 12000, Quantity: 1},
			},
			CouponCode: "FESTIVE10",
			UpdatedAt:  time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC),
		},
		Totals: services.Totals{
			Subtotal:       45000,
			YouSave:        15000,
			ItemCount:      1,
			DeliveryCharge: 3900,
			Discount:       4500,
			Payable:        44400,
		},
	}
}

func TestCartHandlersGetCart(t *testing.T) {
	service := &stubCartService{
		loadFunc: func(_ context.Context, deviceID string) (services.CartSummary, error) {
			if deviceID != testDevice {
				t.Fatalf("unexpected device id %q", deviceID)
			}
			return sampleSummary(), nil
		},
	}
	handler := NewCartHandlers(service)

	rr := serve(t, "/cart", handler.Routes, http.MethodGet, "/cart", "", "")
	assertStatus(t, rr, http.StatusOK)
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected no-store cache control, got %q", cc)
	}

	resp := decodeResponse[cartResponse](t, rr)
	if len(resp.Items) != 1 || resp.Items[0].ProductKey != "silk-saree" {
		t.Fatalf("unexpected items %#v", resp.Items)
	}
	if len(resp.SavedForLater) != 1 {
		t.Fatalf("expected one saved item, got %d", len(resp.SavedForLater))
	}
	if resp.Totals.Payable != 44400 || resp.Totals.DeliveryCharge != 3900 {
		t.Fatalf("unexpected totals %#v", resp.Totals)
	}
	if resp.CouponCode != "FESTIVE10" {
		t.Fatalf("expected coupon code, got %q", resp.CouponCode)
	}
}

func TestCartHandlersRequireDevice(t *testing.T) {
	handler := NewCartHandlers(&stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assertStatus(t, rr, http.StatusBadRequest)
	if code := errorCode(t, rr); code != "device_required" {
		t.Fatalf("expected device_required, got %q", code)
	}
}

func TestCartHandlersAddItemUsesSlugAsKey(t *testing.T) {
	var captured services.CartLine
	service := &stubCartService{
		addFunc: func(_ context.Context, _ string, line services.CartLine) (services.CartSummary, error) {
			captured = line
			return services.CartSummary{Cart: services.Cart{Lines: []services.CartLine{line}}}, nil
		},
	}
	handler := NewCartHandlers(service)

	body := `{"productId":"p-991","slug":"silk-saree","displayName":" Silk Saree ","unitPrice":45000,"quantity":2}`
	rr := serve(t, "/cart", handler.Routes, http.MethodPost, "/cart/items", body, "")
	assertStatus(t, rr, http.StatusOK)

	if captured.ProductKey != "silk-saree" {
		t.Fatalf("expected slug product key, got %q", captured.ProductKey)
	}
	if captured.DisplayName != "Silk Saree" || captured.Quantity != 2 {
		t.Fatalf("unexpected line %#v", captured)
	}
}

func TestCartHandlersAddItemWithoutClientPrice(t *testing.T) {
	service := &stubCartService{
		addFunc: func(_ context.Context, _ string, line services.CartLine) (services.CartSummary, error) {
			if line.ProductKey == "ghost" {
				return services.CartSummary{}, services.ErrCartProductNotFound
			}
			line.UnitPrice = 45000
			return services.CartSummary{Cart: services.Cart{Lines: []services.CartLine{line}}}, nil
		},
	}
	handler := NewCartHandlers(service)

	rr := serve(t, "/cart", handler.Routes, http.MethodPost, "/cart/items", `{"slug":"silk-saree","quantity":1}`, "")
	assertStatus(t, rr, http.StatusOK)
	if resp := decodeResponse[cartResponse](t, rr); resp.Items[0].UnitPrice != 45000 {
		t.Fatalf("expected server price, got %#v", resp.Items)
	}

	rr = serve(t, "/cart", handler.Routes, http.MethodPost, "/cart/items", `{"slug":"ghost"}`, "")
	assertStatus(t, rr, http.StatusNotFound)
}

func TestCartHandlersAddItemRequiresProductKey(t *testing.T) {
	handler := NewCartHandlers(&stubCartService{})
	rr := serve(t, "/cart", handler.Routes, http.MethodPost, "/cart/items", `{"displayName":"x","unitPrice":100}`, "")
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestCartHandlersRejectUnknownFields(t *testing.T) {
	handler := NewCartHandlers(&stubCartService{})
	rr := serve(t, "/cart", handler.Routes, http.MethodPatch, "/cart/items/silk-saree", `{"delta":1,"extra":true}`, "")
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestCartHandlersUpdateQuantity(t *testing.T) {
	service := &stubCartService{
		updateFunc: func(_ context.Context, _ string, productKey string, delta int) (services.CartSummary, error) {
			if productKey != "silk-saree" || delta != -1 {
				t.Fatalf("unexpected update %q %d", productKey, delta)
			}
			return sampleSummary(), nil
		},
	}
	handler := NewCartHandlers(service)
	rr := serve(t, "/cart", handler.Routes, http.MethodPatch, "/cart/items/silk-saree", `{"delta":-1}`, "")
	assertStatus(t, rr, http.StatusOK)
}

func TestCartHandlersCouponErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("wrap: %w", services.ErrCouponNotFound), http.StatusUnprocessableEntity, "coupon_invalid"},
		{"expired", services.ErrCouponExpired, http.StatusUnprocessableEntity, "coupon_expired"},
		{"empty cart", services.ErrCartEmpty, http.StatusUnprocessableEntity, "cart_empty"},
		{"unavailable", services.ErrCouponUnavailable, http.StatusServiceUnavailable, "cart_service_unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "cart_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCartService{
				applyCouponFunc: func(context.Context, string, string) (services.CartSummary, error) {
					return services.CartSummary{}, tc.err
				},
			}
			handler := NewCartHandlers(service)
			rr := serve(t, "/cart", handler.Routes, http.MethodPut, "/cart/coupon", `{"code":"NOPE"}`, "")
			assertStatus(t, rr, tc.status)
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, code)
			}
		})
	}
}

func TestCartHandlersCouponErrorIsReported(t *testing.T) {
	service := &stubCartService{
		loadFunc: func(context.Context, string) (services.CartSummary, error) {
			summary := sampleSummary()
			summary.CouponError = services.ErrCouponExpired
			return summary, nil
		},
	}
	handler := NewCartHandlers(service)
	rr := serve(t, "/cart", handler.Routes, http.MethodGet, "/cart", "", "")
	assertStatus(t, rr, http.StatusOK)
	resp := decodeResponse[cartResponse](t, rr)
	if resp.CouponError == "" {
		t.Fatalf("expected coupon error to be reported")
	}
}

func TestCartHandlersBuyNow(t *testing.T) {
	created := time.Date(2024, 10, 2, 8, 0, 0, 0, time.UTC)
	service := &stubCartService{
		setBuyNowFunc: func(_ context.Context, _ string, line services.CartLine) (services.BuyNowIntent, error) {
			return services.BuyNowIntent{Line: line, CreatedAt: created}, nil
		},
	}
	handler := NewCartHandlers(service)
	rr := serve(t, "/cart", handler.Routes, http.MethodPut, "/cart/buy-now", `{"productId":"p-1","displayName":"Dupatta","unitPrice":9900,"quantity":1}`, "")
	assertStatus(t, rr, http.StatusOK)
	resp := decodeResponse[buyNowResponse](t, rr)
	if resp.Item.ProductKey != "p-1" {
		t.Fatalf("expected id fallback key, got %q", resp.Item.ProductKey)
	}
	if resp.CreatedAt != created.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected createdAt %q", resp.CreatedAt)
	}
}

func TestCartHandlersClear(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearFunc: func(context.Context, string) error {
			cleared = true
			return nil
		},
	}
	handler := NewCartHandlers(service)
	rr := serve(t, "/cart", handler.Routes, http.MethodDelete, "/cart", "", "")
	assertStatus(t, rr, http.StatusNoContent)
	if !cleared {
		t.Fatalf("expected cart to be cleared")
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	handler := NewCartHandlers(nil)
	rr := serve(t, "/cart", handler.Routes, http.MethodGet, "/cart", "", "")
	assertStatus(t, rr, http.StatusServiceUnavailable)
}
