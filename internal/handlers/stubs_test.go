package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/sfykart/api/internal/platform/auth"
	"github.com/sfykart/api/internal/services"
)

const testDevice = "device-abc"

type stubCartService struct {
	loadFunc         func(ctx context.Context, deviceID string) (services.CartSummary, error)
	addFunc          func(ctx context.Context, deviceID string, line services.CartLine) (services.CartSummary, error)
	updateFunc       func(ctx context.Context, deviceID, productKey string, delta int) (services.CartSummary, error)
	removeFunc       func(ctx context.Context, deviceID, productKey string) (services.CartSummary, error)
	clearFunc        func(ctx context.Context, deviceID string) error
	saveFunc         func(ctx context.Context, deviceID, productKey string) (services.CartSummary, error)
	moveFunc         func(ctx context.Context, deviceID, productKey string) (services.CartSummary, error)
	applyCouponFunc  func(ctx context.Context, deviceID, code string) (services.CartSummary, error)
	removeCouponFunc func(ctx context.Context, deviceID string) (services.CartSummary, error)
	setBuyNowFunc    func(ctx context.Context, deviceID string, line services.CartLine) (services.BuyNowIntent, error)
	clearBuyNowFunc  func(ctx context.Context, deviceID string) error
}

func (s *stubCartService) Load(ctx context.Context, deviceID string) (services.CartSummary, error) {
	if s.loadFunc == nil {
		return services.CartSummary{}, nil
	}
	return s.loadFunc(ctx, deviceID)
}

func (s *stubCartService) AddOrIncrement(ctx context.Context, deviceID string, line services.CartLine) (services.CartSummary, error) {
	if s.addFunc == nil {
		return services.CartSummary{}, nil
	}
	return s.addFunc(ctx, deviceID, line)
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, deviceID, productKey string, delta int) (services.CartSummary, error) {
	if s.updateFunc == nil {
		return services.CartSummary{}, nil
	}
	return s.updateFunc(ctx, deviceID, productKey, delta)
}

func (s *stubCartService) Remove(ctx context.Context, deviceID, productKey string) (services.CartSummary, error) {
	if s.removeFunc == nil {
		return services.CartSummary{}, nil
	}
	return s.removeFunc(ctx, deviceID, productKey)
}

func (s *stubCartService) Clear(ctx context.Context, deviceID string) error {
	if s.clearFunc == nil {
		return nil
	}
	return s.clearFunc(ctx, deviceID)
}

func (s *stubCartService) SaveForLater(ctx context.Context, deviceID, productKey string) (services.CartSummary, error) {
	if s.saveFunc == nil {
		return services.CartSummary{}, nil
	}
	return s.saveFunc(ctx, deviceID, productKey)
}

func (s *stubCartService) MoveToCart(ctx context.Context, deviceID, productKey string) (services.CartSummary, error) {
	if s.moveFunc == nil {
		return services.CartSummary{}, nil
	}
	return s.moveFunc(ctx, deviceID, productKey)
}

func (s *stubCartService) ApplyCoupon(ctx context.Context, deviceID, code string) (services.CartSummary, error) {
	if s.applyCouponFunc == nil {
		return services.CartSummary{}, nil
	}
	return s.applyCouponFunc(ctx, deviceID, code)
}

func (s *stubCartService) RemoveCoupon(ctx context.Context, deviceID string) (services.CartSummary, error) {
	if s.removeCouponFunc == nil {
		return services.CartSummary{}, nil
	}
	return s.removeCouponFunc(ctx, deviceID)
}

func (s *stubCartService) SetBuyNow(ctx context.Context, deviceID string, line services.CartLine) (services.BuyNowIntent, error) {
	if s.setBuyNowFunc == nil {
		return services.BuyNowIntent{Line: line}, nil
	}
	return s.setBuyNowFunc(ctx, deviceID, line)
}

func (s *stubCartService) ClearBuyNow(ctx context.Context, deviceID string) error {
	if s.clearBuyNowFunc == nil {
		return nil
	}
	return s.clearBuyNowFunc(ctx, deviceID)
}

type stubCheckoutService struct {
	beginFunc    func(ctx context.Context, cmd services.BeginCheckoutCommand) (services.CheckoutView, error)
	getFunc      func(ctx context.Context, sessionID, deviceID string) (services.CheckoutView, error)
	addressFunc  func(ctx context.Context, cmd services.SetDeliveryAddressCommand) (services.CheckoutView, error)
	paymentFunc  func(ctx context.Context, cmd services.SelectPaymentCommand) (services.CheckoutView, error)
	submitFunc   func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutView, error)
	completeFunc func(ctx context.Context, cmd services.CompletePaymentCommand) (services.CheckoutView, error)
	abandonFunc  func(ctx context.Context, sessionID, deviceID string) error
}

func (s *stubCheckoutService) Begin(ctx context.Context, cmd services.BeginCheckoutCommand) (services.CheckoutView, error) {
	if s.beginFunc == nil {
		return services.CheckoutView{}, nil
	}
	return s.beginFunc(ctx, cmd)
}

func (s *stubCheckoutService) Get(ctx context.Context, sessionID, deviceID string) (services.CheckoutView, error) {
	if s.getFunc == nil {
		return services.CheckoutView{}, nil
	}
	return s.getFunc(ctx, sessionID, deviceID)
}

func (s *stubCheckoutService) SetDeliveryAddress(ctx context.Context, cmd services.SetDeliveryAddressCommand) (services.CheckoutView, error) {
	if s.addressFunc == nil {
		return services.CheckoutView{}, nil
	}
	return s.addressFunc(ctx, cmd)
}

func (s *stubCheckoutService) SelectPayment(ctx context.Context, cmd services.SelectPaymentCommand) (services.CheckoutView, error) {
	if s.paymentFunc == nil {
		return services.CheckoutView{}, nil
	}
	return s.paymentFunc(ctx, cmd)
}

func (s *stubCheckoutService) Submit(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutView, error) {
	if s.submitFunc == nil {
		return services.CheckoutView{}, nil
	}
	return s.submitFunc(ctx, cmd)
}

func (s *stubCheckoutService) CompletePayment(ctx context.Context, cmd services.CompletePaymentCommand) (services.CheckoutView, error) {
	if s.completeFunc == nil {
		return services.CheckoutView{}, nil
	}
	return s.completeFunc(ctx, cmd)
}

func (s *stubCheckoutService) Abandon(ctx context.Context, sessionID, deviceID string) error {
	if s.abandonFunc == nil {
		return nil
	}
	return s.abandonFunc(ctx, sessionID, deviceID)
}

type stubOrderService struct {
	listFunc    func(ctx context.Context, userID string) ([]services.OrderView, error)
	getFunc     func(ctx context.Context, userID, orderID string) (services.OrderView, error)
	watchFunc   func(ctx context.Context, userID, orderID string, fn func(services.OrderView) error) error
	cancelFunc  func(ctx context.Context, userID, orderID string) (services.OrderView, error)
	returnFunc  func(ctx context.Context, cmd services.RequestReturnCommand) (services.OrderView, error)
	advanceFunc func(ctx context.Context, cmd services.AdvanceOrderStatusCommand) (services.OrderView, error)
}

func (s *stubOrderService) ListOrders(ctx context.Context, userID string) ([]services.OrderView, error) {
	if s.listFunc == nil {
		return nil, nil
	}
	return s.listFunc(ctx, userID)
}

func (s *stubOrderService) GetOrder(ctx context.Context, userID, orderID string) (services.OrderView, error) {
	if s.getFunc == nil {
		return services.OrderView{}, nil
	}
	return s.getFunc(ctx, userID, orderID)
}

func (s *stubOrderService) Watch(ctx context.Context, userID, orderID string, fn func(services.OrderView) error) error {
	if s.watchFunc == nil {
		return nil
	}
	return s.watchFunc(ctx, userID, orderID, fn)
}

func (s *stubOrderService) Cancel(ctx context.Context, userID, orderID string) (services.OrderView, error) {
	if s.cancelFunc == nil {
		return services.OrderView{}, nil
	}
	return s.cancelFunc(ctx, userID, orderID)
}

func (s *stubOrderService) RequestReturn(ctx context.Context, cmd services.RequestReturnCommand) (services.OrderView, error) {
	if s.returnFunc == nil {
		return services.OrderView{}, nil
	}
	return s.returnFunc(ctx, cmd)
}

func (s *stubOrderService) AdvanceStatus(ctx context.Context, cmd services.AdvanceOrderStatusCommand) (services.OrderView, error) {
	if s.advanceFunc == nil {
		return services.OrderView{}, nil
	}
	return s.advanceFunc(ctx, cmd)
}

type stubProfileService struct {
	getFunc     func(ctx context.Context, userID, deviceID string) (services.UserProfile, error)
	updateFunc  func(ctx context.Context, cmd services.UpdateProfileCommand) (services.UserProfile, error)
	avatarFunc  func(ctx context.Context, userID, contentType string) (services.AvatarUpload, error)
	signOutFunc func(ctx context.Context, deviceID string) error
}

func (s *stubProfileService) Get(ctx context.Context, userID, deviceID string) (services.UserProfile, error) {
	if s.getFunc == nil {
		return services.UserProfile{UID: userID}, nil
	}
	return s.getFunc(ctx, userID, deviceID)
}

func (s *stubProfileService) Update(ctx context.Context, cmd services.UpdateProfileCommand) (services.UserProfile, error) {
	if s.updateFunc == nil {
		return services.UserProfile{UID: cmd.UserID}, nil
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubProfileService) AvatarUploadURL(ctx context.Context, userID, contentType string) (services.AvatarUpload, error) {
	if s.avatarFunc == nil {
		return services.AvatarUpload{}, services.ErrAvatarUploadDisabled
	}
	return s.avatarFunc(ctx, userID, contentType)
}

func (s *stubProfileService) SignedOut(ctx context.Context, deviceID string) error {
	if s.signOutFunc == nil {
		return nil
	}
	return s.signOutFunc(ctx, deviceID)
}

type stubAddressService struct {
	listFunc       func(ctx context.Context, userID string) ([]services.Address, error)
	addFunc        func(ctx context.Context, userID string, addr services.Address) (services.Address, error)
	updateFunc     func(ctx context.Context, userID, addressID string, patch services.AddressPatch) (services.Address, error)
	deleteFunc     func(ctx context.Context, userID, addressID string) error
	setDefaultFunc func(ctx context.Context, userID, addressID string) ([]services.Address, error)
}

func (s *stubAddressService) List(ctx context.Context, userID string) ([]services.Address, error) {
	if s.listFunc == nil {
		return nil, nil
	}
	return s.listFunc(ctx, userID)
}

func (s *stubAddressService) Add(ctx context.Context, userID string, addr services.Address) (services.Address, error) {
	if s.addFunc == nil {
		return addr, nil
	}
	return s.addFunc(ctx, userID, addr)
}

func (s *stubAddressService) Update(ctx context.Context, userID, addressID string, patch services.AddressPatch) (services.Address, error) {
	if s.updateFunc == nil {
		return services.Address{ID: addressID}, nil
	}
	return s.updateFunc(ctx, userID, addressID, patch)
}

func (s *stubAddressService) Delete(ctx context.Context, userID, addressID string) error {
	if s.deleteFunc == nil {
		return nil
	}
	return s.deleteFunc(ctx, userID, addressID)
}

func (s *stubAddressService) SetDefault(ctx context.Context, userID, addressID string) ([]services.Address, error) {
	if s.setDefaultFunc == nil {
		return nil, nil
	}
	return s.setDefaultFunc(ctx, userID, addressID)
}

type stubReviewService struct {
	submitFunc func(ctx context.Context, cmd services.SubmitReviewCommand) (services.Review, services.ProductRating, error)
	ratingFunc func(ctx context.Context, productKey string) (services.ProductRating, error)
	listFunc   func(ctx context.Context, productKey string, limit int) ([]services.Review, error)
}

func (s *stubReviewService) Submit(ctx context.Context, cmd services.SubmitReviewCommand) (services.Review, services.ProductRating, error) {
	if s.submitFunc == nil {
		return services.Review{}, services.ProductRating{}, nil
	}
	return s.submitFunc(ctx, cmd)
}

func (s *stubReviewService) Rating(ctx context.Context, productKey string) (services.ProductRating, error) {
	if s.ratingFunc == nil {
		return services.ProductRating{ProductKey: productKey}, nil
	}
	return s.ratingFunc(ctx, productKey)
}

func (s *stubReviewService) List(ctx context.Context, productKey string, limit int) ([]services.Review, error) {
	if s.listFunc == nil {
		return nil, nil
	}
	return s.listFunc(ctx, productKey, limit)
}

type stubServiceabilityService struct {
	checkFunc func(ctx context.Context, pincode string) (services.Serviceability, error)
}

func (s *stubServiceabilityService) Check(ctx context.Context, pincode string) (services.Serviceability, error) {
	return s.checkFunc(ctx, pincode)
}

type stubSystemService struct {
	report services.HealthReport
	err    error
}

func (s *stubSystemService) Health(context.Context) (services.HealthReport, error) {
	return s.report, s.err
}

// serve mounts routes under prefix, attaches the identity (when uid is non-empty) and the device
// header, then records the response.
func serve(t *testing.T, prefix string, routes RouteRegistrar, method, target, body, uid string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Route(prefix, routes)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(deviceHeader, testDevice)
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Name: "Asha Rao", Phone: "+919800000000"}))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	payload := decodeResponse[map[string]any](t, rr)
	code, _ := payload["error"].(string)
	return code
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}


type stubCatalogService struct {
	trendingFunc func(ctx context.Context) ([]services.Product, error)
	featuredFunc func(ctx context.Context) ([]services.Product, error)
	getFunc      func(ctx context.Context, key string) (services.Product, error)
	relatedFunc  func(ctx context.Context, key string) ([]services.Product, error)
}

func (s *stubCatalogService) Trending(ctx context.Context) ([]services.Product, error) {
	if s.trendingFunc == nil {
		return nil, nil
	}
	return s.trendingFunc(ctx)
}

func (s *stubCatalogService) Featured(ctx context.Context) ([]services.Product, error) {
	if s.featuredFunc == nil {
		return nil, nil
	}
	return s.featuredFunc(ctx)
}

func (s *stubCatalogService) Get(ctx context.Context, key string) (services.Product, error) {
	if s.getFunc == nil {
		return services.Product{}, services.ErrProductNotFound
	}
	return s.getFunc(ctx, key)
}

func (s *stubCatalogService) Related(ctx context.Context, key string) ([]services.Product, error) {
	if s.relatedFunc == nil {
		return nil, nil
	}
	return s.relatedFunc(ctx, key)
}
