package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/platform/auth"
	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/platform/requestctx"
	"github.com/sfykart/api/internal/services"
)

const defaultBodyLimit = 16 * 1024

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

// decodeBody decodes a JSON body and writes the error response on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst, defaultBodyLimit); err != nil {
		httpx.WriteDecodeError(r.Context(), w, err)
		return false
	}
	return true
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func optionalUserID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return strings.TrimSpace(identity.UID)
}

func deviceID(ctx context.Context) string {
	return requestctx.DeviceID(ctx)
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type addressPayload struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Mobile    string `json:"mobile"`
	Street    string `json:"street"`
	Post      string `json:"post,omitempty"`
	District  string `json:"district,omitempty"`
	State     string `json:"state,omitempty"`
	Pincode   string `json:"pincode"`
	IsDefault bool   `json:"isDefault,omitempty"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:        addr.ID,
		Name:      addr.Name,
		Mobile:    addr.Mobile,
		Street:    addr.Street,
		Post:      addr.Post,
		District:  addr.District,
		State:     addr.State,
		Pincode:   addr.Pincode,
		IsDefault: addr.IsDefault,
	}
}

func (p addressPayload) toAddress() services.Address {
	return services.Address{
		ID:       strings.TrimSpace(p.ID),
		Name:     p.Name,
		Mobile:   p.Mobile,
		Street:   p.Street,
		Post:     p.Post,
		District: p.District,
		State:    p.State,
		Pincode:  p.Pincode,
	}
}

type totalsPayload struct {
	Subtotal       int64          `json:"subtotal"`
	YouSave        int64          `json:"youSave"`
	ItemCount      int            `json:"itemCount"`
	DeliveryCharge int64          `json:"deliveryCharge"`
	Discount       int64          `json:"discount"`
	Payable        int64          `json:"payable"`
	Coupon         *couponPayload `json:"coupon,omitempty"`
}

type couponPayload struct {
	Code    string `json:"code"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

func buildTotalsPayload(t services.Totals) totalsPayload {
	payload := totalsPayload{
		Subtotal:       t.Subtotal,
		YouSave:        t.YouSave,
		ItemCount:      t.ItemCount,
		DeliveryCharge: t.DeliveryCharge,
		Discount:       t.Discount,
		Payable:        t.Payable,
	}
	if t.Coupon != nil {
		payload.Coupon = &couponPayload{Code: t.Coupon.Code, Applied: t.Coupon.Applied, Reason: t.Coupon.Reason}
	}
	return payload
}

type lineRequest struct {
	ProductID      string `json:"productId"`
	Slug           string `json:"slug"`
	DisplayName    string `json:"displayName"`
	UnitPrice      int64  `json:"unitPrice"`
	CompareAtPrice int64  `json:"compareAtPrice"`
	ImageURL       string `json:"imageUrl"`
	Quantity       int    `json:"quantity"`
}

func (l lineRequest) toLine() (services.CartLine, error) {
	key := domain.ProductKey(l.Slug, l.ProductID)
	if key == "" {
		return services.CartLine{}, errors.New("slug or productId is required")
	}
	return services.CartLine{
		ProductKey:     key,
		DisplayName:    strings.TrimSpace(l.DisplayName),
		UnitPrice:      l.UnitPrice,
		CompareAtPrice: l.CompareAtPrice,
		ImageURL:       strings.TrimSpace(l.ImageURL),
		Quantity:       l.Quantity,
	}, nil
}

type linePayload struct {
	ProductKey     string `json:"productKey"`
	DisplayName    string `json:"displayName"`
	UnitPrice      int64  `json:"unitPrice"`
	CompareAtPrice int64  `json:"compareAtPrice,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	Quantity       int    `json:"quantity"`
}

func buildLinePayloads(lines []services.CartLine) []linePayload {
	out := make([]linePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, linePayload{
			ProductKey:     line.ProductKey,
			DisplayName:    line.DisplayName,
			UnitPrice:      line.UnitPrice,
			CompareAtPrice: line.CompareAtPrice,
			ImageURL:       line.ImageURL,
			Quantity:       line.Quantity,
		})
	}
	return out
}
