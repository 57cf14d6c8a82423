// Package local implements the device-scoped repositories on top of the key-value store.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/platform/kvstore"
	"github.com/sfykart/api/internal/repositories"
)

const (
	cartKey   = "sfy_cart_v1"
	buyNowKey = "sfy_buyNow"
)

// Logger receives decode failures that are swallowed by the store.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CartStore keeps the cart and buy-now blobs under a per-device namespace.
type CartStore struct {
	kv     kvstore.Store
	logger Logger
}

var _ repositories.CartStore = (*CartStore)(nil)

// NewCartStore constructs a CartStore over kv.
func NewCartStore(kv kvstore.Store, logger Logger) (*CartStore, error) {
	if kv == nil {
		return nil, errors.New("cart store: kv store is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartStore{kv: kv, logger: logger}, nil
}

// LoadCart reads the device cart. A missing, unreadable or malformed blob yields an empty cart.
func (s *CartStore) LoadCart(ctx context.Context, deviceID string) (domain.Cart, error) {
	ns, err := s.namespace(deviceID)
	if err != nil {
		return domain.Cart{}, err
	}
	raw, ok, err := ns.Get(ctx, cartKey)
	if err != nil {
		s.logger(ctx, "cart.load_failed", map[string]any{"deviceId": deviceID, "error": err})
		return domain.Cart{}, nil
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.Cart{}, nil
	}
	cart, err := decodeCart(raw)
	if err != nil {
		s.logger(ctx, "cart.decode_failed", map[string]any{"deviceId": deviceID, "error": err})
		return domain.Cart{}, nil
	}
	return cart, nil
}

// SaveCart writes the full cart blob.
func (s *CartStore) SaveCart(ctx context.Context, deviceID string, cart domain.Cart) error {
	ns, err := s.namespace(deviceID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(encodeCart(cart))
	if err != nil {
		return err
	}
	return ns.Set(ctx, cartKey, string(data))
}

// LoadBuyNow returns the pending buy-now intent, or nil when there is none.
func (s *CartStore) LoadBuyNow(ctx context.Context, deviceID string) (*domain.BuyNowIntent, error) {
	ns, err := s.namespace(deviceID)
	if err != nil {
		return nil, err
	}
	raw, ok, err := ns.Get(ctx, buyNowKey)
	if err != nil {
		s.logger(ctx, "cart.buy_now_load_failed", map[string]any{"deviceId": deviceID, "error": err})
		return nil, nil
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var doc buyNowBlob
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		s.logger(ctx, "cart.buy_now_decode_failed", map[string]any{"deviceId": deviceID, "error": err})
		return nil, nil
	}
	line, ok := doc.lineBlob.toDomain()
	if !ok {
		return nil, nil
	}
	return &domain.BuyNowIntent{Line: line, CreatedAt: doc.CreatedAt}, nil
}

// SaveBuyNow stores a single-item intent, replacing any previous one.
func (s *CartStore) SaveBuyNow(ctx context.Context, deviceID string, intent domain.BuyNowIntent) error {
	ns, err := s.namespace(deviceID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(buyNowBlob{lineBlob: fromDomainLine(intent.Line), CreatedAt: intent.CreatedAt.UTC()})
	if err != nil {
		return err
	}
	return ns.Set(ctx, buyNowKey, string(data))
}

// ClearBuyNow removes the buy-now intent.
func (s *CartStore) ClearBuyNow(ctx context.Context, deviceID string) error {
	ns, err := s.namespace(deviceID)
	if err != nil {
		return err
	}
	return ns.Remove(ctx, buyNowKey)
}

// Clear removes the cart and the buy-now intent.
func (s *CartStore) Clear(ctx context.Context, deviceID string) error {
	ns, err := s.namespace(deviceID)
	if err != nil {
		return err
	}
	if err := ns.Remove(ctx, cartKey); err != nil {
		return err
	}
	return ns.Remove(ctx, buyNowKey)
}

func (s *CartStore) namespace(deviceID string) (kvstore.Store, error) {
	return deviceNamespace(s.kv, deviceID)
}

func deviceNamespace(kv kvstore.Store, deviceID string) (kvstore.Store, error) {
	id := strings.TrimSpace(deviceID)
	if id == "" {
		return nil, ErrDeviceRequired
	}
	return kvstore.Namespace(kv, "device:"+id), nil
}

// ErrDeviceRequired is returned when a device id is missing.
var ErrDeviceRequired = errors.New("local store: device id is required")

type cartBlob struct {
	Items         []lineBlob `json:"items"`
	SavedForLater []lineBlob `json:"savedForLater,omitempty"`
	CouponCode    string     `json:"couponCode,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt,omitempty"`
}

// lineBlob mirrors the product-shaped JSON the storefront writes. Older blobs carry slug and id
// instead of productKey.
type lineBlob struct {
	ProductKey   string `json:"productKey,omitempty"`
	Slug         string `json:"slug,omitempty"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	ComparePrice int64  `json:"comparePrice,omitempty"`
	Image        string `json:"image,omitempty"`
	Quantity     int    `json:"quantity"`
}

type buyNowBlob struct {
	lineBlob
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

func (b lineBlob) toDomain() (domain.CartLine, bool) {
	key := strings.TrimSpace(b.ProductKey)
	if key == "" {
		key = domain.ProductKey(b.Slug, b.ID)
	}
	if key == "" {
		return domain.CartLine{}, false
	}
	qty := b.Quantity
	if qty <= 0 {
		qty = domain.MinLineQuantity
	}
	return domain.CartLine{
		ProductKey:     key,
		DisplayName:    b.Name,
		UnitPrice:      b.Price,
		CompareAtPrice: b.ComparePrice,
		ImageURL:       b.Image,
		Quantity:       domain.ClampQuantity(qty),
	}, true
}

func fromDomainLine(line domain.CartLine) lineBlob {
	return lineBlob{
		ProductKey:   line.ProductKey,
		Name:         line.DisplayName,
		Price:        line.UnitPrice,
		ComparePrice: line.CompareAtPrice,
		Image:        line.ImageURL,
		Quantity:     line.Quantity,
	}
}

func encodeCart(cart domain.Cart) cartBlob {
	blob := cartBlob{
		Items:      make([]lineBlob, 0, len(cart.Lines)),
		CouponCode: cart.CouponCode,
		UpdatedAt:  cart.UpdatedAt.UTC(),
	}
	for _, line := range cart.Lines {
		blob.Items = append(blob.Items, fromDomainLine(line))
	}
	for _, line := range cart.SavedForLater {
		blob.SavedForLater = append(blob.SavedForLater, fromDomainLine(line))
	}
	return blob
}

// decodeCart accepts the current object form and the legacy bare array of items. Lines that
// resolve to the same product key are merged so the unique-key rule holds after a load.
func decodeCart(raw string) (domain.Cart, error) {
	trimmed := strings.TrimSpace(raw)
	var blob cartBlob
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &blob.Items); err != nil {
			return domain.Cart{}, err
		}
	} else if err := json.Unmarshal([]byte(trimmed), &blob); err != nil {
		return domain.Cart{}, err
	}
	return domain.Cart{
		Lines:         mergeLines(blob.Items),
		SavedForLater: mergeLines(blob.SavedForLater),
		CouponCode:    strings.TrimSpace(blob.CouponCode),
		UpdatedAt:     blob.UpdatedAt,
	}, nil
}

func mergeLines(items []lineBlob) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		line, ok := item.toDomain()
		if !ok {
			continue
		}
		if i, dup := index[line.ProductKey]; dup {
			lines[i].Quantity = domain.ClampQuantity(lines[i].Quantity + line.Quantity)
			continue
		}
		index[line.ProductKey] = len(lines)
		lines = append(lines, line)
	}
	return lines
}
