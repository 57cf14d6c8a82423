package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sfykart/api/internal/domain"
	pfirestore "github.com/sfykart/api/internal/platform/firestore"
	"github.com/sfykart/api/internal/repositories"
)

const (
	couponCollection = "coupons"
	offerCollection  = "offers"
)

// CouponRepository reads coupons/{CODE} and the per-product offers/{productKey} lists.
type CouponRepository struct {
	provider *pfirestore.Provider
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{provider: provider}, nil
}

// FindCoupon loads the coupon stored under code.
func (r *CouponRepository) FindCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	ref, err := r.doc(ctx, couponCollection, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	doc, err := pfirestore.Get(ctx, ref, pfirestore.MapDecoder())
	if err != nil {
		return domain.Coupon{}, err
	}
	coupon := decodeCoupon(doc.Data)
	if coupon.Code == "" {
		coupon.Code = doc.ID
	}
	return coupon, nil
}

// ListProductOffers returns the offers array of offers/{productKey}.
func (r *CouponRepository) ListProductOffers(ctx context.Context, productKey string) ([]domain.Coupon, error) {
	ref, err := r.doc(ctx, offerCollection, productKey)
	if err != nil {
		return nil, err
	}
	doc, err := pfirestore.Get(ctx, ref, pfirestore.MapDecoder())
	if err != nil {
		return nil, err
	}
	list, _ := doc.Data["offers"].([]any)
	offers := make([]domain.Coupon, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if coupon := decodeCoupon(m); coupon.Code != "" {
			offers = append(offers, coupon)
		}
	}
	return offers, nil
}

func (r *CouponRepository) doc(ctx context.Context, collection, id string) (*firestore.DocumentRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("coupon repository not initialised")
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return nil, pfirestore.NotFound(collection+".get", "empty or invalid key")
	}
	coll, err := r.provider.Collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// decodeCoupon maps the stored coupon. Flat discount values are stored in rupees and converted
// to paise; percent values are kept as a percentage.
func decodeCoupon(data map[string]any) domain.Coupon {
	coupon := domain.Coupon{
		Code:         firstString(data, "code"),
		DiscountType: domain.DiscountType(strings.ToLower(firstString(data, "discountType"))),
		ValidTill:    expiryTime(data["validTill"]),
	}
	value := numberValue(data["discountValue"])
	if coupon.DiscountType == domain.DiscountTypeFlat {
		value *= 100
	}
	coupon.DiscountValue = value
	return coupon
}

// offerZone is the storefront's business day. Offers are entered as bare dates in the console.
var offerZone = time.FixedZone("IST", 5*60*60+30*60)

// expiryTime reads validTill. A bare date such as "2024-01-31" is valid through the end of that
// day in IST; every other shape is read by timeValue.
func expiryTime(raw any) *time.Time {
	if s, ok := raw.(string); ok {
		if day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(s), offerZone); err == nil {
			end := day.AddDate(0, 0, 1).Add(-time.Millisecond).UTC()
			return &end
		}
	}
	if t := timeValue(raw); !t.IsZero() {
		return &t
	}
	return nil
}

func numberValue(raw any) float64 {
	switch v := raw.(type) {
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

// Ensure interface compliance.
var _ repositories.CouponRepository = (*CouponRepository)(nil)
