package firestore

import "testing"

func TestDecodeRatingIgnoresInvalidStars(t *testing.T) {
	rating := decodeRating("saree", map[string]any{
		"avgRating":    4.5,
		"totalReviews": int64(3),
		"ratingsCount": map[string]any{"5": int64(2), "4": int64(1), "9": int64(7), "x": int64(1)},
	})

	if rating.TotalReviews != 3 || rating.AvgRating != 4.5 {
		t.Fatalf("unexpected rating %#v", rating)
	}
	if len(rating.RatingsCount) != 2 || rating.RatingsCount[5] != 2 {
		t.Fatalf("unexpected counts %#v", rating.RatingsCount)
	}

	next := rating.Add(3)
	fields := ratingsCountFields(next.RatingsCount)
	if fields["3"] != 1 || fields["1"] != 0 || len(fields) != 5 {
		t.Fatalf("unexpected stored counts %#v", fields)
	}
}

func TestBlockedIn(t *testing.T) {
	data := map[string]any{"pincodes": map[string]any{"273212": true, "110001": false}}
	if !blockedIn(data, "273212") {
		t.Fatalf("expected 273212 blocked")
	}
	if blockedIn(data, "110001") || blockedIn(data, "560001") {
		t.Fatalf("expected only explicit true to block")
	}
	if blockedIn(map[string]any{}, "273212") {
		t.Fatalf("expected empty policy to block nothing")
	}
}

func TestDecodeCouponConvertsFlatToPaise(t *testing.T) {
	flat := decodeCoupon(map[string]any{"code": "SAVE50", "discountType": "flat", "discountValue": int64(50)})
	if flat.DiscountValue != 5000 {
		t.Fatalf("expected 5000 paise, got %v", flat.DiscountValue)
	}
	pct := decodeCoupon(map[string]any{"code": "TEN", "discountType": "Percent", "discountValue": 10.0})
	if pct.DiscountValue != 10 || pct.DiscountType != "percent" {
		t.Fatalf("unexpected percent coupon %#v", pct)
	}
}
