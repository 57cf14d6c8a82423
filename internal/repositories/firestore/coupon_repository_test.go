package firestore

import (
	"testing"
	"time"
)

func TestDecodeCouponValidTillFormats(t *testing.T) {
	endOfDayIST := time.Date(2024, 1, 31, 18, 29, 59, 999_000_000, time.UTC)
	cases := map[string]struct {
		raw  any
		want *time.Time
	}{
		"bare date runs to end of day in IST": {raw: "2024-01-31", want: &endOfDayIST},
		"rfc3339":                             {raw: "2024-01-31T10:00:00Z", want: ptrTime(time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC))},
		"unix millis":                         {raw: int64(1706695200000), want: ptrTime(time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC))},
		"float millis":                        {raw: 1706695200000.0, want: ptrTime(time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC))},
		"timestamp":                           {raw: time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC), want: ptrTime(time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC))},
		"absent":                              {raw: nil},
		"unparseable":                         {raw: "next week"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			data := map[string]any{"code": "DIWALI", "discountType": "percent", "discountValue": 10.0}
			if tc.raw != nil {
				data["validTill"] = tc.raw
			}
			got := decodeCoupon(data).ValidTill
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("expected no expiry, got %s", got)
			case tc.want != nil && got == nil:
				t.Fatalf("expected expiry %s, got nil", tc.want)
			case tc.want != nil && !got.Equal(*tc.want):
				t.Fatalf("expected expiry %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDecodeCouponBareDateExpiresAfterThatDay(t *testing.T) {
	coupon := decodeCoupon(map[string]any{"code": "DIWALI", "validTill": "2024-01-31"})
	lastMinute := time.Date(2024, 1, 31, 23, 59, 0, 0, offerZone)
	nextMorning := time.Date(2024, 2, 1, 0, 0, 1, 0, offerZone)
	if lastMinute.After(*coupon.ValidTill) {
		t.Fatalf("coupon should still be valid at %s", lastMinute)
	}
	if !nextMorning.After(*coupon.ValidTill) {
		t.Fatalf("coupon should be expired at %s", nextMorning)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
