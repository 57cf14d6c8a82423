package firestore

import (
	"math"
	"strings"
	"time"

	domain "github.com/sfykart/api/internal/domain"
)

// Orders written by older app builds use a looser shape. normaliseOrder is the one place
// where the stored document is reconciled into a canonical domain.Order.
func normaliseOrder(id string, data map[string]any) domain.Order {
	scale := amountScale(data)
	order := domain.Order{
		ID:              firstString(data, "orderId"),
		UserID:          firstString(data, "userId"),
		Items:           normaliseItems(data["items"], scale),
		BillingAddress:  embeddedAddress(data["billingAddress"]),
		DeliveryAddress: embeddedAddress(data["deliveryAddress"]),
		PaymentID:       firstString(data, "paymentId", "razorpayPaymentId"),
		ProviderOrderID: firstString(data, "providerOrderId", "razorpayOrderId"),
		Currency:        firstString(data, "currency"),
		Subtotal:        firstAmount(data, scale, "subtotal"),
		DeliveryCharge:  firstAmount(data, scale, "deliveryCharge"),
		Discount:        firstAmount(data, scale, "discount"),
		CouponCode:      firstString(data, "couponCode"),
		TotalAmount:     firstAmount(data, scale, "totalAmount", "amount"),
		Refund:          normaliseRefund(data["refund"], scale),
		CreatedAt:       timeValue(data["createdAt"]),
		UpdatedAt:       timeValue(data["updatedAt"]),
		DeliveredAt:     optionalTime(data, "deliveredAt", "deliveredOn"),
		CancelledAt:     optionalTime(data, "cancelledAt"),
	}
	if order.ID == "" {
		order.ID = id
	}
	if order.Currency == "" {
		order.Currency = domain.DefaultCurrency
	}

	rawStatus := firstString(data, "status")
	rawPayment := firstString(data, "paymentStatus")

	status := rawStatus
	if status == "" {
		status = rawPayment
	}
	order.Status = canonicalStatus(status)

	switch {
	case strings.EqualFold(rawPayment, string(domain.PaymentStatusPaid)):
		order.PaymentStatus = domain.PaymentStatusPaid
	case strings.EqualFold(rawPayment, string(domain.PaymentStatusCOD)):
		order.PaymentStatus = domain.PaymentStatusCOD
	case strings.EqualFold(rawStatus, "paid"):
		order.PaymentStatus = domain.PaymentStatusPaid
	default:
		order.PaymentStatus = domain.PaymentStatusCOD
	}

	switch method := domain.PaymentMethod(strings.ToLower(firstString(data, "paymentMethod"))); {
	case method.Valid():
		order.PaymentMethod = method
	case order.PaymentStatus == domain.PaymentStatusPaid:
		order.PaymentMethod = domain.PaymentMethodOnline
	default:
		order.PaymentMethod = domain.PaymentMethodCOD
	}

	if order.Subtotal == 0 && len(order.Items) > 0 {
		for _, item := range order.Items {
			order.Subtotal += item.UnitPrice * int64(item.Quantity)
		}
	}
	return order
}

// amountUnitMinor marks documents whose amounts are stored in paise. Documents without the
// marker predate it and hold whole rupees.
const amountUnitMinor = "minor"

func amountScale(data map[string]any) int64 {
	if firstString(data, "amountUnit") == amountUnitMinor {
		return 1
	}
	return 100
}

// storedAmount converts paise back into the unit of a document with the given scale. Whole
// rupees stay integral; fractional rupees are written as a float like the legacy app did.
func storedAmount(paise, scale int64) any {
	if scale <= 1 {
		return paise
	}
	if paise%scale == 0 {
		return paise / scale
	}
	return float64(paise) / float64(scale)
}

// canonicalStatus maps legacy and payment-flavoured values onto the order lifecycle. A "Paid"
// status, written by early builds in place of a fulfilment state, reads as Confirmed.
func canonicalStatus(raw string) domain.OrderStatus {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.OrderStatusPending
	}
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
			return candidate
		}
	}
	switch strings.ToLower(strings.ReplaceAll(raw, " ", "")) {
	case "paid", "cod":
		return domain.OrderStatusConfirmed
	case "outfordelivery", "out_for_delivery":
		return domain.OrderStatusOutForDelivery
	case "canceled":
		return domain.OrderStatusCancelled
	}
	return domain.OrderStatusPending
}

func normaliseItems(raw any, scale int64) []domain.OrderItem {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := domain.OrderItem{
			ProductKey: domain.ProductKey(firstString(m, "slug", "productKey"), firstString(m, "id", "productId")),
			Title:      firstString(m, "title", "name"),
			ImageURL:   firstString(m, "image", "imageUrl"),
			UnitPrice:  firstAmount(m, scale, "unitPrice", "price"),
			Quantity:   int(firstInt(m, "quantity", "qty")),
		}
		if item.ImageURL == "" {
			item.ImageURL = firstImageURL(m["images"])
		}
		if item.Quantity <= 0 {
			item.Quantity = domain.MinLineQuantity
		}
		items = append(items, item)
	}
	return items
}

func firstImageURL(raw any) string {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	switch first := list[0].(type) {
	case string:
		return strings.TrimSpace(first)
	case map[string]any:
		return firstString(first, "url")
	}
	return ""
}

func embeddedAddress(raw any) domain.Address {
	m, ok := raw.(map[string]any)
	if !ok {
		return domain.Address{}
	}
	return domain.Address{
		ID:       firstString(m, "id"),
		Name:     firstString(m, "name"),
		Mobile:   firstString(m, "mobile", "phone"),
		Street:   firstString(m, "street", "address"),
		Post:     firstString(m, "post"),
		District: firstString(m, "district", "city"),
		State:    firstString(m, "state"),
		Pincode:  firstString(m, "pincode"),
	}
}

func addressFields(addr domain.Address) map[string]any {
	fields := map[string]any{
		"name":     addr.Name,
		"mobile":   addr.Mobile,
		"phone":    addr.Mobile,
		"street":   addr.Street,
		"district": addr.District,
		"state":    addr.State,
		"pincode":  addr.Pincode,
	}
	if addr.Post != "" {
		fields["post"] = addr.Post
	}
	if addr.ID != "" {
		fields["id"] = addr.ID
	}
	return fields
}

func normaliseRefund(raw any, scale int64) *domain.Refund {
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	refund := &domain.Refund{
		Status: domain.RefundStatus(strings.ToLower(firstString(m, "status"))),
		Amount: firstAmount(m, scale, "amount"),
		Method: domain.RefundMethod(strings.ToLower(firstString(m, "method"))),
		Date:   optionalTime(m, "date"),
		Note:   firstString(m, "note"),
	}
	if refund.Status == "" {
		refund.Status = domain.RefundStatusPending
	}
	return refund
}

func refundFields(refund *domain.Refund) map[string]any {
	if refund == nil {
		return nil
	}
	fields := map[string]any{
		"status": string(refund.Status),
		"amount": refund.Amount,
		"method": string(refund.Method),
	}
	if refund.Date != nil {
		fields["date"] = refund.Date.UTC()
	}
	if refund.Note != "" {
		fields["note"] = refund.Note
	}
	return fields
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstInt reads the first numeric field present.
func firstInt(m map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := m[key].(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(math.Round(v))
		}
	}
	return 0
}

func firstAmount(m map[string]any, scale int64, keys ...string) int64 {
	for _, key := range keys {
		switch v := m[key].(type) {
		case int64:
			return v * scale
		case int:
			return int64(v) * scale
		case float64:
			return int64(math.Round(v * float64(scale)))
		}
	}
	return 0
}

// timeLayouts are the string timestamp shapes written by the app and the console. Values
// without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// timeValue reads Firestore timestamps, Unix millisecond numbers (Date.now()) and string dates.
func timeValue(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC()
	case int64:
		return unixMillis(v)
	case int:
		return unixMillis(int64(v))
	case float64:
		return unixMillis(int64(math.Round(v)))
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

func unixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func optionalTime(m map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		if t := timeValue(m[key]); !t.IsZero() {
			return &t
		}
	}
	return nil
}
