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
	orderCollection   = "orders"
	defaultOrderLimit = 100
)

// OrderRepository persists orders in Firestore. Reads decode the raw document map and pass it
// through normaliseOrder so legacy shapes never reach services.
type OrderRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider, now: time.Now}, nil
}

// Insert creates the order document. An existing document with the same id is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.doc(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, orderFields(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads and normalises a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	doc, err := pfirestore.Get(ctx, ref, pfirestore.MapDecoder())
	if err != nil {
		return domain.Order{}, err
	}
	return normaliseOrder(doc.ID, doc.Data), nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("order repository: user id is required")
	}
	if limit <= 0 {
		limit = defaultOrderLimit
	}
	coll, err := r.provider.Collection(ctx, orderCollection)
	if err != nil {
		return nil, err
	}
	query := coll.Where("userId", "==", uid).OrderBy("createdAt", firestore.Desc).Limit(limit)
	docs, err := pfirestore.Query(ctx, "orders.list", query, pfirestore.MapDecoder())
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, normaliseOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

// Update reads the order inside a transaction, applies mutate and merges the mutable fields.
// Errors returned by mutate abort the transaction and are returned wrapped.
func (r *OrderRepository) Update(ctx context.Context, orderID string, mutate repositories.OrderMutation) (domain.Order, error) {
	if mutate == nil {
		return domain.Order{}, errors.New("order repository: mutation is required")
	}
	ref, err := r.doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		order := normaliseOrder(ref.ID, snap.Data())
		if err := mutate(&order); err != nil {
			return err
		}
		order.UpdatedAt = r.now().UTC()

		updates := orderUpdates(order, snap.Data())
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return updated, nil
}

// Watch streams snapshots of the order until ctx is cancelled.
func (r *OrderRepository) Watch(ctx context.Context, orderID string, fn func(order domain.Order, exists bool) error) error {
	ref, err := r.doc(ctx, orderID)
	if err != nil {
		return err
	}
	return pfirestore.WatchDocument(ctx, ref, pfirestore.MapDecoder(), func(doc pfirestore.Document[map[string]any], exists bool) error {
		if !exists {
			return fn(domain.Order{ID: ref.ID}, false)
		}
		return fn(normaliseOrder(doc.ID, doc.Data), true)
	})
}

// orderUpdates lists the fields Update merges back. Amounts follow the stored document's own
// unit: documents without the minor-unit marker hold rupees and must keep doing so.
func orderUpdates(order domain.Order, stored map[string]any) []firestore.Update {
	updates := []firestore.Update{
		{Path: "status", Value: string(order.Status)},
		{Path: "updatedAt", Value: order.UpdatedAt},
	}
	if order.Refund != nil {
		fields := refundFields(order.Refund)
		fields["amount"] = storedAmount(order.Refund.Amount, amountScale(stored))
		updates = append(updates, firestore.Update{Path: "refund", Value: fields})
	}
	if order.DeliveredAt != nil {
		updates = append(updates, firestore.Update{Path: "deliveredAt", Value: order.DeliveredAt.UTC()})
	}
	if order.CancelledAt != nil {
		updates = append(updates, firestore.Update{Path: "cancelledAt", Value: order.CancelledAt.UTC()})
	}
	return updates
}

func (r *OrderRepository) doc(ctx context.Context, orderID string) (*firestore.DocumentRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("order repository: order id is required")
	}
	coll, err := r.provider.Collection(ctx, orderCollection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// orderFields is the canonical stored shape. Amounts are in paise and marked as such.
func orderFields(order domain.Order) map[string]any {
	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"productKey": item.ProductKey,
			"title":      item.Title,
			"image":      item.ImageURL,
			"unitPrice":  item.UnitPrice,
			"quantity":   item.Quantity,
		})
	}
	fields := map[string]any{
		"orderId":         order.ID,
		"userId":          order.UserID,
		"items":           items,
		"billingAddress":  addressFields(order.BillingAddress),
		"deliveryAddress": addressFields(order.DeliveryAddress),
		"paymentMethod":   string(order.PaymentMethod),
		"paymentStatus":   string(order.PaymentStatus),
		"status":          string(order.Status),
		"currency":        order.Currency,
		"amountUnit":      amountUnitMinor,
		"subtotal":        order.Subtotal,
		"deliveryCharge":  order.DeliveryCharge,
		"discount":        order.Discount,
		"totalAmount":     order.TotalAmount,
		"createdAt":       order.CreatedAt.UTC(),
		"updatedAt":       order.UpdatedAt.UTC(),
	}
	if order.CouponCode != "" {
		fields["couponCode"] = order.CouponCode
	}
	if order.PaymentID != "" {
		fields["paymentId"] = order.PaymentID
	}
	if order.ProviderOrderID != "" {
		fields["providerOrderId"] = order.ProviderOrderID
	}
	if order.Refund != nil {
		fields["refund"] = refundFields(order.Refund)
	}
	if order.DeliveredAt != nil {
		fields["deliveredAt"] = order.DeliveredAt.UTC()
	}
	if order.CancelledAt != nil {
		fields["cancelledAt"] = order.CancelledAt.UTC()
	}
	return fields
}

// Ensure interface compliance.
var _ repositories.OrderRepository = (*OrderRepository)(nil)
