package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/repositories"
)

const (
	defaultReturnWindowDays = 7
	defaultOrderListLimit   = 100

	ReturnReasonWindowClosed = "window closed"
	ReturnReasonNotDelivered = "not delivered"
	ReturnReasonRefundExists = "refund exists"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or belongs to another user.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderNotCancellable indicates the order's payment method or status forbids cancelling.
	ErrOrderNotCancellable = errors.New("order: not cancellable")
	// ErrOrderReturnIneligible indicates the order cannot be returned.
	ErrOrderReturnIneligible = errors.New("order: return not eligible")
	// ErrOrderInvalidTransition indicates a status change that would move the lifecycle backwards.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
)

// OrderView is a reconciled order with its derived, read-only post-purchase state.
type OrderView struct {
	Order     Order
	Return    ReturnEligibility
	CanCancel bool
}

// RequestReturnCommand asks for a refund of a delivered order.
type RequestReturnCommand struct {
	UserID  string
	OrderID string
	Reason  string
	Method  domain.RefundMethod
}

// AdvanceOrderStatusCommand is a fulfilment status update. At defaults to now.
type AdvanceOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	At      *time.Time
	Actor   string
}

// OrderServiceDeps wires the order store and its collaborators.
type OrderServiceDeps struct {
	Orders           repositories.OrderRepository
	Addresses        repositories.AddressRepository
	Events           OrderEventPublisher
	ReturnWindowDays int
	ListLimit        int
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	addresses    repositories.AddressRepository
	events       OrderEventPublisher
	returnWindow time.Duration
	listLimit    int
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	days := deps.ReturnWindowDays
	if days <= 0 {
		days = defaultReturnWindowDays
	}
	limit := deps.ListLimit
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	return &orderService{
		orders:       deps.Orders,
		addresses:    deps.Addresses,
		events:       deps.Events,
		returnWindow: time.Duration(days) * 24 * time.Hour,
		listLimit:    limit,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListOrders returns the user's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, userID string) ([]OrderView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrOrderInvalidInput
	}
	orders, err := s.orders.ListByUser(ctx, userID, s.listLimit)
	if err != nil {
		return nil, s.translate(err)
	}
	now := s.now()
	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, s.view(order, now))
	}
	return views, nil
}

// GetOrder returns one order owned by the user.
func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (OrderView, error) {
	order, err := s.owned(ctx, userID, orderID)
	if err != nil {
		return OrderView{}, err
	}
	s.checkAddressConsistency(ctx, order)
	return s.view(order, s.now()), nil
}

// Watch emits the current snapshot and then every remote snapshot until ctx ends. A deleted
// document keeps the last known snapshot on screen. Snapshots identical to the last one sent
// (the listener's initial snapshot in particular) are not repeated.
func (s *orderService) Watch(ctx context.Context, userID, orderID string, fn func(OrderView) error) error {
	if fn == nil {
		return ErrOrderInvalidInput
	}
	current, err := s.owned(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if err := fn(s.view(current, s.now())); err != nil {
		return err
	}

	last := current
	err = s.orders.Watch(ctx, current.ID, func(order domain.Order, exists bool) error {
		if !exists {
			s.logger(ctx, "orders.watch_missing", map[string]any{"orderId": current.ID})
			return nil
		}
		if order.UserID != current.UserID {
			return ErrOrderNotFound
		}
		if reflect.DeepEqual(order, last) {
			return nil
		}
		last = order
		return fn(s.view(order, s.now()))
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return s.translate(err)
}

// Cancel cancels a cash-on-delivery order that has not been packed yet.
func (s *orderService) Cancel(ctx context.Context, userID, orderID string) (OrderView, error) {
	if _, err := s.owned(ctx, userID, orderID); err != nil {
		return OrderView{}, err
	}
	now := s.now()
	updated, err := s.orders.Update(ctx, orderID, func(order *domain.Order) error {
		if order.PaymentMethod != domain.PaymentMethodCOD && order.PaymentStatus != domain.PaymentStatusCOD {
			return fmt.Errorf("%w: only cash on delivery orders can be cancelled", ErrOrderNotCancellable)
		}
		if !order.Status.Cancellable() {
			return fmt.Errorf("%w: status %s", ErrOrderNotCancellable, order.Status)
		}
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return OrderView{}, s.translate(err)
	}
	s.logger(ctx, "orders.cancelled", map[string]any{"orderId": orderID, "userId": userID})
	s.publish(ctx, orderEventFrom(OrderEventCancelled, updated, now))
	return s.view(updated, now), nil
}

// RequestReturn records a refund request on an eligible order.
func (s *orderService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (OrderView, error) {
	if _, err := s.owned(ctx, cmd.UserID, cmd.OrderID); err != nil {
		return OrderView{}, err
	}
	method := cmd.Method
	switch method {
	case "":
		method = domain.RefundMethodWallet
	case domain.RefundMethodWallet, domain.RefundMethodBank:
	default:
		return OrderView{}, ErrOrderInvalidInput
	}

	now := s.now()
	updated, err := s.orders.Update(ctx, cmd.OrderID, func(order *domain.Order) error {
		eligibility := EvaluateReturnEligibility(*order, now, s.returnWindow)
		if !eligibility.Eligible {
			return fmt.Errorf("%w: %s", ErrOrderReturnIneligible, eligibility.Reason)
		}
		order.Refund = &domain.Refund{
			Status: domain.RefundStatusRequested,
			Amount: order.TotalAmount,
			Method: method,
			Date:   &now,
			Note:   strings.TrimSpace(cmd.Reason),
		}
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return OrderView{}, s.translate(err)
	}
	s.logger(ctx, "orders.return_requested", map[string]any{"orderId": cmd.OrderID, "userId": cmd.UserID})
	s.publish(ctx, orderEventFrom(OrderEventReturnRequested, updated, now))
	return s.view(updated, now), nil
}

// AdvanceStatus moves an order forward through fulfilment. Repeating the current status is a no-op.
func (s *orderService) AdvanceStatus(ctx context.Context, cmd AdvanceOrderStatusCommand) (OrderView, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || !cmd.Status.Known() {
		return OrderView{}, ErrOrderInvalidInput
	}
	at := s.now()
	if cmd.At != nil && !cmd.At.IsZero() {
		at = cmd.At.UTC()
	}

	changed := false
	updated, err := s.orders.Update(ctx, orderID, func(order *domain.Order) error {
		if order.Status == cmd.Status {
			return nil
		}
		if !order.Status.CanAdvanceTo(cmd.Status) {
			return fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, order.Status, cmd.Status)
		}
		order.Status = cmd.Status
		if cmd.Status == domain.OrderStatusDelivered && order.DeliveredAt == nil {
			order.DeliveredAt = &at
		}
		order.UpdatedAt = s.now()
		changed = true
		return nil
	})
	if err != nil {
		return OrderView{}, s.translate(err)
	}
	if changed {
		s.logger(ctx, "orders.status_advanced", map[string]any{
			"orderId": orderID,
			"status":  string(updated.Status),
			"actor":   cmd.Actor,
		})
		s.publish(ctx, orderEventFrom(OrderEventStatusChanged, updated, s.now()))
	}
	return s.view(updated, s.now()), nil
}

// EvaluateReturnEligibility derives whether a return can be requested at now. Delivered orders
// without a delivery date are treated as outside the window.
func EvaluateReturnEligibility(order Order, now time.Time, window time.Duration) ReturnEligibility {
	if order.Refund != nil {
		return ReturnEligibility{Reason: ReturnReasonRefundExists}
	}
	if order.Status != domain.OrderStatusDelivered {
		return ReturnEligibility{Reason: ReturnReasonNotDelivered}
	}
	if order.DeliveredAt == nil {
		return ReturnEligibility{Reason: ReturnReasonWindowClosed}
	}
	elapsed := now.Sub(*order.DeliveredAt)
	if elapsed > window {
		return ReturnEligibility{Reason: ReturnReasonWindowClosed}
	}
	remaining := window - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return ReturnEligibility{
		Eligible:      true,
		DaysRemaining: int(math.Ceil(remaining.Hours() / 24)),
	}
}

func (s *orderService) view(order Order, now time.Time) OrderView {
	return OrderView{
		Order:     order,
		Return:    EvaluateReturnEligibility(order, now, s.returnWindow),
		CanCancel: order.PaymentMethod == domain.PaymentMethodCOD && order.Status.Cancellable(),
	}
}

func (s *orderService) owned(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translate(err)
	}
	if order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// checkAddressConsistency logs when the order's delivery address was removed from the address
// book. The order snapshot is rendered unchanged.
func (s *orderService) checkAddressConsistency(ctx context.Context, order Order) {
	if s.addresses == nil || order.DeliveryAddress.ID == "" {
		return
	}
	_, err := s.addresses.Get(ctx, order.UserID, order.DeliveryAddress.ID)
	if err != nil && isRepoNotFound(err) {
		s.logger(ctx, "orders.consistency_warning", map[string]any{
			"orderId":   order.ID,
			"addressId": order.DeliveryAddress.ID,
			"detail":    "delivery address no longer in address book",
		})
	}
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "orders.event_publish_failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err,
		})
	}
}

func (s *orderService) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOrderNotCancellable), errors.Is(err, ErrOrderReturnIneligible),
		errors.Is(err, ErrOrderInvalidTransition), errors.Is(err, ErrOrderNotFound):
		return err
	case isRepoNotFound(err):
		return ErrOrderNotFound
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	default:
		return fmt.Errorf("order: %w", err)
	}
}
