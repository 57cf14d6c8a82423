package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/payments"
	"github.com/sfykart/api/internal/repositories"
)

const (
	defaultCheckoutSessionTTL = 30 * time.Minute
	orderIDPrefix             = "ORD"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutSessionNotFound indicates the session expired, was abandoned or belongs to another device.
	ErrCheckoutSessionNotFound = errors.New("checkout: session not found")
	// ErrCheckoutInvalidState indicates the operation is not allowed in the session's current state.
	ErrCheckoutInvalidState = errors.New("checkout: invalid state")
	// ErrSubmissionInProgress indicates another submission for the session has not finished.
	ErrSubmissionInProgress = errors.New("checkout: submission in progress")
	// ErrCheckoutAddressInvalid indicates the delivery address failed validation.
	ErrCheckoutAddressInvalid = errors.New("checkout: delivery address invalid")
	// ErrCODUnavailable indicates cash on delivery is blocked for the delivery pincode.
	ErrCODUnavailable = errors.New("checkout: cash on delivery unavailable for pincode")
	// ErrCheckoutPaymentFailed indicates the payment provider rejected or could not verify the payment.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// CheckoutState is the position of a session in the checkout state machine.
type CheckoutState string

const (
	CheckoutStateLoading         CheckoutState = "loading"
	CheckoutStateAddressReady    CheckoutState = "address_ready"
	CheckoutStatePaymentSelected CheckoutState = "payment_selected"
	CheckoutStateSubmitting      CheckoutState = "submitting"
	CheckoutStateSucceeded       CheckoutState = "succeeded"
	CheckoutStateFailed          CheckoutState = "failed"
)

// CheckoutSource tells whether the session purchases the buy-now item or the cart.
type CheckoutSource string

const (
	CheckoutSourceCart   CheckoutSource = "cart"
	CheckoutSourceBuyNow CheckoutSource = "buy_now"
)

// Payment callback outcomes reported by the client.
const (
	PaymentResultSuccess   = "success"
	PaymentResultFailed    = "failed"
	PaymentResultCancelled = "cancelled"
)

// BeginCheckoutCommand opens a session for the device. Name and Mobile come from the signed-in
// identity and are the last billing fallback.
type BeginCheckoutCommand struct {
	DeviceID string
	UserID   string
	Name     string
	Email    string
	Mobile   string
}

// SetDeliveryAddressCommand toggles delivery to a different address. A nil Address delivers to
// the billing address.
type SetDeliveryAddressCommand struct {
	SessionID string
	DeviceID  string
	Address   *Address
}

// SelectPaymentCommand picks cash on delivery or online payment.
type SelectPaymentCommand struct {
	SessionID string
	DeviceID  string
	Method    PaymentMethod
}

// SubmitCheckoutCommand places the order for the session.
type SubmitCheckoutCommand struct {
	SessionID string
	DeviceID  string
}

// CompletePaymentCommand carries the hosted checkout callback.
type CompletePaymentCommand struct {
	SessionID       string
	DeviceID        string
	Result          string
	ProviderOrderID string
	PaymentID       string
	Signature       string
	FailureReason   string
}

// CheckoutView is the client-facing snapshot of a checkout session.
type CheckoutView struct {
	SessionID          string
	State              CheckoutState
	Source             CheckoutSource
	Items              []CartLine
	Totals             Totals
	BillingAddress     Address
	DeliveryAddress    Address
	DeliverToDifferent bool
	PaymentMethod      PaymentMethod
	OrderID            string
	Payment            *payments.ProviderOrder
	FailureReason      string
	ExpiresAt          time.Time
}

type checkoutProfileSource interface {
	Get(ctx context.Context, userID, deviceID string) (UserProfile, error)
}

type checkoutPaymentManager interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.ProviderOrder, error)
	VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error)
}

type checkoutMetrics interface {
	OrderPlaced(ctx context.Context, method string, elapsed time.Duration)
	SubmitFailed(ctx context.Context, method, reason string)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts       repositories.CartStore
	Pricer      CartPricer
	Coupons     CouponService
	Profiles    checkoutProfileSource
	Orders      repositories.OrderRepository
	CODPolicy   repositories.CODPolicyRepository
	Payments    checkoutPaymentManager
	Events      OrderEventPublisher
	Metrics     checkoutMetrics
	Currency    string
	SessionTTL  time.Duration
	IDGenerator func() string
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts     repositories.CartStore
	pricer    CartPricer
	coupons   CouponService
	profiles  checkoutProfileSource
	orders    repositories.OrderRepository
	codPolicy repositories.CODPolicyRepository
	payments  checkoutPaymentManager
	events    OrderEventPublisher
	metrics   checkoutMetrics
	currency  string
	newID     func() string
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	sessions  *checkoutRegistry
}

// checkoutSession is guarded by mu. busy marks an operation running outside the lock.
type checkoutSession struct {
	mu sync.Mutex

	id          string
	deviceID    string
	userID      string
	email       string
	source      CheckoutSource
	state       CheckoutState
	items       []CartLine
	totals      Totals
	couponCode  string
	billing     Address
	delivery    *Address
	method      PaymentMethod
	orderID     string
	payment     *payments.ProviderOrder
	verified    *payments.PaymentDetails
	failure     string
	busy        bool
	submittedAt time.Time
	expiresAt   time.Time
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart store is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultCheckoutSessionTTL
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return orderIDPrefix + ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	now := func() time.Time {
		return clock().UTC()
	}

	return &checkoutService{
		carts:     deps.Carts,
		pricer:    deps.Pricer,
		coupons:   deps.Coupons,
		profiles:  deps.Profiles,
		orders:    deps.Orders,
		codPolicy: deps.CODPolicy,
		payments:  deps.Payments,
		events:    deps.Events,
		metrics:   deps.Metrics,
		currency:  currency,
		newID:     newID,
		now:       now,
		logger:    logger,
		sessions:  newCheckoutRegistry(ttl, now),
	}, nil
}

// Begin loads the buy-now intent or the cart, prices it and resolves the billing address.
func (s *checkoutService) Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutView, error) {
	deviceID := strings.TrimSpace(cmd.DeviceID)
	userID := strings.TrimSpace(cmd.UserID)
	if deviceID == "" || userID == "" {
		return CheckoutView{}, ErrCheckoutInvalidInput
	}

	sess := &checkoutSession{
		id:       uuid.NewString(),
		deviceID: deviceID,
		userID:   userID,
		email:    strings.TrimSpace(cmd.Email),
		state:    CheckoutStateLoading,
	}

	items, source, couponCode := s.loadItems(ctx, deviceID)
	if len(items) == 0 {
		return CheckoutView{}, ErrCartEmpty
	}
	sess.items = items
	sess.source = source
	sess.totals, sess.couponCode = s.price(ctx, items, couponCode)
	sess.billing = s.resolveBilling(ctx, cmd, deviceID)
	sess.state = CheckoutStateAddressReady

	s.sessions.put(sess)
	s.logger(ctx, "checkout.begin", map[string]any{
		"sessionId": sess.id,
		"deviceId":  deviceID,
		"userId":    userID,
		"source":    string(source),
		"items":     len(items),
		"payable":   sess.totals.Payable,
	})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(), nil
}

// Get returns the current view of a session.
func (s *checkoutService) Get(ctx context.Context, sessionID, deviceID string) (CheckoutView, error) {
	sess, err := s.session(sessionID, deviceID)
	if err != nil {
		return CheckoutView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(), nil
}

// SetDeliveryAddress switches delivery between the billing address and a separate, validated address.
func (s *checkoutService) SetDeliveryAddress(ctx context.Context, cmd SetDeliveryAddressCommand) (CheckoutView, error) {
	sess, err := s.session(cmd.SessionID, cmd.DeviceID)
	if err != nil {
		return CheckoutView{}, err
	}

	var delivery *Address
	if cmd.Address != nil {
		addr, err := validateDeliveryForm(*cmd.Address)
		if err != nil {
			return CheckoutView{}, err
		}
		delivery = &addr
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.editable(); err != nil {
		return CheckoutView{}, err
	}
	sess.delivery = delivery
	return sess.view(), nil
}

// SelectPayment records the payment method and moves the session to PaymentSelected.
func (s *checkoutService) SelectPayment(ctx context.Context, cmd SelectPaymentCommand) (CheckoutView, error) {
	if !cmd.Method.Valid() {
		return CheckoutView{}, ErrCheckoutInvalidInput
	}
	sess, err := s.session(cmd.SessionID, cmd.DeviceID)
	if err != nil {
		return CheckoutView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.editable(); err != nil {
		return CheckoutView{}, err
	}
	if sess.method != cmd.Method {
		sess.payment = nil
	}
	sess.method = cmd.Method
	sess.state = CheckoutStatePaymentSelected
	sess.failure = ""
	return sess.view(), nil
}

// Submit places a COD order, or opens a provider order for online payment and waits for
// CompletePayment. Only one submission per session runs at a time.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutView, error) {
	sess, err := s.session(cmd.SessionID, cmd.DeviceID)
	if err != nil {
		return CheckoutView{}, err
	}

	sess.mu.Lock()
	switch {
	case sess.state == CheckoutStateSucceeded:
		view := sess.view()
		sess.mu.Unlock()
		return view, nil
	case sess.busy, sess.state == CheckoutStateSubmitting:
		sess.mu.Unlock()
		return CheckoutView{}, ErrSubmissionInProgress
	case sess.state != CheckoutStatePaymentSelected && sess.state != CheckoutStateFailed:
		sess.mu.Unlock()
		return CheckoutView{}, fmt.Errorf("%w: select a payment method first", ErrCheckoutInvalidState)
	}
	delivery := sess.deliveryAddress()
	if _, err := validateDeliveryForm(delivery); err != nil {
		sess.mu.Unlock()
		return CheckoutView{}, err
	}
	if sess.orderID == "" {
		sess.orderID = s.newID()
	}
	sess.state = CheckoutStateSubmitting
	sess.busy = true
	sess.failure = ""
	sess.submittedAt = s.now()
	method := sess.method
	sess.mu.Unlock()

	if method == domain.PaymentMethodCOD {
		return s.submitCOD(ctx, sess, delivery)
	}
	return s.submitOnline(ctx, sess)
}

// CompletePayment consumes the hosted checkout callback. Failures return the session to a
// retryable state without writing an order; successes are verified with the provider first.
func (s *checkoutService) CompletePayment(ctx context.Context, cmd CompletePaymentCommand) (CheckoutView, error) {
	sess, err := s.session(cmd.SessionID, cmd.DeviceID)
	if err != nil {
		return CheckoutView{}, err
	}
	result := strings.ToLower(strings.TrimSpace(cmd.Result))

	sess.mu.Lock()
	switch {
	case sess.state == CheckoutStateSucceeded:
		view := sess.view()
		sess.mu.Unlock()
		return view, nil
	case sess.busy:
		sess.mu.Unlock()
		return CheckoutView{}, ErrSubmissionInProgress
	case sess.state != CheckoutStateSubmitting || sess.payment == nil:
		sess.mu.Unlock()
		return CheckoutView{}, fmt.Errorf("%w: no payment awaiting completion", ErrCheckoutInvalidState)
	}
	if providerOrderID := strings.TrimSpace(cmd.ProviderOrderID); providerOrderID != "" && providerOrderID != sess.payment.ProviderOrderID {
		sess.mu.Unlock()
		return CheckoutView{}, fmt.Errorf("%w: payment does not belong to this session", ErrCheckoutInvalidInput)
	}

	if result != PaymentResultSuccess {
		reason := strings.TrimSpace(cmd.FailureReason)
		if reason == "" {
			reason = "payment " + defaultString(result, PaymentResultFailed)
		}
		sess.state = CheckoutStateFailed
		sess.failure = reason
		sess.payment = nil
		view := sess.view()
		sess.mu.Unlock()
		s.recordFailure(ctx, string(domain.PaymentMethodOnline), "payment_"+defaultString(result, PaymentResultFailed))
		return view, nil
	}

	sess.busy = true
	handle := *sess.payment
	verified := sess.verified
	sess.mu.Unlock()

	if verified == nil {
		details, err := s.payments.VerifyPayment(ctx, payments.PaymentContext{PreferredProvider: handle.Provider}, payments.VerifyRequest{
			ProviderOrderID: handle.ProviderOrderID,
			PaymentID:       strings.TrimSpace(cmd.PaymentID),
			Signature:       strings.TrimSpace(cmd.Signature),
		})
		if err != nil {
			return s.failSubmission(ctx, sess, "verification_failed", fmt.Errorf("%w: %w", ErrCheckoutPaymentFailed, err))
		}
		verified = &details
		sess.mu.Lock()
		sess.verified = verified
		sess.mu.Unlock()
	}

	sess.mu.Lock()
	order := s.buildOrder(sess, sess.deliveryAddress())
	sess.mu.Unlock()
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaymentID = verified.PaymentID
	order.ProviderOrderID = handle.ProviderOrderID

	if err := s.writeOrder(ctx, order); err != nil {
		// the payment is captured; keep the session submitting so the client can retry the write
		sess.mu.Lock()
		sess.busy = false
		sess.mu.Unlock()
		s.recordFailure(ctx, string(order.PaymentMethod), "order_write_failed")
		return CheckoutView{}, err
	}
	return s.succeed(ctx, sess, order)
}

// Abandon discards the session. The cart is left untouched.
func (s *checkoutService) Abandon(ctx context.Context, sessionID, deviceID string) error {
	sess, err := s.session(sessionID, deviceID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	busy := sess.busy
	sess.mu.Unlock()
	if busy {
		return ErrSubmissionInProgress
	}
	s.sessions.remove(sess.id)
	s.logger(ctx, "checkout.abandoned", map[string]any{"sessionId": sess.id})
	return nil
}

func (s *checkoutService) submitCOD(ctx context.Context, sess *checkoutSession, delivery Address) (CheckoutView, error) {
	if s.codPolicy != nil {
		blocked, err := s.codPolicy.IsCODBlocked(ctx, delivery.Pincode)
		if err != nil {
			return s.failSubmission(ctx, sess, "cod_policy_unavailable", fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err))
		}
		if blocked {
			return s.failSubmission(ctx, sess, "cod_blocked", ErrCODUnavailable)
		}
	}

	sess.mu.Lock()
	order := s.buildOrder(sess, delivery)
	sess.mu.Unlock()
	order.PaymentStatus = domain.PaymentStatusCOD

	if err := s.writeOrder(ctx, order); err != nil {
		return s.failSubmission(ctx, sess, "order_write_failed", err)
	}
	return s.succeed(ctx, sess, order)
}

func (s *checkoutService) submitOnline(ctx context.Context, sess *checkoutSession) (CheckoutView, error) {
	sess.mu.Lock()
	amount := sess.totals.Payable
	orderID := sess.orderID
	userID := sess.userID
	email := sess.email
	sess.mu.Unlock()

	if amount <= 0 {
		return s.failSubmission(ctx, sess, "nothing_to_pay", fmt.Errorf("%w: payable amount is zero", ErrCheckoutInvalidInput))
	}

	handle, err := s.payments.CreateOrder(ctx, payments.PaymentContext{Currency: s.currency}, payments.OrderRequest{
		Amount:         amount,
		Currency:       s.currency,
		Receipt:        orderID,
		CustomerEmail:  email,
		Notes:          map[string]string{"orderId": orderID, "userId": userID},
		IdempotencyKey: orderID,
	})
	if err != nil {
		return s.failSubmission(ctx, sess, "provider_order_failed", fmt.Errorf("%w: %w", ErrCheckoutPaymentFailed, err))
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.payment = &handle
	sess.busy = false
	s.logger(ctx, "checkout.payment_opened", map[string]any{
		"sessionId":       sess.id,
		"orderId":         orderID,
		"provider":        handle.Provider,
		"providerOrderId": handle.ProviderOrderID,
		"amount":          amount,
	})
	return sess.view(), nil
}

// writeOrder inserts the order. A conflict means an earlier attempt with the same id already
// wrote it, which counts as success.
func (s *checkoutService) writeOrder(ctx context.Context, order Order) error {
	err := s.orders.Insert(ctx, order)
	switch {
	case err == nil:
		return nil
	case isRepoConflict(err):
		s.logger(ctx, "checkout.order_exists", map[string]any{"orderId": order.ID})
		return nil
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	default:
		return fmt.Errorf("checkout: write order: %w", err)
	}
}

func (s *checkoutService) succeed(ctx context.Context, sess *checkoutSession, order Order) (CheckoutView, error) {
	if err := s.carts.Clear(ctx, sess.deviceID); err != nil {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"sessionId": sess.id,
			"orderId":   order.ID,
			"error":     err,
		})
	}

	sess.mu.Lock()
	sess.state = CheckoutStateSucceeded
	sess.busy = false
	sess.failure = ""
	elapsed := s.now().Sub(sess.submittedAt)
	view := sess.view()
	sess.mu.Unlock()

	if s.metrics != nil {
		s.metrics.OrderPlaced(ctx, string(order.PaymentMethod), elapsed)
	}
	s.logger(ctx, "checkout.order_placed", map[string]any{
		"sessionId":     sess.id,
		"orderId":       order.ID,
		"paymentMethod": string(order.PaymentMethod),
		"totalAmount":   order.TotalAmount,
	})
	s.publish(ctx, orderEventFrom(OrderEventPlaced, order, s.now()))
	return view, nil
}

func (s *checkoutService) failSubmission(ctx context.Context, sess *checkoutSession, reason string, err error) (CheckoutView, error) {
	sess.mu.Lock()
	sess.state = CheckoutStateFailed
	sess.busy = false
	sess.failure = reason
	if sess.verified == nil {
		sess.payment = nil
	}
	method := string(sess.method)
	sess.mu.Unlock()
	s.recordFailure(ctx, method, reason)
	s.logger(ctx, "checkout.submit_failed", map[string]any{
		"sessionId": sess.id,
		"reason":    reason,
		"error":     err,
	})
	return CheckoutView{}, err
}

func (s *checkoutService) recordFailure(ctx context.Context, method, reason string) {
	if s.metrics != nil {
		s.metrics.SubmitFailed(ctx, method, reason)
	}
}

func (s *checkoutService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err,
		})
	}
}

// loadItems prefers the buy-now intent over the cart. Read failures degrade to an empty result.
func (s *checkoutService) loadItems(ctx context.Context, deviceID string) ([]CartLine, CheckoutSource, string) {
	intent, err := s.carts.LoadBuyNow(ctx, deviceID)
	if err != nil {
		s.logger(ctx, "checkout.buy_now_load_failed", map[string]any{"deviceId": deviceID, "error": err})
	}
	if err == nil && intent != nil && intent.Line.ProductKey != "" {
		line := intent.Line
		line.Quantity = domain.ClampQuantity(line.Quantity)
		return []CartLine{line}, CheckoutSourceBuyNow, ""
	}

	cart, err := s.carts.LoadCart(ctx, deviceID)
	if err != nil {
		s.logger(ctx, "checkout.cart_load_failed", map[string]any{"deviceId": deviceID, "error": err})
		return nil, CheckoutSourceCart, ""
	}
	items := make([]CartLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		line.Quantity = domain.ClampQuantity(line.Quantity)
		items = append(items, line)
	}
	return items, CheckoutSourceCart, cart.CouponCode
}

// price computes totals, applying the stored coupon when it still resolves and validates.
// The returned code is empty when the coupon did not apply.
func (s *checkoutService) price(ctx context.Context, items []CartLine, couponCode string) (Totals, string) {
	var app *CouponApplication
	code := strings.TrimSpace(couponCode)
	if code != "" && s.coupons != nil {
		coupon, err := s.coupons.Resolve(ctx, code, productKeys(items))
		if err != nil {
			s.logger(ctx, "checkout.coupon_dropped", map[string]any{"code": code, "error": err})
		} else {
			app = &CouponApplication{EnteredCode: code, Coupon: coupon}
		}
	}
	totals, err := s.pricer.Compute(items, app)
	if err != nil || app == nil {
		return totals, ""
	}
	return totals, app.Coupon.Code
}

// resolveBilling walks the profile's billing address, then its delivery address, and finally the
// identity's name and mobile.
func (s *checkoutService) resolveBilling(ctx context.Context, cmd BeginCheckoutCommand, deviceID string) Address {
	fallback := Address{Name: strings.TrimSpace(cmd.Name), Mobile: strings.TrimSpace(cmd.Mobile)}
	if s.profiles == nil {
		return fallback
	}
	profile, err := s.profiles.Get(ctx, cmd.UserID, deviceID)
	if err != nil {
		s.logger(ctx, "checkout.profile_unavailable", map[string]any{"userId": cmd.UserID, "error": err})
		return fallback
	}
	var billing Address
	switch {
	case profile.BillingAddress != nil:
		billing = *profile.BillingAddress
	case profile.DeliveryAddress != nil:
		billing = *profile.DeliveryAddress
	}
	if strings.TrimSpace(billing.Name) == "" {
		billing.Name = defaultString(profile.DisplayName(), fallback.Name)
	}
	if strings.TrimSpace(billing.Mobile) == "" {
		billing.Mobile = defaultString(profile.Mobile, fallback.Mobile)
	}
	return billing
}

func (s *checkoutService) buildOrder(sess *checkoutSession, delivery Address) Order {
	now := s.now()
	items := make([]OrderItem, 0, len(sess.items))
	for _, line := range sess.items {
		items = append(items, OrderItem{
			ProductKey: line.ProductKey,
			Title:      line.DisplayName,
			ImageURL:   line.ImageURL,
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
		})
	}
	return Order{
		ID:              sess.orderID,
		UserID:          sess.userID,
		Items:           items,
		BillingAddress:  sess.billing,
		DeliveryAddress: delivery,
		PaymentMethod:   sess.method,
		Status:          domain.OrderStatusConfirmed,
		Currency:        s.currency,
		Subtotal:        sess.totals.Subtotal,
		DeliveryCharge:  sess.totals.DeliveryCharge,
		Discount:        sess.totals.Discount,
		CouponCode:      sess.couponCode,
		TotalAmount:     sess.totals.Payable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *checkoutService) session(sessionID, deviceID string) (*checkoutSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	deviceID = strings.TrimSpace(deviceID)
	if sessionID == "" || deviceID == "" {
		return nil, ErrCheckoutInvalidInput
	}
	sess, ok := s.sessions.get(sessionID)
	if !ok || sess.deviceID != deviceID {
		return nil, ErrCheckoutSessionNotFound
	}
	return sess, nil
}

// editable reports whether address and payment choices may still change. Failed behaves as
// PaymentSelected.
func (c *checkoutSession) editable() error {
	if c.busy {
		return ErrSubmissionInProgress
	}
	switch c.state {
	case CheckoutStateAddressReady, CheckoutStatePaymentSelected:
		return nil
	case CheckoutStateFailed:
		c.state = CheckoutStatePaymentSelected
		return nil
	case CheckoutStateSubmitting:
		if c.payment != nil && c.verified == nil {
			// the customer backed out of the hosted checkout
			c.payment = nil
			c.state = CheckoutStatePaymentSelected
			return nil
		}
		return ErrSubmissionInProgress
	default:
		return fmt.Errorf("%w: %s", ErrCheckoutInvalidState, c.state)
	}
}

func (c *checkoutSession) deliveryAddress() Address {
	if c.delivery != nil {
		return *c.delivery
	}
	return c.billing
}

func (c *checkoutSession) view() CheckoutView {
	items := make([]CartLine, len(c.items))
	copy(items, c.items)
	view := CheckoutView{
		SessionID:          c.id,
		State:              c.state,
		Source:             c.source,
		Items:              items,
		Totals:             c.totals,
		BillingAddress:     c.billing,
		DeliveryAddress:    c.deliveryAddress(),
		DeliverToDifferent: c.delivery != nil,
		PaymentMethod:      c.method,
		FailureReason:      c.failure,
		ExpiresAt:          c.expiresAt,
	}
	if c.state == CheckoutStateSucceeded || c.state == CheckoutStateSubmitting {
		view.OrderID = c.orderID
	}
	if c.payment != nil {
		handle := *c.payment
		view.Payment = &handle
	}
	return view
}

// validateDeliveryForm is the delivery address gate: name, mobile, street and a 6-digit pincode.
func validateDeliveryForm(addr Address) (Address, error) {
	addr.Name = strings.TrimSpace(addr.Name)
	addr.Mobile = strings.TrimSpace(addr.Mobile)
	addr.Street = strings.TrimSpace(addr.Street)
	var missing []string
	if addr.Name == "" {
		missing = append(missing, "name")
	}
	if addr.Mobile == "" {
		missing = append(missing, "mobile")
	}
	if addr.Street == "" {
		missing = append(missing, "street")
	}
	pincode, ok := NormalisePincode(addr.Pincode)
	if !ok {
		missing = append(missing, "pincode")
	}
	if len(missing) > 0 {
		return Address{}, fmt.Errorf("%w: %s", ErrCheckoutAddressInvalid, strings.Join(missing, ", "))
	}
	addr.Pincode = pincode
	return addr, nil
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

// checkoutRegistry holds live sessions and drops them once their TTL passes.
type checkoutRegistry struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*checkoutSession
}

func newCheckoutRegistry(ttl time.Duration, now func() time.Time) *checkoutRegistry {
	return &checkoutRegistry{ttl: ttl, now: now, sessions: make(map[string]*checkoutSession)}
}

func (r *checkoutRegistry) put(sess *checkoutSession) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.sessions {
		if now.After(existing.expiresAt) {
			delete(r.sessions, id)
		}
	}
	sess.expiresAt = now.Add(r.ttl)
	r.sessions[sess.id] = sess
}

func (r *checkoutRegistry) get(id string) (*checkoutSession, bool) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	sess.mu.Lock()
	expired := r.now().After(sess.expiresAt) && !sess.busy
	sess.mu.Unlock()
	if expired {
		r.remove(id)
		return nil, false
	}
	return sess, true
}

func (r *checkoutRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
