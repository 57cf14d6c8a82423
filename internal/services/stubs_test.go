package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/repositories"
)

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string       { return "repository error" }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

var (
	errRepoNotFound    = repoError{notFound: true}
	errRepoConflict    = repoError{conflict: true}
	errRepoUnavailable = repoError{unavailable: true}
)

type memoryCartStore struct {
	mu       sync.Mutex
	carts    map[string]domain.Cart
	buyNow   map[string]domain.BuyNowIntent
	saveErr  error
	clearErr error
	saves    int
}

func newMemoryCartStore() *memoryCartStore {
	return &memoryCartStore{carts: map[string]domain.Cart{}, buyNow: map[string]domain.BuyNowIntent{}}
}

func (m *memoryCartStore) LoadCart(_ context.Context, deviceID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.carts[deviceID]
	cart.Lines = append([]domain.CartLine(nil), cart.Lines...)
	cart.SavedForLater = append([]domain.CartLine(nil), cart.SavedForLater...)
	return cart, nil
}

func (m *memoryCartStore) SaveCart(_ context.Context, deviceID string, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.carts[deviceID] = cart
	return nil
}

func (m *memoryCartStore) LoadBuyNow(_ context.Context, deviceID string) (*domain.BuyNowIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.buyNow[deviceID]
	if !ok {
		return nil, nil
	}
	return &intent, nil
}

func (m *memoryCartStore) SaveBuyNow(_ context.Context, deviceID string, intent domain.BuyNowIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buyNow[deviceID] = intent
	return nil
}

func (m *memoryCartStore) ClearBuyNow(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buyNow, deviceID)
	return nil
}

func (m *memoryCartStore) Clear(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.carts, deviceID)
	delete(m.buyNow, deviceID)
	return nil
}

type stubCouponRepository struct {
	coupons map[string]domain.Coupon
	offers  map[string][]domain.Coupon
	err     error
}

func (s *stubCouponRepository) FindCoupon(_ context.Context, code string) (domain.Coupon, error) {
	if s.err != nil {
		return domain.Coupon{}, s.err
	}
	coupon, ok := s.coupons[code]
	if !ok {
		return domain.Coupon{}, errRepoNotFound
	}
	return coupon, nil
}

func (s *stubCouponRepository) ListProductOffers(_ context.Context, productKey string) ([]domain.Coupon, error) {
	offers, ok := s.offers[productKey]
	if !ok {
		return nil, errRepoNotFound
	}
	return offers, nil
}

var errBoom = errors.New("boom")

type memoryOrderRepository struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	inserts   int
	insertErr error
	updateErr error
	watch     []watchSnapshot
}

type watchSnapshot struct {
	order  domain.Order
	exists bool
}

func newMemoryOrderRepository(orders ...domain.Order) *memoryOrderRepository {
	repo := &memoryOrderRepository{orders: map[string]domain.Order{}}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (m *memoryOrderRepository) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, exists := m.orders[order.ID]; exists {
		return errRepoConflict
	}
	m.inserts++
	m.orders[order.ID] = order
	return nil
}

func (m *memoryOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	return order, nil
}

func (m *memoryOrderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, order := range m.orders {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryOrderRepository) Update(_ context.Context, orderID string, mutate repositories.OrderMutation) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return domain.Order{}, m.updateErr
	}
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	if err := mutate(&order); err != nil {
		return domain.Order{}, err
	}
	m.orders[orderID] = order
	return order, nil
}

func (m *memoryOrderRepository) Watch(ctx context.Context, orderID string, fn func(order domain.Order, exists bool) error) error {
	m.mu.Lock()
	snapshots := append([]watchSnapshot(nil), m.watch...)
	m.mu.Unlock()
	for _, snap := range snapshots {
		if err := fn(snap.order, snap.exists); err != nil {
			return err
		}
	}
	return ctx.Err()
}

type stubProfileSource struct {
	profile domain.UserProfile
	err     error
}

func (s stubProfileSource) Get(context.Context, string, string) (domain.UserProfile, error) {
	return s.profile, s.err
}

type stubCODPolicy struct {
	blocked map[string]bool
	err     error
	calls   *int
}

func (s stubCODPolicy) IsCODBlocked(_ context.Context, pincode string) (bool, error) {
	if s.calls != nil {
		*s.calls++
	}
	return s.blocked[pincode], s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (r *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return "msg-1", r.err
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	placed   []string
	failures []string
}

func (r *recordingMetrics) OrderPlaced(_ context.Context, method string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed = append(r.placed, method)
}

func (r *recordingMetrics) SubmitFailed(_ context.Context, _ string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

type memoryAddressRepository struct {
	mu    sync.Mutex
	books map[string][]domain.Address
	seq   int
}

func newMemoryAddressRepository() *memoryAddressRepository {
	return &memoryAddressRepository{books: map[string][]domain.Address{}}
}

func (m *memoryAddressRepository) List(_ context.Context, userID string) ([]domain.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Address(nil), m.books[userID]...), nil
}

func (m *memoryAddressRepository) Get(_ context.Context, userID, addressID string) (domain.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, addr := range m.books[userID] {
		if addr.ID == addressID {
			return addr, nil
		}
	}
	return domain.Address{}, errRepoNotFound
}

func (m *memoryAddressRepository) Insert(_ context.Context, userID string, addr domain.Address) (domain.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	addr.ID = "addr-" + string(rune('0'+m.seq))
	m.books[userID] = append(m.books[userID], addr)
	return addr, nil
}

func (m *memoryAddressRepository) Update(_ context.Context, userID string, addr domain.Address) (domain.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.books[userID] {
		if existing.ID == addr.ID {
			m.books[userID][i] = addr
			return addr, nil
		}
	}
	return domain.Address{}, errRepoNotFound
}

func (m *memoryAddressRepository) Delete(_ context.Context, userID, addressID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book := m.books[userID]
	for i, existing := range book {
		if existing.ID == addressID {
			m.books[userID] = append(book[:i:i], book[i+1:]...)
			return nil
		}
	}
	return errRepoNotFound
}

func (m *memoryAddressRepository) SetDefault(_ context.Context, userID, addressID string) (domain.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book := m.books[userID]
	idx := -1
	for i := range book {
		if book[i].ID == addressID {
			idx = i
		}
	}
	if idx < 0 {
		return domain.Address{}, errRepoNotFound
	}
	for i := range book {
		book[i].IsDefault = i == idx
	}
	return book[idx], nil
}

type memoryProductRepository struct {
	products   []domain.Product
	listAllErr error
	findErr    error
	finds      int
}

func newMemoryProductRepository(products ...domain.Product) *memoryProductRepository {
	return &memoryProductRepository{products: products}
}

func (r *memoryProductRepository) FindByKey(_ context.Context, key string) (domain.Product, error) {
	r.finds++
	if r.findErr != nil {
		return domain.Product{}, r.findErr
	}
	for _, p := range r.products {
		if p.Slug != "" && p.Slug == key {
			return p, nil
		}
	}
	for _, p := range r.products {
		if p.ID == key {
			return p, nil
		}
	}
	return domain.Product{}, errRepoNotFound
}

func (r *memoryProductRepository) ListFlagged(_ context.Context, flag domain.ProductFlag, limit int) ([]domain.Product, error) {
	return r.filter(limit, func(p domain.Product) bool {
		return (flag == domain.ProductFlagTrending && p.Trending) || (flag == domain.ProductFlagFeatured && p.Featured)
	}), nil
}

func (r *memoryProductRepository) ListByCategory(_ context.Context, category string, limit int) ([]domain.Product, error) {
	return r.filter(limit, func(p domain.Product) bool { return p.Category == category }), nil
}

func (r *memoryProductRepository) ListAll(_ context.Context, limit int) ([]domain.Product, error) {
	if r.listAllErr != nil {
		return nil, r.listAllErr
	}
	return r.filter(limit, func(domain.Product) bool { return true }), nil
}

func (r *memoryProductRepository) filter(limit int, keep func(domain.Product) bool) []domain.Product {
	var out []domain.Product
	for _, p := range r.products {
		if limit > 0 && len(out) == limit {
			break
		}
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func newTestCatalog(t *testing.T, products *memoryProductRepository) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: products,
		Shuffle:  func(int, func(i, j int)) {},
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}
