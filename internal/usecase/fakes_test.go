package usecase_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"commerce/internal/cache"
	"commerce/internal/domain/model"
	repo "commerce/internal/repository"
	"commerce/internal/retry"
	"commerce/internal/usecase"
	"commerce/internal/validator"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// =====================
// Clock / IDs
// =====================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

// =====================
// In-memory repositories
// =====================

type memKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}}
}

func (s *memKV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *memKV) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

type memCatalog struct {
	mu       sync.Mutex
	products map[string]model.Product
	calls    int
}

func newMemCatalog(products ...model.Product) *memCatalog {
	c := &memCatalog{products: map[string]model.Product{}}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *memCatalog) GetProduct(_ context.Context, id string) (model.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	p, ok := c.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (c *memCatalog) put(p model.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *memCatalog) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]model.Order
	finds     int
	updateErr error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[string]model.Order{}}
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	o, ok := r.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *memOrderRepo) List(_ context.Context, f repo.OrderListFilter) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []model.Order{}
	for _, o := range r.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.SessionID != "" && o.SessionID != f.SessionID {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []model.Order{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memOrderRepo) Create(_ context.Context, order model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memOrderRepo) Update(_ context.Context, order model.Order, _ []model.OrderHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.orders[order.ID]; !ok {
		return repo.ErrNotFound
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memOrderRepo) stored(id string) model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id].Clone()
}

func (r *memOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]model.Payment
	order    []string
	statuses map[string][]model.PaymentStatus
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{
		payments: map[string]model.Payment{},
		statuses: map[string][]model.PaymentStatus{},
	}
}

func (r *memPaymentRepo) FindByID(_ context.Context, paymentID string) (model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok {
		return model.Payment{}, repo.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *memPaymentRepo) List(_ context.Context, f repo.PaymentListFilter) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []model.Payment{}
	for _, id := range r.order {
		p := r.payments[id]
		if f.OrderID != "" && p.OrderID != f.OrderID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Method != "" && p.Method != f.Method {
			continue
		}
		out = append(out, p.Clone())
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []model.Payment{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memPaymentRepo) Create(_ context.Context, p model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[p.ID] = p.Clone()
	r.order = append(r.order, p.ID)
	r.statuses[p.ID] = append(r.statuses[p.ID], p.Status)
	return nil
}

func (r *memPaymentRepo) Update(_ context.Context, p model.Payment, _ []model.PaymentRefund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; !ok {
		return repo.ErrNotFound
	}
	r.payments[p.ID] = p.Clone()
	r.statuses[p.ID] = append(r.statuses[p.ID], p.Status)
	return nil
}

func (r *memPaymentRepo) history(id string) []model.PaymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PaymentStatus(nil), r.statuses[id]...)
}

func (r *memPaymentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

// =====================
// EventSink / Gateway
// =====================

type recordingSink struct {
	mu    sync.Mutex
	names []model.EventName
}

func (s *recordingSink) Record(_ context.Context, name model.EventName, _ model.EventResourceType, _ string, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
}

func (s *recordingSink) recorded() []model.EventName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.EventName(nil), s.names...)
}

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) Authorize(ctx context.Context, req usecase.GatewayRequest) (usecase.GatewayResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(usecase.GatewayResult)
	return res, args.Error(1)
}

// =====================
// Harness
// =====================

type harness struct {
	clock    *fakeClock
	ids      *seqIDs
	kv       *memKV
	catalog  *memCatalog
	orders   *memOrderRepo
	payments *memPaymentRepo
	events   *recordingSink
	gateway  *GatewayMock

	cartUC     *usecase.CartUsecase
	orderUC    *usecase.OrderUsecase
	paymentUC  *usecase.PaymentUsecase
	checkoutUC *usecase.CheckoutUsecase
	reconcile  *usecase.ReconcileUsecase
}

func testRetryPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func newHarness(t *testing.T, pricing usecase.PricingPolicy, products ...model.Product) *harness {
	t.Helper()

	h := &harness{
		clock:    newFakeClock(),
		ids:      &seqIDs{},
		kv:       newMemKV(),
		catalog:  newMemCatalog(products...),
		orders:   newMemOrderRepo(),
		payments: newMemPaymentRepo(),
		events:   &recordingSink{},
		gateway:  new(GatewayMock),
	}

	orderCache := cache.New[model.Order](cache.Options{Now: h.clock.Now})
	listCache := cache.New[[]model.Order](cache.Options{Now: h.clock.Now})
	paymentCache := cache.New[model.Payment](cache.Options{Now: h.clock.Now})
	t.Cleanup(func() {
		orderCache.Close()
		listCache.Close()
		paymentCache.Close()
	})

	policy := testRetryPolicy()
	h.cartUC = usecase.NewCartUsecase(h.kv, h.catalog, h.ids, h.clock, policy, 0)
	h.orderUC = usecase.NewOrderUsecase(usecase.OrderDeps{
		Orders:    h.orders,
		Cache:     orderCache,
		ListCache: listCache,
		Events:    h.events,
		IDs:       h.ids,
		Clock:     h.clock,
		Retry:     policy,
	})
	h.paymentUC = usecase.NewPaymentUsecase(usecase.PaymentDeps{
		Payments:      h.payments,
		Cache:         paymentCache,
		Gateway:       h.gateway,
		CardValidator: validator.NewCardValidator(h.clock),
		Orders:        h.orderUC,
		Events:        h.events,
		IDs:           h.ids,
		Clock:         h.clock,
		Retry:         policy,
	})
	h.checkoutUC = usecase.NewCheckoutUsecase(h.cartUC, h.orderUC, h.paymentUC, validator.NewCheckoutValidator(), pricing, h.events, nil)
	h.reconcile = usecase.NewReconcileUsecase(h.orderUC, h.paymentUC, h.events, h.clock, nil, 30*time.Minute)
	return h
}

// =====================
// Fixtures
// =====================

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func moneyPtr(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

func product(id string, price string, stock int, sellerID string) model.Product {
	return model.Product{
		ID:         id,
		Name:       "Product " + id,
		Brand:      "Acme",
		Price:      money(price),
		Stock:      stock,
		SellerID:   sellerID,
		SellerName: "Seller " + sellerID,
		IsActive:   true,
	}
}

func validCard() *model.CardDetails {
	return &model.CardDetails{
		Number:         "4242 4242 4242 4242",
		ExpiryMonth:    12,
		ExpiryYear:     2028,
		CVV:            "123",
		CardholderName: "Jane Doe",
	}
}

func checkoutInput(method model.PaymentMethod, card *model.CardDetails) usecase.CheckoutInput {
	return usecase.CheckoutInput{
		Customer: model.Customer{Name: "Jane Doe", Email: "jane@example.com", Phone: "+1 555 0100"},
		ShippingAddress: model.Address{
			FirstName: "Jane",
			LastName:  "Doe",
			Street:    "1 Main St",
			City:      "Springfield",
			State:     "IL",
			Zip:       "62701",
			Country:   "US",
		},
		Payment: usecase.CheckoutPayment{Method: method, Card: card},
	}
}

func approved(ref string) usecase.GatewayResult {
	return usecase.GatewayResult{Approved: true, Reference: ref, Raw: map[string]any{"status": "approved"}}
}

// =====================
// Helper: error kind / contains
// =====================

func assertKind(t *testing.T, err error, want usecase.ErrorKind) {
	t.Helper()
	if assert.Error(t, err) {
		assert.Equal(t, want, usecase.KindOf(err), "err=%v", err)
	}
}
