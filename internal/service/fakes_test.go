package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type fakeTxKey struct{}

// memStore is an in-memory catalog and order book. A transaction holds the
// mutex for its whole duration and restores a snapshot on error, which
// gives the same serialization as row locks on a single product set.
type memStore struct {
	mu          sync.Mutex
	products    map[int64]*models.Product
	orders      map[int64]*models.Order
	events      map[string]string
	nextOrderID int64
	nextItemID  int64

	// failCreates makes the next N CreateOrder calls collide on order number
	failCreates int
	created     []string
}

func newMemStore(products ...*models.Product) *memStore {
	s := &memStore{
		products: make(map[int64]*models.Product),
		orders:   make(map[int64]*models.Order),
		events:   make(map[string]string),
	}
	for _, p := range products {
		cp := *p
		s.products[p.ID] = &cp
	}
	return s
}

func product(id int64, name string, price string, stock int) *models.Product {
	return &models.Product{
		ID:     id,
		Name:   name,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Status: models.ProductStatusActive,
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

// guard locks the store for calls made outside a transaction
func (s *memStore) guard(ctx context.Context) func() {
	if ctx.Value(fakeTxKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type memSnapshot struct {
	products    map[int64]models.Product
	orders      map[int64]*models.Order
	events      map[string]string
	nextOrderID int64
	nextItemID  int64
	created     []string
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		products:    make(map[int64]models.Product, len(s.products)),
		orders:      make(map[int64]*models.Order, len(s.orders)),
		events:      make(map[string]string, len(s.events)),
		nextOrderID: s.nextOrderID,
		nextItemID:  s.nextItemID,
		created:     append([]string(nil), s.created...),
	}
	for id, p := range s.products {
		snap.products[id] = *p
	}
	for id, o := range s.orders {
		snap.orders[id] = copyOrder(o)
	}
	for id, t := range s.events {
		snap.events[id] = t
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.products = make(map[int64]*models.Product, len(snap.products))
	for id, p := range snap.products {
		cp := p
		s.products[id] = &cp
	}
	s.orders = snap.orders
	s.events = snap.events
	s.nextOrderID = snap.nextOrderID
	s.nextItemID = snap.nextItemID
	// consumed collisions are not restored
	s.created = snap.created
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}

func (s *memStore) FindProductByID(ctx context.Context, id int64) (*models.Product, error) {
	defer s.guard(ctx)()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	defer s.guard(ctx)()
	p, ok := s.products[productID]
	if !ok || p.Stock < quantity {
		return fmt.Errorf("product %d: %w", productID, store.ErrInsufficientStock)
	}
	p.Stock -= quantity
	return nil
}

func (s *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	defer s.guard(ctx)()

	if s.failCreates > 0 {
		s.failCreates--
		return store.ErrDuplicateOrderNumber
	}
	for _, existing := range s.orders {
		if existing.OrderNumber == order.OrderNumber {
			return store.ErrDuplicateOrderNumber
		}
	}

	s.nextOrderID++
	now := time.Now()
	order.ID = s.nextOrderID
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Items {
		s.nextItemID++
		order.Items[i].ID = s.nextItemID
		order.Items[i].OrderID = order.ID
	}
	s.orders[order.ID] = copyOrder(order)
	s.created = append(s.created, order.OrderNumber)
	return nil
}

func (s *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	defer s.guard(ctx)()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

func (s *memStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	defer s.guard(ctx)()
	for _, o := range s.orders {
		if o.OrderNumber == orderNumber {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (s *memStore) ListOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	defer s.guard(ctx)()
	var out []models.Order
	for _, o := range s.orders {
		if o.UserID.Valid && o.UserID.String == userID {
			out = append(out, *copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, trackingNumber string) error {
	defer s.guard(ctx)()
	o, ok := s.orders[orderID]
	if !ok || o.Status != from {
		return fmt.Errorf("order %d: %w", orderID, store.ErrStatusChanged)
	}
	o.Status = to
	if trackingNumber != "" {
		o.TrackingNumber.String, o.TrackingNumber.Valid = trackingNumber, true
	}
	if to == models.OrderStatusShipped {
		o.ShippedAt.Time, o.ShippedAt.Valid = time.Now(), true
	}
	return nil
}

func (s *memStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	defer s.guard(ctx)()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *memStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	defer s.guard(ctx)()
	s.events[eventID] = eventType
	return nil
}

func (s *memStore) stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// syncDispatcher runs tasks inline and records what ran
type syncDispatcher struct {
	mu     sync.Mutex
	full   bool
	kinds  []string
	errors []error
}

func (d *syncDispatcher) Dispatch(kind string, task func(ctx context.Context) error) bool {
	if d.full {
		return false
	}
	err := task(context.Background())

	d.mu.Lock()
	defer d.mu.Unlock()
	d.kinds = append(d.kinds, kind)
	d.errors = append(d.errors, err)
	return true
}

func (d *syncDispatcher) ran() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.kinds...)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// memKeys implements IdempotencyStore and VerificationStore
type memKeys struct {
	mu      sync.Mutex
	orders  map[string]models.IdempotencyRecord
	locks   map[string]string
	lockTTL time.Duration
	tokens  int
	codes   map[string]string
	err     error
}

func newMemKeys() *memKeys {
	return &memKeys{
		orders: make(map[string]models.IdempotencyRecord),
		locks:  make(map[string]string),
		codes:  make(map[string]string),
	}
}

func (k *memKeys) GetIdempotentOrder(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	rec, ok := k.orders[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (k *memKeys) SaveIdempotentOrder(_ context.Context, key string, rec models.IdempotencyRecord, _ time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	k.orders[key] = rec
	return nil
}

func (k *memKeys) AcquireLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return "", k.err
	}
	if _, held := k.locks[key]; held {
		return "", nil
	}
	k.tokens++
	token := fmt.Sprintf("token-%d", k.tokens)
	k.locks[key] = token
	k.lockTTL = ttl
	return token, nil
}

func (k *memKeys) ReleaseLock(_ context.Context, key, token string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks[key] == token {
		delete(k.locks, key)
	}
	return nil
}

func (k *memKeys) SaveCode(_ context.Context, token, code string, _ time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.codes[token] = code
	return nil
}

func (k *memKeys) ConsumeCode(_ context.Context, token string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	code := k.codes[token]
	delete(k.codes, token)
	return code, nil
}
