package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/store"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for store.Store with the same error
// contract.
type memStore struct {
	mu        sync.Mutex
	products  map[int64]*models.Product
	orders    map[int64]*models.Order
	orderIDs  map[string]int64
	idem      map[string]int64
	processed map[string]bool
	nextID    int64

	// failCreates makes the next n CreateOrder calls report a duplicate order id.
	failCreates int
	createCalls int
	lastLimit   int
}

func newMemStore() *memStore {
	return &memStore{
		products:  map[int64]*models.Product{},
		orders:    map[int64]*models.Order{},
		orderIDs:  map[string]int64{},
		idem:      map[string]int64{},
		processed: map[string]bool{},
	}
}

func (m *memStore) addProduct(id int64, name, price string, stock int) {
	m.products[id] = &models.Product{
		ID:       id,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Image:    "/img/" + name + ".png",
		Stock:    stock,
		IsActive: true,
	}
}

func (m *memStore) stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.LineItem(nil), o.Items...)
	c.StatusHistory = append([]models.StatusEntry(nil), o.StatusHistory...)
	return &c
}

func (m *memStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "product %d", id)
	}
	c := *p
	return &c, nil
}

func (m *memStore) ListActiveProducts(_ context.Context, limit, offset int) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.products {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []models.Product{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CountActiveProducts(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.products {
		if p.IsActive {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ReserveStock(_ context.Context, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	if p.Stock < quantity {
		return store.ErrInsufficientStock
	}
	p.Stock -= quantity
	return nil
}

func (m *memStore) ReleaseStock(_ context.Context, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock += quantity
	return nil
}

func (m *memStore) CreateOrder(_ context.Context, order *models.Order, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.failCreates > 0 {
		m.failCreates--
		return store.ErrDuplicateOrderID
	}
	if _, dup := m.orderIDs[order.OrderID]; dup {
		return store.ErrDuplicateOrderID
	}
	if key != "" {
		if _, dup := m.idem[key]; dup {
			return store.ErrDuplicateIdempotencyKey
		}
	}

	m.nextID++
	order.ID = m.nextID
	m.orders[order.ID] = cloneOrder(order)
	m.orderIDs[order.OrderID] = order.ID
	if key != "" {
		m.idem[key] = order.ID
	}
	return nil
}

func (m *memStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "order %d", id)
	}
	return cloneOrder(o), nil
}

func (m *memStore) GetOrderByOrderID(_ context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	id, ok := m.orderIDs[orderID]
	m.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.GetOrderByID(context.Background(), id)
}

func (m *memStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	id, ok := m.idem[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return m.GetOrderByID(context.Background(), id)
}

func (m *memStore) findOrder(match func(*models.Order) bool) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if match(o) {
			return cloneOrder(o), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetOrderByGatewayOrderID(_ context.Context, id string) (*models.Order, error) {
	return m.findOrder(func(o *models.Order) bool { return o.Payment.GatewayOrderID == id })
}

func (m *memStore) GetOrderByGatewayPaymentID(_ context.Context, id string) (*models.Order, error) {
	return m.findOrder(func(o *models.Order) bool { return o.Payment.GatewayPaymentID == id })
}

func (m *memStore) ListOrdersByEmail(_ context.Context, email string, limit, offset int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	var out []models.Order
	for _, o := range m.orders {
		if o.Customer.Email == email {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return []models.Order{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CountOrdersByEmail(_ context.Context, email string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.Customer.Email == email {
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, id int64, from []models.OrderStatus, entry models.StatusEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	if len(from) > 0 {
		allowed := false
		for _, s := range from {
			if o.Status == s {
				allowed = true
			}
		}
		if !allowed {
			return store.ErrStatusConflict
		}
	}
	o.Status = entry.Status
	o.StatusHistory = append(o.StatusHistory, entry)
	o.UpdatedAt = entry.Timestamp
	return nil
}

func (m *memStore) UpdatePayment(_ context.Context, id int64, payment models.PaymentInfo, entry *models.StatusEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.Payment = payment
	if entry != nil {
		o.Status = entry.Status
		o.StatusHistory = append(o.StatusHistory, *entry)
	}
	return nil
}

func (m *memStore) SetGatewayOrderID(_ context.Context, id int64, gatewayOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.Payment.GatewayOrderID = gatewayOrderID
	return nil
}

func (m *memStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[eventID], nil
}

func (m *memStore) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = true
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(t string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, t)
	return nil
}

func (p *recordingPublisher) count(t string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == t {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPaymentVerified(_ context.Context, e *models.PaymentVerifiedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPaymentRefunded(_ context.Context, e *models.PaymentRefundedEvent) error {
	return p.record(e.EventType)
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}}
}

func (l *memLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type fakeGateway struct {
	orderReq  gateway.OrderRequest
	refundAmt int64
	err       error
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.orderReq = req
	return &gateway.Order{
		ID:       "order_gw1",
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*gateway.Payment, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Payment{ID: id, Amount: 2500, Status: "captured"}, nil
}

func (g *fakeGateway) Refund(_ context.Context, paymentID string, amount int64, _ map[string]string) (*gateway.Refund, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.refundAmt = amount
	if amount == 0 {
		amount = 2500
	}
	return &gateway.Refund{ID: "rfnd_1", PaymentID: paymentID, Amount: amount, Status: "processed"}, nil
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newOrderFixture() (*OrderService, *memStore, *recordingPublisher) {
	st := newMemStore()
	pub := &recordingPublisher{}
	svc := NewOrderService(st, st, NewInventoryClient(st), pub)
	svc.now = fixedClock()
	return svc, st, pub
}

func placeRequest(email string, items ...OrderItemRequest) *PlaceOrderRequest {
	return &PlaceOrderRequest{
		Customer: CustomerRequest{Name: "Asha Rao", Email: email},
		Items:    items,
	}
}

func hasField(err error, field string) bool {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	for _, f := range verr.Fields {
		if strings.EqualFold(f.Field, field) {
			return true
		}
	}
	return false
}
