package service

import (
	"context"
	"strings"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxOrderIDAttempts = 5

	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 100
)

// OrderStore persists orders with their items and status history.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, idempotencyKey string) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListOrdersByEmail(ctx context.Context, email string, limit, offset int) ([]models.Order, error)
	CountOrdersByEmail(ctx context.Context, email string) (int, error)
	UpdateOrderStatus(ctx context.Context, id int64, from []models.OrderStatus, entry models.StatusEntry) error
}

// ProductReader resolves catalog products.
type ProductReader interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
}

// EventPublisher publishes order and payment lifecycle events.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishPaymentVerified(ctx context.Context, event *models.PaymentVerifiedEvent) error
	PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error
}

// OrderService handles order business logic
type OrderService struct {
	orders    OrderStore
	products  ProductReader
	inventory *InventoryClient
	events    EventPublisher
	ids       *OrderIDGenerator
	shipping  decimal.Decimal
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	products ProductReader,
	inventory *InventoryClient,
	events EventPublisher,
) *OrderService {
	return &OrderService{
		orders:    orders,
		products:  products,
		inventory: inventory,
		events:    events,
		ids:       NewOrderIDGenerator(),
		shipping:  models.DefaultShippingAmount,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// CustomerRequest is the customer contact supplied with an order
type CustomerRequest struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Phone  string `json:"phone,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product" validate:"required"`
	Quantity  int   `json:"quantity" validate:"min=1"`
	// Price is accepted but ignored, the catalog price is always used.
	Price *decimal.Decimal `json:"price,omitempty"`
}

// PaymentMethodRequest selects how the order will be paid
type PaymentMethodRequest struct {
	Method models.PaymentMethod `json:"method" validate:"omitempty,oneof=razorpay cod card upi"`
}

// PlaceOrderRequest represents a request to create an order
type PlaceOrderRequest struct {
	Customer        CustomerRequest       `json:"customer"`
	Items           []OrderItemRequest    `json:"items" validate:"required,min=1,dive"`
	ShippingAddress *models.Address       `json:"shippingAddress,omitempty"`
	Payment         *PaymentMethodRequest `json:"payment,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	IdempotencyKey  string                `json:"-"`
}

// OrderPage is one page of a customer's order history
type OrderPage struct {
	Orders      []models.Order `json:"orders"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	Total       int            `json:"total"`
}

// PlaceOrder validates the request, reserves stock for every line item and
// persists a pending order. If any step fails after stock was taken, the
// stock is released again before returning.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	req.Customer.Name = strings.TrimSpace(req.Customer.Name)
	req.Customer.Email = models.NormalizeEmail(req.Customer.Email)
	if err := validateStruct(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, errors.Wrap(err, "check idempotency")
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.OrderID))
			return existing, nil
		}
	}

	reservation := s.inventory.Begin()
	items := make([]models.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		product, err := s.resolveProduct(ctx, item.ProductID)
		if err != nil {
			reservation.Rollback(ctx)
			util.OrdersFailedTotal.WithLabelValues("product_not_found").Inc()
			return nil, err
		}

		if err := reservation.Reserve(ctx, product.ID, item.Quantity); err != nil {
			reservation.Rollback(ctx)
			var stockErr *InsufficientStockError
			if errors.As(err, &stockErr) {
				stockErr.Name = product.Name
				util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
			} else {
				util.OrdersFailedTotal.WithLabelValues("reservation_failed").Inc()
			}
			return nil, err
		}

		items = append(items, models.LineItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Image:     product.Image,
			Quantity:  item.Quantity,
		})
	}

	order := s.newOrder(req, items)
	if err := s.persist(ctx, order, req.IdempotencyKey); err != nil {
		reservation.Rollback(ctx)
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			existing, getErr := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr == nil && existing != nil {
				return existing, nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("id", order.ID),
		zap.String("order_id", order.OrderID),
		zap.String("final_amount", order.FinalAmount.StringFixed(2)))

	event := &models.OrderPlacedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderPlaced, s.now()),
		ID:          order.ID,
		OrderID:     order.OrderID,
		Email:       order.Customer.Email,
		FinalAmount: order.FinalAmount,
		Items:       order.Items,
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}

	return order, nil
}

func (s *OrderService) resolveProduct(ctx context.Context, productID int64) (*models.Product, error) {
	product, err := s.products.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ProductNotFoundError{ProductID: productID}
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if !product.IsActive {
		return nil, &ProductNotFoundError{ProductID: productID}
	}
	return product, nil
}

func (s *OrderService) newOrder(req *PlaceOrderRequest, items []models.LineItem) *models.Order {
	now := s.now()

	var address models.Address
	if req.ShippingAddress != nil {
		address = *req.ShippingAddress
	}
	if address.Country == "" {
		address.Country = models.DefaultCountry
	}

	method := models.PaymentMethodRazorpay
	if req.Payment != nil && req.Payment.Method != "" {
		method = req.Payment.Method
	}

	order := &models.Order{
		Customer: models.Customer{
			Name:   req.Customer.Name,
			Email:  req.Customer.Email,
			Phone:  strings.TrimSpace(req.Customer.Phone),
			UserID: req.Customer.UserID,
		},
		Items:           items,
		ShippingAmount:  s.shipping,
		DiscountAmount:  decimal.Zero,
		ShippingAddress: address,
		Payment: models.PaymentInfo{
			Method: method,
			Status: models.PaymentStatusPending,
		},
		Notes:     strings.TrimSpace(req.Notes),
		CreatedAt: now,
	}
	order.RecomputeAmounts()
	order.SetStatus(models.OrderStatusPending, "", now)
	return order
}

// persist stores the order under a freshly generated order ID, generating a
// new one whenever the store reports a collision.
func (s *OrderService) persist(ctx context.Context, order *models.Order, idempotencyKey string) error {
	for attempt := 1; attempt <= maxOrderIDAttempts; attempt++ {
		order.OrderID = s.ids.Generate()

		err := s.orders.CreateOrder(ctx, order, idempotencyKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDuplicateOrderID) {
			return errors.Wrap(err, "create order")
		}

		util.OrderIDCollisionsTotal.Inc()
		s.logger.Warn("Order ID collision, regenerating",
			zap.String("order_id", order.OrderID),
			zap.Int("attempt", attempt))
	}
	return ErrDuplicateOrderID
}

// GetOrder retrieves an order by internal ID
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.getOrder(ctx, id)
}

func (s *OrderService) getOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return order, nil
}

// TrackOrder looks an order up by its human-facing ID, ignoring case
func (s *OrderService) TrackOrder(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TrackOrder")
	defer span.End()

	order, err := s.orders.GetOrderByOrderID(ctx, NormalizeOrderID(orderID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "track order")
	}
	return order, nil
}

// ListOrdersByCustomer returns a page of the customer's orders, newest first
func (s *OrderService) ListOrdersByCustomer(ctx context.Context, email string, page, limit int) (*OrderPage, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrdersByCustomer")
	defer span.End()

	page, limit = normalizePage(page, limit)
	email = models.NormalizeEmail(email)

	orders, err := s.orders.ListOrdersByEmail(ctx, email, limit, (page-1)*limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	total, err := s.orders.CountOrdersByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "count orders")
	}

	return &OrderPage{
		Orders:      orders,
		TotalPages:  (total + limit - 1) / limit,
		CurrentPage: page,
		Total:       total,
	}, nil
}

// ChangeStatus moves an order to status and records the change. An empty
// note is replaced by a generated one.
func (s *OrderService) ChangeStatus(ctx context.Context, id int64, status, note string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ChangeStatus")
	defer span.End()

	next := models.OrderStatus(status)
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}

	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, next) {
		return nil, errors.Wrapf(ErrInvalidStatus, "%s to %s", order.Status, next)
	}

	prev := order.Status
	entry := order.SetStatus(next, strings.TrimSpace(note), s.now())
	if err := s.orders.UpdateOrderStatus(ctx, id, nil, entry); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "update order status")
	}

	util.OrderStatusChangesTotal.WithLabelValues(string(next)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
	s.publishStatusChanged(ctx, order, prev, entry)

	return order, nil
}

// CancelOrder cancels a pending or confirmed order and returns its stock.
// The status flip is conditional in the store, so only one caller can win
// and stock is released at most once per order.
func (s *OrderService) CancelOrder(ctx context.Context, id int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, ErrOrderNotCancellable
	}

	prev := order.Status
	entry := order.SetStatus(models.OrderStatusCancelled, "Order cancelled by customer", s.now())
	err = s.orders.UpdateOrderStatus(ctx, id, models.CancellableStatuses(), entry)
	switch {
	case errors.Is(err, store.ErrStatusConflict):
		return nil, ErrOrderNotCancellable
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrOrderNotFound
	case err != nil:
		return nil, errors.Wrap(err, "cancel order")
	}

	for _, item := range order.Items {
		if err := s.inventory.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("Stock not restored for cancelled order",
				zap.Int64("id", id),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
		}
	}

	util.OrdersCancelledTotal.Inc()
	util.OrderStatusChangesTotal.WithLabelValues(string(models.OrderStatusCancelled)).Inc()
	s.logger.Info("Order cancelled", zap.Int64("id", id), zap.String("order_id", order.OrderID))

	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled, s.now()),
		ID:        order.ID,
		OrderID:   order.OrderID,
		Items:     order.Items,
	}
	if err := s.events.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
	s.publishStatusChanged(ctx, order, prev, entry)

	return order, nil
}

func (s *OrderService) publishStatusChanged(ctx context.Context, order *models.Order, prev models.OrderStatus, entry models.StatusEntry) {
	publishStatusChanged(ctx, s.events, s.logger, order, prev, entry)
}

func publishStatusChanged(ctx context.Context, events EventPublisher, logger *zap.Logger, order *models.Order, prev models.OrderStatus, entry models.StatusEntry) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged, entry.Timestamp),
		ID:        order.ID,
		OrderID:   order.OrderID,
		From:      prev,
		To:        entry.Status,
		Note:      entry.Note,
	}
	if err := events.PublishOrderStatusChanged(ctx, event); err != nil {
		logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}

func newBaseEvent(eventType string, at time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: at,
	}
}
