package service

import (
	"context"

	"storefront-service/internal/cart"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService manages server-side carts and turns them into orders
type CartService struct {
	carts    *cart.Store
	orders   *OrderService
	shipping decimal.Decimal
}

// NewCartService creates a cart service
func NewCartService(carts *cart.Store, orders *OrderService) *CartService {
	return &CartService{
		carts:    carts,
		orders:   orders,
		shipping: models.DefaultShippingAmount,
	}
}

// CartView is a cart with its computed totals
type CartView struct {
	Items    []cart.Item     `json:"items"`
	Count    int             `json:"count"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

func (s *CartService) view(c *cart.Cart) *CartView {
	items := c.Items
	if items == nil {
		items = []cart.Item{}
	}
	return &CartView{
		Items:    items,
		Count:    c.Count(),
		Subtotal: c.Subtotal(),
		Shipping: s.shipping,
		Total:    c.Total(s.shipping),
	}
}

// GetCart returns the session's cart
func (s *CartService) GetCart(ctx context.Context, sessionID string) (*CartView, error) {
	c, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.view(c), nil
}

// AddItem adds quantity units of an active product, priced from the catalog
func (s *CartService) AddItem(ctx context.Context, sessionID string, productID int64, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity < 1 {
		verr := &ValidationError{}
		verr.add("quantity", "must be at least 1")
		return nil, verr
	}

	product, err := s.orders.resolveProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	return s.update(ctx, sessionID, func(c *cart.Cart) error {
		c.Add(cart.Item{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Image:     product.Image,
			Quantity:  quantity,
		})
		return nil
	})
}

// UpdateItem changes an item's quantity by delta, dropping it at zero
func (s *CartService) UpdateItem(ctx context.Context, sessionID string, productID int64, delta int) (*CartView, error) {
	return s.update(ctx, sessionID, func(c *cart.Cart) error {
		if !c.UpdateQuantity(productID, delta) {
			return ErrCartItemNotFound
		}
		return nil
	})
}

// RemoveItem drops a product from the cart
func (s *CartService) RemoveItem(ctx context.Context, sessionID string, productID int64) (*CartView, error) {
	return s.update(ctx, sessionID, func(c *cart.Cart) error {
		if !c.Remove(productID) {
			return ErrCartItemNotFound
		}
		return nil
	})
}

// ClearCart empties the cart
func (s *CartService) ClearCart(ctx context.Context, sessionID string) error {
	return s.carts.Delete(ctx, sessionID)
}

func (s *CartService) update(ctx context.Context, sessionID string, fn func(*cart.Cart) error) (*CartView, error) {
	c, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if err := s.carts.Put(ctx, sessionID, c); err != nil {
		return nil, err
	}
	return s.view(c), nil
}

// CheckoutRequest carries the order details that are not in the cart
type CheckoutRequest struct {
	Customer        CustomerRequest       `json:"customer"`
	ShippingAddress *models.Address       `json:"shippingAddress,omitempty"`
	Payment         *PaymentMethodRequest `json:"payment,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	IdempotencyKey  string                `json:"-"`
}

// Checkout places an order for the cart contents and clears the cart once
// the order exists.
func (s *CartService) Checkout(ctx context.Context, sessionID string, req *CheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Checkout")
	defer span.End()

	c, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	items := make([]OrderItemRequest, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := s.orders.PlaceOrder(ctx, &PlaceOrderRequest{
		Customer:        req.Customer,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		Payment:         req.Payment,
		Notes:           req.Notes,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	if err := s.carts.Delete(ctx, sessionID); err != nil {
		s.orders.logger.Warn("Cart not cleared after checkout",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
	}
	return order, nil
}
