package service

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront-service/internal/models"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceAndCancelRestoresStock(t *testing.T) {
	svc, st, pub := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, placeRequest(" Asha@Example.COM ", OrderItemRequest{ProductID: 1, Quantity: 2}))
	require.NoError(t, err)
	assert.Equal(t, 3, st.stock(1))

	assert.Equal(t, models.OrderStatusPending, order.Status)
	require.Len(t, order.StatusHistory, 1)
	assert.Equal(t, "Order status changed to pending", order.StatusHistory[0].Note)
	assert.Equal(t, "asha@example.com", order.Customer.Email)
	assert.Equal(t, "20.00", order.TotalAmount.StringFixed(2))
	assert.Equal(t, "5.00", order.ShippingAmount.StringFixed(2))
	assert.Equal(t, "25.00", order.FinalAmount.StringFixed(2))
	assert.Equal(t, models.DefaultCountry, order.ShippingAddress.Country)
	assert.Equal(t, models.PaymentMethodRazorpay, order.Payment.Method)
	assert.Equal(t, models.PaymentStatusPending, order.Payment.Status)
	assert.Equal(t, "Mug", order.Items[0].Name)
	assert.True(t, strings.HasPrefix(order.OrderID, OrderIDPrefix))
	assert.Equal(t, 1, pub.count(models.EventTypeOrderPlaced))

	cancelled, err := svc.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Len(t, cancelled.StatusHistory, 2)
	assert.Equal(t, 5, st.stock(1))

	_, err = svc.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotCancellable)
	assert.Equal(t, 5, st.stock(1), "a second cancel must not restore stock again")
	assert.Equal(t, 1, pub.count(models.EventTypeOrderCancelled))
}

func TestPlaceOrderInsufficientStockReleasesEarlierItems(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	st.addProduct(2, "Plate", "4.00", 1)

	_, err := svc.PlaceOrder(context.Background(), placeRequest("a@b.co",
		OrderItemRequest{ProductID: 1, Quantity: 2},
		OrderItemRequest{ProductID: 2, Quantity: 3},
	))

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "Insufficient stock for: Plate", err.Error())
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 5, st.stock(1))
	assert.Equal(t, 1, st.stock(2))
	assert.Empty(t, st.orders)
}

func TestPlaceOrderUnknownOrInactiveProduct(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	st.addProduct(2, "Old", "1.00", 5)
	st.products[2].IsActive = false
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, placeRequest("a@b.co",
		OrderItemRequest{ProductID: 1, Quantity: 1},
		OrderItemRequest{ProductID: 99, Quantity: 1},
	))
	var nf *ProductNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, int64(99), nf.ProductID)
	assert.Equal(t, 5, st.stock(1))

	_, err = svc.PlaceOrder(ctx, placeRequest("a@b.co", OrderItemRequest{ProductID: 2, Quantity: 1}))
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, 5, st.stock(2))
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)

	tests := []struct {
		name  string
		req   *PlaceOrderRequest
		field string
	}{
		{"missing name", &PlaceOrderRequest{Customer: CustomerRequest{Email: "a@b.co"}, Items: []OrderItemRequest{{ProductID: 1, Quantity: 1}}}, "customer.name"},
		{"bad email", &PlaceOrderRequest{Customer: CustomerRequest{Name: "A", Email: "nope"}, Items: []OrderItemRequest{{ProductID: 1, Quantity: 1}}}, "customer.email"},
		{"no items", &PlaceOrderRequest{Customer: CustomerRequest{Name: "A", Email: "a@b.co"}}, "items"},
		{"empty items", &PlaceOrderRequest{Customer: CustomerRequest{Name: "A", Email: "a@b.co"}, Items: []OrderItemRequest{}}, "items"},
		{"zero quantity", &PlaceOrderRequest{Customer: CustomerRequest{Name: "A", Email: "a@b.co"}, Items: []OrderItemRequest{{ProductID: 1}}}, "items[0].quantity"},
		{"bad payment method", &PlaceOrderRequest{Customer: CustomerRequest{Name: "A", Email: "a@b.co"}, Items: []OrderItemRequest{{ProductID: 1, Quantity: 1}}, Payment: &PaymentMethodRequest{Method: "bitcoin"}}, "payment.method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, hasField(err, tt.field), "expected field %s in %v", tt.field, err)
		})
	}
	assert.Equal(t, 5, st.stock(1))
}

func TestPlaceOrderIgnoresClientPrice(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)

	cheap := decimal.RequireFromString("0.01")
	order, err := svc.PlaceOrder(context.Background(), placeRequest("a@b.co",
		OrderItemRequest{ProductID: 1, Quantity: 1, Price: &cheap}))
	require.NoError(t, err)
	assert.Equal(t, "10.00", order.Items[0].Price.StringFixed(2))
	assert.Equal(t, "15.00", order.FinalAmount.StringFixed(2))
}

func TestPlaceOrderRetriesOrderIDCollision(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	st.failCreates = 2

	order, err := svc.PlaceOrder(context.Background(), placeRequest("a@b.co", OrderItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, 3, st.createCalls)
	assert.NotZero(t, order.ID)
	assert.Equal(t, 4, st.stock(1))
}

func TestPlaceOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	st.failCreates = maxOrderIDAttempts

	_, err := svc.PlaceOrder(context.Background(), placeRequest("a@b.co", OrderItemRequest{ProductID: 1, Quantity: 2}))
	assert.ErrorIs(t, err, ErrDuplicateOrderID)
	assert.Equal(t, 5, st.stock(1))
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	ctx := context.Background()

	req := placeRequest("a@b.co", OrderItemRequest{ProductID: 1, Quantity: 2})
	req.IdempotencyKey = "key-1"
	first, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	req = placeRequest("a@b.co", OrderItemRequest{ProductID: 1, Quantity: 2})
	req.IdempotencyKey = "key-1"
	second, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, st.stock(1))
	assert.Len(t, st.orders, 1)
}

func TestOrderIDsUniqueAcrossManyOrders(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Pin", "1.00", 20000)
	ctx := context.Background()

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		order, err := svc.PlaceOrder(ctx, placeRequest("bulk@b.co", OrderItemRequest{ProductID: 1, Quantity: 1}))
		require.NoError(t, err)
		seen[order.OrderID] = struct{}{}
	}
	assert.Len(t, seen, 10000)
	assert.Equal(t, 10000, st.stock(1))
}

func TestFinalAmountAlwaysRecomputed(t *testing.T) {
	svc, st, _ := newOrderFixture()
	rng := rand.New(rand.NewSource(7))
	for id := int64(1); id <= 5; id++ {
		st.addProduct(id, "p", decimal.New(rng.Int63n(10000)+1, -2).String(), 1000)
	}

	for i := 0; i < 50; i++ {
		var items []OrderItemRequest
		for id := int64(1); id <= 5; id++ {
			if rng.Intn(2) == 0 {
				items = append(items, OrderItemRequest{ProductID: id, Quantity: rng.Intn(4) + 1})
			}
		}
		if len(items) == 0 {
			items = append(items, OrderItemRequest{ProductID: 1, Quantity: 1})
		}

		order, err := svc.PlaceOrder(context.Background(), placeRequest("p@b.co", items...))
		require.NoError(t, err)

		total := decimal.Zero
		for _, li := range order.Items {
			total = total.Add(li.Price.Mul(decimal.NewFromInt(int64(li.Quantity))))
		}
		assert.True(t, total.Equal(order.TotalAmount))
		assert.True(t, total.Add(order.ShippingAmount).Sub(order.DiscountAmount).Equal(order.FinalAmount))
	}
}

func TestChangeStatus(t *testing.T) {
	svc, st, pub := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, placeRequest("a@b.co", OrderItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, order.ID, "lost", "")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.ChangeStatus(ctx, 404, "shipped", "")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	updated, err := svc.ChangeStatus(ctx, order.ID, "shipped", "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, updated.Status)
	require.Len(t, updated.StatusHistory, 2)
	assert.Equal(t, "Order status changed to shipped", updated.StatusHistory[1].Note)

	updated, err = svc.ChangeStatus(ctx, order.ID, "delivered", "Left at door")
	require.NoError(t, err)
	assert.Equal(t, "Left at door", updated.StatusHistory[2].Note)

	stored, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored.StatusHistory, 3)
	assert.Equal(t, 2, pub.count(models.EventTypeOrderStatusChanged))
}

func TestCancelOnlyFromPendingOrConfirmed(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, placeRequest("a@b.co", OrderItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, order.ID, "shipped", "")
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotCancellable)
	assert.Equal(t, 4, st.stock(1))

	_, err = svc.CancelOrder(ctx, 12345)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestConcurrentCancelRestoresStockOnce(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, placeRequest("a@b.co", OrderItemRequest{ProductID: 1, Quantity: 3}))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CancelOrder(ctx, order.ID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrOrderNotCancellable))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 5, st.stock(1))
}

func TestTrackOrderIgnoresCase(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, placeRequest("a@b.co", OrderItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)

	found, err := svc.TrackOrder(ctx, " "+strings.ToLower(order.OrderID)+" ")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)

	_, err = svc.TrackOrder(ctx, "NJ0")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrdersByCustomer(t *testing.T) {
	svc, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 50)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.PlaceOrder(ctx, placeRequest("list@b.co", OrderItemRequest{ProductID: 1, Quantity: 1}))
		require.NoError(t, err)
	}
	_, err := svc.PlaceOrder(ctx, placeRequest("other@b.co", OrderItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)

	page, err := svc.ListOrdersByCustomer(ctx, "LIST@b.co", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Len(t, page.Orders, 1)

	page, err = svc.ListOrdersByCustomer(ctx, "list@b.co", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.CurrentPage)
	assert.Equal(t, defaultPageSize, st.lastLimit)
	assert.Len(t, page.Orders, 3)

	_, err = svc.ListOrdersByCustomer(ctx, "list@b.co", 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, st.lastLimit)
}

func TestOrderIDFormat(t *testing.T) {
	i := 0
	g := &OrderIDGenerator{
		now: func() time.Time { return time.UnixMilli(1700000000123) },
		intn: func(n int) int {
			i++
			return (i + 9) % n
		},
	}
	assert.Equal(t, "NJ1700000000123ABCDE", g.Generate())
	assert.Equal(t, "NJ1700000000123", NormalizeOrderID(" nj1700000000123 "))
}
