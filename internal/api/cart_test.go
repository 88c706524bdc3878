package api

import (
	"context"
	"net/http"
	"testing"

	"storefront-service/internal/models"
	"storefront-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCarts struct {
	added    int
	checkout *service.CheckoutRequest
}

func (f *fakeCarts) GetCart(context.Context, string) (*service.CartView, error) {
	return &service.CartView{}, nil
}

func (f *fakeCarts) AddItem(_ context.Context, _ string, _ int64, quantity int) (*service.CartView, error) {
	f.added = quantity
	return &service.CartView{Count: quantity}, nil
}

func (f *fakeCarts) UpdateItem(context.Context, string, int64, int) (*service.CartView, error) {
	return nil, service.ErrCartItemNotFound
}

func (f *fakeCarts) RemoveItem(context.Context, string, int64) (*service.CartView, error) {
	return &service.CartView{}, nil
}

func (f *fakeCarts) ClearCart(context.Context, string) error { return nil }

func (f *fakeCarts) Checkout(_ context.Context, _ string, req *service.CheckoutRequest) (*models.Order, error) {
	f.checkout = req
	return &models.Order{ID: 3, OrderID: "NJ3"}, nil
}

func newCartServer() (*testServer, *fakeCarts) {
	gin.SetMode(gin.TestMode)
	carts := &fakeCarts{}
	h := NewHandler(Deps{Carts: carts})
	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router}, carts
}

func TestCartRoutes(t *testing.T) {
	ts, carts := newCartServer()

	w := ts.do(http.MethodPost, "/api/v1/cart/s1/items", []byte(`{"product":1}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, carts.added)

	w = ts.do(http.MethodPatch, "/api/v1/cart/s1/items/1", []byte(`{"delta":1}`), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Item not in cart", decodeBody(t, w)["error"])

	w = ts.do(http.MethodPatch, "/api/v1/cart/s1/items/x", []byte(`{"delta":1}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/cart/s1/checkout",
		[]byte(`{"customer":{"name":"Asha","email":"a@b.co"}}`),
		map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, carts.checkout)
	assert.Equal(t, "k", carts.checkout.IdempotencyKey)
	assert.Equal(t, "Asha", carts.checkout.Customer.Name)
}
