package service

import (
	"context"
	"testing"

	"storefront-service/internal/cart"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCartStorage map[string][]byte

func (m memCartStorage) Load(_ context.Context, id string) ([]byte, error) { return m[id], nil }

func (m memCartStorage) Save(_ context.Context, id string, data []byte) error {
	m[id] = data
	return nil
}

func (m memCartStorage) Delete(_ context.Context, id string) error {
	delete(m, id)
	return nil
}

func newCartFixture() (*CartService, *memStore, memCartStorage) {
	orders, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	st.addProduct(2, "Plate", "4.50", 5)
	storage := memCartStorage{}
	return NewCartService(cart.NewStore(storage), orders), st, storage
}

func TestCartAddUsesCatalogPrice(t *testing.T) {
	svc, _, _ := newCartFixture()
	ctx := context.Background()

	view, err := svc.AddItem(ctx, "s1", 1, 2)
	require.NoError(t, err)
	view, err = svc.AddItem(ctx, "s1", 2, 1)
	require.NoError(t, err)
	view, err = svc.AddItem(ctx, "s1", 1, 1)
	require.NoError(t, err)

	require.Len(t, view.Items, 2)
	assert.Equal(t, 4, view.Count)
	assert.Equal(t, "34.50", view.Subtotal.StringFixed(2))
	assert.Equal(t, "39.50", view.Total.StringFixed(2))
	assert.Equal(t, "Mug", view.Items[0].Name)

	_, err = svc.AddItem(ctx, "s1", 42, 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = svc.AddItem(ctx, "s1", 1, 0)
	assert.True(t, hasField(err, "quantity"))
}

func TestCartUpdateAndRemove(t *testing.T) {
	svc, _, storage := newCartFixture()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", 1, 1)
	require.NoError(t, err)

	view, err := svc.UpdateItem(ctx, "s1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Count)

	_, err = svc.UpdateItem(ctx, "s1", 2, 1)
	assert.ErrorIs(t, err, ErrCartItemNotFound)

	view, err = svc.RemoveItem(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.NotContains(t, storage, "s1")

	view, err = svc.GetCart(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "5.00", view.Total.StringFixed(2))
}

func TestCheckoutPlacesOrderAndClearsCart(t *testing.T) {
	svc, st, storage := newCartFixture()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", 1, 2)
	require.NoError(t, err)

	order, err := svc.Checkout(ctx, "s1", &CheckoutRequest{
		Customer: CustomerRequest{Name: "Asha", Email: "asha@b.co"},
	})
	require.NoError(t, err)
	assert.Equal(t, "25.00", order.FinalAmount.StringFixed(2))
	assert.Equal(t, 3, st.stock(1))
	assert.NotContains(t, storage, "s1")
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc, _, _ := newCartFixture()

	_, err := svc.Checkout(context.Background(), "empty", &CheckoutRequest{
		Customer: CustomerRequest{Name: "Asha", Email: "asha@b.co"},
	})
	assert.True(t, hasField(err, "items"))
}

func TestCheckoutKeepsCartOnFailure(t *testing.T) {
	svc, _, storage := newCartFixture()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", 1, 5)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "s1", 1, 1)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, "s1", &CheckoutRequest{Customer: CustomerRequest{Name: "A", Email: "a@b.co"}})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, storage, "s1")
}

func TestCatalogService(t *testing.T) {
	_, st, _ := newOrderFixture()
	st.addProduct(1, "Mug", "10.00", 5)
	st.addProduct(2, "Plate", "4.50", 5)
	st.addProduct(3, "Old", "1.00", 5)
	st.products[3].IsActive = false
	svc := NewCatalogService(st)
	ctx := context.Background()

	page, err := svc.ListProducts(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Products, 1)

	_, err = svc.GetProduct(ctx, 3)
	assert.ErrorIs(t, err, ErrProductNotFound)

	p, err := svc.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Plate", p.Name)
}
