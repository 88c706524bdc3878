package service

import (
	"context"
	"time"

	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// StockStore applies stock changes atomically per product.
type StockStore interface {
	ReserveStock(ctx context.Context, productID int64, quantity int) error
	ReleaseStock(ctx context.Context, productID int64, quantity int) error
}

// InventoryClient handles inventory operations
type InventoryClient struct {
	stock  StockStore
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client
func NewInventoryClient(stock StockStore) *InventoryClient {
	return &InventoryClient{
		stock:  stock,
		logger: util.GetLogger(),
	}
}

// Reserve takes quantity units of a product out of stock. It fails with
// InsufficientStockError, leaving stock unchanged, when not enough is left.
func (ic *InventoryClient) Reserve(ctx context.Context, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	err := ic.stock.ReserveStock(ctx, productID, quantity)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrInsufficientStock):
		util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return &InsufficientStockError{ProductID: productID, Requested: quantity}
	case errors.Is(err, store.ErrNotFound):
		util.InventoryReservationsFailed.WithLabelValues("not_found").Inc()
		return &ProductNotFoundError{ProductID: productID}
	default:
		util.InventoryReservationsFailed.WithLabelValues("error").Inc()
		return errors.Wrapf(err, "reserve stock for product %d", productID)
	}
}

// Release puts quantity units of a product back into stock.
func (ic *InventoryClient) Release(ctx context.Context, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Release")
	defer span.End()

	if err := ic.stock.ReleaseStock(ctx, productID, quantity); err != nil {
		util.InventoryReleaseFailures.Inc()
		ic.logger.Error("Failed to release stock",
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Error(err))
		return errors.Wrapf(err, "release stock for product %d", productID)
	}
	return nil
}

const rollbackTimeout = 10 * time.Second

type heldStock struct {
	productID int64
	quantity  int
}

// Reservation tracks the stock taken for one order so it can be given back
// if a later step fails.
type Reservation struct {
	inventory *InventoryClient
	held      []heldStock
}

// Begin starts an empty reservation.
func (ic *InventoryClient) Begin() *Reservation {
	return &Reservation{inventory: ic}
}

// Reserve takes stock and records it for compensation.
func (r *Reservation) Reserve(ctx context.Context, productID int64, quantity int) error {
	if err := r.inventory.Reserve(ctx, productID, quantity); err != nil {
		return err
	}
	r.held = append(r.held, heldStock{productID: productID, quantity: quantity})
	return nil
}

// Rollback releases everything reserved so far, newest first. Release
// failures are logged and counted, the remaining items are still released.
// It runs detached from ctx cancellation so an aborted request still
// gives its stock back.
func (r *Reservation) Rollback(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	for i := len(r.held) - 1; i >= 0; i-- {
		h := r.held[i]
		_ = r.inventory.Release(ctx, h.productID, h.quantity)
	}
	r.held = nil
}
