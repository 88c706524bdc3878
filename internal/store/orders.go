package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"storefront-service/internal/models"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// orderRow is the flat orders table layout
type orderRow struct {
	ID                   int64              `db:"id"`
	OrderID              string             `db:"order_id"`
	CustomerName         string             `db:"customer_name"`
	CustomerEmail        string             `db:"customer_email"`
	CustomerPhone        string             `db:"customer_phone"`
	CustomerUserID       string             `db:"customer_user_id"`
	TotalAmount          decimal.Decimal    `db:"total_amount"`
	ShippingAmount       decimal.Decimal    `db:"shipping_amount"`
	DiscountAmount       decimal.Decimal    `db:"discount_amount"`
	FinalAmount          decimal.Decimal    `db:"final_amount"`
	Status               string             `db:"status"`
	ShippingAddress      types.JSONText     `db:"shipping_address"`
	PaymentMethod        string             `db:"payment_method"`
	PaymentStatus        string             `db:"payment_status"`
	PaymentTransactionID string             `db:"payment_transaction_id"`
	GatewayOrderID       string             `db:"gateway_order_id"`
	GatewayPaymentID     string             `db:"gateway_payment_id"`
	GatewaySignature     string             `db:"gateway_signature"`
	Tracking             types.NullJSONText `db:"tracking"`
	Notes                string             `db:"notes"`
	IdempotencyKey       sql.NullString     `db:"idempotency_key"`
	CreatedAt            time.Time          `db:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at"`
}

type itemRow struct {
	OrderID int64 `db:"order_id"`
	models.LineItem
}

type historyRow struct {
	OrderID int64 `db:"order_id"`
	models.StatusEntry
}

func newOrderRow(order *models.Order, idempotencyKey string) (*orderRow, error) {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return nil, errors.Wrap(err, "marshal shipping address")
	}

	row := &orderRow{
		OrderID:              order.OrderID,
		CustomerName:         order.Customer.Name,
		CustomerEmail:        order.Customer.Email,
		CustomerPhone:        order.Customer.Phone,
		CustomerUserID:       order.Customer.UserID,
		TotalAmount:          order.TotalAmount,
		ShippingAmount:       order.ShippingAmount,
		DiscountAmount:       order.DiscountAmount,
		FinalAmount:          order.FinalAmount,
		Status:               string(order.Status),
		ShippingAddress:      types.JSONText(address),
		PaymentMethod:        string(order.Payment.Method),
		PaymentStatus:        string(order.Payment.Status),
		PaymentTransactionID: order.Payment.TransactionID,
		GatewayOrderID:       order.Payment.GatewayOrderID,
		GatewayPaymentID:     order.Payment.GatewayPaymentID,
		GatewaySignature:     order.Payment.GatewaySignature,
		Notes:                order.Notes,
		IdempotencyKey:       sql.NullString{String: idempotencyKey, Valid: idempotencyKey != ""},
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
	}

	if order.Tracking != nil {
		tracking, err := json.Marshal(order.Tracking)
		if err != nil {
			return nil, errors.Wrap(err, "marshal tracking")
		}
		row.Tracking = types.NullJSONText{JSONText: tracking, Valid: true}
	}

	return row, nil
}

func (r *orderRow) toModel() (models.Order, error) {
	order := models.Order{
		ID:      r.ID,
		OrderID: r.OrderID,
		Customer: models.Customer{
			Name:   r.CustomerName,
			Email:  r.CustomerEmail,
			Phone:  r.CustomerPhone,
			UserID: r.CustomerUserID,
		},
		Items:          []models.LineItem{},
		TotalAmount:    r.TotalAmount,
		ShippingAmount: r.ShippingAmount,
		DiscountAmount: r.DiscountAmount,
		FinalAmount:    r.FinalAmount,
		Status:         models.OrderStatus(r.Status),
		StatusHistory:  []models.StatusEntry{},
		Payment: models.PaymentInfo{
			Method:           models.PaymentMethod(r.PaymentMethod),
			Status:           models.PaymentStatus(r.PaymentStatus),
			TransactionID:    r.PaymentTransactionID,
			GatewayOrderID:   r.GatewayOrderID,
			GatewayPaymentID: r.GatewayPaymentID,
			GatewaySignature: r.GatewaySignature,
		},
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if len(r.ShippingAddress) > 0 {
		if err := r.ShippingAddress.Unmarshal(&order.ShippingAddress); err != nil {
			return order, errors.Wrap(err, "unmarshal shipping address")
		}
	}
	if r.Tracking.Valid {
		var tracking models.Tracking
		if err := r.Tracking.Unmarshal(&tracking); err != nil {
			return order, errors.Wrap(err, "unmarshal tracking")
		}
		order.Tracking = &tracking
	}

	return order, nil
}

const insertOrderQuery = `
	INSERT INTO orders (
		order_id, customer_name, customer_email, customer_phone, customer_user_id,
		total_amount, shipping_amount, discount_amount, final_amount, status,
		shipping_address, payment_method, payment_status, payment_transaction_id,
		gateway_order_id, gateway_payment_id, gateway_signature, tracking, notes,
		idempotency_key, created_at, updated_at
	) VALUES (
		:order_id, :customer_name, :customer_email, :customer_phone, :customer_user_id,
		:total_amount, :shipping_amount, :discount_amount, :final_amount, :status,
		:shipping_address, :payment_method, :payment_status, :payment_transaction_id,
		:gateway_order_id, :gateway_payment_id, :gateway_signature, :tracking, :notes,
		:idempotency_key, :created_at, :updated_at
	)
	RETURNING id`

// CreateOrder inserts the order, its line items and its status history in
// one transaction and sets order.ID.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, idempotencyKey string) error {
	row, err := newOrderRow(order, idempotencyKey)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, insertOrderQuery)
	if err != nil {
		return errors.Wrap(err, "prepare insert order")
	}
	defer stmt.Close()

	var id int64
	if err := stmt.GetContext(ctx, &id, row); err != nil {
		return errors.Wrap(translateInsertError(err), "insert order")
	}

	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, position, product_id, name, price, image, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, i, item.ProductID, item.Name, item.Price, item.Image, item.Quantity)
		if err != nil {
			return errors.Wrap(err, "insert order item")
		}
	}

	for _, entry := range order.StatusHistory {
		if err := insertHistory(ctx, tx, id, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit order")
	}

	order.ID = id
	return nil
}

// GetOrderByID retrieves an order by its internal ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, "id = $1", id)
}

// GetOrderByOrderID retrieves an order by its human-facing order ID
func (s *Store) GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	return s.getOrder(ctx, "order_id = $1", orderID)
}

// GetOrderByGatewayPaymentID retrieves the order paid with a gateway payment
func (s *Store) GetOrderByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	return s.getOrder(ctx, "gateway_payment_id = $1", paymentID)
}

// GetOrderByGatewayOrderID retrieves the order linked to a gateway order
func (s *Store) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	return s.getOrder(ctx, "gateway_order_id = $1", gatewayOrderID)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key. It returns
// nil, nil when the key has not been used.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	order, err := s.getOrder(ctx, "idempotency_key = $1", key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return order, err
}

func (s *Store) getOrder(ctx context.Context, where string, arg interface{}) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM orders WHERE "+where+" ORDER BY id DESC LIMIT 1", arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "order %v", arg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	orders, err := s.hydrate(ctx, []orderRow{row})
	if err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListOrdersByEmail returns a page of a customer's orders, newest first
func (s *Store) ListOrdersByEmail(ctx context.Context, email string, limit, offset int) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM orders WHERE customer_email = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		email, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return s.hydrate(ctx, rows)
}

// CountOrdersByEmail counts a customer's orders
func (s *Store) CountOrdersByEmail(ctx context.Context, email string) (int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM orders WHERE customer_email = $1", email); err != nil {
		return 0, errors.Wrap(err, "count orders")
	}
	return total, nil
}

// hydrate converts rows and loads their items and history in two batch queries.
func (s *Store) hydrate(ctx context.Context, rows []orderRow) ([]models.Order, error) {
	orders := make([]models.Order, 0, len(rows))
	if len(rows) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(rows))
	index := make(map[int64]int, len(rows))
	for i := range rows {
		order, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		ids[i] = order.ID
		index[order.ID] = i
		orders = append(orders, order)
	}

	query, args, err := sqlx.In(
		"SELECT order_id, product_id, name, price, image, quantity FROM order_items WHERE order_id IN (?) ORDER BY order_id, position", ids)
	if err != nil {
		return nil, err
	}
	var items []itemRow
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "load order items")
	}
	for _, item := range items {
		o := &orders[index[item.OrderID]]
		o.Items = append(o.Items, item.LineItem)
	}

	query, args, err = sqlx.In(
		"SELECT order_id, status, note, created_at FROM order_status_history WHERE order_id IN (?) ORDER BY order_id, id", ids)
	if err != nil {
		return nil, err
	}
	var history []historyRow
	if err := s.db.SelectContext(ctx, &history, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "load status history")
	}
	for _, entry := range history {
		o := &orders[index[entry.OrderID]]
		o.StatusHistory = append(o.StatusHistory, entry.StatusEntry)
	}

	return orders, nil
}

// UpdateOrderStatus sets the status and appends entry to the history. When
// from is non-empty the update only applies if the current status is one of
// from, otherwise ErrStatusConflict is returned.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, from []models.OrderStatus, entry models.StatusEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	var res sql.Result
	if len(from) == 0 {
		res, err = tx.ExecContext(ctx,
			"UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3",
			entry.Status, entry.Timestamp, id)
	} else {
		res, err = tx.ExecContext(ctx,
			"UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)",
			entry.Status, entry.Timestamp, id, pq.Array(statusStrings(from)))
	}
	if err != nil {
		return errors.Wrap(err, "update order status")
	}

	if err := checkUpdated(ctx, tx, res, id); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, id, entry); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdatePayment replaces the payment sub-record. A non-nil entry also moves
// the order to entry.Status and records it in the history.
func (s *Store) UpdatePayment(ctx context.Context, id int64, payment models.PaymentInfo, entry *models.StatusEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET payment_method = $1, payment_status = $2, payment_transaction_id = $3,
			gateway_order_id = $4, gateway_payment_id = $5, gateway_signature = $6, updated_at = NOW()
		WHERE id = $7`,
		payment.Method, payment.Status, payment.TransactionID,
		payment.GatewayOrderID, payment.GatewayPaymentID, payment.GatewaySignature, id)
	if err != nil {
		return errors.Wrap(err, "update payment")
	}
	if err := checkUpdated(ctx, tx, res, id); err != nil {
		return err
	}

	if entry != nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3",
			entry.Status, entry.Timestamp, id); err != nil {
			return errors.Wrap(err, "update order status")
		}
		if err := insertHistory(ctx, tx, id, *entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SetGatewayOrderID links a gateway order to an order
func (s *Store) SetGatewayOrderID(ctx context.Context, id int64, gatewayOrderID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET gateway_order_id = $1, updated_at = NOW() WHERE id = $2",
		gatewayOrderID, id)
	if err != nil {
		return errors.Wrap(err, "set gateway order id")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "order %d", id)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, orderID int64, entry models.StatusEntry) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO order_status_history (order_id, status, note, created_at) VALUES ($1, $2, $3, $4)",
		orderID, entry.Status, entry.Note, entry.Timestamp)
	if err != nil {
		return errors.Wrap(err, "insert status history")
	}
	return nil
}

// checkUpdated turns a zero-row update into ErrNotFound or ErrStatusConflict.
func checkUpdated(ctx context.Context, tx *sqlx.Tx, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id); err != nil {
		return errors.Wrap(err, "check order")
	}
	if !exists {
		return errors.Wrapf(ErrNotFound, "order %d", id)
	}
	return ErrStatusConflict
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}
