package store

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"storefront-service/internal/models"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a conditional decrement matched no row.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicateOrderID is returned when the generated order_id already exists.
	ErrDuplicateOrderID = errors.New("duplicate order id")

	// ErrDuplicateIdempotencyKey is returned when an idempotency key was already used.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrStatusConflict is returned when a conditional status update matched no row.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

const (
	uniqueViolation          = "23505"
	orderIDConstraint        = "orders_order_id_key"
	idempotencyKeyConstraint = "orders_idempotency_key_key"
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 5
	defaultConnMaxLifetime   = 5 * time.Minute
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping database")
	}

	return &Store{db: db}, nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "product %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	return &product, nil
}

// ListActiveProducts returns a page of active products, newest first
func (s *Store) ListActiveProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE is_active ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return products, nil
}

// CountActiveProducts counts the active catalog
func (s *Store) CountActiveProducts(ctx context.Context) (int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM products WHERE is_active"); err != nil {
		return 0, errors.Wrap(err, "count products")
	}
	return total, nil
}

// ReserveStock decrements stock only when enough is available. The check and
// the write are one statement so concurrent reservations cannot overdraw.
func (s *Store) ReserveStock(ctx context.Context, productID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		quantity, productID)
	if err != nil {
		return errors.Wrap(err, "reserve stock")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reserve stock")
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", productID); err != nil {
		return errors.Wrap(err, "check product")
	}
	if !exists {
		return errors.Wrapf(ErrNotFound, "product %d", productID)
	}
	return errors.Wrapf(ErrInsufficientStock, "product %d", productID)
}

// ReleaseStock returns previously reserved stock
func (s *Store) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	if err != nil {
		return errors.Wrap(err, "release stock")
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// translateInsertError maps unique violations on orders to sentinel errors.
func translateInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case orderIDConstraint:
			return ErrDuplicateOrderID
		case idempotencyKeyConstraint:
			return ErrDuplicateIdempotencyKey
		}
	}
	return err
}
