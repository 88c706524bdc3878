package service

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Business rule violations. Handlers map these to HTTP status codes.
var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrOrderNotCancellable = errors.New("order cannot be cancelled at this stage")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrSignatureMismatch   = errors.New("payment verification failed")
	ErrDuplicateOrderID    = errors.New("could not generate a unique order id")
	ErrPaymentInProgress   = errors.New("payment verification already in progress")
	ErrCartItemNotFound    = errors.New("item not in cart")
	ErrMalformedWebhook    = errors.New("malformed webhook event")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed input with per-field detail.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// ProductNotFoundError indicates a requested product does not exist or is inactive.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("Product not found: %d", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InsufficientStockError indicates a line item asked for more than is in stock.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	if e.Name != "" {
		return "Insufficient stock for: " + e.Name
	}
	return fmt.Sprintf("Insufficient stock for product %d", e.ProductID)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// UpstreamGatewayError wraps a payment gateway failure.
type UpstreamGatewayError struct {
	Op  string
	Err error
}

func (e *UpstreamGatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *UpstreamGatewayError) Unwrap() error { return e.Err }
