package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultShippingAmount is the flat shipping fee added to every order.
var DefaultShippingAmount = decimal.RequireFromString("5.00")

// Product represents a product in the catalog
type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Image       string          `db:"image" json:"image"`
	Stock       int             `db:"stock" json:"stock"`
	IsActive    bool            `db:"is_active" json:"isActive"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// Customer is the contact snapshot stored on an order
type Customer struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// Address is the shipping address snapshot stored on an order
type Address struct {
	FullName string `json:"fullName,omitempty"`
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	ZipCode  string `json:"zipCode,omitempty"`
	Country  string `json:"country,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// DefaultCountry is applied to shipping addresses that omit one.
const DefaultCountry = "India"

// Tracking holds carrier details once an order ships
type Tracking struct {
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	TrackingURL    string `json:"trackingUrl,omitempty"`
}

// LineItem is one product and quantity within an order, with the catalog
// name, price and image captured at placement time.
type LineItem struct {
	ProductID int64           `db:"product_id" json:"product"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Image     string          `db:"image" json:"image"`
	Quantity  int             `db:"quantity" json:"quantity"`
}

// Subtotal returns price * quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// StatusEntry is one record of the append-only status history
type StatusEntry struct {
	Status    OrderStatus `db:"status" json:"status"`
	Timestamp time.Time   `db:"created_at" json:"timestamp"`
	Note      string      `db:"note" json:"note"`
}

// PaymentInfo is the payment sub-record embedded in an order
type PaymentInfo struct {
	Method           PaymentMethod `json:"method"`
	Status           PaymentStatus `json:"status"`
	TransactionID    string        `json:"transactionId,omitempty"`
	GatewayOrderID   string        `json:"razorpayOrderId,omitempty"`
	GatewayPaymentID string        `json:"razorpayPaymentId,omitempty"`
	GatewaySignature string        `json:"razorpaySignature,omitempty"`
}

// Order represents a customer order
type Order struct {
	ID              int64           `json:"id"`
	OrderID         string          `json:"orderId"`
	Customer        Customer        `json:"customer"`
	Items           []LineItem      `json:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	ShippingAmount  decimal.Decimal `json:"shippingAmount"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	FinalAmount     decimal.Decimal `json:"finalAmount"`
	Status          OrderStatus     `json:"status"`
	StatusHistory   []StatusEntry   `json:"statusHistory"`
	ShippingAddress Address         `json:"shippingAddress"`
	Payment         PaymentInfo     `json:"payment"`
	Tracking        *Tracking       `json:"tracking,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// RecomputeAmounts derives TotalAmount and FinalAmount from the line items.
// Client supplied totals are never used.
func (o *Order) RecomputeAmounts() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	o.TotalAmount = total
	o.FinalAmount = total.Add(o.ShippingAmount).Sub(o.DiscountAmount)
}

// SetStatus moves the order to status and appends the history entry for it.
func (o *Order) SetStatus(status OrderStatus, note string, at time.Time) StatusEntry {
	if note == "" {
		note = DefaultStatusNote(status)
	}
	entry := StatusEntry{Status: status, Timestamp: at, Note: note}
	o.Status = status
	o.StatusHistory = append(o.StatusHistory, entry)
	o.UpdatedAt = at
	return entry
}

// DefaultStatusNote is the history note used when a caller gives none.
func DefaultStatusNote(status OrderStatus) string {
	return "Order status changed to " + string(status)
}

// NormalizeEmail lower-cases and trims an email address the way orders store it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
