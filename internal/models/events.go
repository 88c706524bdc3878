package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypePaymentVerified    = "PAYMENT_VERIFIED"
	EventTypePaymentRefunded    = "PAYMENT_REFUNDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when an order is persisted
type OrderPlacedEvent struct {
	BaseEvent
	ID          int64           `json:"id"`
	OrderID     string          `json:"order_id"`
	Email       string          `json:"email"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	Items       []LineItem      `json:"items"`
}

// OrderStatusChangedEvent published on every status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	ID      int64       `json:"id"`
	OrderID string      `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	Note    string      `json:"note"`
}

// OrderCancelledEvent published when a customer cancels and stock is restored
type OrderCancelledEvent struct {
	BaseEvent
	ID      int64      `json:"id"`
	OrderID string     `json:"order_id"`
	Items   []LineItem `json:"items"`
}

// PaymentVerifiedEvent published when a gateway payment is confirmed
type PaymentVerifiedEvent struct {
	BaseEvent
	ID               int64  `json:"id"`
	OrderID          string `json:"order_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
}

// PaymentRefundedEvent published after a gateway refund
type PaymentRefundedEvent struct {
	BaseEvent
	ID               int64           `json:"id,omitempty"`
	OrderID          string          `json:"order_id,omitempty"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	RefundID         string          `json:"refund_id"`
	Amount           decimal.Decimal `json:"amount"`
}

// Gateway webhook event names
const (
	WebhookPaymentCaptured = "payment.captured"
	WebhookPaymentFailed   = "payment.failed"
	WebhookRefundProcessed = "refund.processed"
)

// WebhookEvent is a gateway callback as delivered to the webhook endpoint.
type WebhookEvent struct {
	ID      string         `json:"id,omitempty"`
	Event   string         `json:"event"`
	Payload WebhookPayload `json:"payload"`
}

// WebhookPayload carries the entities attached to a webhook event.
type WebhookPayload struct {
	Payment *WebhookEntity `json:"payment,omitempty"`
	Refund  *WebhookEntity `json:"refund,omitempty"`
}

// WebhookEntity wraps a gateway entity.
type WebhookEntity struct {
	Entity WebhookObject `json:"entity"`
}

// WebhookObject holds the gateway fields the service reads.
type WebhookObject struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	Status    string `json:"status,omitempty"`
}
