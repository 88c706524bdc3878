package models

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// OrderStatuses lists every status an order may hold.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// cancellableStatuses are the states a customer may cancel from.
var cancellableStatuses = []OrderStatus{OrderStatusPending, OrderStatusConfirmed}

// Valid reports whether s is one of the fixed order statuses.
func (s OrderStatus) Valid() bool {
	for _, status := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Cancellable reports whether an order in status s may be cancelled.
func (s OrderStatus) Cancellable() bool {
	for _, status := range cancellableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// CancellableStatuses returns the statuses CancelOrder accepts.
func CancellableStatuses() []OrderStatus {
	out := make([]OrderStatus, len(cancellableStatuses))
	copy(out, cancellableStatuses)
	return out
}

// CanTransition is the single decision point for status changes. Any
// enumerated status may currently follow any other.
func CanTransition(from, to OrderStatus) bool {
	return from.Valid() && to.Valid()
}

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

// Payment methods
const (
	PaymentMethodRazorpay PaymentMethod = "razorpay"
	PaymentMethodCOD      PaymentMethod = "cod"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodUPI      PaymentMethod = "upi"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodRazorpay, PaymentMethodCOD, PaymentMethodCard, PaymentMethodUPI:
		return true
	}
	return false
}

// PaymentStatus is the state of the payment sub-record.
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)
