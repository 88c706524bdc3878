package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront-service/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(id int64) string {
	return fmt.Sprintf("order-%d", id)
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.ID), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.ID), event)
}

// PublishOrderCancelled publishes OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.ID), event)
}

// PublishPaymentVerified publishes PaymentVerified event
func (ep *EventPublisher) PublishPaymentVerified(ctx context.Context, event *models.PaymentVerifiedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.ID), event)
}

// PublishPaymentRefunded publishes PaymentRefunded event. Refunds without a
// local order are keyed by payment.
func (ep *EventPublisher) PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	key := orderKey(event.ID)
	if event.ID == 0 {
		key = "payment-" + event.GatewayPaymentID
	}
	return ep.producer.PublishEvent(ctx, key, event)
}

// WebhookPublisher queues verified gateway webhooks for the payment worker
type WebhookPublisher struct {
	producer *Producer
}

// NewWebhookPublisher creates a webhook publisher
func NewWebhookPublisher(producer *Producer) *WebhookPublisher {
	return &WebhookPublisher{producer: producer}
}

// PublishWebhook publishes a webhook event. Events for the same payment share
// a key so they are consumed in order.
func (wp *WebhookPublisher) PublishWebhook(ctx context.Context, event *models.WebhookEvent) error {
	return wp.producer.PublishEvent(ctx, webhookKey(event), event)
}

func webhookKey(event *models.WebhookEvent) string {
	switch {
	case event.Payload.Payment != nil:
		return "payment-" + event.Payload.Payment.Entity.ID
	case event.Payload.Refund != nil:
		return "payment-" + event.Payload.Refund.Entity.PaymentID
	default:
		return "event-" + event.ID
	}
}

// WebhookHandler handles webhook events taken off the queue
type WebhookHandler func(ctx context.Context, event *models.WebhookEvent) error

// HandleWebhookMessage decodes a queued webhook and passes it to handler
func HandleWebhookMessage(handler WebhookHandler) MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var event models.WebhookEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return backoff.Permanent(errors.Wrap(err, "unmarshal webhook event"))
		}
		return handler(ctx, &event)
	}
}
