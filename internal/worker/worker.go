package worker

import (
	"context"

	"storefront-service/internal/broker"
	"storefront-service/internal/models"
	"storefront-service/internal/service"
	"storefront-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// WebhookHandler applies a gateway webhook event
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, event *models.WebhookEvent) error
}

// PaymentWorker applies queued gateway webhooks
type PaymentWorker struct {
	consumer *broker.Consumer
	handler  WebhookHandler
	logger   *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, handler WebhookHandler) *PaymentWorker {
	return &PaymentWorker{
		consumer: consumer,
		handler:  handler,
		logger:   util.GetLogger(),
	}
}

// Start consumes webhooks until ctx is cancelled
func (pw *PaymentWorker) Start(ctx context.Context) error {
	pw.logger.Info("Starting payment worker")
	return pw.consumer.StartConsuming(ctx, broker.HandleWebhookMessage(pw.handle))
}

func (pw *PaymentWorker) handle(ctx context.Context, event *models.WebhookEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentWorker.handle")
	defer span.End()

	if err := pw.handler.HandleWebhook(ctx, event); err != nil {
		util.RecordError(span, err)
		pw.logger.Error("Failed to apply webhook",
			zap.String("event_id", event.ID),
			zap.String("event", event.Event),
			zap.Error(err))
		if errors.Is(err, service.ErrMalformedWebhook) {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

// Stop stops the payment worker
func (pw *PaymentWorker) Stop() error {
	pw.logger.Info("Stopping payment worker")
	return pw.consumer.Close()
}
