package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultCurrency = "INR"

	paymentLockTTL     = 30 * time.Second
	paymentLockRelease = 5 * time.Second

	paymentVerifiedNote = "Payment completed successfully"
	refundNotePrefix    = "Payment refunded: "
)

var minorUnits = decimal.NewFromInt(100)

// PaymentStore is the order persistence the payment flow needs.
type PaymentStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	GetOrderByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	UpdatePayment(ctx context.Context, id int64, payment models.PaymentInfo, entry *models.StatusEntry) error
	SetGatewayOrderID(ctx context.Context, id int64, gatewayOrderID string) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentGateway creates gateway orders, reads payments and issues refunds.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
	Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*gateway.Refund, error)
}

// Locker provides short lived distributed locks.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// PaymentService handles gateway payments for orders
type PaymentService struct {
	orders  PaymentStore
	gateway PaymentGateway
	locks   Locker
	events  EventPublisher
	secret  string
	now     func() time.Time
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service. secret is the gateway key
// secret used to sign checkout payments.
func NewPaymentService(orders PaymentStore, gw PaymentGateway, locks Locker, events EventPublisher, secret string) *PaymentService {
	return &PaymentService{
		orders:  orders,
		gateway: gw,
		locks:   locks,
		events:  events,
		secret:  secret,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// CreatePaymentOrderRequest asks the gateway for a new order
type CreatePaymentOrderRequest struct {
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency,omitempty"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
	OrderID  int64             `json:"orderId,omitempty"`
}

// VerifyPaymentRequest carries the checkout callback fields
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id" validate:"required"`
	GatewayPaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature        string `json:"razorpay_signature" validate:"required"`
	OrderID          int64  `json:"order_id" validate:"required"`
}

// RefundRequest refunds a captured payment. A zero amount refunds it in full.
type RefundRequest struct {
	PaymentID string            `json:"payment_id" validate:"required"`
	Amount    decimal.Decimal   `json:"amount"`
	Notes     map[string]string `json:"notes,omitempty"`
}

// CreatePaymentOrder creates a gateway order for amount. When OrderID is set
// the gateway order is linked to that order.
func (ps *PaymentService) CreatePaymentOrder(ctx context.Context, req *CreatePaymentOrderRequest) (*gateway.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentOrder")
	defer span.End()

	if !req.Amount.IsPositive() {
		verr := &ValidationError{}
		verr.add("amount", "Valid amount is required")
		return nil, verr
	}

	if req.OrderID != 0 {
		if _, err := ps.getOrder(ctx, req.OrderID); err != nil {
			return nil, err
		}
	}

	gwReq := gateway.OrderRequest{
		Amount:   toMinor(req.Amount),
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}
	if gwReq.Currency == "" {
		gwReq.Currency = defaultCurrency
	}
	if gwReq.Receipt == "" {
		gwReq.Receipt = "receipt_" + strconv.FormatInt(ps.now().UnixMilli(), 10)
	}

	gwOrder, err := ps.gateway.CreateOrder(ctx, gwReq)
	if err != nil {
		return nil, &UpstreamGatewayError{Op: "create order", Err: err}
	}

	if req.OrderID != 0 {
		if err := ps.orders.SetGatewayOrderID(ctx, req.OrderID, gwOrder.ID); err != nil {
			return nil, errors.Wrap(err, "link gateway order")
		}
	}

	ps.logger.Info("Payment order created",
		zap.String("gateway_order_id", gwOrder.ID),
		zap.Int64("amount", gwOrder.Amount),
		zap.Int64("order_id", req.OrderID))
	return gwOrder, nil
}

// VerifyPayment checks the checkout signature and marks the order paid and
// confirmed. Verifying the same payment twice returns the order unchanged.
func (ps *PaymentService) VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return nil, err
	}

	if !VerifySignature(ps.secret, req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		util.PaymentVerificationsTotal.WithLabelValues("signature_mismatch").Inc()
		ps.logger.Warn("Payment signature mismatch",
			zap.Int64("order_id", req.OrderID),
			zap.String("payment_id", req.GatewayPaymentID))
		return nil, ErrSignatureMismatch
	}

	unlock, err := ps.lock(ctx, req.GatewayPaymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := ps.getOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	// A signature is only proof for the gateway order it was issued for.
	if linked := order.Payment.GatewayOrderID; linked != "" && linked != req.GatewayOrderID {
		util.PaymentVerificationsTotal.WithLabelValues("gateway_order_mismatch").Inc()
		ps.logger.Warn("Payment for a different gateway order",
			zap.Int64("order_id", order.ID),
			zap.String("linked_gateway_order_id", linked),
			zap.String("gateway_order_id", req.GatewayOrderID))
		return nil, ErrSignatureMismatch
	}

	payment := models.PaymentInfo{
		Method:           models.PaymentMethodRazorpay,
		Status:           models.PaymentStatusCompleted,
		TransactionID:    req.GatewayPaymentID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewaySignature: req.Signature,
	}
	if err := ps.confirm(ctx, order, payment); err != nil {
		return nil, err
	}
	return order, nil
}

// confirm records a completed payment and moves the order to confirmed.
// An order already holding this completed payment is left as is.
func (ps *PaymentService) confirm(ctx context.Context, order *models.Order, payment models.PaymentInfo) error {
	if order.Payment.Status == models.PaymentStatusCompleted &&
		order.Payment.GatewayPaymentID == payment.GatewayPaymentID {
		util.PaymentVerificationsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	prev := order.Status
	order.Payment = payment
	entry := order.SetStatus(models.OrderStatusConfirmed, paymentVerifiedNote, ps.now())
	if err := ps.orders.UpdatePayment(ctx, order.ID, payment, &entry); err != nil {
		return errors.Wrap(err, "record payment")
	}

	util.PaymentVerificationsTotal.WithLabelValues("verified").Inc()
	util.OrderStatusChangesTotal.WithLabelValues(string(models.OrderStatusConfirmed)).Inc()
	ps.logger.Info("Payment verified",
		zap.Int64("order_id", order.ID),
		zap.String("payment_id", payment.GatewayPaymentID))

	event := &models.PaymentVerifiedEvent{
		BaseEvent:        newBaseEvent(models.EventTypePaymentVerified, entry.Timestamp),
		ID:               order.ID,
		OrderID:          order.OrderID,
		GatewayOrderID:   payment.GatewayOrderID,
		GatewayPaymentID: payment.GatewayPaymentID,
	}
	if err := ps.events.PublishPaymentVerified(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentVerified event", zap.Error(err))
	}
	publishStatusChanged(ctx, ps.events, ps.logger, order, prev, entry)
	return nil
}

// GetPayment returns the gateway's record of a payment
func (ps *PaymentService) GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.GetPayment")
	defer span.End()

	payment, err := ps.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return nil, &UpstreamGatewayError{Op: "fetch payment", Err: err}
	}
	return payment, nil
}

// RefundPayment refunds a payment at the gateway and, when an order owns the
// payment, marks that order refunded.
func (ps *PaymentService) RefundPayment(ctx context.Context, req *RefundRequest) (*gateway.Refund, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RefundPayment")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		verr := &ValidationError{}
		verr.add("amount", "must not be negative")
		return nil, verr
	}

	refund, err := ps.gateway.Refund(ctx, req.PaymentID, toMinor(req.Amount), req.Notes)
	if err != nil {
		return nil, &UpstreamGatewayError{Op: "refund", Err: err}
	}
	util.RefundsTotal.Inc()

	// The money has moved; local bookkeeping failures must not hide that.
	if err := ps.applyRefund(ctx, req.PaymentID, refund.ID, fromMinor(refund.Amount)); err != nil {
		ps.logger.Error("Refund issued but order not updated",
			zap.String("payment_id", req.PaymentID),
			zap.String("refund_id", refund.ID),
			zap.Error(err))
	}
	return refund, nil
}

// applyRefund marks the order owning paymentID as refunded. A payment with
// no local order is logged and counted.
func (ps *PaymentService) applyRefund(ctx context.Context, paymentID, refundID string, amount decimal.Decimal) error {
	order, err := ps.orders.GetOrderByGatewayPaymentID(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		util.OrphanRefundsTotal.Inc()
		ps.logger.Warn("Refund for payment with no matching order",
			zap.String("payment_id", paymentID),
			zap.String("refund_id", refundID))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "find refunded order")
	}

	if order.Payment.Status != models.PaymentStatusRefunded {
		prev := order.Status
		order.Payment.Status = models.PaymentStatusRefunded
		entry := order.SetStatus(models.OrderStatusRefunded, refundNotePrefix+refundID, ps.now())
		if err := ps.orders.UpdatePayment(ctx, order.ID, order.Payment, &entry); err != nil {
			return errors.Wrap(err, "record refund")
		}
		util.OrderStatusChangesTotal.WithLabelValues(string(models.OrderStatusRefunded)).Inc()
		publishStatusChanged(ctx, ps.events, ps.logger, order, prev, entry)
	}

	event := &models.PaymentRefundedEvent{
		BaseEvent:        newBaseEvent(models.EventTypePaymentRefunded, ps.now()),
		ID:               order.ID,
		OrderID:          order.OrderID,
		GatewayPaymentID: paymentID,
		RefundID:         refundID,
		Amount:           amount,
	}
	if err := ps.events.PublishPaymentRefunded(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentRefunded event", zap.Error(err))
	}
	return nil
}

// HandleWebhook applies a gateway webhook event. Events are applied at most
// once per event ID; unknown event types are acknowledged and ignored.
func (ps *PaymentService) HandleWebhook(ctx context.Context, event *models.WebhookEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if event.ID != "" {
		done, err := ps.orders.IsEventProcessed(ctx, event.ID)
		if err != nil {
			return errors.Wrap(err, "check processed event")
		}
		if done {
			util.WebhookEventsTotal.WithLabelValues(event.Event, "duplicate").Inc()
			return nil
		}
	}

	var err error
	switch event.Event {
	case models.WebhookPaymentCaptured:
		err = ps.onPaymentCaptured(ctx, event)
	case models.WebhookPaymentFailed:
		err = ps.onPaymentFailed(ctx, event)
	case models.WebhookRefundProcessed:
		err = ps.onRefundProcessed(ctx, event)
	default:
		util.WebhookEventsTotal.WithLabelValues(event.Event, "ignored").Inc()
		return nil
	}
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Event, "error").Inc()
		return err
	}

	if event.ID != "" {
		if err := ps.orders.MarkEventProcessed(ctx, event.ID, event.Event); err != nil {
			return errors.Wrap(err, "mark event processed")
		}
	}
	util.WebhookEventsTotal.WithLabelValues(event.Event, "processed").Inc()
	return nil
}

func (ps *PaymentService) onPaymentCaptured(ctx context.Context, event *models.WebhookEvent) error {
	if event.Payload.Payment == nil {
		return errors.Wrap(ErrMalformedWebhook, "payment.captured without payment entity")
	}
	p := event.Payload.Payment.Entity

	unlock, err := ps.lock(ctx, p.ID)
	if err != nil {
		return err
	}
	defer unlock()

	order, ok, err := ps.orderForGatewayOrder(ctx, p.OrderID)
	if err != nil || !ok {
		return err
	}

	return ps.confirm(ctx, order, models.PaymentInfo{
		Method:           models.PaymentMethodRazorpay,
		Status:           models.PaymentStatusCompleted,
		TransactionID:    p.ID,
		GatewayOrderID:   p.OrderID,
		GatewayPaymentID: p.ID,
		GatewaySignature: order.Payment.GatewaySignature,
	})
}

func (ps *PaymentService) onPaymentFailed(ctx context.Context, event *models.WebhookEvent) error {
	if event.Payload.Payment == nil {
		return errors.Wrap(ErrMalformedWebhook, "payment.failed without payment entity")
	}
	p := event.Payload.Payment.Entity

	order, ok, err := ps.orderForGatewayOrder(ctx, p.OrderID)
	if err != nil || !ok {
		return err
	}
	// A later failed attempt does not undo an earlier successful one.
	if order.Payment.Status == models.PaymentStatusCompleted || order.Payment.Status == models.PaymentStatusRefunded {
		return nil
	}

	order.Payment.Status = models.PaymentStatusFailed
	order.Payment.GatewayPaymentID = p.ID
	if err := ps.orders.UpdatePayment(ctx, order.ID, order.Payment, nil); err != nil {
		return errors.Wrap(err, "record failed payment")
	}
	util.PaymentVerificationsTotal.WithLabelValues("failed").Inc()
	ps.logger.Warn("Payment failed",
		zap.Int64("order_id", order.ID),
		zap.String("payment_id", p.ID))
	return nil
}

func (ps *PaymentService) onRefundProcessed(ctx context.Context, event *models.WebhookEvent) error {
	if event.Payload.Refund == nil {
		return errors.Wrap(ErrMalformedWebhook, "refund.processed without refund entity")
	}
	r := event.Payload.Refund.Entity
	return ps.applyRefund(ctx, r.PaymentID, r.ID, fromMinor(r.Amount))
}

func (ps *PaymentService) orderForGatewayOrder(ctx context.Context, gatewayOrderID string) (*models.Order, bool, error) {
	order, err := ps.orders.GetOrderByGatewayOrderID(ctx, gatewayOrderID)
	if errors.Is(err, store.ErrNotFound) {
		ps.logger.Warn("Webhook for unknown gateway order", zap.String("gateway_order_id", gatewayOrderID))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "find order by gateway order")
	}
	return order, true, nil
}

func (ps *PaymentService) getOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := ps.orders.GetOrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return order, nil
}

// lock serializes work on one gateway payment across instances.
func (ps *PaymentService) lock(ctx context.Context, paymentID string) (func(), error) {
	key := "payment:" + strings.TrimSpace(paymentID)
	ok, err := ps.locks.AcquireLock(ctx, key, paymentLockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "acquire payment lock")
	}
	if !ok {
		return nil, ErrPaymentInProgress
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), paymentLockRelease)
		defer cancel()
		if err := ps.locks.ReleaseLock(ctx, key); err != nil {
			ps.logger.Warn("Failed to release payment lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func toMinor(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnits).Round(0).IntPart()
}

func fromMinor(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
