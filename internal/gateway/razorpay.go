package gateway

import (
	"context"
	"encoding/json"
	"time"

	"storefront-service/internal/util"

	"github.com/go-faster/errors"
	razorpay "github.com/razorpay/razorpay-go"
	"go.uber.org/zap"
)

// OrderRequest describes a gateway order to create. Amounts are in minor
// currency units.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order is a gateway order as returned by Razorpay
type Order struct {
	ID         string `json:"id"`
	Entity     string `json:"entity,omitempty"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	CreatedAt  int64  `json:"created_at"`
}

// Payment is a gateway payment as returned by Razorpay
type Payment struct {
	ID             string `json:"id"`
	Entity         string `json:"entity,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	OrderID        string `json:"order_id"`
	Method         string `json:"method"`
	AmountRefunded int64  `json:"amount_refunded"`
	RefundStatus   string `json:"refund_status,omitempty"`
	Captured       bool   `json:"captured"`
	Email          string `json:"email,omitempty"`
	Contact        string `json:"contact,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// Refund is a gateway refund as returned by Razorpay
type Refund struct {
	ID        string `json:"id"`
	Entity    string `json:"entity,omitempty"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// Client wraps the Razorpay SDK with context-aware, typed calls
type Client struct {
	rzp    *razorpay.Client
	logger *zap.Logger
}

// NewClient creates a Razorpay client for the given API key pair
func NewClient(keyID, keySecret string) *Client {
	return &Client{
		rzp:    razorpay.NewClient(keyID, keySecret),
		logger: util.GetLogger(),
	}
}

// CreateOrder creates a gateway order with automatic capture.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	data := map[string]interface{}{
		"amount":          req.Amount,
		"currency":        req.Currency,
		"receipt":         req.Receipt,
		"payment_capture": 1,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}

	var order Order
	err := c.call(ctx, "create_order", &order, func() (map[string]interface{}, error) {
		return c.rzp.Order.Create(data, nil)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchPayment returns the gateway view of a payment
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var payment Payment
	err := c.call(ctx, "fetch_payment", &payment, func() (map[string]interface{}, error) {
		return c.rzp.Payment.Fetch(paymentID, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Refund refunds amount minor units of a payment. A zero amount refunds
// whatever has not been refunded yet.
func (c *Client) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*Refund, error) {
	if amount == 0 {
		payment, err := c.FetchPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		amount = payment.Amount - payment.AmountRefunded
	}

	var data map[string]interface{}
	if len(notes) > 0 {
		data = map[string]interface{}{"notes": notes}
	}

	var refund Refund
	err := c.call(ctx, "refund", &refund, func() (map[string]interface{}, error) {
		return c.rzp.Payment.Refund(paymentID, int(amount), data, nil)
	})
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// call runs an SDK request, recording latency and errors, and decodes the
// untyped response into out. The SDK has no context support, so a
// cancelled ctx only stops the caller from waiting.
func (c *Client) call(ctx context.Context, op string, out interface{}, fn func() (map[string]interface{}, error)) error {
	ctx, span := util.StartSpan(ctx, "gateway."+op)
	defer span.End()

	start := time.Now()
	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		util.PaymentGatewayErrorsTotal.WithLabelValues(op).Inc()
		util.RecordError(span, ctx.Err())
		return errors.Wrap(ctx.Err(), op)
	case res = <-done:
	}
	util.PaymentGatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if res.err != nil {
		util.PaymentGatewayErrorsTotal.WithLabelValues(op).Inc()
		util.RecordError(span, res.err)
		c.logger.Error("Payment gateway call failed", zap.String("operation", op), zap.Error(res.err))
		return errors.Wrap(res.err, op)
	}
	return decode(res.body, out)
}

func decode(body map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode gateway response")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode gateway response")
	}
	return nil
}
