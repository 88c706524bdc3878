package api

import (
	"encoding/json"
	"net/http"

	"storefront-service/internal/models"
	"storefront-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	webhookSignatureHeader = "X-Razorpay-Signature"
	webhookEventIDHeader   = "X-Razorpay-Event-Id"
)

func (h *Handler) createPaymentOrder(c *gin.Context) {
	var req service.CreatePaymentOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	order, err := h.payments.CreatePaymentOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order": gin.H{
			"id":       order.ID,
			"amount":   order.Amount,
			"currency": order.Currency,
			"receipt":  order.Receipt,
		},
	})
}

func (h *Handler) verifyPayment(c *gin.Context) {
	var req service.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	order, err := h.payments.VerifyPayment(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payment verified successfully",
		"order":   order,
	})
}

func (h *Handler) getPayment(c *gin.Context) {
	payment, err := h.payments.GetPayment(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "payment": payment})
}

func (h *Handler) refundPayment(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	refund, err := h.payments.RefundPayment(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Refund issued",
		zap.String("payment_id", req.PaymentID),
		actorField(c))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Refund processed successfully",
		"refund":  refund,
	})
}

// paymentWebhook verifies a gateway callback against the raw body and queues
// it. Processing happens in the payment worker.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	if !service.VerifyWebhookSignature(h.webhookSecret, body, c.GetHeader(webhookSignatureHeader)) {
		h.logger.Warn("Webhook signature mismatch", zap.String("remote", c.ClientIP()))
		badRequest(c, "Invalid signature")
		return
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		badRequest(c, "Invalid webhook payload")
		return
	}
	if id := c.GetHeader(webhookEventIDHeader); id != "" {
		event.ID = id
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if err := h.webhooks.PublishWebhook(c.Request.Context(), &event); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
