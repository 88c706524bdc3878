package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront-service/internal/auth"
	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/service"
	"storefront-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderService is the order API the handlers call.
type OrderService interface {
	PlaceOrder(ctx context.Context, req *service.PlaceOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	TrackOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrdersByCustomer(ctx context.Context, email string, page, limit int) (*service.OrderPage, error)
	ChangeStatus(ctx context.Context, id int64, status, note string) (*models.Order, error)
	CancelOrder(ctx context.Context, id int64) (*models.Order, error)
}

// PaymentService is the payment API the handlers call.
type PaymentService interface {
	CreatePaymentOrder(ctx context.Context, req *service.CreatePaymentOrderRequest) (*gateway.Order, error)
	VerifyPayment(ctx context.Context, req *service.VerifyPaymentRequest) (*models.Order, error)
	GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
	RefundPayment(ctx context.Context, req *service.RefundRequest) (*gateway.Refund, error)
}

// CartService is the cart API the handlers call.
type CartService interface {
	GetCart(ctx context.Context, sessionID string) (*service.CartView, error)
	AddItem(ctx context.Context, sessionID string, productID int64, quantity int) (*service.CartView, error)
	UpdateItem(ctx context.Context, sessionID string, productID int64, delta int) (*service.CartView, error)
	RemoveItem(ctx context.Context, sessionID string, productID int64) (*service.CartView, error)
	ClearCart(ctx context.Context, sessionID string) error
	Checkout(ctx context.Context, sessionID string, req *service.CheckoutRequest) (*models.Order, error)
}

// CatalogService is the product API the handlers call.
type CatalogService interface {
	ListProducts(ctx context.Context, page, limit int) (*service.ProductPage, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

// WebhookQueue accepts verified webhooks for asynchronous processing.
type WebhookQueue interface {
	PublishWebhook(ctx context.Context, event *models.WebhookEvent) error
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators a Handler serves.
type Deps struct {
	Orders        OrderService
	Payments      PaymentService
	Carts         CartService
	Catalog       CatalogService
	Webhooks      WebhookQueue
	Authenticator auth.Authenticator
	WebhookSecret string
	Checks        map[string]ReadinessCheck
}

// Handler contains HTTP handlers
type Handler struct {
	orders        OrderService
	payments      PaymentService
	carts         CartService
	catalog       CatalogService
	webhooks      WebhookQueue
	authn         auth.Authenticator
	webhookSecret string
	checks        map[string]ReadinessCheck
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		orders:        d.Orders,
		payments:      d.Payments,
		carts:         d.Carts,
		catalog:       d.Catalog,
		webhooks:      d.Webhooks,
		authn:         d.Authenticator,
		webhookSecret: d.WebhookSecret,
		checks:        d.Checks,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := auth.RequireRole(h.authn, auth.RoleAdmin)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/track/:orderId", h.trackOrder)
		v1.GET("/orders/customer/:email", h.customerOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", admin, h.updateOrderStatus)
		v1.PATCH("/orders/:id/cancel", h.cancelOrder)

		v1.POST("/payments/create-order", h.createPaymentOrder)
		v1.POST("/payments/verify-payment", h.verifyPayment)
		v1.POST("/payments/webhook", h.paymentWebhook)
		v1.POST("/payments/refund", admin, h.refundPayment)
		v1.GET("/payments/:paymentId", admin, h.getPayment)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		v1.GET("/cart/:sessionId", h.getCart)
		v1.DELETE("/cart/:sessionId", h.clearCart)
		v1.POST("/cart/:sessionId/items", h.addCartItem)
		v1.PATCH("/cart/:sessionId/items/:productId", h.updateCartItem)
		v1.DELETE("/cart/:sessionId/items/:productId", h.removeCartItem)
		v1.POST("/cart/:sessionId/checkout", h.checkout)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency check passes
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) int {
	n, _ := strconv.Atoi(c.Query(name))
	return n
}
