package api

import (
	"net/http"
	"strconv"

	"storefront-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.orders.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Order created successfully",
		"order":   order,
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := orderParam(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (h *Handler) trackOrder(c *gin.Context) {
	order, err := h.orders.TrackOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (h *Handler) customerOrders(c *gin.Context) {
	page, err := h.orders.ListOrdersByCustomer(c.Request.Context(),
		c.Param("email"), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"orders":      page.Orders,
		"totalPages":  page.TotalPages,
		"currentPage": page.CurrentPage,
		"total":       page.Total,
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	id, ok := orderParam(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	order, err := h.orders.ChangeStatus(c.Request.Context(), id, req.Status, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Order status changed",
		zap.Int64("id", id),
		zap.String("status", string(order.Status)),
		actorField(c))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Order status updated successfully",
		"order":   order,
	})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := orderParam(c)
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Order cancelled successfully",
		"order":   order,
	})
}

// orderParam parses the :id route parameter. A malformed id cannot name an
// order, so it is reported as not found.
func orderParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Order not found"})
		return 0, false
	}
	return id, true
}
