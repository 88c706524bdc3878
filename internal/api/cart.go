package api

import (
	"net/http"
	"strings"

	"storefront-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
)

func (h *Handler) listProducts(c *gin.Context) {
	page, err := h.catalog.ListProducts(c.Request.Context(), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"products":    page.Products,
		"totalPages":  page.TotalPages,
		"currentPage": page.CurrentPage,
		"total":       page.Total,
	})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		var notFound *service.ProductNotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Product not found"})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "product": product})
}

func sessionID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("sessionId"))
	if id == "" || len(id) > 128 {
		badRequest(c, "Invalid session")
		return "", false
	}
	return id, true
}

func (h *Handler) getCart(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(c.Request.Context(), sid)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart})
}

type addCartItemRequest struct {
	ProductID int64 `json:"product"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	cart, err := h.carts.AddItem(c.Request.Context(), sid, req.ProductID, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart})
}

type updateCartItemRequest struct {
	Delta int `json:"delta"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	productID, ok := paramID(c, "productId")
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	cart, err := h.carts.UpdateItem(c.Request.Context(), sid, productID, req.Delta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	productID, ok := paramID(c, "productId")
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(c.Request.Context(), sid, productID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart})
}

func (h *Handler) clearCart(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(c.Request.Context(), sid); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) checkout(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.carts.Checkout(c.Request.Context(), sid, &req)
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
