package api

import (
	"net/http"

	"storefront-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// respondError maps service errors to status codes. Unknown errors are
// logged and reported with a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		verr     *service.ValidationError
		notFound *service.ProductNotFoundError
		stock    *service.InsufficientStockError
		upstream *service.UpstreamGatewayError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": verr.Fields,
		})
	case errors.As(err, &notFound), errors.As(err, &stock):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Order not found"})
	case errors.Is(err, service.ErrCartItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Item not in cart"})
	case errors.Is(err, service.ErrOrderNotCancellable):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Order cannot be cancelled at this stage"})
	case errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid status"})
	case errors.Is(err, service.ErrSignatureMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Payment verification failed"})
	case errors.Is(err, service.ErrPaymentInProgress):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Payment verification already in progress"})
	case errors.As(err, &upstream):
		h.logger.Error("Payment gateway error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Payment gateway error"})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}
