package api

import (
	"net/http"
	"strconv"

	"checkout-service/internal/auth"
	"checkout-service/internal/models"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type updateStatusRequest struct {
	Status         models.OrderStatus `json:"status" binding:"required"`
	TrackingNumber string             `json:"trackingNumber" binding:"omitempty,max=64"`
}

type lookupCodeRequest struct {
	OrderNumber string `json:"orderNumber" binding:"required,max=64"`
	Email       string `json:"email" binding:"required,email"`
}

type lookupOrderRequest struct {
	OrderNumber string `json:"orderNumber" binding:"required,max=64"`
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
}

// placeOrder handles checkout
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if !h.bind(c, &req) {
		return
	}

	if identity := auth.FromContext(c); identity != nil {
		req.CustomerRef = identity.Subject
		req.CustomerEmail = identity.Email
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, replayed, err := h.orders.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err, "Failed to place order")
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
		c.Header("Idempotent-Replayed", "true")
	}
	c.JSON(status, gin.H{
		"success": true,
		"order":   order.View(),
	})
}

// getOrder returns an order to its owner or an admin
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err, "Failed to get order")
		return
	}

	// Other customers' orders are reported as missing
	identity := auth.FromContext(c)
	if order.UserID.String != identity.Subject && h.authz.Authorize(identity, auth.CapOrdersAdmin) != nil {
		h.writeError(c, service.ErrOrderNotFound, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order.View(),
	})
}

// listOrders lists the caller's orders
func (h *Handler) listOrders(c *gin.Context) {
	identity := auth.FromContext(c)

	orders, err := h.orders.ListCustomerOrders(c.Request.Context(), identity.Subject)
	if err != nil {
		h.writeError(c, err, "Failed to list orders")
		return
	}

	views := make([]*models.OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, orders[i].View())
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orders":  views,
	})
}

// updateOrderStatus applies an administrative status change
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !h.bind(c, &req) {
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), orderID, req.Status, req.TrackingNumber)
	if err != nil {
		h.writeError(c, err, "Failed to update order status")
		return
	}

	h.logger.Info("Order status changed by admin",
		zap.Int64("order_id", orderID),
		zap.String("status", string(order.Status)),
		zap.String("by", auth.FromContext(c).Subject))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order.View(),
	})
}

// paymentCallback accepts a payment gateway result
func (h *Handler) paymentCallback(c *gin.Context) {
	var event models.PaymentResultEvent
	if !h.bind(c, &event) {
		return
	}
	event.EventType = models.EventTypePaymentResult

	if err := h.orders.ApplyPaymentResult(c.Request.Context(), &event); err != nil {
		h.writeError(c, err, "Failed to apply payment result")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// requestLookupCode always answers 202 so order numbers cannot be probed
func (h *Handler) requestLookupCode(c *gin.Context) {
	var req lookupCodeRequest
	if !h.bind(c, &req) {
		return
	}

	h.orders.RequestLookupCode(c.Request.Context(), req.OrderNumber, req.Email)

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "If the order exists, a verification code has been sent to its email address",
	})
}

// lookupGuestOrder returns a guest order for a valid verification code
func (h *Handler) lookupGuestOrder(c *gin.Context) {
	var req lookupOrderRequest
	if !h.bind(c, &req) {
		return
	}

	order, err := h.orders.LookupGuestOrder(c.Request.Context(), req.OrderNumber, req.Email, req.Code)
	if err != nil {
		h.writeError(c, err, "Failed to look up order")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order.View(),
	})
}

func (h *Handler) orderID(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid order ID",
		})
		return 0, false
	}
	return orderID, true
}
