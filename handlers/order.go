package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/orders"
	"storefront-svc/status"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderHandler struct {
	svc    *orders.Service
	logger *zap.Logger
}

func NewOrderHandler(svc *orders.Service, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, logger: logger}
}

// canViewOrder gates customer-facing order reads: the owner or an admin.
// Guest orders (no user id) are only visible to admins.
func canViewOrder(c *gin.Context, order models.Order) bool {
	if middleware.IsAdmin(c) {
		return true
	}
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return false
	}
	return order.UserID != nil && *order.UserID == userID
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	order, err := h.svc.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if !canViewOrder(c, order) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	c.JSON(http.StatusOK, order)
}

// GetHistory returns the audit trail, newest first.
func (h *OrderHandler) GetHistory(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "GetOrderHistory")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	order, err := h.svc.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !canViewOrder(c, order) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	history, err := h.svc.History(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to get order history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "history": history})
}

// UpdateStatus is the admin entry point for status changes. Notification
// failures after commit are logged inside the service and still count as
// success here.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "UpdateOrderStatus")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("order.id", orderID),
		attribute.String("order.target_status", req.Status),
	)

	actor := "admin"
	var actorUserID *int
	if uid, ok := middleware.CurrentUserID(c); ok {
		actorUserID = &uid
	}

	event, err := h.svc.UpdateStatus(ctx, orderID, status.Status(req.Status), actor, actorUserID, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		case errors.Is(err, orders.ErrInvalidTransition):
			// The message names both the current and requested status.
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			span.RecordError(err)
			h.logger.Error("Failed to update order status", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	h.logger.Info("Order status updated",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", orderID),
		zap.String("from", event.PreviousStatus.String()),
		zap.String("to", event.Status.String()),
	)
	c.JSON(http.StatusOK, gin.H{
		"order_id":        event.OrderID,
		"status":          event.Status,
		"previous_status": event.PreviousStatus,
	})
}
