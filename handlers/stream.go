package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront-svc/middleware"
	"storefront-svc/notifier"
	"storefront-svc/orders"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// heartbeatInterval keeps the SSE connection alive through proxies.
const heartbeatInterval = 30 * time.Second

type StreamHandler struct {
	svc       *orders.Service
	notifier  *notifier.Notifier
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewStreamHandler(svc *orders.Service, n *notifier.Notifier, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		svc:       svc,
		notifier:  n,
		logger:    logger,
		heartbeat: heartbeatInterval,
	}
}

// Stream is a long-lived SSE connection for one order. Authorization is
// checked once at open; thereafter every matching status event is
// forwarded until the client disconnects.
func (h *StreamHandler) Stream(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.svc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		h.logger.Error("Failed to load order for stream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !canViewOrder(c, order) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	events, cancel := h.notifier.Subscribe(orderID)
	defer cancel()

	middleware.StreamOpened()
	defer middleware.StreamClosed()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{
		"order_id":  orderID,
		"timestamp": time.Now().UTC(),
	})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("order-updated", gin.H{
				"type":            "order-updated",
				"order_id":        event.OrderID,
				"user_id":         event.UserID,
				"status":          event.Status,
				"previous_status": event.PreviousStatus,
				"timestamp":       event.Timestamp,
				"note":            event.Note,
			})
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}
