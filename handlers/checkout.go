package handlers

import (
	"net/http"

	"storefront-svc/cart"
	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/orders"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CheckoutHandler struct {
	cartSvc  *cart.Service
	orderSvc *orders.Service
	logger   *zap.Logger
}

func NewCheckoutHandler(cartSvc *cart.Service, orderSvc *orders.Service, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{cartSvc: cartSvc, orderSvc: orderSvc, logger: logger}
}

// Checkout turns the caller's active cart into a pending order and marks
// the cart checked out. Guests must supply a customer email snapshot;
// authenticated users fall back to their token's email claim.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "Checkout")
	defer span.End()

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	owner, ok := cartOwner(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session or authentication"})
		return
	}

	customerEmail := req.CustomerEmail
	if customerEmail == "" {
		customerEmail = middleware.CurrentEmail(c)
	}
	if owner.UserID == nil && customerEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Guest checkout requires a customer email"})
		return
	}

	current, err := h.cartSvc.GetCart(ctx, owner)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to load cart for checkout", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if current.ID == 0 || len(current.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cart is empty"})
		return
	}
	span.SetAttributes(
		attribute.Int("cart.id", current.ID),
		attribute.Int("cart.items", len(current.Items)),
	)

	items := make([]orders.CreateOrderItem, 0, len(current.Items))
	for _, item := range current.Items {
		unit, err := h.cartSvc.UnitPriceCents(ctx, item.ProductID, item.PriceID)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to price cart item",
				zap.Int("product_id", item.ProductID),
				zap.Error(err),
			)
			c.JSON(http.StatusConflict, gin.H{"error": "Cart contains an item that can no longer be priced"})
			return
		}
		items = append(items, orders.CreateOrderItem{
			ProductID:       item.ProductID,
			PriceID:         item.PriceID,
			Quantity:        item.Quantity,
			UnitPriceCents:  unit,
			TotalPriceCents: int64(item.Quantity) * unit,
		})
	}

	order, err := h.orderSvc.Create(ctx, orders.CreateOrderInput{
		UserID:          owner.UserID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   customerEmail,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Items:           items,
	})
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := h.cartSvc.MarkCheckedOut(ctx, current.ID); err != nil {
		// The order exists; a stale cart is recoverable and must not fail
		// the checkout response.
		h.logger.Error("Failed to mark cart checked out",
			zap.Int("cart_id", current.ID),
			zap.Int("order_id", order.ID),
			zap.Error(err),
		)
	}

	h.logger.Info("Checkout completed",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
	)
	c.JSON(http.StatusCreated, order)
}
