package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"storefront-svc/cart"
	"storefront-svc/middleware"
	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// sessionCookie carries the anonymous cart session identifier. It is
// cleared once a merge succeeds so later requests address the user cart.
const sessionCookie = "cart_session"

type CartHandler struct {
	svc    *cart.Service
	logger *zap.Logger
}

func NewCartHandler(svc *cart.Service, logger *zap.Logger) *CartHandler {
	return &CartHandler{svc: svc, logger: logger}
}

func sessionID(c *gin.Context) string {
	if sid := c.GetHeader("X-Session-ID"); sid != "" {
		return sid
	}
	if sid, err := c.Cookie(sessionCookie); err == nil {
		return sid
	}
	return ""
}

// cartOwner resolves the cart key: the authenticated user when present,
// otherwise the guest session.
func cartOwner(c *gin.Context) (cart.Owner, bool) {
	if userID, ok := middleware.CurrentUserID(c); ok {
		return cart.UserOwner(userID), true
	}
	if sid := sessionID(c); sid != "" {
		return cart.SessionOwner(sid), true
	}
	return cart.Owner{}, false
}

func (h *CartHandler) GetCart(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "GetCart")
	defer span.End()

	owner, ok := cartOwner(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session or authentication"})
		return
	}

	result, err := h.svc.GetCart(ctx, owner)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to get cart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CartHandler) AddItem(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "AddToCart")
	defer span.End()

	owner, ok := cartOwner(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session or authentication"})
		return
	}

	var req models.AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(
		attribute.Int("product_id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
	)

	if err := h.svc.AddItem(ctx, owner, req); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to add cart item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	result, err := h.svc.GetCart(ctx, owner)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to reload cart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CartHandler) UpdateItem(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "UpdateCartItem")
	defer span.End()

	owner, ok := cartOwner(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session or authentication"})
		return
	}

	productID, err := strconv.Atoi(c.Param("productId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req models.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.UpdateQuantity(ctx, owner, productID, req.PriceID, req.Quantity); err != nil {
		if errors.Is(err, cart.ErrCartNotFound) || errors.Is(err, cart.ErrItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to update cart item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "RemoveCartItem")
	defer span.End()

	owner, ok := cartOwner(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session or authentication"})
		return
	}

	productID, err := strconv.Atoi(c.Param("productId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	var priceID *int
	if raw := c.Query("price_id"); raw != "" {
		pid, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price ID"})
			return
		}
		priceID = &pid
	}

	if err := h.svc.RemoveItem(ctx, owner, productID, priceID); err != nil {
		if errors.Is(err, cart.ErrCartNotFound) || errors.Is(err, cart.ErrItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to remove cart item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CartHandler) ClearCart(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "ClearCart")
	defer span.End()

	owner, ok := cartOwner(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session or authentication"})
		return
	}

	if err := h.svc.ClearCart(ctx, owner); err != nil {
		if errors.Is(err, cart.ErrCartNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to clear cart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Merge consolidates the guest session cart into the authenticated user's
// cart. Running it again after the guest cart is gone is a successful
// no-op. On success the guest session cookie is cleared.
func (h *CartHandler) Merge(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "MergeCart")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	span.SetAttributes(attribute.Int("user_id", userID))

	sid := sessionID(c)
	if sid == "" {
		c.JSON(http.StatusOK, models.MergeResult{})
		return
	}

	result, err := h.svc.Merge(ctx, userID, sid)
	if err != nil {
		if errors.Is(err, cart.ErrCartMergeRejected) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to merge cart", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, result)
}
