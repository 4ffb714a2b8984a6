package models

import "time"

type CartStatus string

const (
	CartStatusActive     CartStatus = "active"
	CartStatusCheckedOut CartStatus = "checked_out"
	CartStatusExpired    CartStatus = "expired"
)

// Cart is owned by exactly one of UserID or SessionID. Guest carts carry an
// expiration; user carts do not expire.
type Cart struct {
	ID             int        `json:"id"`
	UserID         *int       `json:"user_id,omitempty"`
	SessionID      *string    `json:"session_id,omitempty"`
	Status         CartStatus `json:"status"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	Version        int        `json:"-"` // Optimistic locking
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Items          []CartItem `json:"items"`
}

type CartItem struct {
	ID        int       `json:"id"`
	CartID    int       `json:"cart_id"`
	ProductID int       `json:"product_id"`
	PriceID   *int      `json:"price_id,omitempty"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// Availability is the read-only snapshot consulted when re-validating a
// guest cart item at merge time.
type Availability struct {
	ProductExists  bool   `json:"product_exists"`
	ProductActive  bool   `json:"product_active"`
	ProductDeleted bool   `json:"product_deleted"`
	PriceExists    bool   `json:"price_exists"`
	PriceActive    bool   `json:"price_active"`
	PriceDeleted   bool   `json:"price_deleted"`
	ExternalRef    string `json:"external_ref"`
}

// Sellable reports whether a cart line referencing this snapshot may be
// merged. requirePrice is true when the line carries a price reference.
func (a Availability) Sellable(requirePrice bool) bool {
	if !a.ProductExists || !a.ProductActive || a.ProductDeleted {
		return false
	}
	if requirePrice {
		if !a.PriceExists || !a.PriceActive || a.PriceDeleted {
			return false
		}
		if a.ExternalRef == "" {
			return false
		}
	}
	return true
}

type AddToCartRequest struct {
	ProductID int  `json:"product_id" binding:"required"`
	PriceID   *int `json:"price_id"`
	Quantity  int  `json:"quantity" binding:"required,gt=0"`
}

type UpdateCartItemRequest struct {
	PriceID  *int `json:"price_id"`
	Quantity int  `json:"quantity" binding:"gte=0"`
}

// MergeResult reports the outcome of a guest-to-user cart merge.
type MergeResult struct {
	CartID  int `json:"cart_id"`
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
}
