package models

import (
	"time"

	"storefront-svc/status"
)

type Order struct {
	ID            int                  `json:"id"`
	OrderNumber   string               `json:"order_number"`
	UserID        *int                 `json:"user_id"`
	CustomerName  string               `json:"customer_name"`
	CustomerEmail string               `json:"customer_email"`
	Status        status.Status        `json:"status"`
	PaymentStatus status.PaymentStatus `json:"payment_status"`

	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`

	ShippingAddress string `json:"shipping_address"`
	BillingAddress  string `json:"billing_address"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`

	Items []OrderItem `json:"items,omitempty"`
}

type OrderItem struct {
	ID              int       `json:"id"`
	OrderID         int       `json:"order_id"`
	ProductID       int       `json:"product_id"`
	PriceID         *int      `json:"price_id,omitempty"`
	Quantity        int       `json:"quantity"`
	UnitPriceCents  int64     `json:"unit_price_cents"`
	TotalPriceCents int64     `json:"total_price_cents"`
	CreatedAt       time.Time `json:"created_at"`
}

// StatusHistory is one append-only audit entry. FromStatus is nil only for
// the implicit initial entry written at order creation.
type StatusHistory struct {
	ID          int            `json:"id"`
	OrderID     int            `json:"order_id"`
	FromStatus  *status.Status `json:"from_status"`
	ToStatus    status.Status  `json:"to_status"`
	Actor       string         `json:"actor"`
	ActorUserID *int           `json:"actor_user_id,omitempty"`
	Note        string         `json:"note,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// OrderEvent is published after every committed status change, both to the
// in-process notifier and to Kafka.
type OrderEvent struct {
	OrderID        int           `json:"order_id"`
	UserID         *int          `json:"user_id"`
	Status         status.Status `json:"status"`
	PreviousStatus status.Status `json:"previous_status"`
	Timestamp      time.Time     `json:"timestamp"`
	Note           string        `json:"note,omitempty"`
	EventType      string        `json:"event_type"` // order_created, order_updated
}

// PaymentEvent arrives on the payment_events topic, already verified by the
// upstream gateway integration.
type PaymentEvent struct {
	OrderID       int    `json:"order_id"`
	EventType     string `json:"event_type"` // payment_success, payment_failed, payment_refunded
	AmountCents   int64  `json:"amount_cents"`
	TransactionID string `json:"transaction_id"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

type CheckoutRequest struct {
	ShippingAddress string `json:"shipping_address" binding:"required"`
	BillingAddress  string `json:"billing_address"`
	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email"`
}
