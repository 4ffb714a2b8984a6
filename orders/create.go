package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-svc/models"
	"storefront-svc/status"
)

var (
	ErrNoItems         = errors.New("order has no line items")
	ErrLineTotal       = errors.New("line item total does not match quantity times unit price")
	ErrMissingCustomer = errors.New("order requires a user or a customer email snapshot")
)

type CreateOrderItem struct {
	ProductID       int
	PriceID         *int
	Quantity        int
	UnitPriceCents  int64
	TotalPriceCents int64
}

type CreateOrderInput struct {
	UserID          *int
	CustomerName    string
	CustomerEmail   string
	ShippingAddress string
	BillingAddress  string
	TaxCents        int64
	ShippingCents   int64
	DiscountCents   int64
	Items           []CreateOrderItem
}

// ValidateLineTotal enforces the one-cent rounding tolerance between a line
// item's stored total and quantity x unit price.
func ValidateLineTotal(quantity int, unitCents, totalCents int64) error {
	diff := int64(quantity)*unitCents - totalCents
	if diff < -1 || diff > 1 {
		return fmt.Errorf("%w: %d x %d = %d, got %d", ErrLineTotal, quantity, unitCents, int64(quantity)*unitCents, totalCents)
	}
	return nil
}

// Create persists a new order at checkout completion: order row with a
// collision-retried order number, line items, and the initial audit entry
// (from=NULL -> pending), all in one transaction.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (models.Order, error) {
	var order models.Order

	if len(input.Items) == 0 {
		return order, ErrNoItems
	}
	if input.UserID == nil && input.CustomerEmail == "" {
		return order, ErrMissingCustomer
	}
	var subtotal int64
	for _, item := range input.Items {
		if err := ValidateLineTotal(item.Quantity, item.UnitPriceCents, item.TotalPriceCents); err != nil {
			return order, err
		}
		subtotal += item.TotalPriceCents
	}
	total := subtotal + input.TaxCents + input.ShippingCents - input.DiscountCents

	now := time.Now()
	var lastErr error
	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		order, lastErr = s.createOnce(ctx, input, subtotal, total, now, attempt)
		if lastErr == nil {
			event := models.OrderEvent{
				OrderID:   order.ID,
				UserID:    order.UserID,
				Status:    status.StatusPending,
				Timestamp: time.Now().UTC(),
				EventType: "order_created",
			}
			s.notify(ctx, event)
			return order, nil
		}
		if !isUniqueViolation(lastErr) {
			return order, lastErr
		}
	}
	return order, fmt.Errorf("failed to allocate order number: %w", lastErr)
}

func (s *Service) createOnce(ctx context.Context, input CreateOrderInput, subtotal, total int64, now time.Time, attempt int) (models.Order, error) {
	var order models.Order

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return order, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	number, err := nextOrderNumber(ctx, tx, now, attempt)
	if err != nil {
		return order, err
	}

	var userIDVal interface{}
	if input.UserID != nil {
		userIDVal = *input.UserID
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (order_number, user_id, customer_name, customer_email, status, payment_status,
			subtotal_cents, tax_cents, shipping_cents, discount_cents, total_cents,
			shipping_address, billing_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`,
		number, userIDVal, input.CustomerName, input.CustomerEmail,
		status.StatusPending, status.PaymentPending,
		subtotal, input.TaxCents, input.ShippingCents, input.DiscountCents, total,
		input.ShippingAddress, input.BillingAddress,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return order, fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range input.Items {
		var priceIDVal interface{}
		if item.PriceID != nil {
			priceIDVal = *item.PriceID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, price_id, quantity, unit_price_cents, total_price_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, item.ProductID, priceIDVal, item.Quantity, item.UnitPriceCents, item.TotalPriceCents,
		); err != nil {
			return order, fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := appendHistory(ctx, tx, order.ID, nil, status.StatusPending, "system", nil, "order created"); err != nil {
		return order, err
	}

	if err := tx.Commit(); err != nil {
		return order, fmt.Errorf("failed to commit order: %w", err)
	}

	order.OrderNumber = number
	order.UserID = input.UserID
	order.CustomerName = input.CustomerName
	order.CustomerEmail = input.CustomerEmail
	order.Status = status.StatusPending
	order.PaymentStatus = status.PaymentPending
	order.SubtotalCents = subtotal
	order.TaxCents = input.TaxCents
	order.ShippingCents = input.ShippingCents
	order.DiscountCents = input.DiscountCents
	order.TotalCents = total
	order.ShippingAddress = input.ShippingAddress
	order.BillingAddress = input.BillingAddress
	return order, nil
}
