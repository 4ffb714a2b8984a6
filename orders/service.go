package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront-svc/email"
	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/notifier"
	"storefront-svc/status"

	"go.uber.org/zap"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// emailTimeout bounds the post-commit shipping notification so mail
// delivery can never hold up the caller.
const emailTimeout = 5 * time.Second

// EventPublisher is the broker-facing half of status fan-out. The Kafka
// producer implements it; the mutator depends on nothing more.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

// Service is the single entry point for order status changes.
type Service struct {
	db        *sql.DB
	notifier  *notifier.Notifier
	publisher EventPublisher
	sender    email.Sender
	logger    *zap.Logger
}

func NewService(db *sql.DB, n *notifier.Notifier, publisher EventPublisher, sender email.Sender, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		notifier:  n,
		publisher: publisher,
		sender:    sender,
		logger:    logger,
	}
}

// timestampColumns maps a target status to the orders column stamped when
// that status is first reached. Columns are written with COALESCE so a
// value, once set, is never overwritten.
var timestampColumns = map[status.Status]string{
	status.StatusPaid:      "paid_at",
	status.StatusShipped:   "shipped_at",
	status.StatusDelivered: "delivered_at",
	status.StatusCancelled: "cancelled_at",
	status.StatusRefunded:  "refunded_at",
}

// UpdateStatus applies a validated transition: status, timestamp and audit
// row are committed in one transaction, then subscribers are notified
// best-effort. The returned event reflects the committed change.
func (s *Service) UpdateStatus(ctx context.Context, orderID int, target status.Status, actor string, actorUserID *int, note string) (models.OrderEvent, error) {
	var event models.OrderEvent

	if !target.Valid() {
		return event, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, string(target))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		current       string
		userID        sql.NullInt64
		customerEmail string
		orderNumber   string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT status, user_id, customer_email, order_number FROM orders WHERE id = $1 FOR UPDATE",
		orderID,
	).Scan(&current, &userID, &customerEmail, &orderNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event, ErrOrderNotFound
		}
		return event, fmt.Errorf("failed to load order: %w", err)
	}

	from := status.Status(current)
	if !status.CanTransition(from, target) {
		return event, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, target)
	}

	query := "UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2"
	if col, ok := timestampColumns[target]; ok {
		query = fmt.Sprintf(
			"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP, %s = COALESCE(%s, CURRENT_TIMESTAMP) WHERE id = $2",
			col, col,
		)
	}
	if _, err := tx.ExecContext(ctx, query, target, orderID); err != nil {
		return event, fmt.Errorf("failed to update order status: %w", err)
	}

	if err := appendHistory(ctx, tx, orderID, &from, target, actor, actorUserID, note); err != nil {
		return event, err
	}

	if err := tx.Commit(); err != nil {
		return event, fmt.Errorf("failed to commit status change: %w", err)
	}

	middleware.RecordStatusTransition(string(from), string(target))

	event = models.OrderEvent{
		OrderID:        orderID,
		Status:         target,
		PreviousStatus: from,
		Timestamp:      time.Now().UTC(),
		Note:           note,
		EventType:      "order_updated",
	}
	if userID.Valid {
		uid := int(userID.Int64)
		event.UserID = &uid
	}

	// Post-commit side effects are best-effort: the committed row is the
	// source of truth and a lost notification never fails the caller.
	s.notify(ctx, event)
	if target == status.StatusShipped {
		s.sendShippingEmail(ctx, customerEmail, orderNumber, orderID)
	}

	return event, nil
}

func (s *Service) notify(ctx context.Context, event models.OrderEvent) {
	if s.notifier != nil {
		s.notifier.Publish(event)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
			s.logger.Error("Failed to publish order event",
				zap.Int("order_id", event.OrderID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) sendShippingEmail(ctx context.Context, recipient, orderNumber string, orderID int) {
	if s.sender == nil {
		return
	}
	mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailTimeout)
	defer cancel()
	if err := s.sender.SendShippingNotification(mailCtx, recipient, orderNumber); err != nil {
		s.logger.Error("Failed to send shipping notification",
			zap.Int("order_id", orderID),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
	}
}

// SetPaymentStatus records the payment side of the order, driven by
// verified gateway events.
func (s *Service) SetPaymentStatus(ctx context.Context, orderID int, ps status.PaymentStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		ps, orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetOrder loads one order with its line items.
func (s *Service) GetOrder(ctx context.Context, orderID int) (models.Order, error) {
	var (
		o      models.Order
		userID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, order_number, user_id, customer_name, customer_email, status, payment_status,
			subtotal_cents, tax_cents, shipping_cents, discount_cents, total_cents,
			shipping_address, billing_address, created_at, updated_at,
			paid_at, shipped_at, delivered_at, cancelled_at, refunded_at
		FROM orders WHERE id = $1`,
		orderID,
	).Scan(&o.ID, &o.OrderNumber, &userID, &o.CustomerName, &o.CustomerEmail, &o.Status, &o.PaymentStatus,
		&o.SubtotalCents, &o.TaxCents, &o.ShippingCents, &o.DiscountCents, &o.TotalCents,
		&o.ShippingAddress, &o.BillingAddress, &o.CreatedAt, &o.UpdatedAt,
		&o.PaidAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt, &o.RefundedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, ErrOrderNotFound
		}
		return o, fmt.Errorf("failed to load order: %w", err)
	}
	if userID.Valid {
		uid := int(userID.Int64)
		o.UserID = &uid
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, product_id, price_id, quantity, unit_price_cents, total_price_cents, created_at
		FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return o, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    models.OrderItem
			priceID sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &priceID,
			&item.Quantity, &item.UnitPriceCents, &item.TotalPriceCents, &item.CreatedAt); err != nil {
			return o, fmt.Errorf("failed to scan order item: %w", err)
		}
		if priceID.Valid {
			pid := int(priceID.Int64)
			item.PriceID = &pid
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return o, fmt.Errorf("failed to iterate order items: %w", err)
	}
	return o, nil
}
