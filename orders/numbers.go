package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Order numbers are sequential per year ("ORD-2026-000042"). Generation
// races with concurrent checkouts, so the insert retries on a unique
// violation and falls back to a timestamp-based number on the last attempt.
const orderNumberAttempts = 3

func formatOrderNumber(year, seq int) string {
	return fmt.Sprintf("ORD-%d-%06d", year, seq)
}

func fallbackOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%d", now.Year(), now.UnixNano())
}

func nextOrderNumber(ctx context.Context, tx *sql.Tx, now time.Time, attempt int) (string, error) {
	if attempt >= orderNumberAttempts {
		return fallbackOrderNumber(now), nil
	}
	var count int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE order_number LIKE $1",
		fmt.Sprintf("ORD-%d-%%", now.Year()),
	).Scan(&count)
	if err != nil {
		return "", fmt.Errorf("failed to count orders for number generation: %w", err)
	}
	return formatOrderNumber(now.Year(), count+attempt), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
