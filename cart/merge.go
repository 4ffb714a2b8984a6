package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-svc/middleware"
	"storefront-svc/models"

	"go.uber.org/zap"
)

// mergeAttempts bounds retries on serialization conflicts; the merge is a
// read-modify-write across two carts and may lose races with concurrent
// adds.
const mergeAttempts = 3

// Merge folds the guest session's cart into the user's cart. A missing or
// empty guest cart is a successful no-op, which makes a double-submit of
// the merge idempotent. Items whose product or price is no longer sellable
// are skipped and logged, never fatal.
func (s *Service) Merge(ctx context.Context, userID int, sessionID string) (models.MergeResult, error) {
	var (
		result  models.MergeResult
		lastErr error
	)
	for attempt := 1; attempt <= mergeAttempts; attempt++ {
		result, lastErr = s.mergeOnce(ctx, userID, sessionID)
		if lastErr == nil {
			if result.Merged == 0 && result.Skipped == 0 && result.CartID == 0 {
				middleware.RecordCartMerge("noop")
			} else {
				middleware.RecordCartMerge("merged")
			}
			return result, nil
		}
		if errors.Is(lastErr, ErrCartMergeRejected) {
			middleware.RecordCartMerge("rejected")
			return result, lastErr
		}
		if !isSerializationFailure(lastErr) {
			break
		}
		s.logger.Warn("Retrying cart merge after serialization conflict",
			zap.Int("user_id", userID),
			zap.Int("attempt", attempt),
		)
	}
	middleware.RecordCartMerge("error")
	return result, lastErr
}

func (s *Service) mergeOnce(ctx context.Context, userID int, sessionID string) (models.MergeResult, error) {
	var result models.MergeResult

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Guest cart gone (or never existed): the merge already happened or
	// there is nothing to do.
	var guestCartID int
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM carts WHERE session_id = $1 AND status = 'active' FOR UPDATE",
		sessionID,
	).Scan(&guestCartID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return result, fmt.Errorf("failed to load guest cart: %w", err)
	}

	guestItems, err := loadItemsTx(ctx, tx, guestCartID)
	if err != nil {
		return result, err
	}
	if len(guestItems) == 0 {
		return result, nil
	}

	userCartID, err := userCartForMerge(ctx, tx, userID)
	if err != nil {
		return result, err
	}
	result.CartID = userCartID

	for _, item := range guestItems {
		avail, err := s.availability(ctx, item.ProductID, item.PriceID)
		if err != nil {
			return result, err
		}
		if !avail.Sellable(item.PriceID != nil) {
			s.logger.Info("Skipping unavailable cart item during merge",
				zap.Int("user_id", userID),
				zap.Int("product_id", item.ProductID),
			)
			result.Skipped++
			continue
		}
		if err := foldItem(ctx, tx, userCartID, item.ProductID, item.PriceID, item.Quantity); err != nil {
			return result, err
		}
		result.Merged++
	}

	// The owner is authenticated now; the consolidated cart never expires.
	if _, err := tx.ExecContext(ctx,
		"UPDATE carts SET last_activity_at = CURRENT_TIMESTAMP, expires_at = NULL, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE id = $1",
		userCartID,
	); err != nil {
		return result, fmt.Errorf("failed to touch user cart: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", guestCartID); err != nil {
		return result, fmt.Errorf("failed to delete guest cart items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM carts WHERE id = $1", guestCartID); err != nil {
		return result, fmt.Errorf("failed to delete guest cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit merge: %w", err)
	}

	s.logger.Info("Guest cart merged",
		zap.Int("user_id", userID),
		zap.Int("cart_id", userCartID),
		zap.Int("merged", result.Merged),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// userCartForMerge loads the user's most recent cart, creating an active
// one when none exists. A terminal cart (checked out or expired) rejects
// the merge rather than resurrecting it or creating a duplicate.
func userCartForMerge(ctx context.Context, tx *sql.Tx, userID int) (int, error) {
	var (
		id         int
		cartStatus string
	)
	err := tx.QueryRowContext(ctx,
		"SELECT id, status FROM carts WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE",
		userID,
	).Scan(&id, &cartStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.QueryRowContext(ctx,
				"INSERT INTO carts (user_id) VALUES ($1) RETURNING id",
				userID,
			).Scan(&id)
			if err != nil {
				return 0, fmt.Errorf("failed to create user cart: %w", err)
			}
			return id, nil
		}
		return 0, fmt.Errorf("failed to load user cart: %w", err)
	}
	if models.CartStatus(cartStatus) != models.CartStatusActive {
		return 0, fmt.Errorf("%w: cart %d is %s", ErrCartMergeRejected, id, cartStatus)
	}
	return id, nil
}

func loadItemsTx(ctx context.Context, tx *sql.Tx, cartID int) ([]models.CartItem, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, product_id, price_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY id",
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var (
			item    models.CartItem
			priceID sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.ProductID, &priceID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		if priceID.Valid {
			pid := int(priceID.Int64)
			item.PriceID = &pid
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cart items: %w", err)
	}
	return items, nil
}
