package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront-svc/cache"
	"storefront-svc/models"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrCartNotFound      = errors.New("cart not found")
	ErrItemNotFound      = errors.New("cart item not found")
	ErrCartMergeRejected = errors.New("user cart is in a terminal state; cannot merge")
)

// guestCartTTL is how long an anonymous cart lives without a merge or
// checkout before the sweeper reclaims it.
const guestCartTTL = 7 * 24 * time.Hour

// Owner identifies a cart by exactly one of user id or session id.
type Owner struct {
	UserID    *int
	SessionID *string
}

func UserOwner(userID int) Owner {
	return Owner{UserID: &userID}
}

func SessionOwner(sessionID string) Owner {
	return Owner{SessionID: &sessionID}
}

// Service owns all cart reads and writes, including the guest-to-user
// merge. The redis client is optional; without it availability checks go
// straight to the database.
type Service struct {
	db     *sql.DB
	rdb    *redis.Client
	logger *zap.Logger
}

func NewService(db *sql.DB, rdb *redis.Client, logger *zap.Logger) *Service {
	return &Service{db: db, rdb: rdb, logger: logger}
}

// GetCart returns the owner's active cart with items, or an empty unsaved
// cart when none exists.
func (s *Service) GetCart(ctx context.Context, owner Owner) (models.Cart, error) {
	cart := models.Cart{
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		Status:    models.CartStatusActive,
	}

	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, expires_at, last_activity_at, version, created_at, updated_at
		FROM carts WHERE `+ownerClause(owner)+` AND status = 'active'`,
		ownerArg(owner),
	).Scan(&cart.ID, &cart.Status, &expiresAt, &cart.LastActivityAt, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cart, nil
		}
		return cart, fmt.Errorf("failed to load cart: %w", err)
	}
	if expiresAt.Valid {
		cart.ExpiresAt = &expiresAt.Time
	}

	items, err := s.loadItems(ctx, cart.ID)
	if err != nil {
		return cart, err
	}
	cart.Items = items
	return cart, nil
}

func (s *Service) loadItems(ctx context.Context, cartID int) ([]models.CartItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, cart_id, product_id, price_id, quantity, created_at FROM cart_items WHERE cart_id = $1 ORDER BY id",
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
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &priceID, &item.Quantity, &item.AddedAt); err != nil {
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

// AddItem folds the quantity into an existing line for the same
// (product, price) pair, or inserts a new line. The cart is created on
// first add.
func (s *Service) AddItem(ctx context.Context, owner Owner, req models.AddToCartRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cartID, err := getOrCreateActiveCart(ctx, tx, owner)
	if err != nil {
		return err
	}

	if err := foldItem(ctx, tx, cartID, req.ProductID, req.PriceID, req.Quantity); err != nil {
		return err
	}
	if err := touchCart(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateQuantity sets a line's quantity; zero deletes the line.
func (s *Service) UpdateQuantity(ctx context.Context, owner Owner, productID int, priceID *int, quantity int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cartID, err := activeCartID(ctx, tx, owner)
	if err != nil {
		return err
	}

	var res sql.Result
	if quantity == 0 {
		res, err = tx.ExecContext(ctx,
			"DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2 AND price_id IS NOT DISTINCT FROM $3",
			cartID, productID, priceArg(priceID),
		)
	} else {
		res, err = tx.ExecContext(ctx,
			"UPDATE cart_items SET quantity = $1 WHERE cart_id = $2 AND product_id = $3 AND price_id IS NOT DISTINCT FROM $4",
			quantity, cartID, productID, priceArg(priceID),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrItemNotFound
	}

	if err := touchCart(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveItem deletes a line outright.
func (s *Service) RemoveItem(ctx context.Context, owner Owner, productID int, priceID *int) error {
	return s.UpdateQuantity(ctx, owner, productID, priceID, 0)
}

// ClearCart removes every line but keeps the cart row.
func (s *Service) ClearCart(ctx context.Context, owner Owner) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cartID, err := activeCartID(ctx, tx, owner)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	if err := touchCart(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkCheckedOut moves the cart into its terminal checked-out state after
// an order has been created from it.
func (s *Service) MarkCheckedOut(ctx context.Context, cartID int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE carts SET status = 'checked_out', version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE id = $1 AND status = 'active'",
		cartID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark cart checked out: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrCartNotFound
	}
	return nil
}

// SweepExpired reclaims guest carts whose expiration has passed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM carts WHERE session_id IS NOT NULL AND status = 'active' AND expires_at IS NOT NULL AND expires_at < CURRENT_TIMESTAMP",
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired carts: %w", err)
	}
	return res.RowsAffected()
}

// StartSweeper runs SweepExpired on a fixed interval until ctx is done.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("Cart sweep failed", zap.Error(err))
				continue
			}
			if swept > 0 {
				s.logger.Info("Swept expired guest carts", zap.Int64("count", swept))
			}
		}
	}
}

// availability returns a read-only snapshot of whether a (product, price)
// pair may still be sold, consulting redis before the database.
func (s *Service) availability(ctx context.Context, productID int, priceID *int) (models.Availability, error) {
	if s.rdb != nil {
		if a, err := cache.GetAvailability(ctx, s.rdb, productID, priceID); err == nil {
			return a, nil
		}
	}

	var a models.Availability
	err := s.db.QueryRowContext(ctx,
		"SELECT active, deleted_at IS NOT NULL FROM products WHERE id = $1",
		productID,
	).Scan(&a.ProductActive, &a.ProductDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, nil
		}
		return a, fmt.Errorf("failed to load product availability: %w", err)
	}
	a.ProductExists = true

	if priceID != nil {
		err := s.db.QueryRowContext(ctx,
			"SELECT active, deleted_at IS NOT NULL, COALESCE(external_ref, '') FROM prices WHERE id = $1 AND product_id = $2",
			*priceID, productID,
		).Scan(&a.PriceActive, &a.PriceDeleted, &a.ExternalRef)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return a, fmt.Errorf("failed to load price availability: %w", err)
			}
		} else {
			a.PriceExists = true
		}
	}

	if s.rdb != nil {
		if err := cache.SetAvailability(ctx, s.rdb, productID, priceID, a); err != nil {
			s.logger.Warn("Failed to cache availability", zap.Int("product_id", productID), zap.Error(err))
		}
	}
	return a, nil
}

// UnitPriceCents resolves the current unit price for a cart line: the
// price row when one is referenced, otherwise the product's base price.
func (s *Service) UnitPriceCents(ctx context.Context, productID int, priceID *int) (int64, error) {
	var cents int64
	if priceID != nil {
		err := s.db.QueryRowContext(ctx,
			"SELECT unit_amount_cents FROM prices WHERE id = $1 AND product_id = $2",
			*priceID, productID,
		).Scan(&cents)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, ErrItemNotFound
			}
			return 0, fmt.Errorf("failed to load price: %w", err)
		}
		return cents, nil
	}
	err := s.db.QueryRowContext(ctx,
		"SELECT price_cents FROM products WHERE id = $1",
		productID,
	).Scan(&cents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrItemNotFound
		}
		return 0, fmt.Errorf("failed to load product price: %w", err)
	}
	return cents, nil
}

func ownerClause(owner Owner) string {
	if owner.UserID != nil {
		return "user_id = $1"
	}
	return "session_id = $1"
}

func ownerArg(owner Owner) interface{} {
	if owner.UserID != nil {
		return *owner.UserID
	}
	if owner.SessionID != nil {
		return *owner.SessionID
	}
	return nil
}

func priceArg(priceID *int) interface{} {
	if priceID != nil {
		return *priceID
	}
	return nil
}

func activeCartID(ctx context.Context, tx *sql.Tx, owner Owner) (int, error) {
	var id int
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM carts WHERE "+ownerClause(owner)+" AND status = 'active' FOR UPDATE",
		ownerArg(owner),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrCartNotFound
		}
		return 0, fmt.Errorf("failed to load cart: %w", err)
	}
	return id, nil
}

func getOrCreateActiveCart(ctx context.Context, tx *sql.Tx, owner Owner) (int, error) {
	id, err := activeCartID(ctx, tx, owner)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return 0, err
	}

	if owner.UserID != nil {
		err = tx.QueryRowContext(ctx,
			"INSERT INTO carts (user_id) VALUES ($1) RETURNING id",
			*owner.UserID,
		).Scan(&id)
	} else {
		err = tx.QueryRowContext(ctx,
			"INSERT INTO carts (session_id, expires_at) VALUES ($1, $2) RETURNING id",
			*owner.SessionID, time.Now().Add(guestCartTTL),
		).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create cart: %w", err)
	}
	return id, nil
}

// foldItem adds quantity to an existing (product, price) line or inserts a
// new one, keeping the at-most-one-row-per-line invariant.
func foldItem(ctx context.Context, tx *sql.Tx, cartID, productID int, priceID *int, quantity int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE cart_items SET quantity = quantity + $1 WHERE cart_id = $2 AND product_id = $3 AND price_id IS NOT DISTINCT FROM $4",
		quantity, cartID, productID, priceArg(priceID),
	)
	if err != nil {
		return fmt.Errorf("failed to fold cart item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO cart_items (cart_id, product_id, price_id, quantity) VALUES ($1, $2, $3, $4)",
		cartID, productID, priceArg(priceID), quantity,
	); err != nil {
		return fmt.Errorf("failed to insert cart item: %w", err)
	}
	return nil
}

func touchCart(ctx context.Context, tx *sql.Tx, cartID int) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE carts SET last_activity_at = CURRENT_TIMESTAMP, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE id = $1",
		cartID,
	); err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
