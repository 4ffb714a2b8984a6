package cart

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"storefront-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
)

func errNoRows() error { return sql.ErrNoRows }

func TestGetCart_ReturnsEmptyCartWhenNoneExists(t *testing.T) {
	svc, mock := setupCartTest(t)

	mock.ExpectQuery("FROM carts WHERE session_id = \\$1 AND status = 'active'").
		WithArgs("sess-new").
		WillReturnError(sql.ErrNoRows)

	cart, err := svc.GetCart(context.Background(), SessionOwner("sess-new"))
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if cart.ID != 0 {
		t.Errorf("Expected unsaved cart, got id %d", cart.ID)
	}
	if len(cart.Items) != 0 {
		t.Errorf("Expected empty cart, got %d items", len(cart.Items))
	}
	if cart.Status != models.CartStatusActive {
		t.Errorf("Expected active status, got %s", cart.Status)
	}
}

func TestAddItem_CreatesGuestCartOnFirstAdd(t *testing.T) {
	svc, mock := setupCartTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE session_id = \\$1 AND status = 'active' FOR UPDATE").
		WithArgs("sess-9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO carts \\(session_id, expires_at\\) VALUES \\(\\$1, \\$2\\) RETURNING id").
		WithArgs("sess-9", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(30))
	mock.ExpectExec("UPDATE cart_items SET quantity = quantity \\+ \\$1").
		WithArgs(2, 30, 100, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO cart_items \\(cart_id, product_id, price_id, quantity\\)").
		WithArgs(30, 100, nil, 2).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE carts SET last_activity_at = CURRENT_TIMESTAMP, version = version \\+ 1").
		WithArgs(30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.AddItem(context.Background(), SessionOwner("sess-9"), models.AddToCartRequest{
		ProductID: 100,
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestAddItem_FoldsIntoExistingLine(t *testing.T) {
	svc, mock := setupCartTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE user_id = \\$1 AND status = 'active' FOR UPDATE").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))
	mock.ExpectExec("UPDATE cart_items SET quantity = quantity \\+ \\$1").
		WithArgs(3, 20, 100, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE carts SET last_activity_at = CURRENT_TIMESTAMP, version = version \\+ 1").
		WithArgs(20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.AddItem(context.Background(), UserOwner(5), models.AddToCartRequest{
		ProductID: 100,
		Quantity:  3,
	})
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestUpdateQuantity_ZeroDeletesLine(t *testing.T) {
	svc, mock := setupCartTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE user_id = \\$1 AND status = 'active' FOR UPDATE").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))
	mock.ExpectExec("DELETE FROM cart_items WHERE cart_id = \\$1 AND product_id = \\$2 AND price_id IS NOT DISTINCT FROM \\$3").
		WithArgs(20, 100, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE carts SET last_activity_at = CURRENT_TIMESTAMP, version = version \\+ 1").
		WithArgs(20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.UpdateQuantity(context.Background(), UserOwner(5), 100, nil, 0); err != nil {
		t.Fatalf("UpdateQuantity failed: %v", err)
	}
}

func TestUpdateQuantity_MissingLine(t *testing.T) {
	svc, mock := setupCartTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE user_id = \\$1 AND status = 'active' FOR UPDATE").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))
	mock.ExpectExec("UPDATE cart_items SET quantity = \\$1").
		WithArgs(4, 20, 777, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.UpdateQuantity(context.Background(), UserOwner(5), 777, nil, 4)
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestUpdateQuantity_NoActiveCart(t *testing.T) {
	svc, mock := setupCartTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE user_id = \\$1 AND status = 'active' FOR UPDATE").
		WithArgs(5).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := svc.UpdateQuantity(context.Background(), UserOwner(5), 100, nil, 1)
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("Expected ErrCartNotFound, got %v", err)
	}
}

func TestMarkCheckedOut_AlreadyTerminal(t *testing.T) {
	svc, mock := setupCartTest(t)

	mock.ExpectExec("UPDATE carts SET status = 'checked_out'").
		WithArgs(20).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.MarkCheckedOut(context.Background(), 20)
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("Expected ErrCartNotFound for a non-active cart, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	svc, mock := setupCartTest(t)

	mock.ExpectExec("DELETE FROM carts WHERE session_id IS NOT NULL AND status = 'active' AND expires_at IS NOT NULL AND expires_at < CURRENT_TIMESTAMP").
		WillReturnResult(sqlmock.NewResult(0, 3))

	swept, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if swept != 3 {
		t.Errorf("Expected 3 swept carts, got %d", swept)
	}
}

func TestUnitPriceCents_PreferredPriceRow(t *testing.T) {
	svc, mock := setupCartTest(t)

	priceID := 8
	mock.ExpectQuery("SELECT unit_amount_cents FROM prices WHERE id = \\$1 AND product_id = \\$2").
		WithArgs(8, 100).
		WillReturnRows(sqlmock.NewRows([]string{"unit_amount_cents"}).AddRow(int64(1299)))

	cents, err := svc.UnitPriceCents(context.Background(), 100, &priceID)
	if err != nil {
		t.Fatalf("UnitPriceCents failed: %v", err)
	}
	if cents != 1299 {
		t.Errorf("Expected 1299 cents, got %d", cents)
	}
}

func TestUnitPriceCents_MissingPrice(t *testing.T) {
	svc, mock := setupCartTest(t)

	mock.ExpectQuery("SELECT price_cents FROM products WHERE id = \\$1").
		WithArgs(404).
		WillReturnError(sql.ErrNoRows)

	_, err := svc.UnitPriceCents(context.Background(), 404, nil)
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("Expected ErrItemNotFound, got %v", err)
	}
}
