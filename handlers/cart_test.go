package handlers

import (
	"bytes"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront-svc/cart"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func setupCartHandlerTest(t *testing.T) (*CartHandler, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	svc := cart.NewService(db, nil, logger)
	return NewCartHandler(svc, logger), mock
}

func TestMergeEndpoint_RequiresAuth(t *testing.T) {
	handler, _ := setupCartHandlerTest(t)

	router := gin.New()
	router.POST("/cart/merge", handler.Merge)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", w.Code)
	}
}

func TestMergeEndpoint_NoSessionIsNoop(t *testing.T) {
	handler, _ := setupCartHandlerTest(t)

	router := gin.New()
	router.POST("/cart/merge", asIdentity(5, false), handler.Merge)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"merged":0`) {
		t.Errorf("Expected empty merge result, got %s", w.Body.String())
	}
}

func TestMergeEndpoint_ClearsSessionCookie(t *testing.T) {
	handler, mock := setupCartHandlerTest(t)

	// Guest cart already gone: idempotent success.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE session_id = \\$1 AND status = 'active' FOR UPDATE").
		WithArgs("sess-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	router := gin.New()
	router.POST("/cart/merge", asIdentity(5, false), handler.Merge)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	req.AddCookie(&http.Cookie{Name: "cart_session", Value: "sess-1"})
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	setCookie := strings.Join(w.Header().Values("Set-Cookie"), "; ")
	if !strings.Contains(setCookie, "cart_session=") {
		t.Errorf("Expected the session cookie to be cleared, got %q", setCookie)
	}
}

func TestMergeEndpoint_TerminalCartConflict(t *testing.T) {
	handler, mock := setupCartHandlerTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE session_id = \\$1 AND status = 'active' FOR UPDATE").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectQuery("SELECT id, product_id, price_id, quantity FROM cart_items WHERE cart_id = \\$1 ORDER BY id").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "price_id", "quantity"}).
			AddRow(1, 100, nil, 1))
	mock.ExpectQuery("SELECT id, status FROM carts WHERE user_id = \\$1").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(20, "checked_out"))
	mock.ExpectRollback()

	router := gin.New()
	router.POST("/cart/merge", asIdentity(5, false), handler.Merge)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	req.Header.Set("X-Session-ID", "sess-1")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAddItemEndpoint_ReturnsUpdatedCart(t *testing.T) {
	handler, mock := setupCartHandlerTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE session_id = \\$1 AND status = 'active' FOR UPDATE").
		WithArgs("sess-9").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(30))
	mock.ExpectExec("UPDATE cart_items SET quantity = quantity \\+ \\$1").
		WithArgs(3, 30, 100, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE carts SET last_activity_at = CURRENT_TIMESTAMP, version = version \\+ 1").
		WithArgs(30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now()
	mock.ExpectQuery("FROM carts WHERE session_id = \\$1 AND status = 'active'").
		WithArgs("sess-9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "expires_at", "last_activity_at", "version", "created_at", "updated_at"}).
			AddRow(30, "active", nil, now, 2, now, now))
	mock.ExpectQuery("FROM cart_items WHERE cart_id = \\$1 ORDER BY id").
		WithArgs(30).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cart_id", "product_id", "price_id", "quantity", "created_at"}).
			AddRow(1, 30, 100, nil, 3, now))

	router := gin.New()
	router.POST("/cart/items", handler.AddItem)

	body := bytes.NewBufferString(`{"product_id": 100, "quantity": 3}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/cart/items", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", "sess-9")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"quantity":3`) {
		t.Errorf("Response missing folded quantity: %s", w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCartEndpoints_RequireOwner(t *testing.T) {
	handler, _ := setupCartHandlerTest(t)

	router := gin.New()
	router.GET("/cart", handler.GetCart)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 without a session or identity, got %d", w.Code)
	}
}
