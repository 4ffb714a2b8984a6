package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront-svc/models"
	"storefront-svc/status"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func setupStreamTest(t *testing.T) (*orderTestEnv, *StreamHandler) {
	t.Helper()
	env := setupOrderTest(t)
	h := NewStreamHandler(env.svc, env.notifier, zaptest.NewLogger(t))
	return env, h
}

func TestStream_ForwardsOrderEvents(t *testing.T) {
	env, h := setupStreamTest(t)
	expectGetOrder(env.mock, 1, 7, "paid")

	router := gin.New()
	router.GET("/orders/:id/stream", asIdentity(7, false), h.Stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userID := 7
	go func() {
		// Give the handler time to subscribe before publishing.
		time.Sleep(100 * time.Millisecond)
		env.notifier.Publish(models.OrderEvent{
			OrderID:        1,
			UserID:         &userID,
			Status:         status.StatusShipped,
			PreviousStatus: status.StatusPaid,
			Timestamp:      time.Now().UTC(),
			EventType:      "order_updated",
		})
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/1/stream", nil).WithContext(ctx)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "connected") {
		t.Errorf("Stream missing connection acknowledgement: %s", body)
	}
	if !strings.Contains(body, "order-updated") || !strings.Contains(body, "shipped") {
		t.Errorf("Stream missing forwarded status event: %s", body)
	}
}

func TestStream_HeartbeatKeepsConnectionAlive(t *testing.T) {
	env, h := setupStreamTest(t)
	h.heartbeat = 50 * time.Millisecond
	expectGetOrder(env.mock, 1, 7, "paid")

	router := gin.New()
	router.GET("/orders/:id/stream", asIdentity(7, false), h.Stream)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/1/stream", nil).WithContext(ctx)
	router.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "heartbeat") {
		t.Errorf("Expected at least one heartbeat: %s", w.Body.String())
	}
}

func TestStream_NonOwnerForbiddenBeforeStreaming(t *testing.T) {
	env, h := setupStreamTest(t)
	expectGetOrder(env.mock, 1, 7, "paid")

	router := gin.New()
	router.GET("/orders/:id/stream", asIdentity(8, false), h.Stream)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/1/stream", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "connected") {
		t.Error("Denied request must not receive stream frames")
	}
}

func TestStream_UnknownOrder(t *testing.T) {
	env, h := setupStreamTest(t)
	env.mock.ExpectQuery("FROM orders WHERE id = \\$1").
		WithArgs(999).
		WillReturnRows(sqlmock.NewRows(orderColumns()))

	router := gin.New()
	router.GET("/orders/:id/stream", asIdentity(7, true), h.Stream)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/999/stream", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}
