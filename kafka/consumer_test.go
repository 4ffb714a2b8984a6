package kafka

import (
	"testing"

	"storefront-svc/email"
	"storefront-svc/notifier"
	"storefront-svc/orders"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"
)

func setupConsumerTest(t *testing.T) (*orders.Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	n := notifier.New(logger)
	t.Cleanup(n.Close)

	return orders.NewService(db, n, nil, email.NewLogSender(logger), logger), mock
}

func paymentMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic: "payment_events",
		Value: []byte(value),
	}
}

func TestHandleMessage_PaymentSuccess(t *testing.T) {
	svc, mock := setupConsumerTest(t)

	mock.ExpectExec("UPDATE orders SET payment_status = \\$1, updated_at = CURRENT_TIMESTAMP WHERE id = \\$2").
		WithArgs("paid", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, user_id, customer_email, order_number FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"status", "user_id", "customer_email", "order_number"}).
			AddRow("pending", 7, "ada@example.com", "ORD-2026-000001"))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("paid", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs(1, "pending", "paid", "payment-gateway", nil, "payment gateway: payment_success (transaction txn-9)").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	msg := paymentMessage(`{"order_id": 1, "event_type": "payment_success", "amount_cents": 5000, "transaction_id": "txn-9"}`)
	if err := handleMessage(msg, svc, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("handleMessage failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestHandleMessage_UnknownEventTypeIgnored(t *testing.T) {
	svc, mock := setupConsumerTest(t)

	msg := paymentMessage(`{"order_id": 1, "event_type": "payment_pending"}`)
	if err := handleMessage(msg, svc, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("Unknown event types must be ignored, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("No database access expected: %v", err)
	}
}

func TestHandleMessageWithRetry_DropsInvalidTransition(t *testing.T) {
	svc, mock := setupConsumerTest(t)

	mock.ExpectExec("UPDATE orders SET payment_status").
		WithArgs("paid", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, user_id, customer_email, order_number FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"status", "user_id", "customer_email", "order_number"}).
			AddRow("delivered", 7, "ada@example.com", "ORD-2026-000001"))
	mock.ExpectRollback()

	msg := paymentMessage(`{"order_id": 1, "event_type": "payment_success", "transaction_id": "txn-9"}`)
	if err := handleMessageWithRetry(msg, svc, zaptest.NewLogger(t), 3); err != nil {
		t.Fatalf("A rejected transition must be dropped, not retried: %v", err)
	}

	// A second attempt would have hit the database again.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestHandleMessageWithRetry_MalformedPayload(t *testing.T) {
	svc, _ := setupConsumerTest(t)

	msg := paymentMessage(`{not json`)
	if err := handleMessageWithRetry(msg, svc, zaptest.NewLogger(t), 1); err == nil {
		t.Fatal("Expected an error for a malformed payload")
	}
}
