package email

import (
	"context"

	"go.uber.org/zap"
)

// Sender dispatches transactional mail. Delivery is best-effort: callers
// log failures and never roll back the operation that triggered the mail.
type Sender interface {
	SendShippingNotification(ctx context.Context, recipient, orderNumber string) error
}

// LogSender records deliveries in the log instead of talking to a mail
// provider. It stands in for the provider integration in development and in
// tests.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendShippingNotification(ctx context.Context, recipient, orderNumber string) error {
	s.logger.Info("Shipping notification sent",
		zap.String("recipient", recipient),
		zap.String("order_number", orderNumber),
	)
	return nil
}
