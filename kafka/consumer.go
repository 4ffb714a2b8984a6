package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-svc/models"
	"storefront-svc/orders"
	"storefront-svc/status"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func InitConsumer(logger *zap.Logger) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Retry.Backoff = 1 * time.Second

	brokers := []string{getEnv("KAFKA_BROKER", "localhost:9092")}

	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized")
	return consumer, nil
}

// StartConsumer reads verified payment gateway events from the
// payment_events topic and maps them onto order status mutations.
func StartConsumer(ctx context.Context, consumer sarama.Consumer, svc *orders.Service, logger *zap.Logger) error {
	topic := getEnv("KAFKA_PAYMENT_TOPIC", "payment_events")
	partitionConsumer, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	logger.Info("Kafka consumer started", zap.String("topic", topic))

	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-partitionConsumer.Messages():
			if err := handleMessageWithRetry(message, svc, logger, 3); err != nil {
				logger.Error("Failed to handle payment event after retries", zap.Error(err))
			}
		case err := <-partitionConsumer.Errors():
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func handleMessageWithRetry(message *sarama.ConsumerMessage, svc *orders.Service, logger *zap.Logger, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := handleMessage(message, svc, logger)
		if err == nil {
			return nil
		}
		// A transition the policy rejects stays rejected; retrying is noise.
		if errors.Is(err, orders.ErrInvalidTransition) {
			logger.Warn("Dropping payment event with invalid transition", zap.Error(err))
			return nil
		}
		lastErr = err
		if attempt < maxRetries {
			backoff := time.Duration(attempt) * time.Second
			logger.Warn("Retrying payment event handling",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			time.Sleep(backoff)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func handleMessage(message *sarama.ConsumerMessage, svc *orders.Service, logger *zap.Logger) error {
	// Extract trace context from Kafka message headers
	var propagator propagation.TextMapPropagator = otel.GetTextMapPropagator()
	carrier := saramaHeaderCarrierConsumer(message.Headers)
	ctx := propagator.Extract(context.Background(), carrier)

	var tracer trace.Tracer = otel.Tracer("storefront-service")
	ctx, span := tracer.Start(ctx, "ProcessPaymentEvent")
	defer span.End()

	traceID := ""
	if span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
	}

	var event models.PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal payment event: %w", err)
	}

	span.SetAttributes(
		attribute.String("event.type", event.EventType),
		attribute.Int("order.id", event.OrderID),
	)

	logger.Info("Received payment event",
		zap.String("trace_id", traceID),
		zap.String("event_type", event.EventType),
		zap.Int("order_id", event.OrderID),
	)

	var (
		paymentStatus status.PaymentStatus
		targetStatus  status.Status
	)
	switch event.EventType {
	case "payment_success":
		paymentStatus = status.PaymentPaid
		targetStatus = status.StatusPaid
	case "payment_failed":
		paymentStatus = status.PaymentFailed
		targetStatus = status.StatusCancelled
	case "payment_refunded":
		paymentStatus = status.PaymentRefunded
		targetStatus = status.StatusRefunded
	default:
		logger.Debug("Unknown payment event type", zap.String("event_type", event.EventType))
		return nil
	}

	if err := svc.SetPaymentStatus(ctx, event.OrderID, paymentStatus); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set payment status: %w", err)
	}

	note := fmt.Sprintf("payment gateway: %s (transaction %s)", event.EventType, event.TransactionID)
	if _, err := svc.UpdateStatus(ctx, event.OrderID, targetStatus, "payment-gateway", nil, note); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update order status: %w", err)
	}

	logger.Info("Order status updated from payment event",
		zap.String("trace_id", traceID),
		zap.Int("order_id", event.OrderID),
		zap.String("status", targetStatus.String()),
	)
	return nil
}

// saramaHeaderCarrierConsumer implements the TextMapCarrier interface for Kafka headers (for consumer)
type saramaHeaderCarrierConsumer []*sarama.RecordHeader

func (c saramaHeaderCarrierConsumer) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c saramaHeaderCarrierConsumer) Set(key, value string) {
	// Not needed for extraction
}

func (c saramaHeaderCarrierConsumer) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
