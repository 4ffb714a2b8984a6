package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"storefront-svc/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AvailabilityTTL keeps merge-time availability snapshots fresh enough that
// a deactivated product stops merging within half a minute.
const AvailabilityTTL = 30 * time.Second

func InitRedis(logger *zap.Logger) (*redis.Client, error) {
	host := getEnv("REDIS_HOST", "localhost")
	port := getEnv("REDIS_PORT", "6379")
	password := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

func availabilityKey(productID int, priceID *int) string {
	if priceID != nil {
		return fmt.Sprintf("availability:%d:%d", productID, *priceID)
	}
	return fmt.Sprintf("availability:%d", productID)
}

func GetAvailability(ctx context.Context, rdb *redis.Client, productID int, priceID *int) (models.Availability, error) {
	var a models.Availability
	data, err := rdb.Get(ctx, availabilityKey(productID, priceID)).Bytes()
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, err
	}
	return a, nil
}

func SetAvailability(ctx context.Context, rdb *redis.Client, productID int, priceID *int, a models.Availability) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, availabilityKey(productID, priceID), data, AvailabilityTTL).Err()
}

func DeleteAvailability(ctx context.Context, rdb *redis.Client, productID int, priceID *int) error {
	return rdb.Del(ctx, availabilityKey(productID, priceID)).Err()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
