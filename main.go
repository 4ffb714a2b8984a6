package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-svc/cache"
	"storefront-svc/cart"
	"storefront-svc/database"
	"storefront-svc/email"
	"storefront-svc/handlers"
	"storefront-svc/kafka"
	"storefront-svc/middleware"
	"storefront-svc/notifier"
	"storefront-svc/orders"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const cartSweepInterval = time.Hour

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Redis is an optional read cache; the service degrades to direct
	// database reads without it.
	rdb, err := cache.InitRedis(logger)
	if err != nil {
		logger.Warn("Redis unavailable, availability checks hit the database", zap.Error(err))
		rdb = nil
	}

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize Kafka consumer
	consumer, err := kafka.InitConsumer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("storefront-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	// Composition root owns the one notifier instance for the process.
	events := notifier.New(logger)
	defer events.Close()

	sender := email.NewLogSender(logger)
	orderService := orders.NewService(db, events, kafka.NewProducer(producer, logger), sender, logger)
	cartService := cart.NewService(db, rdb, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Start payment event consumer in background
	go func() {
		if err := kafka.StartConsumer(ctx, consumer, orderService, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Reclaim expired guest carts in background
	go cartService.StartSweeper(ctx, cartSweepInterval)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("storefront-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.AuthMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	orderHandler := handlers.NewOrderHandler(orderService, logger)
	streamHandler := handlers.NewStreamHandler(orderService, events, logger)
	cartHandler := handlers.NewCartHandler(cartService, logger)
	checkoutHandler := handlers.NewCheckoutHandler(cartService, orderService, logger)

	router.GET("/orders/:id", orderHandler.GetOrder)
	router.GET("/orders/:id/history", orderHandler.GetHistory)
	router.GET("/orders/:id/stream", streamHandler.Stream)
	router.PATCH("/orders/:id/status", middleware.RequireAdmin(), orderHandler.UpdateStatus)

	router.GET("/cart", cartHandler.GetCart)
	router.POST("/cart/items", cartHandler.AddItem)
	router.PATCH("/cart/items/:productId", cartHandler.UpdateItem)
	router.DELETE("/cart/items/:productId", cartHandler.RemoveItem)
	router.DELETE("/cart", cartHandler.ClearCart)
	router.POST("/cart/merge", middleware.RequireAuth(), cartHandler.Merge)

	router.POST("/checkout", checkoutHandler.Checkout)

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Storefront service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
