package database

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "storefrontdb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)

	// Create tables if they don't exist
	createTableQuery := `
	CREATE TABLE IF NOT EXISTS products (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price_cents BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		deleted_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS prices (
		id SERIAL PRIMARY KEY,
		product_id INTEGER NOT NULL REFERENCES products(id),
		unit_amount_cents BIGINT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		external_ref VARCHAR(255),
		deleted_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		order_number VARCHAR(64) NOT NULL UNIQUE,
		user_id INTEGER,
		customer_name VARCHAR(255) NOT NULL DEFAULT '',
		customer_email VARCHAR(255) NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		payment_status VARCHAR(32) NOT NULL DEFAULT 'pending',
		subtotal_cents BIGINT NOT NULL DEFAULT 0,
		tax_cents BIGINT NOT NULL DEFAULT 0,
		shipping_cents BIGINT NOT NULL DEFAULT 0,
		discount_cents BIGINT NOT NULL DEFAULT 0,
		total_cents BIGINT NOT NULL DEFAULT 0,
		shipping_address TEXT NOT NULL DEFAULT '',
		billing_address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		paid_at TIMESTAMP,
		shipped_at TIMESTAMP,
		delivered_at TIMESTAMP,
		cancelled_at TIMESTAMP,
		refunded_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		product_id INTEGER NOT NULL,
		price_id INTEGER,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price_cents BIGINT NOT NULL,
		total_price_cents BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS order_status_history (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		from_status VARCHAR(32),
		to_status VARCHAR(32) NOT NULL,
		actor VARCHAR(255) NOT NULL DEFAULT 'system',
		actor_user_id INTEGER,
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_order_status_history_order
		ON order_status_history (order_id, created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS carts (
		id SERIAL PRIMARY KEY,
		user_id INTEGER,
		session_id VARCHAR(128),
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		expires_at TIMESTAMP,
		last_activity_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK ((user_id IS NULL) <> (session_id IS NULL))
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_carts_active_user
		ON carts (user_id) WHERE status = 'active' AND user_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_carts_active_session
		ON carts (session_id) WHERE status = 'active' AND session_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS cart_items (
		id SERIAL PRIMARY KEY,
		cart_id INTEGER NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
		product_id INTEGER NOT NULL,
		price_id INTEGER,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cart_items_line
		ON cart_items (cart_id, product_id, COALESCE(price_id, 0));
	`

	if _, err := db.Exec(createTableQuery); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
