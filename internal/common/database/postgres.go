// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shopdesk/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres creates a new PostgreSQL client
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// GetDB returns the underlying *sql.DB
func (c *PostgresClient) GetDB() *sql.DB {
	return c.DB
}

// schema is applied at startup; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS shop_settings (
		id                   SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		auto_reply_enabled   BOOLEAN NOT NULL DEFAULT FALSE,
		confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.7,
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS training_pairs (
		id                BIGSERIAL PRIMARY KEY,
		conversation_id   TEXT NOT NULL,
		message_id        TEXT NOT NULL,
		customer_message  TEXT NOT NULL,
		employee_response TEXT NOT NULL,
		context           TEXT,
		category          TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (conversation_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		price      BIGINT NOT NULL CHECK (price >= 0),
		stock      INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		sizes      TEXT[] NOT NULL DEFAULT '{}',
		colors     TEXT[] NOT NULL DEFAULT '{}',
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id              TEXT PRIMARY KEY,
		customer_name   TEXT NOT NULL,
		phone           TEXT NOT NULL,
		address         TEXT NOT NULL,
		items           JSONB NOT NULL,
		total           BIGINT NOT NULL,
		status          TEXT NOT NULL,
		tracking_code   TEXT,
		conversation_id TEXT,
		synced_at       TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_turns (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		message         TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_turns_conv ON conversation_turns (conversation_id, id DESC)`,
}

// Migrate creates the tables the service needs.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
