package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/egannguyen/storefront/internal/repository"
)

// Supported database/sql driver names.
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// InitDB opens the pool, waits for the server to answer and creates the tables.
// maxWait bounds the time spent retrying the initial ping.
func InitDB(ctx context.Context, driver, dsn string, maxWait time.Duration) (*sql.DB, error) {
	if driver != DriverPQ && driver != DriverPGX {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ping := func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	}
	_, err = backoff.Retry(ctx, ping,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Database not ready, retrying", "err", err, "next", next)
		}),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("Database connected and migrated", "driver", driver)
	return db, nil
}

// NewRepositories builds every postgres-backed repository over one pool.
func NewRepositories(db *sql.DB) repository.Repositories {
	return repository.Repositories{
		Items:  NewItemRepository(db),
		Users:  NewUserRepository(db),
		Orders: NewOrderRepository(db),
		Ledger: NewStockLedger(db),
		Events: NewEventStore(db),
		Ping:   db.PingContext,
	}
}

// Orders reference users and items by id only; removing either leaves the order row in place.
func migrateDB(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS items (
			id BIGSERIAL PRIMARY KEY,
			item_name TEXT NOT NULL CHECK (item_name <> ''),
			price NUMERIC(12, 2) NOT NULL DEFAULT 0 CHECK (price >= 0),
			stock BIGINT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			item_id BIGINT NOT NULL,
			stock_number BIGINT NOT NULL CHECK (stock_number > 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS order_events (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			stream_type TEXT NOT NULL,
			version INT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (stream_id, version)
		);

		ALTER TABLE items ALTER COLUMN stock TYPE BIGINT;
		ALTER TABLE orders ALTER COLUMN stock_number TYPE BIGINT;

		CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
		CREATE INDEX IF NOT EXISTS idx_orders_item ON orders(item_id);
	`)
	return err
}
