package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	// Create tables if they don't exist
	if err = CreateTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return db, nil
}

// Schema is applied statement by statement so that sqlmock expectations stay
// one per table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id BIGINT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		total_orders BIGINT NOT NULL DEFAULT 0,
		total_deposits NUMERIC(14,2) NOT NULL DEFAULT 0,
		referrals BIGINT NOT NULL DEFAULT 0,
		referral_earnings NUMERIC(14,2) NOT NULL DEFAULT 0,
		referral_by BIGINT REFERENCES users(user_id),
		banned BOOLEAN NOT NULL DEFAULT FALSE,
		joined_date TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT no_self_referral CHECK (referral_by IS NULL OR referral_by <> user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id BIGSERIAL PRIMARY KEY,
		category TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price NUMERIC(14,4) NOT NULL CHECK (price >= 0),
		min_quantity BIGINT NOT NULL,
		max_quantity BIGINT NOT NULL,
		status BOOLEAN NOT NULL DEFAULT TRUE,
		CONSTRAINT valid_quantity_bounds CHECK (min_quantity > 0 AND min_quantity <= max_quantity)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(user_id),
		service_id BIGINT NOT NULL REFERENCES services(id),
		link TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		total_price NUMERIC(14,2) NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		order_date TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS deposits (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(user_id),
		amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		method TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		deposit_date TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		approved_by BIGINT,
		approved_date TIMESTAMPTZ,
		CONSTRAINT valid_deposit_status CHECK (status IN ('pending', 'approved', 'rejected'))
	)`,
	`CREATE TABLE IF NOT EXISTS referral_rewards (
		referred_user_id BIGINT PRIMARY KEY REFERENCES users(user_id),
		referrer_id BIGINT NOT NULL REFERENCES users(user_id),
		amount NUMERIC(14,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS broadcast_logs (
		id BIGSERIAL PRIMARY KEY,
		admin_id BIGINT NOT NULL,
		message_type TEXT NOT NULL,
		users_count INTEGER NOT NULL,
		sent_date TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_date ON orders(user_id, order_date)`,
	`CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status)`,
}

func CreateTables(ctx context.Context, db *sql.DB) error {
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
