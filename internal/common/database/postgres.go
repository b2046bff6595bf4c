// internal/common/database/postgres.go
// PostgreSQL connection and schema bootstrap

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig holds connection pool settings
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewPostgresDB opens a pooled sqlx connection and pings it
func NewPostgresDB(ctx context.Context, config *PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := config.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := config.MaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// migrations creates the tables owned by the compass engine. The profile
// columns mirror the document shape used by the profile store.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS compass_profiles (
		uid TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		photo_url TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		dna JSONB NOT NULL DEFAULT '{}',
		preference_vector DOUBLE PRECISION[],
		last_learning_update TIMESTAMPTZ,
		seen_profile_ids JSONB NOT NULL DEFAULT '{}',
		connection_tokens INTEGER NOT NULL DEFAULT 10 CHECK (connection_tokens BETWEEN 0 AND 10),
		tokens_refreshed_at TIMESTAMPTZ,
		discoverable BOOLEAN NOT NULL DEFAULT FALSE,
		last_active TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS compass_learning_metrics (
		id BIGSERIAL PRIMARY KEY,
		uid TEXT NOT NULL,
		target_id TEXT NOT NULL,
		action VARCHAR(16) NOT NULL,
		l1_delta DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS compass_swipe_events (
		event_id TEXT PRIMARY KEY,
		state VARCHAR(16) NOT NULL DEFAULT 'processing' CHECK (state IN ('processing', 'done')),
		claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS compass_interest_slots (
		tag TEXT PRIMARY KEY,
		slot INTEGER NOT NULL CHECK (slot BETWEEN 0 AND 117)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_compass_profiles_discoverable ON compass_profiles(discoverable) WHERE discoverable = TRUE`,
	`CREATE INDEX IF NOT EXISTS idx_compass_profiles_last_active ON compass_profiles(last_active DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_compass_learning_metrics_uid ON compass_learning_metrics(uid, created_at DESC)`,
}

// RunMigrations applies the schema; re-running is a no-op
func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
