// Package db provides database connection helpers and schema migration.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection. The DSN comes from config so there is a
// single place that resolves DB_DSN and its default.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connect: empty dsn")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
// It is the embedded fallback for deployments without the versioned migration
// table; new deployments should prefer RunMigrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS series (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			youtube_channel_id TEXT,
			title_filter TEXT,
			title_filter_enabled BOOLEAN DEFAULT FALSE,
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS hosts (
			id SERIAL PRIMARY KEY,
			series_id INTEGER NOT NULL REFERENCES series(id) ON DELETE CASCADE,
			display_name TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS content_items (
			id SERIAL PRIMARY KEY,
			series_id INTEGER NOT NULL REFERENCES series(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			scheduled_date DATE NOT NULL,
			item_url TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS social_connections (
			id SERIAL PRIMARY KEY,
			host_id INTEGER NOT NULL REFERENCES hosts(id) ON DELETE CASCADE,
			platform TEXT NOT NULL,
			platform_user_id TEXT,
			platform_username TEXT,
			encrypted_credentials TEXT NOT NULL,
			token_expires_at TIMESTAMPTZ,
			is_active BOOLEAN DEFAULT TRUE,
			last_used_at TIMESTAMPTZ,
			last_error TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		// At most one active connection per (host, platform)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_social_connections_active
			ON social_connections(host_id, platform) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS tweet_configs (
			id SERIAL PRIMARY KEY,
			content_item_id INTEGER NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
			host_id INTEGER NOT NULL REFERENCES hosts(id) ON DELETE CASCADE,
			generated_content TEXT,
			custom_content TEXT,
			enabled BOOLEAN DEFAULT TRUE,
			include_link BOOLEAN DEFAULT TRUE,
			status TEXT NOT NULL DEFAULT 'pending',
			posted_at TIMESTAMPTZ,
			post_id TEXT,
			post_url TEXT,
			last_error TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ,
			UNIQUE (content_item_id, host_id)
		)`,
		// Append-only audit trail. host_id is a snapshot, not a foreign key,
		// so rows survive host removal.
		`CREATE TABLE IF NOT EXISTS post_logs (
			id SERIAL PRIMARY KEY,
			host_id INTEGER NOT NULL,
			connection_id INTEGER,
			platform TEXT NOT NULL,
			content_text TEXT NOT NULL,
			post_id TEXT,
			post_url TEXT,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			error_code TEXT,
			error_detail TEXT,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_flows (
			state TEXT PRIMARY KEY,
			code_verifier TEXT NOT NULL,
			host_id INTEGER NOT NULL,
			platform TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_items_series_date ON content_items(series_id, scheduled_date)`,
		`CREATE INDEX IF NOT EXISTS idx_tweet_configs_item ON tweet_configs(content_item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tweet_configs_status ON tweet_configs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_post_logs_host ON post_logs(host_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_hosts_series ON hosts(series_id)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
