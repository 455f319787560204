// Package social manages per-host platform connections (encrypted OAuth
// credentials), token refresh, and outbound posting with bounded retry.
package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PlatformTwitter is the only platform currently implemented; the schema and
// provider registry are keyed by platform so others can be added.
const PlatformTwitter = "twitter"

// Connection is an active (or disconnected) link between a host and a
// platform account. Credentials holds the encrypted JSON credential blob;
// it is never exposed in API responses.
type Connection struct {
	ID               int64
	HostID           int64
	Platform         string
	PlatformUserID   string
	PlatformUsername string
	Credentials      string
	TokenExpiresAt   time.Time
	IsActive         bool
	LastUsedAt       time.Time
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ErrNoConnection is returned when a host has no active connection for the
// requested platform.
var ErrNoConnection = errors.New("no active social connection")

// ConnectionStore persists social connections.
type ConnectionStore interface {
	// Upsert deactivates any existing active connection for the same
	// (host, platform) and inserts conn as the new active one. The one-active-
	// connection invariant is also enforced by a partial unique index.
	Upsert(ctx context.Context, conn *Connection) error
	GetActive(ctx context.Context, hostID int64, platform string) (*Connection, error)
	ListActive(ctx context.Context, platform string) ([]*Connection, error)
	// Disconnect soft-deletes: the row stays for audit, is_active flips off.
	Disconnect(ctx context.Context, hostID int64, platform string) error
	UpdateCredentials(ctx context.Context, id int64, credentials string, expiresAt time.Time) error
	MarkUsed(ctx context.Context, id int64) error
	SetLastError(ctx context.Context, id int64, msg string) error
}

// SQLConnectionStore is the Postgres-backed ConnectionStore.
type SQLConnectionStore struct {
	DB *sql.DB
}

func NewSQLConnectionStore(db *sql.DB) *SQLConnectionStore {
	return &SQLConnectionStore{DB: db}
}

func (s *SQLConnectionStore) Upsert(ctx context.Context, conn *Connection) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert connection: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE social_connections SET is_active = FALSE, updated_at = NOW()
		 WHERE host_id = $1 AND platform = $2 AND is_active = TRUE`,
		conn.HostID, conn.Platform,
	); err != nil {
		return fmt.Errorf("deactivate previous connection: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO social_connections
		   (host_id, platform, platform_user_id, platform_username,
		    encrypted_credentials, token_expires_at, is_active)
		 VALUES ($1,$2,$3,$4,$5,$6,TRUE)
		 RETURNING id, created_at, updated_at`,
		conn.HostID, conn.Platform, conn.PlatformUserID, conn.PlatformUsername,
		conn.Credentials, conn.TokenExpiresAt,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	conn.IsActive = true
	return tx.Commit()
}

const connectionColumns = `id, host_id, platform, platform_user_id, platform_username,
	encrypted_credentials, COALESCE(token_expires_at, 'epoch'::timestamptz), is_active,
	COALESCE(last_used_at, 'epoch'::timestamptz), COALESCE(last_error, ''), created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*Connection, error) {
	var c Connection
	err := row.Scan(&c.ID, &c.HostID, &c.Platform, &c.PlatformUserID, &c.PlatformUsername,
		&c.Credentials, &c.TokenExpiresAt, &c.IsActive,
		&c.LastUsedAt, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLConnectionStore) GetActive(ctx context.Context, hostID int64, platform string) (*Connection, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM social_connections
		 WHERE host_id = $1 AND platform = $2 AND is_active = TRUE`,
		hostID, platform)
	conn, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoConnection
	}
	if err != nil {
		return nil, fmt.Errorf("get active connection: %w", err)
	}
	return conn, nil
}

func (s *SQLConnectionStore) ListActive(ctx context.Context, platform string) ([]*Connection, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM social_connections
		 WHERE platform = $1 AND is_active = TRUE ORDER BY host_id`,
		platform)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}
	defer rows.Close()
	var out []*Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLConnectionStore) Disconnect(ctx context.Context, hostID int64, platform string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE social_connections SET is_active = FALSE, updated_at = NOW()
		 WHERE host_id = $1 AND platform = $2 AND is_active = TRUE`,
		hostID, platform)
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNoConnection
	}
	return nil
}

func (s *SQLConnectionStore) UpdateCredentials(ctx context.Context, id int64, credentials string, expiresAt time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE social_connections
		 SET encrypted_credentials = $2, token_expires_at = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, credentials, expiresAt)
	if err != nil {
		return fmt.Errorf("update credentials: %w", err)
	}
	return nil
}

func (s *SQLConnectionStore) MarkUsed(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE social_connections
		 SET last_used_at = NOW(), last_error = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id)
	return err
}

func (s *SQLConnectionStore) SetLastError(ctx context.Context, id int64, msg string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE social_connections SET last_error = $2, updated_at = NOW() WHERE id = $1`,
		id, msg)
	return err
}
