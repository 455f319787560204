package social

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostLog is one row of the append-only posting audit trail. HostID is a
// plain snapshot, not a foreign key, so logs survive host deletion.
type PostLog struct {
	ID           int64     `json:"id"`
	HostID       int64     `json:"host_id"`
	ConnectionID int64     `json:"connection_id,omitempty"`
	Platform     string    `json:"platform"`
	ContentText  string    `json:"content_text"`
	PostID       string    `json:"post_id,omitempty"`
	PostURL      string    `json:"post_url,omitempty"`
	Success      bool      `json:"success"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	LatencyMS    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// PostLogStore records and queries posting attempts.
type PostLogStore interface {
	Record(ctx context.Context, log *PostLog) error
	List(ctx context.Context, hostID int64, limit, offset int) ([]*PostLog, error)
}

// SQLPostLogStore is the Postgres-backed PostLogStore.
type SQLPostLogStore struct {
	DB *sql.DB
}

func NewSQLPostLogStore(db *sql.DB) *SQLPostLogStore {
	return &SQLPostLogStore{DB: db}
}

func (s *SQLPostLogStore) Record(ctx context.Context, l *PostLog) error {
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO post_logs
		   (host_id, connection_id, platform, content_text, post_id, post_url, success,
		    error_code, error_detail, latency_ms)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 RETURNING id, created_at`,
		l.HostID, nullIfZero(l.ConnectionID), l.Platform, l.ContentText, nullIfEmpty(l.PostID), nullIfEmpty(l.PostURL),
		l.Success, nullIfEmpty(l.ErrorCode), nullIfEmpty(l.ErrorDetail), l.LatencyMS,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("record post log: %w", err)
	}
	return nil
}

func (s *SQLPostLogStore) List(ctx context.Context, hostID int64, limit, offset int) ([]*PostLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, host_id, COALESCE(connection_id, 0), platform, content_text,
	            COALESCE(post_id, ''), COALESCE(post_url, ''), success,
	            COALESCE(error_code, ''), COALESCE(error_detail, ''), latency_ms, created_at
	          FROM post_logs`
	args := []any{}
	if hostID > 0 {
		query += ` WHERE host_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, hostID, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list post logs: %w", err)
	}
	defer rows.Close()
	var out []*PostLog
	for rows.Next() {
		var l PostLog
		if err := rows.Scan(&l.ID, &l.HostID, &l.ConnectionID, &l.Platform, &l.ContentText,
			&l.PostID, &l.PostURL, &l.Success,
			&l.ErrorCode, &l.ErrorDetail, &l.LatencyMS, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

// LogFromResult builds a PostLog row from a posting outcome.
func LogFromResult(hostID int64, platform, text string, res PostResult) *PostLog {
	return &PostLog{
		HostID:       hostID,
		ConnectionID: res.ConnectionID,
		Platform:     platform,
		ContentText:  text,
		PostID:       res.PostID,
		PostURL:      res.PostURL,
		Success:      res.Success,
		ErrorCode:    res.ErrorCode,
		ErrorDetail:  res.ErrorDetail,
		LatencyMS:    res.Latency.Milliseconds(),
	}
}
