package promo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TweetConfig statuses. Transitions are pending → posted (gateway success),
// pending → failed (gateway failure, retry_count++), and the administrative
// reset posted/failed → pending, which clears post/error fields but never
// touches retry_count.
const (
	StatusPending = "pending"
	StatusPosted  = "posted"
	StatusFailed  = "failed"
)

// TweetConfig is the per-(content item, host) promotion record.
type TweetConfig struct {
	ID               int64      `json:"id"`
	ContentItemID    int64      `json:"content_item_id"`
	HostID           int64      `json:"host_id"`
	GeneratedContent string     `json:"generated_content,omitempty"`
	CustomContent    string     `json:"custom_content,omitempty"`
	Enabled          bool       `json:"enabled"`
	IncludeLink      bool       `json:"include_link"`
	Status           string     `json:"status"`
	PostedAt         *time.Time `json:"posted_at,omitempty"`
	PostID           string     `json:"post_id,omitempty"`
	PostURL          string     `json:"post_url,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	RetryCount       int        `json:"retry_count"`
}

// ErrConfigNotFound is returned for a missing tweet config id.
var ErrConfigNotFound = errors.New("tweet config not found")

// ConfigStore persists tweet configs and enforces the state machine at the
// SQL level: transition updates are guarded by the expected current status,
// so a duplicate tick that lost the race simply affects zero rows.
type ConfigStore interface {
	GetByID(ctx context.Context, id int64) (*TweetConfig, error)
	ListForItem(ctx context.Context, itemID int64) ([]*TweetConfig, error)
	// ListPostable returns pending, enabled configs for the item.
	ListPostable(ctx context.Context, itemID int64) ([]*TweetConfig, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*TweetConfig, error)
	CountByStatus(ctx context.Context, status string) (int, error)
	// EnsureForHosts fans a pending config out to each host, skipping pairs
	// that already exist. Returns how many rows were created.
	EnsureForHosts(ctx context.Context, itemID int64, hostIDs []int64) (int, error)
	UpdateContent(ctx context.Context, id int64, generated, custom *string, enabled, includeLink *bool) error
	// MarkPosted moves pending → posted. Returns false when the config was
	// not pending (already posted by a concurrent tick, or disabled state).
	MarkPosted(ctx context.Context, id int64, postID, postURL string) (bool, error)
	// MarkFailed moves pending → failed and increments retry_count.
	MarkFailed(ctx context.Context, id int64, errMsg string) (bool, error)
	// Reset moves posted/failed → pending, clearing post id/url, timestamp,
	// and error text. retry_count is preserved.
	Reset(ctx context.Context, id int64) (bool, error)
	// RetryFailed resets every enabled failed config with retry_count below
	// maxRetries back to pending. Returns the number reset.
	RetryFailed(ctx context.Context, maxRetries int) (int, error)
}

// SQLConfigStore is the Postgres-backed ConfigStore.
type SQLConfigStore struct {
	DB *sql.DB
}

func NewSQLConfigStore(db *sql.DB) *SQLConfigStore {
	return &SQLConfigStore{DB: db}
}

const configColumns = `id, content_item_id, host_id,
	COALESCE(generated_content, ''), COALESCE(custom_content, ''),
	enabled, include_link, status, posted_at,
	COALESCE(post_id, ''), COALESCE(post_url, ''), COALESCE(last_error, ''), retry_count`

func scanConfig(row interface{ Scan(...any) error }) (*TweetConfig, error) {
	var c TweetConfig
	err := row.Scan(&c.ID, &c.ContentItemID, &c.HostID,
		&c.GeneratedContent, &c.CustomContent,
		&c.Enabled, &c.IncludeLink, &c.Status, &c.PostedAt,
		&c.PostID, &c.PostURL, &c.LastError, &c.RetryCount)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLConfigStore) GetByID(ctx context.Context, id int64) (*TweetConfig, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM tweet_configs WHERE id = $1`, id)
	c, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tweet config: %w", err)
	}
	return c, nil
}

func (s *SQLConfigStore) queryConfigs(ctx context.Context, query string, args ...any) ([]*TweetConfig, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tweet configs: %w", err)
	}
	defer rows.Close()
	var out []*TweetConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLConfigStore) ListForItem(ctx context.Context, itemID int64) ([]*TweetConfig, error) {
	return s.queryConfigs(ctx,
		`SELECT `+configColumns+` FROM tweet_configs WHERE content_item_id = $1 ORDER BY host_id`,
		itemID)
}

func (s *SQLConfigStore) ListPostable(ctx context.Context, itemID int64) ([]*TweetConfig, error) {
	return s.queryConfigs(ctx,
		`SELECT `+configColumns+` FROM tweet_configs
		 WHERE content_item_id = $1 AND status = 'pending' AND enabled = TRUE
		 ORDER BY host_id`,
		itemID)
}

func (s *SQLConfigStore) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*TweetConfig, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.queryConfigs(ctx,
		`SELECT `+configColumns+` FROM tweet_configs
		 WHERE status = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
}

func (s *SQLConfigStore) CountByStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tweet_configs WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tweet configs: %w", err)
	}
	return n, nil
}

func (s *SQLConfigStore) EnsureForHosts(ctx context.Context, itemID int64, hostIDs []int64) (int, error) {
	created := 0
	for _, hostID := range hostIDs {
		res, err := s.DB.ExecContext(ctx,
			`INSERT INTO tweet_configs (content_item_id, host_id, status)
			 VALUES ($1, $2, 'pending')
			 ON CONFLICT (content_item_id, host_id) DO NOTHING`,
			itemID, hostID)
		if err != nil {
			return created, fmt.Errorf("fan out config for host %d: %w", hostID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, nil
}

func (s *SQLConfigStore) UpdateContent(ctx context.Context, id int64, generated, custom *string, enabled, includeLink *bool) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tweet_configs SET
		   generated_content = COALESCE($2, generated_content),
		   custom_content    = COALESCE($3, custom_content),
		   enabled           = COALESCE($4, enabled),
		   include_link      = COALESCE($5, include_link),
		   updated_at        = NOW()
		 WHERE id = $1`,
		id, generated, custom, enabled, includeLink)
	if err != nil {
		return fmt.Errorf("update tweet config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (s *SQLConfigStore) MarkPosted(ctx context.Context, id int64, postID, postURL string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tweet_configs
		 SET status = 'posted', post_id = $2, post_url = $3,
		     posted_at = NOW(), last_error = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id, postID, postURL)
	if err != nil {
		return false, fmt.Errorf("mark posted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLConfigStore) MarkFailed(ctx context.Context, id int64, errMsg string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tweet_configs
		 SET status = 'failed', last_error = $2,
		     retry_count = retry_count + 1, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id, errMsg)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLConfigStore) Reset(ctx context.Context, id int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tweet_configs
		 SET status = 'pending', post_id = NULL, post_url = NULL,
		     posted_at = NULL, last_error = NULL, updated_at = NOW()
		 WHERE id = $1 AND status IN ('posted', 'failed')`,
		id)
	if err != nil {
		return false, fmt.Errorf("reset tweet config: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLConfigStore) RetryFailed(ctx context.Context, maxRetries int) (int, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tweet_configs
		 SET status = 'pending', post_id = NULL, post_url = NULL,
		     posted_at = NULL, last_error = NULL, updated_at = NOW()
		 WHERE status = 'failed' AND enabled = TRUE AND retry_count < $1`,
		maxRetries)
	if err != nil {
		return 0, fmt.Errorf("retry failed configs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
