// Package promo drives the automated promotion pipeline: the per-(content
// item, host) tweet-config state machine, text composition, and the periodic
// live-detection tick that fans posts out to every connected host.
package promo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Series is a content series tied to a YouTube channel that can be probed
// for live broadcasts.
type Series struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	YouTubeChannelID   string `json:"youtube_channel_id,omitempty"`
	TitleFilter        string `json:"title_filter,omitempty"`
	TitleFilterEnabled bool   `json:"title_filter_enabled"`
	IsActive           bool   `json:"is_active"`
}

// Host is a person attached to a series whose social accounts amplify it.
type Host struct {
	ID          int64  `json:"id"`
	SeriesID    int64  `json:"series_id"`
	DisplayName string `json:"display_name"`
}

// ContentItem is one scheduled entry (an episode) of a series.
type ContentItem struct {
	ID            int64     `json:"id"`
	SeriesID      int64     `json:"series_id"`
	Title         string    `json:"title"`
	ScheduledDate time.Time `json:"scheduled_date"`
	ItemURL       string    `json:"item_url,omitempty"`
}

// ErrNoCurrentItem is returned when no content item falls inside the
// today-or-yesterday matching window.
var ErrNoCurrentItem = errors.New("no content item in matching window")

// SeriesStore reads the series catalog the tick iterates over.
type SeriesStore interface {
	// ListLiveCheckable returns active series that have a channel configured.
	ListLiveCheckable(ctx context.Context) ([]*Series, error)
	ListHosts(ctx context.Context, seriesID int64) ([]*Host, error)
	// CurrentItem resolves the item scheduled for asOf's date or the day
	// before, most recent first. A stream that starts after midnight still
	// matches yesterday's entry.
	CurrentItem(ctx context.Context, seriesID int64, asOf time.Time) (*ContentItem, error)
	// SetItemURL records the broadcast URL on the item unless one is already set.
	SetItemURL(ctx context.Context, itemID int64, url string) error
	GetItem(ctx context.Context, itemID int64) (*ContentItem, error)
}

// SQLSeriesStore is the Postgres-backed SeriesStore.
type SQLSeriesStore struct {
	DB *sql.DB
}

func NewSQLSeriesStore(db *sql.DB) *SQLSeriesStore {
	return &SQLSeriesStore{DB: db}
}

func (s *SQLSeriesStore) ListLiveCheckable(ctx context.Context) ([]*Series, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, name, COALESCE(youtube_channel_id, ''), COALESCE(title_filter, ''),
		        title_filter_enabled, is_active
		 FROM series
		 WHERE is_active = TRUE AND COALESCE(youtube_channel_id, '') <> ''
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list live-checkable series: %w", err)
	}
	defer rows.Close()
	var out []*Series
	for rows.Next() {
		var sr Series
		if err := rows.Scan(&sr.ID, &sr.Name, &sr.YouTubeChannelID, &sr.TitleFilter,
			&sr.TitleFilterEnabled, &sr.IsActive); err != nil {
			return nil, err
		}
		out = append(out, &sr)
	}
	return out, rows.Err()
}

func (s *SQLSeriesStore) ListHosts(ctx context.Context, seriesID int64) ([]*Host, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, series_id, display_name FROM hosts WHERE series_id = $1 ORDER BY id`,
		seriesID)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()
	var out []*Host
	for rows.Next() {
		var h Host
		if err := rows.Scan(&h.ID, &h.SeriesID, &h.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *SQLSeriesStore) CurrentItem(ctx context.Context, seriesID int64, asOf time.Time) (*ContentItem, error) {
	today := asOf.Format("2006-01-02")
	yesterday := asOf.AddDate(0, 0, -1).Format("2006-01-02")
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, series_id, title, scheduled_date, COALESCE(item_url, '')
		 FROM content_items
		 WHERE series_id = $1 AND scheduled_date BETWEEN $2 AND $3
		 ORDER BY scheduled_date DESC, id DESC
		 LIMIT 1`,
		seriesID, yesterday, today)
	var it ContentItem
	err := row.Scan(&it.ID, &it.SeriesID, &it.Title, &it.ScheduledDate, &it.ItemURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCurrentItem
	}
	if err != nil {
		return nil, fmt.Errorf("resolve current item: %w", err)
	}
	return &it, nil
}

func (s *SQLSeriesStore) SetItemURL(ctx context.Context, itemID int64, url string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE content_items SET item_url = $2, updated_at = NOW()
		 WHERE id = $1 AND COALESCE(item_url, '') = ''`,
		itemID, url)
	if err != nil {
		return fmt.Errorf("set item url: %w", err)
	}
	return nil
}

func (s *SQLSeriesStore) GetItem(ctx context.Context, itemID int64) (*ContentItem, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, series_id, title, scheduled_date, COALESCE(item_url, '')
		 FROM content_items WHERE id = $1`,
		itemID)
	var it ContentItem
	err := row.Scan(&it.ID, &it.SeriesID, &it.Title, &it.ScheduledDate, &it.ItemURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCurrentItem
	}
	if err != nil {
		return nil, fmt.Errorf("get content item: %w", err)
	}
	return &it, nil
}
