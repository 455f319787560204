package promo

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/castpromo/livecheck"
	"github.com/onnwee/castpromo/social"
)

// In-memory stores mirroring the SQL stores' documented semantics.

type memSeriesStore struct {
	mu     sync.Mutex
	series []*Series
	hosts  map[int64][]*Host
	items  map[int64][]*ContentItem
}

func newMemSeriesStore() *memSeriesStore {
	return &memSeriesStore{hosts: map[int64][]*Host{}, items: map[int64][]*ContentItem{}}
}

func (m *memSeriesStore) ListLiveCheckable(context.Context) ([]*Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Series
	for _, s := range m.series {
		if s.IsActive && s.YouTubeChannelID != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSeriesStore) ListHosts(_ context.Context, seriesID int64) ([]*Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hosts[seriesID], nil
}

func (m *memSeriesStore) CurrentItem(_ context.Context, seriesID int64, asOf time.Time) (*ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	today := asOf.Truncate(24 * time.Hour)
	yesterday := today.AddDate(0, 0, -1)
	var best *ContentItem
	for _, it := range m.items[seriesID] {
		d := it.ScheduledDate.Truncate(24 * time.Hour)
		if d.Before(yesterday) || d.After(today) {
			continue
		}
		if best == nil || d.After(best.ScheduledDate.Truncate(24*time.Hour)) ||
			(d.Equal(best.ScheduledDate.Truncate(24*time.Hour)) && it.ID > best.ID) {
			best = it
		}
	}
	if best == nil {
		return nil, ErrNoCurrentItem
	}
	cp := *best
	return &cp, nil
}

func (m *memSeriesStore) SetItemURL(_ context.Context, itemID int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, items := range m.items {
		for _, it := range items {
			if it.ID == itemID && it.ItemURL == "" {
				it.ItemURL = url
			}
		}
	}
	return nil
}

func (m *memSeriesStore) GetItem(_ context.Context, itemID int64) (*ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, items := range m.items {
		for _, it := range items {
			if it.ID == itemID {
				cp := *it
				return &cp, nil
			}
		}
	}
	return nil, ErrNoCurrentItem
}

type memConfigStore struct {
	mu      sync.Mutex
	configs map[int64]*TweetConfig
	nextID  int64
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{configs: map[int64]*TweetConfig{}, nextID: 1}
}

func (m *memConfigStore) add(cfg *TweetConfig) *TweetConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.ID = m.nextID
	m.nextID++
	if cfg.Status == "" {
		cfg.Status = StatusPending
	}
	m.configs[cfg.ID] = cfg
	return cfg
}

func (m *memConfigStore) GetByID(_ context.Context, id int64) (*TweetConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, ErrConfigNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConfigStore) ListForItem(_ context.Context, itemID int64) ([]*TweetConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TweetConfig
	for _, c := range m.configs {
		if c.ContentItemID == itemID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memConfigStore) ListPostable(_ context.Context, itemID int64) ([]*TweetConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TweetConfig
	for _, c := range m.configs {
		if c.ContentItemID == itemID && c.Status == StatusPending && c.Enabled {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memConfigStore) ListByStatus(_ context.Context, status string, _, _ int) ([]*TweetConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TweetConfig
	for _, c := range m.configs {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memConfigStore) CountByStatus(_ context.Context, status string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.configs {
		if c.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memConfigStore) EnsureForHosts(_ context.Context, itemID int64, hostIDs []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, hostID := range hostIDs {
		exists := false
		for _, c := range m.configs {
			if c.ContentItemID == itemID && c.HostID == hostID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		id := m.nextID
		m.nextID++
		m.configs[id] = &TweetConfig{
			ID: id, ContentItemID: itemID, HostID: hostID,
			Status: StatusPending, Enabled: true, IncludeLink: true,
		}
		created++
	}
	return created, nil
}

func (m *memConfigStore) UpdateContent(_ context.Context, id int64, generated, custom *string, enabled, includeLink *bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return ErrConfigNotFound
	}
	if generated != nil {
		c.GeneratedContent = *generated
	}
	if custom != nil {
		c.CustomContent = *custom
	}
	if enabled != nil {
		c.Enabled = *enabled
	}
	if includeLink != nil {
		c.IncludeLink = *includeLink
	}
	return nil
}

func (m *memConfigStore) MarkPosted(_ context.Context, id int64, postID, postURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok || c.Status != StatusPending {
		return false, nil
	}
	now := time.Now()
	c.Status = StatusPosted
	c.PostID = postID
	c.PostURL = postURL
	c.PostedAt = &now
	c.LastError = ""
	return true, nil
}

func (m *memConfigStore) MarkFailed(_ context.Context, id int64, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok || c.Status != StatusPending {
		return false, nil
	}
	c.Status = StatusFailed
	c.LastError = errMsg
	c.RetryCount++
	return true, nil
}

func (m *memConfigStore) Reset(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok || (c.Status != StatusPosted && c.Status != StatusFailed) {
		return false, nil
	}
	c.Status = StatusPending
	c.PostID = ""
	c.PostURL = ""
	c.PostedAt = nil
	c.LastError = ""
	return true, nil
}

func (m *memConfigStore) RetryFailed(_ context.Context, maxRetries int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.configs {
		if c.Status == StatusFailed && c.Enabled && c.RetryCount < maxRetries {
			c.Status = StatusPending
			c.PostID = ""
			c.PostURL = ""
			c.PostedAt = nil
			c.LastError = ""
			n++
		}
	}
	return n, nil
}

type memLogStore struct {
	mu   sync.Mutex
	rows []*social.PostLog
}

func (m *memLogStore) Record(_ context.Context, l *social.PostLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, l)
	return nil
}

func (m *memLogStore) List(_ context.Context, hostID int64, _, _ int) ([]*social.PostLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*social.PostLog
	for _, l := range m.rows {
		if hostID == 0 || l.HostID == hostID {
			out = append(out, l)
		}
	}
	return out, nil
}

// fakePoster returns scripted results per host.
type fakePoster struct {
	mu      sync.Mutex
	results map[int64]social.PostResult
	calls   map[int64]int
	texts   map[int64]string
}

func newFakePoster() *fakePoster {
	return &fakePoster{
		results: map[int64]social.PostResult{},
		calls:   map[int64]int{},
		texts:   map[int64]string{},
	}
}

func (f *fakePoster) Post(_ context.Context, hostID int64, _, text string) (social.PostResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[hostID]++
	f.texts[hostID] = text
	res, ok := f.results[hostID]
	if !ok {
		res = social.PostResult{ErrorCode: "no_connection", ReconnectRequired: true}
	}
	return res, nil
}

// fakeChecker returns a fixed status per channel id.
type fakeChecker struct {
	statuses map[string]livecheck.Status
	errs     map[string]error
}

func (f *fakeChecker) CheckLive(_ context.Context, channelID string) (livecheck.Status, error) {
	if err := f.errs[channelID]; err != nil {
		return livecheck.Status{}, err
	}
	return f.statuses[channelID], nil
}
