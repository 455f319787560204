package promo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/castpromo/livecheck"
	"github.com/onnwee/castpromo/social"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	series  *memSeriesStore
	configs *memConfigStore
	logs    *memLogStore
	poster  *fakePoster
	checker *fakeChecker
	runner  *Runner
}

// newFixture builds a runner over one live series with one content item
// scheduled "today" (2026-03-02) and two hosts A (id 1) and B (id 2).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		series:  newMemSeriesStore(),
		configs: newMemConfigStore(),
		logs:    &memLogStore{},
		poster:  newFakePoster(),
		checker: &fakeChecker{statuses: map[string]livecheck.Status{}, errs: map[string]error{}},
	}
	f.series.series = []*Series{{ID: 1, Name: "The Show", YouTubeChannelID: "UC1", IsActive: true}}
	f.series.hosts[1] = []*Host{{ID: 1, SeriesID: 1}, {ID: 2, SeriesID: 1}}
	f.series.items[1] = []*ContentItem{{ID: 10, SeriesID: 1, Title: "Episode 42", ScheduledDate: date("2026-03-02")}}

	f.runner = NewRunner(f.series, f.configs, f.logs, f.poster, f.checker)
	f.runner.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	f.runner.Now = func() time.Time { return date("2026-03-02").Add(20 * time.Hour) }
	return f
}

func (f *fixture) goLive(videoID string, title string) {
	f.checker.statuses["UC1"] = livecheck.Status{
		IsLive:   true,
		VideoID:  videoID,
		VideoURL: "https://www.youtube.com/watch?v=" + videoID,
		Title:    title,
	}
}

func TestTick_TwoHostsOneFails(t *testing.T) {
	f := newFixture(t)
	f.goLive("vid1", "Episode 42 live")
	a := f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true, IncludeLink: true})
	b := f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 2, Enabled: true, IncludeLink: true})

	f.poster.results[1] = social.PostResult{Success: true, PostID: "999", PostURL: "https://twitter.com/a/status/999"}
	f.poster.results[2] = social.PostResult{ErrorCode: "rate_limited", ErrorDetail: "429 from platform"}

	sum, err := f.runner.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if sum.Posted != 1 || sum.Failed != 1 || sum.LiveSeries != 1 {
		t.Errorf("summary = %+v, want 1 posted, 1 failed, 1 live", sum)
	}

	gotA, _ := f.configs.GetByID(context.Background(), a.ID)
	if gotA.Status != StatusPosted || gotA.PostID != "999" {
		t.Errorf("A = %+v, want posted with id 999", gotA)
	}
	gotB, _ := f.configs.GetByID(context.Background(), b.ID)
	if gotB.Status != StatusFailed || gotB.RetryCount != 1 {
		t.Errorf("B = %+v, want failed with retry_count 1", gotB)
	}
	if gotB.LastError == "" {
		t.Error("B.LastError is empty")
	}

	logs, _ := f.logs.List(context.Background(), 0, 0, 0)
	if len(logs) != 2 {
		t.Fatalf("post logs = %d, want 2", len(logs))
	}
	succ, fail := 0, 0
	for _, l := range logs {
		if l.Success {
			succ++
		} else {
			fail++
		}
	}
	if succ != 1 || fail != 1 {
		t.Errorf("logs success/fail = %d/%d, want 1/1", succ, fail)
	}
}

func TestTick_DuplicateTickIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.goLive("vid1", "")
	f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true})
	f.poster.results[1] = social.PostResult{Success: true, PostID: "999"}

	if _, err := f.runner.Tick(context.Background()); err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	sum, err := f.runner.Tick(context.Background())
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if sum.Posted != 0 {
		t.Errorf("second tick posted %d, want 0", sum.Posted)
	}
	if got := f.poster.calls[1]; got != 1 {
		t.Errorf("gateway calls for host 1 = %d, want 1", got)
	}
}

func TestTick_NotLive(t *testing.T) {
	f := newFixture(t)
	f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true})

	sum, _ := f.runner.Tick(context.Background())
	if sum.LiveSeries != 0 || sum.Posted != 0 {
		t.Errorf("summary = %+v, want nothing done while offline", sum)
	}
}

func TestTick_LiveCheckFailureIsolatedPerSeries(t *testing.T) {
	f := newFixture(t)
	f.series.series = append(f.series.series, &Series{ID: 2, Name: "Other", YouTubeChannelID: "UC2", IsActive: true})
	f.series.items[2] = []*ContentItem{{ID: 20, SeriesID: 2, Title: "Other Ep", ScheduledDate: date("2026-03-02")}}
	f.checker.errs["UC1"] = errors.New("probe timeout")
	f.checker.statuses["UC2"] = livecheck.Status{IsLive: true, VideoID: "v2", VideoURL: "https://www.youtube.com/watch?v=v2"}

	f.configs.add(&TweetConfig{ContentItemID: 20, HostID: 3, Enabled: true})
	f.poster.results[3] = social.PostResult{Success: true, PostID: "55"}

	sum, err := f.runner.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if sum.SeriesChecked != 2 {
		t.Errorf("SeriesChecked = %d, want 2", sum.SeriesChecked)
	}
	if sum.Posted != 1 {
		t.Errorf("Posted = %d, want 1 (second series unaffected by first's probe error)", sum.Posted)
	}
}

func TestTick_TitleFilter(t *testing.T) {
	f := newFixture(t)
	f.series.series[0].TitleFilter = "episode"
	f.series.series[0].TitleFilterEnabled = true
	f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true})
	f.poster.results[1] = social.PostResult{Success: true, PostID: "1"}

	f.goLive("vid1", "Unrelated stream about cooking")
	sum, _ := f.runner.Tick(context.Background())
	if sum.Posted != 0 {
		t.Errorf("filtered broadcast still posted %d", sum.Posted)
	}

	f.goLive("vid1", "EPISODE 42 premiere")
	sum, _ = f.runner.Tick(context.Background())
	if sum.Posted != 1 {
		t.Errorf("matching broadcast posted %d, want 1 (match is case-insensitive)", sum.Posted)
	}
}

func TestTick_MatchesYesterdayItem(t *testing.T) {
	f := newFixture(t)
	// Stream starts after midnight: item scheduled yesterday must match.
	f.series.items[1] = []*ContentItem{
		{ID: 10, SeriesID: 1, Title: "Old Ep", ScheduledDate: date("2026-02-20")},
		{ID: 11, SeriesID: 1, Title: "Late Night Ep", ScheduledDate: date("2026-03-01")},
	}
	f.goLive("vid1", "")
	cfg := f.configs.add(&TweetConfig{ContentItemID: 11, HostID: 1, Enabled: true})
	f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true})
	f.poster.results[1] = social.PostResult{Success: true, PostID: "7"}

	sum, _ := f.runner.Tick(context.Background())
	if sum.Posted != 1 {
		t.Fatalf("Posted = %d, want 1", sum.Posted)
	}
	got, _ := f.configs.GetByID(context.Background(), cfg.ID)
	if got.Status != StatusPosted {
		t.Errorf("yesterday's item config = %s, want posted; out-of-window item must not post", got.Status)
	}
}

func TestTick_TwoItemsInWindowPicksMostRecent(t *testing.T) {
	f := newFixture(t)
	f.series.items[1] = []*ContentItem{
		{ID: 10, SeriesID: 1, Title: "Yesterday Ep", ScheduledDate: date("2026-03-01")},
		{ID: 11, SeriesID: 1, Title: "Today Ep", ScheduledDate: date("2026-03-02")},
	}
	f.goLive("vid1", "")
	today := f.configs.add(&TweetConfig{ContentItemID: 11, HostID: 1, Enabled: true})
	f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true})
	f.poster.results[1] = social.PostResult{Success: true, PostID: "8"}

	if _, err := f.runner.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ := f.configs.GetByID(context.Background(), today.ID)
	if got.Status != StatusPosted {
		t.Errorf("most recent item should win the window: %+v", got)
	}
}

func TestTick_CapturesItemURL(t *testing.T) {
	f := newFixture(t)
	f.goLive("vid1", "")
	f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true, IncludeLink: true})
	f.poster.results[1] = social.PostResult{Success: true, PostID: "9"}

	if _, err := f.runner.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	item, _ := f.series.GetItem(context.Background(), 10)
	if item.ItemURL != "https://www.youtube.com/watch?v=vid1" {
		t.Errorf("ItemURL = %q, want captured live URL", item.ItemURL)
	}
	// The captured URL must also appear in the posted text.
	if text := f.poster.texts[1]; !strings.Contains(text, "watch?v=vid1") {
		t.Errorf("posted text missing link: %q", text)
	}
}

func TestTick_DisabledConfigSkipped(t *testing.T) {
	f := newFixture(t)
	f.goLive("vid1", "")
	f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: false})

	sum, _ := f.runner.Tick(context.Background())
	if sum.Posted != 0 || f.poster.calls[1] != 0 {
		t.Errorf("disabled config must not post: %+v", sum)
	}
}

func TestRetryFailed_RespectsMaxRetries(t *testing.T) {
	f := newFixture(t)
	under := f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true, Status: StatusFailed, RetryCount: 2, LastError: "409"})
	at := f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 2, Enabled: true, Status: StatusFailed, RetryCount: 3, LastError: "409"})

	n, err := f.runner.RetryFailed(context.Background(), 3)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset count = %d, want 1", n)
	}
	gotUnder, _ := f.configs.GetByID(context.Background(), under.ID)
	if gotUnder.Status != StatusPending || gotUnder.LastError != "" {
		t.Errorf("under-limit config = %+v, want pending with cleared error", gotUnder)
	}
	if gotUnder.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2 preserved across reset", gotUnder.RetryCount)
	}
	gotAt, _ := f.configs.GetByID(context.Background(), at.ID)
	if gotAt.Status != StatusFailed || gotAt.RetryCount != 3 {
		t.Errorf("at-limit config = %+v, want untouched", gotAt)
	}
}

func TestPostNow(t *testing.T) {
	f := newFixture(t)
	cfg := f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true, CustomContent: "go watch"})
	f.poster.results[1] = social.PostResult{Success: true, PostID: "321", PostURL: "https://twitter.com/a/status/321"}

	logRow, err := f.runner.PostNow(context.Background(), cfg.ID)
	if err != nil {
		t.Fatalf("PostNow() error = %v", err)
	}
	if !logRow.Success || logRow.PostID != "321" {
		t.Errorf("log = %+v", logRow)
	}
	got, _ := f.configs.GetByID(context.Background(), cfg.ID)
	if got.Status != StatusPosted {
		t.Errorf("status = %s, want posted", got.Status)
	}

	// Posting again must be refused: the config is no longer pending.
	if _, err := f.runner.PostNow(context.Background(), cfg.ID); err == nil {
		t.Error("PostNow on a posted config should error")
	}
}

func TestPostNow_UnknownConfig(t *testing.T) {
	f := newFixture(t)
	if _, err := f.runner.PostNow(context.Background(), 404); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("error = %v, want ErrConfigNotFound", err)
	}
}

func TestReset_PreservesRetryCount(t *testing.T) {
	f := newFixture(t)
	cfg := f.configs.add(&TweetConfig{ContentItemID: 10, HostID: 1, Enabled: true, Status: StatusPosted, PostID: "1", RetryCount: 2})

	changed, err := f.configs.Reset(context.Background(), cfg.ID)
	if err != nil || !changed {
		t.Fatalf("Reset = %v, %v", changed, err)
	}
	got, _ := f.configs.GetByID(context.Background(), cfg.ID)
	if got.Status != StatusPending || got.PostID != "" || got.PostedAt != nil {
		t.Errorf("reset left post fields: %+v", got)
	}
	if got.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2 preserved", got.RetryCount)
	}
}

func TestEnsureForHostsIdempotent(t *testing.T) {
	f := newFixture(t)
	n, err := f.configs.EnsureForHosts(context.Background(), 10, []int64{1, 2})
	if err != nil || n != 2 {
		t.Fatalf("first fan-out = %d, %v; want 2", n, err)
	}
	n, err = f.configs.EnsureForHosts(context.Background(), 10, []int64{1, 2})
	if err != nil || n != 0 {
		t.Errorf("second fan-out = %d, %v; want 0 (unique per pair)", n, err)
	}
}
