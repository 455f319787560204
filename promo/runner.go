package promo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/castpromo/livecheck"
	"github.com/onnwee/castpromo/social"
	"github.com/onnwee/castpromo/telemetry"
	"github.com/onnwee/castpromo/twitterapi"
)

// Poster is the slice of the posting gateway the runner needs.
type Poster interface {
	Post(ctx context.Context, hostID int64, platform, text string) (social.PostResult, error)
}

// TickSummary reports what a single tick did.
type TickSummary struct {
	SeriesChecked int `json:"series_checked"`
	LiveSeries    int `json:"live_series"`
	Posted        int `json:"posted"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
}

// Runner executes the periodic live-detection tick and the manual posting
// paths. It never fails the whole tick because one series or one host
// failed; errors are logged and counted.
type Runner struct {
	Series    SeriesStore
	Configs   ConfigStore
	Logs      social.PostLogStore
	Gateway   Poster
	Checker   livecheck.Checker
	Generator TextGenerator

	// Workers bounds the per-item posting fan-out. TextLimit is the platform
	// character limit used for composition.
	Workers   int
	TextLimit int

	Log *slog.Logger

	// Now is a clock hook for tests.
	Now func() time.Time
}

func NewRunner(series SeriesStore, configs ConfigStore, logs social.PostLogStore, gw Poster, checker livecheck.Checker) *Runner {
	return &Runner{
		Series:    series,
		Configs:   configs,
		Logs:      logs,
		Gateway:   gw,
		Checker:   checker,
		Generator: NopGenerator{},
		Workers:   4,
		TextLimit: twitterapi.MaxPostLength,
		Log:       slog.Default(),
		Now:       time.Now,
	}
}

// Tick runs one full live-detection pass over every active series.
func (r *Runner) Tick(ctx context.Context) (TickSummary, error) {
	var sum TickSummary
	done := telemetry.TimeFunc(telemetry.TickDuration, func() {
		sum = r.tick(ctx)
	})
	r.Log.Info("promotion tick finished",
		"series_checked", sum.SeriesChecked, "live", sum.LiveSeries,
		"posted", sum.Posted, "failed", sum.Failed, "skipped", sum.Skipped,
		"duration", done)

	if n, err := r.Configs.CountByStatus(ctx, StatusPending); err == nil {
		telemetry.SetPendingTweets(n)
	}
	return sum, nil
}

func (r *Runner) tick(ctx context.Context) TickSummary {
	var sum TickSummary
	series, err := r.Series.ListLiveCheckable(ctx)
	if err != nil {
		r.Log.Error("list series failed", "error", err)
		return sum
	}
	for _, s := range series {
		sum.SeriesChecked++
		posted, failed, skipped, live := r.checkSeries(ctx, s)
		if live {
			sum.LiveSeries++
		}
		sum.Posted += posted
		sum.Failed += failed
		sum.Skipped += skipped
	}
	return sum
}

// checkSeries handles one series per tick. Panics from provider or store code
// are contained here so a single bad series cannot kill the scheduler job.
func (r *Runner) checkSeries(ctx context.Context, s *Series) (posted, failed, skipped int, live bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Log.Error("panic while processing series", "series_id", s.ID, "panic", rec)
		}
	}()

	status, err := r.Checker.CheckLive(ctx, s.YouTubeChannelID)
	if err != nil {
		// Treated as "not live this tick"; other series still run.
		r.Log.Warn("live check failed", "series_id", s.ID, "channel", s.YouTubeChannelID, "error", err)
		return 0, 0, 0, false
	}
	if !status.IsLive {
		return 0, 0, 0, false
	}
	live = true
	log := r.Log.With("series_id", s.ID, "video_id", status.VideoID)
	log.Info("series is live", "title", status.Title)

	if s.TitleFilterEnabled && s.TitleFilter != "" && status.Title != "" {
		if !strings.Contains(strings.ToLower(status.Title), strings.ToLower(s.TitleFilter)) {
			log.Info("broadcast title does not match filter", "filter", s.TitleFilter)
			return 0, 0, 0, live
		}
	}

	item, err := r.Series.CurrentItem(ctx, s.ID, r.now())
	if err != nil {
		log.Warn("no current content item", "error", err)
		return 0, 0, 0, live
	}

	if item.ItemURL == "" && status.VideoURL != "" {
		if err := r.Series.SetItemURL(ctx, item.ID, status.VideoURL); err != nil {
			log.Warn("store item url failed", "item_id", item.ID, "error", err)
		} else {
			item.ItemURL = status.VideoURL
		}
	}

	configs, err := r.Configs.ListPostable(ctx, item.ID)
	if err != nil {
		log.Error("list postable configs failed", "item_id", item.ID, "error", err)
		return 0, 0, 0, live
	}
	if len(configs) == 0 {
		return 0, 0, 0, live
	}

	posted, failed, skipped = r.fanOut(ctx, item, configs)
	return posted, failed, skipped, live
}

// fanOut posts every config over a bounded worker pool. One host failing
// never stops the others.
func (r *Runner) fanOut(ctx context.Context, item *ContentItem, configs []*TweetConfig) (posted, failed, skipped int) {
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(configs) {
		workers = len(configs)
	}

	type outcome struct{ posted, failed, skipped bool }
	jobs := make(chan *TweetConfig)
	results := make(chan outcome, len(configs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cfg := range jobs {
				var o outcome
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							r.Log.Error("panic while posting", "config_id", cfg.ID, "panic", rec)
							o = outcome{skipped: true}
						}
					}()
					switch r.postOne(ctx, item, cfg) {
					case StatusPosted:
						o = outcome{posted: true}
					case StatusFailed:
						o = outcome{failed: true}
					default:
						o = outcome{skipped: true}
					}
				}()
				results <- o
			}
		}()
	}
	for _, cfg := range configs {
		jobs <- cfg
	}
	close(jobs)
	wg.Wait()
	close(results)

	for o := range results {
		switch {
		case o.posted:
			posted++
		case o.failed:
			failed++
		default:
			skipped++
		}
	}
	return posted, failed, skipped
}

// postOne runs the gateway for one config and applies the resulting state
// transition. Returns the status the config ended in ("" when nothing
// changed, e.g. a concurrent tick already handled it).
func (r *Runner) postOne(ctx context.Context, item *ContentItem, cfg *TweetConfig) string {
	text := ResolveText(cfg, item, itemLink(cfg, item), r.TextLimit)

	res, err := r.Gateway.Post(ctx, cfg.HostID, social.PlatformTwitter, text)
	if err != nil {
		r.Log.Error("gateway infrastructure error", "config_id", cfg.ID, "error", err)
		return ""
	}

	r.recordLog(ctx, cfg.HostID, text, res)

	if res.Success {
		changed, err := r.Configs.MarkPosted(ctx, cfg.ID, res.PostID, res.PostURL)
		if err != nil {
			r.Log.Error("mark posted failed", "config_id", cfg.ID, "error", err)
			return ""
		}
		if !changed {
			// Lost the race with another tick; the post went out, the other
			// tick owns the transition.
			r.Log.Warn("config no longer pending after successful post", "config_id", cfg.ID)
			return ""
		}
		r.Log.Info("promoted", "config_id", cfg.ID, "host_id", cfg.HostID, "post_id", res.PostID)
		return StatusPosted
	}

	msg := res.ErrorDetail
	if res.ReconnectRequired {
		msg = "reconnect your account: " + msg
	}
	changed, err := r.Configs.MarkFailed(ctx, cfg.ID, msg)
	if err != nil {
		r.Log.Error("mark failed failed", "config_id", cfg.ID, "error", err)
		return ""
	}
	if !changed {
		return ""
	}
	r.Log.Warn("promotion failed", "config_id", cfg.ID, "host_id", cfg.HostID,
		"error_code", res.ErrorCode, "detail", res.ErrorDetail)
	return StatusFailed
}

func itemLink(cfg *TweetConfig, item *ContentItem) string {
	if !cfg.IncludeLink {
		return ""
	}
	return item.ItemURL
}

// PostNow posts a single config immediately, outside the scheduler. The same
// state-machine rules apply: only a pending, enabled config can be posted.
func (r *Runner) PostNow(ctx context.Context, configID int64) (*social.PostLog, error) {
	cfg, err := r.Configs.GetByID(ctx, configID)
	if err != nil {
		return nil, err
	}
	if cfg.Status != StatusPending {
		return nil, fmt.Errorf("tweet config %d is %s, not pending", configID, cfg.Status)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("tweet config %d is disabled", configID)
	}
	item, err := r.Series.GetItem(ctx, cfg.ContentItemID)
	if err != nil {
		return nil, err
	}

	text := ResolveText(cfg, item, itemLink(cfg, item), r.TextLimit)
	res, err := r.Gateway.Post(ctx, cfg.HostID, social.PlatformTwitter, text)
	if err != nil {
		return nil, err
	}
	logRow := r.recordLog(ctx, cfg.HostID, text, res)

	if res.Success {
		if _, err := r.Configs.MarkPosted(ctx, cfg.ID, res.PostID, res.PostURL); err != nil {
			return logRow, err
		}
	} else {
		if _, err := r.Configs.MarkFailed(ctx, cfg.ID, res.ErrorDetail); err != nil {
			return logRow, err
		}
	}
	return logRow, nil
}

// RetryFailed re-queues enabled failed configs whose retry count is still
// under maxRetries. They go out on the next live tick.
func (r *Runner) RetryFailed(ctx context.Context, maxRetries int) (int, error) {
	n, err := r.Configs.RetryFailed(ctx, maxRetries)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.Log.Info("failed configs reset to pending", "count", n, "max_retries", maxRetries)
	}
	return n, nil
}

// Regenerate drafts fresh promotional copy for a config and stores it.
// Drafting failures are returned but leave the config untouched.
func (r *Runner) Regenerate(ctx context.Context, configID int64) (string, error) {
	cfg, err := r.Configs.GetByID(ctx, configID)
	if err != nil {
		return "", err
	}
	item, err := r.Series.GetItem(ctx, cfg.ContentItemID)
	if err != nil {
		return "", err
	}
	text, err := r.Generator.GenerateText(ctx, item, GenerateOptions{
		Platform: social.PlatformTwitter,
		MaxLen:   r.TextLimit,
	})
	if err != nil {
		return "", fmt.Errorf("draft text: %w", err)
	}
	if text == "" {
		return "", nil
	}
	if err := r.Configs.UpdateContent(ctx, cfg.ID, &text, nil, nil, nil); err != nil {
		return "", err
	}
	return text, nil
}

func (r *Runner) recordLog(ctx context.Context, hostID int64, text string, res social.PostResult) *social.PostLog {
	row := social.LogFromResult(hostID, social.PlatformTwitter, text, res)
	if err := r.Logs.Record(ctx, row); err != nil {
		r.Log.Error("record post log failed", "host_id", hostID, "error", err)
	}
	return row
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
