// Package livecheck determines whether a YouTube channel is currently
// broadcasting live. Two checkers are provided: a redirect probe that costs
// no API quota, and a Data API checker for deployments with an API key.
package livecheck

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/onnwee/castpromo/telemetry"
)

// Status is the outcome of a live check. A check that fails (network error,
// parse failure) returns a non-nil error alongside a zero Status; callers
// treat that as "not live" for posting purposes but must not mark anything
// failed because of it.
type Status struct {
	IsLive   bool
	VideoID  string
	VideoURL string
	// Title of the live broadcast when the checker can determine it;
	// empty otherwise.
	Title string
}

// Checker reports the live status of a channel.
type Checker interface {
	CheckLive(ctx context.Context, channelID string) (Status, error)
}

const defaultBaseURL = "https://www.youtube.com"

var (
	videoIDPattern = regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{6,})`)
	titlePattern   = regexp.MustCompile(`<title>(.*?)</title>`)
)

// RedirectChecker probes /channel/<id>/live. YouTube redirects that URL to
// /watch?v=<video> while the channel is live and to the channel page
// otherwise. No API key or quota involved.
type RedirectChecker struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewRedirectChecker(timeout time.Duration) *RedirectChecker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RedirectChecker{HTTPClient: &http.Client{Timeout: timeout}}
}

func (c *RedirectChecker) base() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return defaultBaseURL
}

func (c *RedirectChecker) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *RedirectChecker) CheckLive(ctx context.Context, channelID string) (Status, error) {
	if channelID == "" {
		return Status{}, fmt.Errorf("empty channel id")
	}
	url := fmt.Sprintf("%s/channel/%s/live", c.base(), channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{}, err
	}
	// A browser-ish UA avoids the consent interstitial on some regions.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; castpromo/1.0)")

	resp, err := c.client().Do(req)
	if err != nil {
		telemetry.LiveChecksTotal.WithLabelValues("redirect", "error").Inc()
		return Status{}, fmt.Errorf("live probe for channel %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		telemetry.LiveChecksTotal.WithLabelValues("redirect", "error").Inc()
		return Status{}, fmt.Errorf("live probe for channel %s: status %d", channelID, resp.StatusCode)
	}

	// The client followed redirects; the final URL tells us where we landed.
	final := resp.Request.URL.String()
	if m := videoIDPattern.FindStringSubmatch(final); m != nil {
		telemetry.LiveChecksTotal.WithLabelValues("redirect", "live").Inc()
		return Status{
			IsLive:   true,
			VideoID:  m[1],
			VideoURL: watchURL(m[1]),
			Title:    extractTitle(resp.Body),
		}, nil
	}
	telemetry.LiveChecksTotal.WithLabelValues("redirect", "offline").Inc()
	return Status{}, nil
}

// extractTitle pulls the page title out of the first 64 KiB of the watch
// page, dropping YouTube's trailing site-name suffix.
func extractTitle(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return ""
	}
	m := titlePattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	title := html.UnescapeString(string(m[1]))
	title = strings.TrimSuffix(title, " - YouTube")
	return strings.TrimSpace(title)
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
