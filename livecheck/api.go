package livecheck

import (
	"context"
	"fmt"

	"github.com/onnwee/castpromo/telemetry"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// APIChecker uses the YouTube Data API search endpoint (eventType=live).
// Each check costs quota, so this is only used when an API key is configured.
type APIChecker struct {
	svc *youtube.Service
}

func NewAPIChecker(ctx context.Context, apiKey string) (*APIChecker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("youtube api key is required")
	}
	svc, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &APIChecker{svc: svc}, nil
}

func (c *APIChecker) CheckLive(ctx context.Context, channelID string) (Status, error) {
	if channelID == "" {
		return Status{}, fmt.Errorf("empty channel id")
	}
	resp, err := c.svc.Search.List([]string{"id", "snippet"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		telemetry.LiveChecksTotal.WithLabelValues("api", "error").Inc()
		return Status{}, fmt.Errorf("youtube search for channel %s: %w", channelID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == nil || resp.Items[0].Id.VideoId == "" {
		telemetry.LiveChecksTotal.WithLabelValues("api", "offline").Inc()
		return Status{}, nil
	}
	item := resp.Items[0]
	videoID := item.Id.VideoId
	title := ""
	if item.Snippet != nil {
		title = item.Snippet.Title
	}
	telemetry.LiveChecksTotal.WithLabelValues("api", "live").Inc()
	return Status{IsLive: true, VideoID: videoID, VideoURL: watchURL(videoID), Title: title}, nil
}
