// Package telemetry provides Prometheus metrics, correlation-id aware logging
// helpers, and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SocialPostsTotal counts posting attempts by platform and outcome
	// (success or a stable error code).
	SocialPostsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promo_social_posts_total",
		Help: "Number of social posting attempts by platform and outcome",
	}, []string{"platform", "outcome"})

	// SocialPostDuration measures end-to-end posting latency per platform.
	SocialPostDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promo_social_post_duration_seconds",
		Help:    "Posting latency seconds by platform",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})

	// TokenRefreshesTotal counts OAuth refresh grants by platform and result.
	TokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promo_token_refreshes_total",
		Help: "Number of OAuth token refresh attempts by platform and result",
	}, []string{"platform", "result"})

	// LiveChecksTotal counts live-status probes by checker kind and result
	// (live, offline, error).
	LiveChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promo_live_checks_total",
		Help: "Number of channel live-status checks by checker and result",
	}, []string{"checker", "result"})

	// SchedulerTicks counts scheduler job invocations by job and disposition
	// (run, skipped, misfire).
	SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promo_scheduler_ticks_total",
		Help: "Number of scheduler job firings by job and disposition",
	}, []string{"job", "disposition"})

	// TickDuration measures how long a full promotion tick takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "promo_tick_duration_seconds",
		Help:    "Full promotion tick duration seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PendingTweetsGauge tracks how many tweet configs are currently pending.
	PendingTweetsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promo_pending_tweets",
		Help: "Current number of pending tweet configs",
	})
)

// SetPendingTweets records the current pending tweet config count.
func SetPendingTweets(n int) { PendingTweetsGauge.Set(float64(n)) }

// TimeFunc measures the duration of fn and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with the corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
