package social

import (
	"context"
	"math/rand"
	"time"
)

// StartRefresher launches a goroutine that periodically scans active
// connections on platform and refreshes any whose token expiry falls within
// window. Posting refreshes lazily on its own; this keeps rarely-posting
// hosts from accumulating long-expired tokens.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func (g *Gateway) StartRefresher(ctx context.Context, platform string, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			g.refreshExpiring(ctx, platform, window)
		}
	}()
}

func (g *Gateway) refreshExpiring(ctx context.Context, platform string, window time.Duration) {
	conns, err := g.Store.ListActive(ctx, platform)
	if err != nil {
		g.Log.Warn("refresher list connections failed", "platform", platform, "error", err)
		return
	}
	for _, conn := range conns {
		if conn.TokenExpiresAt.IsZero() || time.Until(conn.TokenExpiresAt) > window {
			continue
		}
		// Small pre-refresh jitter to avoid stampedes when many pods see
		// the same expiry.
		//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
		pre := time.Duration(rand.Int63n(int64(5 * time.Second)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(pre):
		}
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		ok := g.Refresh(rctx, conn)
		cancel()
		if !ok {
			g.Log.Warn("background token refresh failed", "host_id", conn.HostID, "platform", platform)
		}
	}
}
