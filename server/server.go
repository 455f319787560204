package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/castpromo/telemetry"
)

// PromoTickJob is the scheduler job name for the live-detection tick. The
// entrypoint registers the job under this name so /admin/tick can trigger it.
const PromoTickJob = "promo_tick"

// getSensitiveEndpointPattern matches endpoints that mutate posting state and
// therefore get rate limiting even without admin auth. Lazily compiled.
var getSensitiveEndpointPattern = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`^/tweets/(retry-failed|[0-9]+/(post|reset|regenerate))$`)
})

// NewMux returns the HTTP handler with all routes. The provided context
// bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, db *sql.DB, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	rateLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()

	handlers := NewHandlers(ctx, db, deps)

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	// OAuth connect flow
	mux.HandleFunc("/auth/twitter/start", handlers.HandleTwitterOAuthStart)
	mux.HandleFunc("/auth/twitter/callback", handlers.HandleTwitterOAuthCallback)

	// Health and status
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/status", handlers.HandleStatus)

	// Tweet configs
	mux.HandleFunc("/tweets", handlers.HandleTweetsList)
	mux.HandleFunc("/tweets/", handlers.HandleTweetsDispatcher)

	// Connections and audit trail
	mux.HandleFunc("/connections", handlers.HandleConnectionsList)
	mux.HandleFunc("/connections/", handlers.HandleConnectionsDispatcher)
	mux.HandleFunc("/postlogs", handlers.HandlePostLogs)

	// Admin
	mux.HandleFunc("/admin/tick", handlers.HandleAdminTick)
	mux.HandleFunc("/admin/fanout", handlers.HandleAdminFanOut)

	// Admin endpoints get auth + rate limiting; posting mutations get rate
	// limiting only.
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/admin/") {
			adminAuth(rateLimitMiddleware(mux, rateLimiter), authCfg).ServeHTTP(w, r)
			return
		}
		if getSensitiveEndpointPattern().MatchString(r.URL.Path) {
			rateLimitMiddleware(mux, rateLimiter).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Correlation ID injection and tracing around everything.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context
// cancellation.
func Start(ctx context.Context, db *sql.DB, addr string, deps Deps) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, db, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
