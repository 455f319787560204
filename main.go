// Command castpromo is the main entrypoint for the promotion API and the
// live-detection scheduler.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Registers the Twitter provider and starts the periodic live-detection
//     tick that fans promotional posts out to every connected host.
//   - Exposes the HTTP server with the OAuth connect flow, operator
//     endpoints, /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/castpromo/config"
	"github.com/onnwee/castpromo/crypto"
	"github.com/onnwee/castpromo/db"
	"github.com/onnwee/castpromo/livecheck"
	"github.com/onnwee/castpromo/promo"
	"github.com/onnwee/castpromo/scheduler"
	"github.com/onnwee/castpromo/server"
	"github.com/onnwee/castpromo/social"
	"github.com/onnwee/castpromo/telemetry"
	"github.com/onnwee/castpromo/twitterapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidatePostingReady(); err != nil {
		slog.Warn("twitter posting not configured; connect flow and posting are disabled until env is set", slog.Any("err", err))
	}

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("castpromo", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Credential vault. Everything the service stores for hosts is encrypted,
	// so a missing or malformed key is fatal.
	vault, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
	if err != nil {
		slog.Error("encryption key invalid (set ENCRYPTION_KEY to 32 base64-encoded bytes)", slog.Any("err", err))
		os.Exit(1)
	}

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Migrations: versioned files first, embedded SQL as the fallback for
	// deployments without a schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Platform registry: Twitter is the only provider today.
	twitter := &social.TwitterProvider{Client: &twitterapi.Client{
		ClientID:     cfg.TwitterClientID,
		ClientSecret: cfg.TwitterClientSecret,
		RedirectURI:  cfg.TwitterRedirectURI,
		Scopes:       strings.Fields(cfg.TwitterScopes),
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
	}}
	registry := social.NewRegistry()
	registry.Register(social.PlatformTwitter, twitter, twitter)

	connections := social.NewSQLConnectionStore(database)
	postLogs := social.NewSQLPostLogStore(database)
	gateway := social.NewGateway(connections, vault, registry)

	// Proactive token refresh keeps rarely-posting hosts connected.
	gateway.StartRefresher(ctx, social.PlatformTwitter, 5*time.Minute, 15*time.Minute)

	// Live checker: the YouTube Data API when a key is configured, the
	// no-quota redirect probe otherwise.
	var checker livecheck.Checker = livecheck.NewRedirectChecker(cfg.HTTPTimeout)
	if cfg.YouTubeAPIKey != "" {
		if apiChecker, err := livecheck.NewAPIChecker(ctx, cfg.YouTubeAPIKey); err != nil {
			slog.Warn("youtube api checker init failed, using redirect probe", slog.Any("err", err))
		} else {
			checker = apiChecker
			slog.Info("live checker using youtube data api")
		}
	}

	series := promo.NewSQLSeriesStore(database)
	configs := promo.NewSQLConfigStore(database)
	runner := promo.NewRunner(series, configs, postLogs, gateway, checker)
	runner.Workers = cfg.PostWorkers

	// The periodic tick. last_tick_at feeds /status.
	sched := scheduler.New()
	if err := sched.Every(server.PromoTickJob, cfg.LiveCheckInterval, cfg.MisfireGrace, func(jctx context.Context) error {
		_, err := runner.Tick(jctx)
		if _, kvErr := database.ExecContext(jctx,
			`INSERT INTO kv (key, value) VALUES ('last_tick_at', $1)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			time.Now().UTC().Format(time.RFC3339)); kvErr != nil {
			slog.Warn("record last_tick_at failed", slog.Any("err", kvErr))
		}
		return err
	}); err != nil {
		slog.Error("failed to register tick job", slog.Any("err", err))
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		err := server.Start(ctx, database, addr, server.Deps{
			Cfg:         cfg,
			Vault:       vault,
			Registry:    registry,
			Connections: connections,
			Logs:        postLogs,
			Configs:     configs,
			Series:      series,
			Runner:      runner,
			Sched:       sched,
		})
		if err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
