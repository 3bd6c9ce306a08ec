// Command rubus is the comic strip courier bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the daily-posting scheduler and the Telegram command bot.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status,
//     /metrics, and the manual /admin/post trigger.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rubusbot/rubus/bot"
	"github.com/rubusbot/rubus/chat"
	"github.com/rubusbot/rubus/config"
	"github.com/rubusbot/rubus/db"
	"github.com/rubusbot/rubus/feed"
	"github.com/rubusbot/rubus/poster"
	"github.com/rubusbot/rubus/schedule"
	"github.com/rubusbot/rubus/server"
	"github.com/rubusbot/rubus/telemetry"
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
	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateScheduleReady(); err != nil {
		slog.Warn("scheduled posting not fully configured", slog.Any("err", err))
	}

	// Metrics / telemetry init
	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("rubus", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// DB: opened once per process lifetime, closed on shutdown.
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

	// Migrations: versioned (golang-migrate) first, embedded SQL as fallback
	// for deployments predating version tracking.
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

	// Chat transports
	router := &chat.Router{}
	if cfg.TelegramToken != "" {
		router.Telegram = chat.NewTelegram(cfg.TelegramToken)
	}
	if cfg.TwitchBotUsername != "" && cfg.TwitchOAuthToken != "" {
		tw := chat.NewTwitch(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
		tw.Start(ctx)
		router.Twitch = tw
	}

	// Core poster: feed in, ledger-guarded chat delivery out.
	p := &poster.Poster{
		Ledger:       &db.LedgerAdapter{DB: database},
		Source:       feed.NewRSSSource(cfg.ComicFeeds),
		Sender:       router,
		FetchTimeout: cfg.FetchTimeout,
		SendTimeout:  cfg.SendTimeout,
	}

	// Scheduler
	sched := &schedule.Scheduler{
		Entries: cfg.Entries,
		Poster:  p,
		DB:      database,
		Tick:    cfg.TickInterval,
	}
	go sched.Run(ctx)

	// Telegram command bot (manual trigger)
	if cfg.TelegramToken != "" {
		b := &bot.Bot{
			Token:   cfg.TelegramToken,
			Poster:  p,
			Sender:  router,
			Comics:  cfg.ComicFeeds,
			Entries: cfg.Entries,
		}
		go b.Run(ctx)
	}

	// HTTP server (health/status/metrics/manual trigger)
	handlers := &server.Handlers{
		DB:      database,
		Poster:  p,
		Entries: cfg.Entries,
		Comics:  cfg.ComicFeeds,
	}
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
