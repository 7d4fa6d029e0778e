// Command ensemble is the main entrypoint for the persona group-chat service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Validates the auto-chat policy (a bad policy refuses to start).
//   - Optionally connects to Postgres and runs idempotent migrations for the
//     message archive sink.
//   - Starts the per-room burst dispatcher and the idle scheduler.
//   - Exposes the room lifecycle HTTP API with /healthz, /readyz, /status,
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/daybreakhq/ensemble/analysisapi"
	"github.com/daybreakhq/ensemble/chat"
	"github.com/daybreakhq/ensemble/config"
	"github.com/daybreakhq/ensemble/db"
	"github.com/daybreakhq/ensemble/genapi"
	"github.com/daybreakhq/ensemble/room"
	"github.com/daybreakhq/ensemble/server"
	"github.com/daybreakhq/ensemble/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

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
		// unknown level -> keep info but note once using temporary logger
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
	// A misconfigured policy must stop the service, not degrade it silently.
	if err := cfg.Policy.Validate(); err != nil {
		slog.Error("invalid auto-chat policy", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateGenReady(); err != nil {
		slog.Warn("line generation not fully configured; bursts will abandon every turn", slog.Any("err", err))
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("ensemble", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Optional archive sink. Without DB_DSN the registry runs purely in-memory.
	var database *sql.DB
	var archive room.Archiver
	if cfg.DBDsn != "" {
		database, err = db.Connect()
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()

		// Dual-system migrations: versioned files first, embedded SQL as the
		// fallback for deployments shipped without the migrations directory.
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
				slog.Any("err", err),
				slog.String("component", "db_migrate"))
			if err := db.Migrate(context.Background(), database); err != nil {
				slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
				os.Exit(1)
			}
			slog.Info("embedded SQL migration completed successfully", slog.String("component", "db_migrate"))
		} else {
			slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
		}
		archive = &db.Archiver{DB: database}
	} else {
		slog.Info("DB_DSN not set; running without a message archive")
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := room.NewRegistry(archive)

	gen := chat.NewGenerator(&genapi.Client{
		BaseURL:    cfg.GenBaseURL,
		APIKey:     cfg.GenAPIKey,
		Model:      cfg.GenModel,
		HTTPClient: &http.Client{Timeout: cfg.GenTimeout},
	})
	var analyzer chat.ContextAnalyzer
	if cfg.AnalysisBaseURL != "" {
		analyzer = chat.NewAnalyzer(&analysisapi.Client{
			BaseURL:    cfg.AnalysisBaseURL,
			APIKey:     cfg.AnalysisAPIKey,
			HTTPClient: &http.Client{Timeout: cfg.AnalysisTimeout},
		})
	} else {
		slog.Warn("ANALYSIS_API_BASE_URL not set; bursts will run with neutral conversation context")
	}

	disp := chat.NewDispatcher(ctx, reg, cfg.Policy, gen, analyzer)
	disp.SetGenTimeout(cfg.GenTimeout)
	defer disp.Stop()

	go chat.StartIdleTicker(ctx, reg, disp, cfg.IdleTickInterval, cfg.IdleQuietAfter, cfg.IdleFireProbability)

	slog.Info("starting http server", slog.String("addr", cfg.HTTPAddr), slog.Bool("tracing", telemetry.IsTracingEnabled()))
	if err := server.Start(ctx, reg, disp, database, cfg.HTTPAddr); err != nil {
		slog.Error("http server exited", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
