// Command obs-commander connects a Twitch channel's chat to a local OBS
// instance. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to OBS over obs-websocket, then joins the chat channel.
//   - Dispatches prefixed chat commands (screenshots, filter toggles and
//     configured shortcuts) to OBS.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /metrics and the
//     admin link endpoints.
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

	"github.com/onnwee/obs-commander/commander"
	"github.com/onnwee/obs-commander/config"
	"github.com/onnwee/obs-commander/server"
	"github.com/onnwee/obs-commander/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing(cfg.OTLPEndpoint, "obs-commander", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	shortcuts, err := config.LoadShortcuts(cfg.ShortcutsFile)
	if err != nil {
		slog.Error("failed to load shortcuts", slog.Any("err", err), slog.String("path", cfg.ShortcutsFile))
		os.Exit(1)
	}

	app, err := commander.New(cfg, shortcuts)
	if err != nil {
		slog.Error("failed to build commander", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server first so readiness reflects startup progress
	mux := server.NewMux(app.Supervisor(), server.Options{
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
		AdminToken:    cfg.AdminToken,
	})
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, mux); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	startPprof()

	if err := app.Start(ctx); err != nil {
		slog.Error("startup failed", slog.Any("err", err))
		stop()
		shutdownTracing()
		os.Exit(1) //nolint:gocritic // tracing flushed above
	}

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		slog.Warn("shutdown completed with errors", slog.Any("err", err))
	}
}

// setupLogging configures the default logger. Defaults: level=info, format=text.
func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
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
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	format = strings.ToLower(format) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
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
