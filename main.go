// Command vimm-chat runs the live-stream chat backend.
// It:
//   - Loads configuration and initializes structured logging.
//   - Builds the session store, the Hive signature verifier and the room broker.
//   - Optionally archives published messages to Postgres (DB_DSN).
//   - Serves the chat HTTP API, the WebSocket transport, /healthz, /readyz
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/onnwee/vimm-chat/auth"
	"github.com/onnwee/vimm-chat/chat"
	"github.com/onnwee/vimm-chat/config"
	"github.com/onnwee/vimm-chat/crypto"
	"github.com/onnwee/vimm-chat/db"
	"github.com/onnwee/vimm-chat/hive"
	"github.com/onnwee/vimm-chat/server"
	"github.com/onnwee/vimm-chat/session"
	"github.com/onnwee/vimm-chat/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("vimm-chat exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

// run wires the service and blocks until shutdown. Returning instead of
// exiting lets the deferred cleanups run on every path.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.JWTSecretGenerated {
		slog.Warn("JWT_SECRET not set, using a random per-process secret; sessions will not survive restarts")
	}

	telemetry.Init()

	// Tracing is optional; requires OTEL_EXPORTER_OTLP_ENDPOINT.
	shutdown, err := telemetry.InitTracing("vimm-chat", "1.0.0")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := session.NewStore([]byte(cfg.JWTSecret))
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	registry := &hive.Client{URL: cfg.HiveAPIURL, HTTPClient: &http.Client{Timeout: cfg.HiveTimeout}}
	deps := server.Deps{
		Sessions: sessions,
		Verifier: auth.NewSignatureVerifier(registry, nil),
		Config:   cfg,
	}

	if cfg.ChallengesEnabled() {
		enc, err := crypto.NewAESEncryptor(cfg.ChallengeKey)
		if err != nil {
			return fmt.Errorf("challenge key: %w", err)
		}
		deps.Challenges = auth.NewChallengeIssuer(enc, cfg.ChallengeTTL, nil)
		slog.Info("server challenges enabled", slog.Bool("required", cfg.RequireServerChallenge), slog.Duration("ttl", cfg.ChallengeTTL))
	}

	var sinks []chat.Sink
	if cfg.DBDsn != "" {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate db: %w", err)
		}
		archive := db.NewArchive(database, db.DefaultQueueSize)
		archived := archive.Start(ctx)
		// Runs before the database is closed: queued messages are flushed
		// once ctx is done.
		defer func() {
			stop()
			<-archived
		}()
		sinks = append(sinks, archive)
		deps.DB = database
	} else {
		slog.Info("chat archive disabled (DB_DSN not set)")
	}

	deps.Broker = chat.NewBroker(sessions,
		chat.WithMaxMessageRunes(cfg.MaxMessageLength),
		chat.WithSinks(sinks...),
	)

	go sessions.Run(ctx, cfg.SessionSweepInterval)
	go deps.Broker.Run(ctx, 0, cfg.RoomIdleTTL)

	if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down")
	return nil
}

// setupLogging configures the default logger. Defaults: level=info, format=text.
func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		format = "json"
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	if unknown {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}
