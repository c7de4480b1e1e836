// Package main is the entry point for the LLM gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"llmgate/config"
	"llmgate/internal/cache"
	"llmgate/internal/catalog"
	"llmgate/internal/logging"
	"llmgate/internal/orchestrator"
	"llmgate/internal/ratelimit"
	"llmgate/internal/server"
	"llmgate/internal/version"

	// Import provider packages to trigger their init() registration
	_ "llmgate/internal/providers/anthropic"
	_ "llmgate/internal/providers/gemini"
	_ "llmgate/internal/providers/groq"
	_ "llmgate/internal/providers/openai"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Local development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("starting llmgate",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	cat, err := catalog.Load()
	if err != nil {
		logger.Error("failed to load model catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("model catalog loaded", "models", cat.Len())

	tracker := ratelimit.New()

	var persistence *ratelimit.Persistence
	if store := openSnapshotStore(cfg, logger); store != nil {
		persistence = ratelimit.NewPersistence(context.Background(), tracker, store, cfg.Snapshot.Interval)
		defer func() {
			if err := persistence.Close(); err != nil {
				logger.Error("snapshot persistence close error", "error", err)
			}
		}()
	}

	policy, err := orchestrator.ParseFailoverPolicy(cfg.Orchestrator.FailoverPolicy)
	if err != nil {
		logger.Error("invalid failover policy", "error", err)
		os.Exit(1)
	}
	orch := orchestrator.New(cat, tracker, orchestrator.Config{
		MaxIterations:   cfg.Orchestrator.MaxIterations,
		MaxAttempts:     cfg.Orchestrator.MaxAttempts,
		Policy:          policy,
		ToolConcurrency: cfg.Orchestrator.ToolConcurrency,
	}, logger)

	if cfg.Server.MasterKey == "" {
		logger.Warn("SECURITY WARNING: LLMGATE_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set LLMGATE_MASTER_KEY environment variable to secure this gateway")
	} else {
		logger.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	srv := server.New(orch, cat, &server.Config{
		MasterKey:        cfg.Server.MasterKey,
		MetricsEnabled:   cfg.Metrics.Enabled,
		MetricsEndpoint:  cfg.Metrics.Endpoint,
		BodySizeLimit:    cfg.Server.BodySizeLimit,
		StreamBufferSize: cfg.Orchestrator.StreamBufferSize,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("starting server", "address", addr)
	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openSnapshotStore builds the configured rate-limit snapshot backend, or
// nil when persistence is disabled. A broken backend is downgraded to a
// warning; stale backoff state is never worth refusing to start over.
func openSnapshotStore(cfg *config.Config, logger *slog.Logger) cache.Store {
	switch cfg.Snapshot.Backend {
	case "local":
		logger.Info("rate-limit snapshots enabled", "backend", "local", "path", cfg.Snapshot.Path)
		return cache.NewLocalStore(cfg.Snapshot.Path)
	case "redis":
		store, err := cache.NewRedisStore(cache.RedisConfig{
			URL: cfg.Snapshot.RedisURL,
			Key: cfg.Snapshot.RedisKey,
		})
		if err != nil {
			logger.Warn("redis snapshot store unavailable, continuing without persistence", "error", err)
			return nil
		}
		logger.Info("rate-limit snapshots enabled", "backend", "redis", "key", cfg.Snapshot.RedisKey)
		return store
	default:
		return nil
	}
}
