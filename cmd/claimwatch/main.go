// Claimwatch - fraud scoring for healthcare insurance claims.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claimwatch/claimwatch/internal/api"
	"github.com/claimwatch/claimwatch/internal/bus"
	"github.com/claimwatch/claimwatch/internal/cache"
	"github.com/claimwatch/claimwatch/internal/domain"
	"github.com/claimwatch/claimwatch/internal/engine"
	"github.com/claimwatch/claimwatch/internal/history"
	"github.com/claimwatch/claimwatch/internal/repository"
	"github.com/claimwatch/claimwatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("CLAIMWATCH_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting claimwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("CLAIMWATCH_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	store, err := newStore(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Engine (built-in rules plus persisted expression rules)
	eng, err := engine.New(ctx, engine.Options{
		Store:    store,
		Cache:    cacheImpl,
		EventBus: busImpl,
	})
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	slog.Info("engine initialized",
		"version", engine.EngineVersion,
		"rules_count", len(eng.Rules()),
		"patterns_count", len(eng.Patterns()),
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("CLAIMWATCH_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, eng)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, eng, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("claimwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("claimwatch shutdown complete")
}

// newStore picks the store implementation for the configured driver.
func newStore(cfg domain.StoreConfig) (domain.Store, error) {
	if cfg.Driver == "memory" {
		return history.NewMemoryStore(), nil
	}
	return repository.New(cfg)
}

// applyEnvOverrides applies the common deployment knobs on top of the
// tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("CLAIMWATCH_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("CLAIMWATCH_POSTGRES_HOST"); v != "" {
		cfg.Store.PostgresHost = v
	}
	if v := os.Getenv("CLAIMWATCH_POSTGRES_USER"); v != "" {
		cfg.Store.PostgresUser = v
	}
	if v := os.Getenv("CLAIMWATCH_POSTGRES_PASSWORD"); v != "" {
		cfg.Store.PostgresPassword = v
	}
	if v := os.Getenv("CLAIMWATCH_POSTGRES_DB"); v != "" {
		cfg.Store.PostgresDB = v
	}
	if v := os.Getenv("CLAIMWATCH_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("CLAIMWATCH_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  claimwatch - healthcare claims fraud scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze               - Analyze a claim document")
	fmt.Println("    POST /analyze/batch         - Analyze a batch of documents")
	fmt.Println("    GET  /analyses              - List analysis history")
	fmt.Println("    GET  /analyses/{id}         - Get analysis by ID")
	fmt.Println("    GET  /rules                 - List fraud rules")
	fmt.Println("    POST /rules                 - Create an expression rule")
	fmt.Println("    POST /rules/{id}/enable     - Enable a rule")
	fmt.Println("    POST /rules/{id}/disable    - Disable a rule")
	fmt.Println("    POST /rules/reload          - Hot-reload expression rules")
	fmt.Println("    GET  /patterns              - List fraud patterns")
	fmt.Println("    GET  /thresholds            - Get risk thresholds")
	fmt.Println("    PUT  /thresholds            - Update risk thresholds")
	fmt.Println("    GET  /blacklist             - List blacklisted entities")
	fmt.Println("    POST /blacklist             - Blacklist an entity")
	fmt.Println("    DELETE /blacklist/{entity}  - Remove a blacklisted entity")
	fmt.Println("    GET  /statistics            - Analysis statistics")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
