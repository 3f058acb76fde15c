// Kestrel - Cognitive screening that deploys in 60 seconds.
// Copyright (c) 2026 OpenSense Health
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensense-health/kestrel/internal/alerts"
	"github.com/opensense-health/kestrel/internal/api"
	"github.com/opensense-health/kestrel/internal/bus"
	"github.com/opensense-health/kestrel/internal/cache"
	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/history"
	"github.com/opensense-health/kestrel/internal/norms"
	"github.com/opensense-health/kestrel/internal/pipeline"
	"github.com/opensense-health/kestrel/internal/repository"
	"github.com/opensense-health/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load .env if present; real environment always wins.
	_ = godotenv.Load()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := loadConfig()

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

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

	// Initialize the norm store with the persisted calibration, falling
	// back to the built-in tables.
	store, err := loadNormStore(ctx, repo)
	if err != nil {
		slog.Error("failed to initialize norm store", "error", err)
		os.Exit(1)
	}
	slog.Info("norm store initialized", "version", store.Version())

	// Initialize the scoring pipeline
	processor := pipeline.NewProcessor(store)
	slog.Info("scoring pipeline initialized", "engine_version", pipeline.EngineVersion)

	// Initialize the history service
	histSvc := history.NewService(repo, cacheImpl)
	slog.Info("history service initialized")

	// Initialize the alert engine with builtins plus persisted rules
	engine, err := alerts.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize alert engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := loadAlertRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load alert rules", "error", err)
		os.Exit(1)
	}
	slog.Info("alert engine initialized", "rules_count", engine.RulesCount())

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, engine, processor, histSvc)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, id := range strings.Split(envTenants, ",") {
				if id = strings.TrimSpace(id); id != "" {
					tenantIDs = append(tenantIDs, id)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, store, processor, histSvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
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

	slog.Info("kestrel shutdown complete")
}

// loadConfig builds the runtime configuration from tier defaults plus
// KESTREL_* environment overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			slog.Warn("invalid KESTREL_PORT, using default", "value", v)
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Repository.PostgresPort = port
		}
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_NATS_TOKEN"); v != "" {
		cfg.EventBus.NATSToken = v
	}

	return cfg
}

// loadNormStore activates the persisted calibration for the global scope,
// or the built-in tables when none is stored.
func loadNormStore(ctx context.Context, repo domain.Repository) (*norms.Store, error) {
	set, err := repo.GetActiveNormSet(ctx, api.GlobalTenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("failed to load persisted norm set, using builtin", "error", err)
		}
		set = domain.DefaultNormSet()
	}
	return norms.NewStore(set)
}

// loadAlertRules loads builtins plus database rules into the engine.
// Custom rules are configured via POST /alert-rules.
func loadAlertRules(ctx context.Context, repo domain.Repository, engine *alerts.Engine) error {
	rules := alerts.BuiltinRules()

	dbRules, err := repo.ListAlertRules(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list alert rules from database", "error", err)
	} else if len(dbRules) > 0 {
		slog.Info("loading alert rules from database", "count", len(dbRules))
		rules = append(rules, dbRules...)
	}

	return engine.LoadRules(rules)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║    Cognitive Screening Risk Engine        ║")
	fmt.Println("  ║     Early signals, clearly scored.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assessments               - Score a screening submission")
	fmt.Println("    GET  /assessments/{id}          - Get assessment by ID")
	fmt.Println("    GET  /subjects/{id}/assessments - List a subject's assessments")
	fmt.Println("    GET  /norms                     - Get the active calibration")
	fmt.Println("    PUT  /norms                     - Install a new calibration")
	fmt.Println("    POST /norms/reload              - Re-activate persisted calibration")
	fmt.Println("    GET  /alert-rules               - List alert rules")
	fmt.Println("    POST /alert-rules               - Create an alert rule")
	fmt.Println("    DELETE /alert-rules/{id}        - Delete an alert rule")
	fmt.Println("    POST /alert-rules/reload        - Hot-reload alert rules")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
