// Kestrel - Fraud scoring for identity verification.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/identity"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/verifier"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
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

	// Initialize Authenticator before anything listens
	auth, err := api.NewAuthenticator(cfg.Auth)
	if err != nil {
		slog.Error("failed to initialize authenticator", "error", err)
		os.Exit(1)
	}

	// Initialize scoring services
	m := metrics.New()
	models := model.NewStore(repo, model.WithCache(cacheImpl, cfg.Cache.ModelTTL))

	conditions, err := patterns.NewConditions()
	if err != nil {
		slog.Error("failed to initialize pattern conditions", "error", err)
		os.Exit(1)
	}
	matcher := patterns.NewMatcher(repo, conditions, cfg.Patterns)

	svc := verifier.NewService(repo, models, matcher, cfg.Auth.CollaboratorPrincipal,
		verifier.WithIdentityProvider(identity.NewBusClient(busImpl, cfg.Identity)),
		verifier.WithEventBus(busImpl, cfg.EventBus.PublishTimeout),
		verifier.WithCache(cacheImpl, cfg.Cache.StatusTTL),
		verifier.WithVelocity(velocity.NewService(cacheImpl, cfg.Velocity)),
		verifier.WithMetrics(m),
	)

	if err := svc.Bootstrap(ctx, cfg.Auth.BootstrapAdmin); err != nil {
		slog.Error("failed to bootstrap", "error", err)
		os.Exit(1)
	}
	if cfg.Auth.BootstrapAdmin == "" {
		slog.Warn("no bootstrap admin configured - model management is disabled until one is added")
	}

	active, err := models.Active(ctx)
	if err != nil {
		slog.Error("failed to load active model", "error", err)
		os.Exit(1)
	}
	slog.Info("model loaded",
		"version", active.Version,
		"model_type", active.ModelType,
		"layers", len(active.Architecture.Layers),
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{Concurrency: cfg.Worker.Concurrency}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "concurrency", cfg.Worker.Concurrency)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, auth, api.NewRateLimiter(cfg.RateLimit), m.Handler(), Version)

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

	printBanner(cfg, Version, active.Version)

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

// newLogger builds the process logger from config.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version, modelVersion string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 KESTREL                   ║")
	fmt.Println("  ║       Identity Fraud Scoring Engine       ║")
	fmt.Println("  ║     Every identity, scored in-process.    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Model:    %s\n", modelVersion)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/validations                    - Score a validation request")
	fmt.Println("    GET  /v1/validations/{id}               - Get validation by ID")
	fmt.Println("    GET  /v1/validations/{id}/status        - Get validation status")
	fmt.Println("    POST /v1/identities/{id}/validate       - Score an identity")
	fmt.Println("    POST /v1/deepfake                       - Score a biometric sample")
	fmt.Println("    GET  /v1/model                          - Get the active model")
	fmt.Println("    PUT  /v1/model                          - Replace the active model")
	fmt.Println("    POST /v1/model/retrain                  - Retrain from labeled examples")
	fmt.Println("    GET  /v1/patterns                       - List fraud patterns")
	fmt.Println("    POST /v1/patterns                       - Register a fraud pattern")
	fmt.Println("    GET  /health                            - Health check")
	fmt.Println("    GET  /metrics                           - Prometheus metrics")
	fmt.Println()
}
