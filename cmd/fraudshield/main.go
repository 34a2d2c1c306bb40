// FraudShield - Transaction fraud scoring service.
// Copyright (c) 2025 The FraudShield Authors
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fraudshield/fraudshield/internal/api"
	"github.com/fraudshield/fraudshield/internal/artifact"
	"github.com/fraudshield/fraudshield/internal/bus"
	"github.com/fraudshield/fraudshield/internal/cache"
	"github.com/fraudshield/fraudshield/internal/dataset"
	"github.com/fraudshield/fraudshield/internal/detector"
	"github.com/fraudshield/fraudshield/internal/domain"
	"github.com/fraudshield/fraudshield/internal/logging"
	"github.com/fraudshield/fraudshield/internal/metrics"
	"github.com/fraudshield/fraudshield/internal/repository"
	"github.com/fraudshield/fraudshield/internal/tracing"
	"github.com/fraudshield/fraudshield/internal/velocity"
	"github.com/fraudshield/fraudshield/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration (.env, then FRAUDSHIELD_* variables)
	cfg := domain.LoadConfig()

	// Initialize structured logger
	slog.SetDefault(logging.New(cfg.Logging, os.Stdout))

	slog.Info("starting fraudshield",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"artifact_store", cfg.Model.ArtifactStore,
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

	// Initialize tracing
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	go metrics.StartDBStatsCollector(ctx, repo.Stats, 15*time.Second)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	if local, ok := cacheImpl.(interface{ Stats() (int, int) }); ok {
		go metrics.StartCacheStatsCollector(ctx, local.Stats, 15*time.Second)
	}

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize model persistence
	store, err := artifact.New(cfg.Model, repo, cacheImpl)
	if err != nil {
		slog.Error("failed to initialize artifact store", "error", err)
		os.Exit(1)
	}

	// Initialize Detector
	det, err := detector.New(detector.OptionsFromConfig(cfg.Model), dataset.DirSource{Dir: cfg.Model.DataDir}, store)
	if err != nil {
		slog.Error("failed to initialize detector", "error", err)
		os.Exit(1)
	}

	// Bring the model up out of band; /ready reports 503 until it is done
	// and early predictions wait on the same initialization.
	go warmUp(ctx, det, cfg.Model.TrainOnStartup)

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(repo, cacheImpl)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, det, repo, velocitySvc)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	// Initialize Server
	handler := api.NewHandler(det, repo, cacheImpl, busImpl, velocitySvc, Version)
	srv := api.NewServer(cfg.Server, handler)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudshield is listening", "addr", srv.Addr())

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
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("fraudshield shutdown complete")
}

// warmUp restores the persisted model, training a new one when nothing
// usable is stored or a retrain was requested.
func warmUp(ctx context.Context, det *detector.Detector, retrain bool) {
	if !retrain && det.LoadFromStorage(ctx) {
		return
	}
	accuracy, err := det.Train(ctx)
	if err != nil {
		slog.Error("initial training failed", "error", err)
		return
	}
	slog.Info("fraudshield is ready", "accuracy", fmt.Sprintf("%.4f", accuracy))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  FraudShield - transaction fraud scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict           - Score a transaction")
	fmt.Println("    GET  /predictions/{id}  - Get a logged prediction")
	fmt.Println("    GET  /stats             - Prediction counters and accuracy")
	fmt.Println("    POST /train             - Retrain the model")
	fmt.Println("    GET  /model             - Describe the loaded model")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /ready             - Readiness (503 until a model is loaded)")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}
