// Kestrel - Interchange fee assessment for card payments.
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
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scenario"
	"github.com/opensource-finance/kestrel/internal/stats"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyMatchPolicyEnv(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"match_bounds", cfg.Match.Bounds,
		"match_selection", cfg.Match.Selection,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine(cfg.Match)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := seedFromFiles(ctx, repo); err != nil {
		slog.Error("failed to seed data", "error", err)
		os.Exit(1)
	}

	if err := loadRulesFromRepository(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	statsSvc := stats.New(repo, cacheImpl, cfg.Cache.LocalTTL)
	processor := assess.NewProcessor(repo, statsSvc, engine)
	analyzer := scenario.New(engine)
	slog.Info("assessment pipeline initialized", "engine_version", assess.EngineVersion)

	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, statsSvc, processor)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, statsSvc, processor, analyzer, Version)

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

	<-ctx.Done()
	slog.Info("shutting down...")

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

// applyMatchPolicyEnv lets deployments override the matching semantics.
func applyMatchPolicyEnv(cfg *domain.Config) {
	switch os.Getenv("KESTREL_MATCH_BOUNDS") {
	case "inclusive":
		cfg.Match.Bounds = domain.BoundsInclusive
	case "strict":
		cfg.Match.Bounds = domain.BoundsStrict
	}
	switch os.Getenv("KESTREL_MATCH_SELECTION") {
	case "specific":
		cfg.Match.Selection = domain.SelectSpecific
	case "order":
		cfg.Match.Selection = domain.SelectOrder
	}
}

// seedFromFiles imports rule datasets and merchant/transaction files named
// via environment variables, for first-run setup and benchmarking.
func seedFromFiles(ctx context.Context, repo domain.Repository) error {
	if path := os.Getenv("KESTREL_RULES_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open rules file: %w", err)
		}
		feeRules, err := ingest.LoadFeeRules(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("load rules file: %w", err)
		}
		if err := repo.SaveFeeRules(ctx, feeRules); err != nil {
			return fmt.Errorf("persist rules: %w", err)
		}
		slog.Info("rule dataset imported", "path", path, "count", len(feeRules))
	}

	if path := os.Getenv("KESTREL_MERCHANTS_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open merchants file: %w", err)
		}
		merchants, err := ingest.LoadMerchants(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("load merchants file: %w", err)
		}
		for _, m := range merchants {
			if err := repo.SaveMerchant(ctx, m); err != nil {
				return fmt.Errorf("persist merchant %s: %w", m.ID, err)
			}
		}
		slog.Info("merchants imported", "path", path, "count", len(merchants))
	}

	if path := os.Getenv("KESTREL_TRANSACTIONS_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open transactions file: %w", err)
		}
		txs, err := ingest.LoadTransactions(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("load transactions file: %w", err)
		}
		for _, tx := range txs {
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				return fmt.Errorf("persist transaction %s: %w", tx.ID, err)
			}
		}
		slog.Info("transactions imported", "path", path, "count", len(txs))
	}

	return nil
}

// loadRulesFromRepository loads the persisted rule dataset into the engine.
func loadRulesFromRepository(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListFeeRules(ctx)
	if err != nil {
		slog.Warn("failed to list rules from repository", "error", err)
		return nil
	}

	if len(stored) > 0 {
		slog.Info("loading rules from repository", "count", len(stored))
		return engine.LoadRules(stored)
	}

	slog.Info("no rules in repository - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║       Fee Assessment Engine               ║")
	fmt.Println("  ║     A price on every transaction.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assess                 - Assess a transaction fee")
	fmt.Println("    GET  /assessments/{id}       - Get assessment by ID")
	fmt.Println("    GET  /transactions/{id}      - Get transaction by ID")
	fmt.Println("    GET  /rules                  - List the rule dataset")
	fmt.Println("    POST /rules                  - Replace the rule dataset")
	fmt.Println("    POST /rules/reload           - Hot-reload rules from storage")
	fmt.Println("    GET  /merchants              - List merchants")
	fmt.Println("    PUT  /merchants/{id}         - Create or update a merchant")
	fmt.Println("    GET  /merchants/{id}/stats   - Monthly volume and fraud rate")
	fmt.Println("    POST /scenario               - What-if fee sweep")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
