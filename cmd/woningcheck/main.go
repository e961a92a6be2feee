// Woningcheck analyzes funda-style property listings and produces a
// multi-chapter Dutch report over an HTTP JSON API. Facts are computed
// once, frozen, and narrated by an AI provider cascade.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	woningcheck "github.com/marcelkurvers/funda-woning-check-sub000"
	"github.com/marcelkurvers/funda-woning-check-sub000/ai"
	"github.com/marcelkurvers/funda-woning-check-sub000/chapters"
	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
	"github.com/marcelkurvers/funda-woning-check-sub000/internal/db"
	"github.com/marcelkurvers/funda-woning-check-sub000/internal/scrape"
	"github.com/marcelkurvers/funda-woning-check-sub000/internal/web"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

func main() {
	settings := woningcheck.LoadSettings().Snapshot()

	// Flags override the WONING_* environment defaults.
	var (
		addr        = flag.String("addr", settings.HTTPAddr, "HTTP listen address")
		dbPath      = flag.String("db", settings.DBPath, "SQLite database path")
		workers     = flag.Int("workers", settings.MaxWorkers, "Parallel analysis workers")
		marketMean  = flag.Int("market-mean", settings.MarketMeanPerM2, "Reference market €/m² for valuation banding")
		prefsPath   = flag.String("preferences", settings.PreferencesPath, "Persona preferences YAML (optional)")
		verbose     = flag.Bool("verbose", false, "Debug logging")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("woningcheck %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(settings, *addr, *dbPath, *workers, *marketMean, *prefsPath, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(settings woningcheck.Config, addr, dbPath string, workers, marketMean int, prefsPath string, logger *slog.Logger) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	store := db.NewStore(database)

	prefs := enrich.DefaultPreferences()
	if prefsPath != "" {
		prefs, err = enrich.LoadPreferences(prefsPath)
		if err != nil {
			return fmt.Errorf("failed to load preferences: %w", err)
		}
		logger.Info("Loaded persona preferences", "path", prefsPath, "personas", len(prefs.Personas))
	}

	governance, err := woningcheck.NewGovernanceFromConfig(woningcheck.GovernanceConfig{
		Environment:            settings.Env,
		DefaultLevel:           settings.TruthPolicy,
		AllowPartialGeneration: settings.AllowPartialGeneration,
		OfflineStructuralMode:  settings.OfflineStructuralMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("invalid governance configuration: %w", err)
	}
	authority := ai.NewAuthority(ai.LoadKeysFromEnv(), nil, logger)
	generator := chapters.NewGenerator(authority,
		governance.EffectiveLevel() == woningcheck.PolicyStrict, logger)

	runs := woningcheck.NewRunStore(logger)
	pipeline := woningcheck.NewPipeline(runs, generator, governance, prefs, marketMean, logger)
	pool := woningcheck.NewPool(pipeline, runs, workers, logger)
	server := web.NewServer(runs, store, pool, scrape.New(logger), authority, logger)
	if settings.Env == woningcheck.EnvTest {
		server.EnableTestMode()
	}

	// Every phase transition is persisted, audited and pushed to
	// live-status subscribers.
	pipeline.OnProgress(func(run *woningcheck.RunRecord, phase woningcheck.Phase) {
		if err := store.SaveRun(run); err != nil {
			logger.Error("Failed to persist run", "run", run.ID, "error", err)
		}
		if err := store.AppendEvent(run.ID, "phase_changed", map[string]any{
			"phase":    string(phase),
			"progress": run.Progress,
		}); err != nil {
			logger.Error("Failed to append event", "run", run.ID, "error", err)
		}
		server.BroadcastRun(run.ID, "phase:"+string(phase))
	})

	// Failures never reach OnProgress; they get their own durable path.
	runs.OnFail(func(run *woningcheck.RunRecord) {
		if err := store.SaveRun(run); err != nil {
			logger.Error("Failed to persist failed run", "run", run.ID, "error", err)
		}
		if err := store.AppendEvent(run.ID, "run_failed", map[string]string{
			"error": run.Error,
			"tag":   string(run.ErrorTag),
		}); err != nil {
			logger.Error("Failed to append event", "run", run.ID, "error", err)
		}
		server.BroadcastRun(run.ID, "failed:"+string(run.ErrorTag))
	})

	// The sweeper prunes the in-memory store; the same tick trims the
	// durable history past the retention window.
	pool.OnCleanup(func() {
		deleted, err := store.DeleteRunsBefore(time.Now().Add(-settings.DBRetention))
		if err != nil {
			logger.Error("Failed to prune persisted runs", "error", err)
			return
		}
		if deleted > 0 {
			logger.Info("Pruned persisted runs", "deleted", deleted)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	pool.Start(ctx)
	defer func() {
		pool.Stop()
		recordUsage(context.Background(), store, authority, logger)
	}()

	logger.Info("Woningcheck ready",
		"addr", addr,
		"env", settings.Env,
		"policy", governance.EffectiveLevel(),
		"workers", workers,
		"market_mean", marketMean)

	if err := server.Start(addr); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// recordUsage persists cumulative provider token usage on shutdown.
func recordUsage(ctx context.Context, store *db.Store, authority *ai.Authority, logger *slog.Logger) {
	status := authority.Status(ctx)
	for provider, usage := range status.Usage {
		if usage.TotalRequests == 0 {
			continue
		}
		if err := store.RecordUsage("", provider, status.ActiveModel,
			int(usage.InputTokens), int(usage.OutputTokens)); err != nil {
			logger.Error("Failed to record usage", "provider", provider, "error", err)
		}
	}
}
