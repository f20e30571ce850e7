// Package main is the entry point for the Divvy income-portfolio service. It
// wires the storage layer, the scoring pipeline, the optimizer and backtest
// engine, the snapshot refresh schedule, and the HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/divvy/internal/config"
	"github.com/aristath/divvy/internal/database"
	"github.com/aristath/divvy/internal/engine"
	"github.com/aristath/divvy/internal/modules/backtest"
	"github.com/aristath/divvy/internal/modules/history"
	"github.com/aristath/divvy/internal/modules/optimizer"
	"github.com/aristath/divvy/internal/modules/orchestrator"
	"github.com/aristath/divvy/internal/modules/risk"
	"github.com/aristath/divvy/internal/modules/scoring"
	"github.com/aristath/divvy/internal/modules/sustainability"
	"github.com/aristath/divvy/internal/modules/tiers"
	"github.com/aristath/divvy/internal/modules/universe"
	"github.com/aristath/divvy/internal/scheduler"
	"github.com/aristath/divvy/internal/server"
	"github.com/aristath/divvy/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)
	log.Info().Msg("Starting Divvy")

	// Databases: durable universe and history, recomputable score cache
	universeDB, err := database.New(database.Config{
		Path: cfg.UniverseDBPath(), Profile: database.ProfileStandard, Name: "universe",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open universe database")
	}
	defer universeDB.Close()

	historyDB, err := database.New(database.Config{
		Path: cfg.HistoryDBPath(), Profile: database.ProfileStandard, Name: "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	cacheDB, err := database.New(database.Config{
		Path: cfg.CacheDBPath(), Profile: database.ProfileCache, Name: "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	ctx := context.Background()

	universeRepo := universe.NewRepository(universeDB.Conn(), log)
	historyRepo := history.NewRepository(historyDB.Conn(), log)
	universeLoader := universe.NewLoader(universeRepo, historyRepo, log)
	scoreCache := scoring.NewCache(cacheDB.Conn(), log)
	for _, init := range []func(context.Context) error{
		universeRepo.InitSchema, historyRepo.InitSchema, scoreCache.InitSchema,
	} {
		if err := init(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize schema")
		}
	}

	tierSet, err := tiers.Load(cfg.TiersFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load tier definitions")
	}

	sustainAnalyzer := sustainability.NewAnalyzer(sustainability.Config{})
	riskAnalyzer := risk.NewAnalyzer(risk.Config{RiskFreeRate: cfg.RiskFreeRate})

	store := scoring.NewStore()
	builder := scoring.NewBuilder(
		scoring.BuilderConfig{BenchmarkSymbol: cfg.BenchmarkSymbol},
		universeRepo, historyRepo, sustainAnalyzer, riskAnalyzer, scoreCache, log,
	)

	opt := optimizer.New(optimizer.DefaultConfig(), log)
	orch := orchestrator.New(opt, tierSet, log)
	backtester := backtest.New(historyRepo, builder, opt, backtest.Config{
		RiskFreeRate: cfg.RiskFreeRate,
	}, log)

	eng := engine.New(
		engine.Config{BenchmarkSymbol: cfg.BenchmarkSymbol},
		store, opt, orch, backtester, tierSet,
		historyRepo, universeRepo, sustainAnalyzer, riskAnalyzer, log,
	)

	refreshJob := scheduler.NewSnapshotRefreshJob(universeLoader, builder, store, 30*time.Minute, log)

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.SnapshotRefreshCron, refreshJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule snapshot refresh")
	}
	sched.Start()
	defer sched.Stop()

	// Build the first snapshot in the background so the API comes up
	// immediately; /health reports "starting" until it lands.
	go func() {
		if err := sched.RunNow(refreshJob); err != nil {
			log.Error().Err(err).Msg("Initial snapshot build failed")
		}
	}()

	srv := server.New(server.Config{
		Log:        log,
		Engine:     eng,
		Store:      store,
		RefreshJob: refreshJob,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}
