// Command api is the stockwatch server: it polls inventory and release
// sources on a schedule, delivers alerts, and serves the rules and
// releases API.
//
// Usage:
//
//	stockwatch-api
//	API_PORT=8080 STORAGE_BACKEND=memory stockwatch-api

// @title stockwatch API
// @version 1.0.0
// @description Watch rules over retailer inventory and the release timeline of upcoming sealed products.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @license.name MIT
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

	"github.com/joho/godotenv"

	"github.com/albapepper/stockwatch/internal/api"
	"github.com/albapepper/stockwatch/internal/api/handler"
	"github.com/albapepper/stockwatch/internal/app"
	"github.com/albapepper/stockwatch/internal/cache"
	"github.com/albapepper/stockwatch/internal/config"
	"github.com/albapepper/stockwatch/internal/db"
	"github.com/albapepper/stockwatch/internal/listener"
	"github.com/albapepper/stockwatch/internal/scheduler"

	_ "github.com/albapepper/stockwatch/docs" // swagger docs
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.StorageBackend == "postgres" {
		logger.Info("Applying schema...")
		if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
			logger.Error("Failed to apply schema", "error", err)
			os.Exit(1)
		}
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	appCache := cache.New(cfg.CacheEnabled)
	go appCache.EvictLoop(ctx.Done(), time.Minute)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	go a.Dispatcher.Run(ctx)
	go scheduler.Start(ctx, a.Tasks(), logger)

	deps := handler.Deps{
		Cache:       appCache,
		Rules:       a.Rules,
		Tracker:     a.Tracker,
		Digest:      a.Digest,
		HorizonDays: cfg.DigestHorizonDays,
		Pipeline:    a.Pipeline,
		Dedup:       a.Dedup,
		Dispatch:    a.Dispatcher,
	}
	if a.Pool != nil {
		deps.DB = a.Pool
		// Rule edits from other processes reach this engine via NOTIFY.
		go listener.Start(ctx, cfg.DatabaseURL, a.Rules, logger)
	}

	router := api.NewRouter(deps, cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting stockwatch API",
			"addr", addr,
			"environment", cfg.Environment,
			"storage", cfg.StorageBackend,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
