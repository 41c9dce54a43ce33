package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/promptloom/loom/internal/completion"
	"github.com/promptloom/loom/internal/logging"
	"github.com/promptloom/loom/internal/scheduler"
	"github.com/promptloom/loom/internal/service"
	"github.com/promptloom/loom/internal/store"
)

func main() {
	cfg := loadConfig()

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	handler := logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("loom starting", slog.String("version", version), slog.String("db", cfg.DBPath))

	if err := os.MkdirAll(loomDir(), 0o755); err != nil {
		logger.Error("failed to create data dir", slog.String("error", err.Error()))
		os.Exit(1)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	completions := completion.NewClient(completion.ClientConfig{
		BaseURL: cfg.CompletionURL,
		APIKey:  cfg.CompletionAPIKey,
		Timeout: cfg.completionTimeout(),
	})

	svc, err := service.New(st, completions)
	if err != nil {
		logger.Error("failed to build service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sched := scheduler.NewScheduler(st, svc, cfg.PoolSize, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("loom shutting down")
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop failed", slog.String("error", err.Error()))
	}
}
