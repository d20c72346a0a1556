package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/KimMachineGun/automemlimit"

	"github.com/pranav1703/queuectl/cmd"
	"github.com/pranav1703/queuectl/internal/config"
	"github.com/pranav1703/queuectl/internal/storage"
	"github.com/pranav1703/queuectl/internal/storage/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return 1
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	store, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		return 1
	}
	defer store.Close()

	return cmd.Execute(&cmd.App{Config: cfg, Store: store, Logger: logger})
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.JobStore, error) {
	if cfg.UsePostgres() {
		return postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns, postgres.WithLogger(logger))
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return storage.NewStore(ctx, cfg.SQLitePath(),
		storage.WithLogger(logger),
		storage.WithBusyTimeout(cfg.BusyTimeout()),
	)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
