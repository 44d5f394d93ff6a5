package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Anvoria/keyrelay/internal/config"
	"github.com/Anvoria/keyrelay/internal/server"
)

func main() {
	envConfig := config.LoadEnv()

	cfg, err := config.Load(envConfig.ConfigPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(envConfig)

	if err := cfg.Validate(envConfig.Environment); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Environment loaded", "environment", envConfig.Environment.String())
	if err := server.Start(ctx, cfg); err != nil {
		stop()
		os.Exit(1)
	}
}
