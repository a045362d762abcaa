package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ian0520/gamestore/internal/config"
	"github.com/Ian0520/gamestore/internal/devserver"
	"github.com/Ian0520/gamestore/internal/store"
)

const ConfigPath = "config/gamestore.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	slog.Info("gamestore developer service starting")

	cfgPath := ConfigPath
	if p := os.Getenv("GAMESTORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded",
		"bind", cfg.DeveloperServer.BindAddr(),
		"store", cfg.DB.Addr(),
		"uploadRoot", cfg.DeveloperServer.UploadRoot)

	repo := store.NewClient(cfg.DB.Addr())
	srv := devserver.New(cfg.DeveloperServer, repo, slog.Default())
	if err := srv.Listen(ctx); err != nil {
		return fmt.Errorf("developer server: %w", err)
	}
	return nil
}
