package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ian0520/gamestore/internal/config"
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

	slog.Info("gamestore record store starting")

	cfgPath := ConfigPath
	if p := os.Getenv("GAMESTORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded", "bind", cfg.DB.BindAddr(), "driver", cfg.DB.Driver)

	var repo store.Repository
	switch cfg.DB.Driver {
	case "memory":
		repo = store.NewMemory()
		slog.Info("using in-memory store, records do not survive restarts")
	case "", "postgres":
		if err := store.RunMigrations(ctx, cfg.DB.Postgres.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		pg, err := store.NewPostgres(ctx, cfg.DB.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pg.Close()
		slog.Info("database connected")
		repo = pg
	default:
		return fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}

	srv := store.NewServer(repo, slog.Default())
	if err := srv.Listen(ctx, cfg.DB.BindAddr()); err != nil {
		return fmt.Errorf("store server: %w", err)
	}
	return nil
}
