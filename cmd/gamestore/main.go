// Command gamestore runs all three services in one process, which is the
// convenient way to develop locally: with driver "memory" it needs no
// database at all.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Ian0520/gamestore/internal/config"
	"github.com/Ian0520/gamestore/internal/devserver"
	"github.com/Ian0520/gamestore/internal/lobby"
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

	slog.Info("gamestore platform starting")

	cfgPath := ConfigPath
	if p := os.Getenv("GAMESTORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var repo store.Repository
	switch cfg.DB.Driver {
	case "memory":
		repo = store.NewMemory()
		slog.Info("using in-memory store, records do not survive restarts")
	case "", "postgres":
		if err := store.RunMigrations(ctx, cfg.DB.Postgres.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		pg, err := store.NewPostgres(ctx, cfg.DB.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pg.Close()
		repo = pg
	default:
		return fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}

	// The developer and lobby services share the repository in-process; the
	// store listener still runs so external tools can reach the records.
	storeSrv := store.NewServer(repo, slog.Default())
	devSrv := devserver.New(cfg.DeveloperServer, repo, slog.Default())
	lobbySrv := lobby.New(cfg.LobbyServer, repo, slog.Default())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting record store")
		if err := storeSrv.Listen(gctx, cfg.DB.BindAddr()); err != nil {
			return fmt.Errorf("store server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting developer service")
		if err := devSrv.Listen(gctx); err != nil {
			return fmt.Errorf("developer server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting lobby service")
		if err := lobbySrv.Listen(gctx); err != nil {
			return fmt.Errorf("lobby server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
