package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/geoquiz-ledger/internal/cli"
	"github.com/geoquiz-ledger/internal/config"
	"github.com/geoquiz-ledger/internal/ledger"
	"github.com/geoquiz-ledger/internal/postgres"
	"github.com/geoquiz-ledger/internal/redis"
	"github.com/geoquiz-ledger/internal/service"
	"github.com/geoquiz-ledger/internal/sqlite"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(openDevice).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// newLogger keeps the terminal quiet unless debug logging is configured
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := cfg.SlogLevel()
	if level > slog.LevelDebug && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// openDevice opens the on-device ledger and, when configured, the global
// board. An unreachable global board leaves the device local-only.
func openDevice(ctx context.Context, opts *cli.RootOptions) (*cli.App, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging)

	store, err := sqlite.Open(cfg.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	closers := []func() error{store.Close}
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	local := ledger.New(store, logger)
	session, err := local.Session(ctx)
	if err != nil {
		closeAll()
		return nil, err
	}

	var remote service.RemoteLedger
	if cfg.Postgres.Enabled {
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			logger.Warn("global leaderboard unreachable, playing offline", "error", err)
		} else {
			closers = append(closers, func() error {
				repo.Close()
				return nil
			})

			board := service.NewGlobalBoard(repo, &cfg.Ledger, logger)
			if cfg.Redis.Enabled {
				cache, err := redis.NewLeaderboardCache(ctx, &cfg.Redis, logger)
				if err != nil {
					logger.Warn("leaderboard cache unreachable", "error", err)
				} else {
					closers = append(closers, cache.Close)
					board.SetCache(cache, cfg.Redis.CacheDepth)
				}
			}
			remote = board
		}
	}

	engine := service.NewEngine(local, remote, &session, &cfg.Ledger, logger)
	return &cli.App{Engine: engine, Close: closeAll}, nil
}
