package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"hillpursuit/server/internal/config"
	"hillpursuit/server/internal/logging"
	"hillpursuit/server/internal/server"
	"hillpursuit/server/internal/store"
	"hillpursuit/server/internal/transport"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "gameserver:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logger.Close()

	recordStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer recordStore.Close()

	stats := transport.NewStats()
	mux, err := transport.Listen(cfg.Port, cfg.MaxPacketBytes, cfg.MaxFollowingDatagrams, stats, logger)
	if err != nil {
		return err
	}

	core, err := server.New(cfg, logger, recordStore,
		server.WithMux(mux), server.WithStats(stats))
	if err != nil {
		mux.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return core.Run(ctx)
	})

	logger.Info("gameserver listening",
		logging.Int("port", cfg.Port), logging.String("store", storeKind(cfg)))
	return group.Wait()
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.RedisAddr == "" {
		return store.NewMemory(), nil
	}
	return store.NewRedis(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

func storeKind(cfg *config.Config) string {
	if cfg.RedisAddr == "" {
		return "memory"
	}
	return "redis"
}
