package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/www-e/formnew/internal/config"
	"github.com/www-e/formnew/internal/logger"
	"github.com/www-e/formnew/internal/notify"
	"github.com/www-e/formnew/internal/roster"
	"github.com/www-e/formnew/internal/schedule"
	"github.com/www-e/formnew/internal/store"
	"github.com/www-e/formnew/internal/sweeper"
)

// Standalone auto-absence sweep worker, for running the sweep without the
// API process (headless deployments, cron-adjacent setups).
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	var port roster.DocumentStore
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect failed")
		}
		defer pg.Close()
		port = pg
	case "memory":
		log.Fatal().Msg("memory store makes no sense for a standalone sweeper")
	default:
		port = store.NewFile(cfg.DataFile)
	}

	var notifier notify.Notifier
	if cfg.NotifyBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		notifier = notify.NewRedis(redisClient.Client, cfg.NotifyChannel, log)
	} else {
		notifier = notify.NewMemory(64)
	}

	rosterStore := roster.NewStore(port, log)
	if err := rosterStore.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("document load failed")
	}

	sweep := sweeper.New(rosterStore, schedule.Default(), notifier, cfg.SweepInterval, cfg.AbsenceGrace, log)
	sweep.Start(ctx)

	<-ctx.Done()
	sweep.Stop()
	log.Info().Msg("sweeper stopped")
}
