package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"logingate/internal/cache"
	"logingate/internal/config"
	"logingate/internal/log"
	"logingate/internal/queue"
	"logingate/internal/storage"
	"logingate/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("component", "audit-worker").Logger()

	if !cfg.Audit.Enabled {
		logger.Warn().Msg("audit disabled, nothing will be published to the stream")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	store, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure audit bucket failed")
	}

	processor := tasks.NewProcessor(store, logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Audit.Stream,
		cfg.Audit.Group,
		cfg.Audit.Consumer,
		cfg.Audit.ClaimInterval,
		logger,
		processor,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
