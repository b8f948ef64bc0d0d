package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"logingate/internal/audit"
	"logingate/internal/cache"
	"logingate/internal/config"
	"logingate/internal/database"
	"logingate/internal/handlers"
	"logingate/internal/jobs"
	"logingate/internal/log"
	"logingate/internal/metrics"
	"logingate/internal/middleware"
	"logingate/internal/repository"
	"logingate/internal/security"
	"logingate/internal/server"
	"logingate/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var (
		dbPool *pgxpool.Pool
		sqlDB  *sql.DB
	)
	if cfg.NeedsPostgres() {
		dbPool, err = database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect postgres")
		}
		sqlDB = database.OpenSQL(dbPool)
		if err := database.Migrate(ctx, sqlDB); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate postgres")
		}
	}

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
	}

	var accounts repository.AccountStore = repository.NewMemoryAccountStore()
	if cfg.Accounts.Backend == config.BackendPostgres {
		accounts = repository.NewAccountRepository(sqlDB)
	}

	var sessionStore repository.SessionStore
	switch cfg.Sessions.Backend {
	case config.BackendPostgres:
		sessionStore = repository.NewSessionRepository(sqlDB)
	case config.BackendRedis:
		sessionStore = repository.NewRedisSessionStore(redisClient, cfg.Sessions.Retention)
	default:
		sessionStore = repository.NewMemorySessionStore()
	}

	hasher, err := security.NewHasher(cfg.Security.Hasher)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid hasher")
	}
	if err := service.SeedAccounts(ctx, accounts, hasher, cfg.Accounts.Seed, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed accounts")
	}

	var publisher audit.Publisher = audit.NopPublisher{}
	if cfg.Audit.Enabled {
		publisher = audit.NewStreamPublisher(redisClient, cfg.Audit.Stream)
	}

	if cfg.Security.Remember.SigningSecret == "" {
		logger.Warn().Msg("remember-me cookies carry the bare email; set security.remember.signingsecret to sign them")
	}
	codec := security.NewRememberCodec(cfg.Security.Remember.SigningSecret, cfg.Security.Remember.TTL)

	sessions := service.NewSessionManager(accounts, sessionStore, cfg.Security.IdleTimeout, cfg.Sessions.Retention, m, logger)
	remember := service.NewRememberService(accounts, sessions, codec, cfg.Security.Remember.TTL, publisher, logger)
	auth := service.NewAuthService(accounts, sessions, remember, hasher, publisher, m, cfg.Security, logger)

	deps := handlers.Dependencies{
		Auth:      auth,
		Sessions:  sessions,
		Remember:  remember,
		Publisher: publisher,
		Metrics:   m,
	}
	if cfg.RateLimit.Enabled {
		deps.Limiter = middleware.NewIPRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	}
	if dbPool != nil {
		deps.DB = dbPool
	}
	if redisClient != nil {
		deps.Cache = redisClient
	}

	httpServer := server.NewHTTPServer(cfg, logger, m, handlers.NewHandlerSet(logger, cfg, deps))

	scheduler := jobs.NewScheduler(sessions, cfg.Sessions.SweepSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop(shutdownCtx)

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
