package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/eventrelay/internal/infrastructure/config"
	"github.com/cassiomorais/eventrelay/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/eventrelay/internal/infrastructure/redis"
	"github.com/cassiomorais/eventrelay/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	shutdownTracer func(context.Context) error
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.ServiceLogger(
		observability.InitLogger(cfg.Observability.LogLevel, os.Stdout),
		serviceName, cfg.InstanceID,
	)
	logger.Info().Msg("Starting")

	shutdownTracer, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint, cfg.Observability.EnableTracing)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		shutdownTracer = func(context.Context) error { return nil }
	} else if cfg.Observability.EnableTracing {
		logger.Info().Msg("Tracing enabled")
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)
	logger.Info().Msg("Metrics initialized")

	pool, err := postgres.NewPool(ctx, &cfg.Database, serviceName)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:         cfg,
		Logger:         logger,
		Pool:           pool,
		Redis:          redisClient,
		Metrics:        metrics,
		shutdownTracer: shutdownTracer,
	}, nil
}

// Close flushes pending spans and releases connections.
func (a *App) Close(ctx context.Context) {
	if err := a.shutdownTracer(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Tracer shutdown failed")
	}
	a.Redis.Close()
	a.Pool.Close()
}
