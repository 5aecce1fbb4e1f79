package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/eventrelay/internal/bootstrap"
	"github.com/cassiomorais/eventrelay/internal/broker"
	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
	"github.com/cassiomorais/eventrelay/internal/infrastructure/config"
	"github.com/cassiomorais/eventrelay/internal/infrastructure/observability"
	"github.com/cassiomorais/eventrelay/internal/infrastructure/rabbitmq"
	infraRedis "github.com/cassiomorais/eventrelay/internal/infrastructure/redis"
	"github.com/cassiomorais/eventrelay/internal/repository/postgres"
	"github.com/cassiomorais/eventrelay/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

const backlogInterval = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.New(ctx, "eventrelay-worker", "eventrelay_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close(context.Background())

	cfg := app.Config
	outboxRepo := postgres.NewOutboxRepository(app.Pool)

	sender, closeSender, err := newSender(cfg, app)
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create broker sender")
		return
	}
	defer closeSender()

	dispatcher := worker.NewOutboxDispatcher(outboxRepo, sender, worker.DispatcherConfig{
		BatchSize:             cfg.Outbox.BatchSize,
		LockDuration:          cfg.Outbox.LockDuration,
		MaxProcessingAttempts: cfg.Outbox.MaxProcessingAttempts,
		IdleDelay:             cfg.Outbox.IdleDelay,
		Source:                cfg.Outbox.Source,
		DeadLetterDestination: cfg.Broker.DeadLetterDestination,
	}, app.Logger, worker.WithMetrics(app.Metrics))

	cleaner := worker.NewCleaner(outboxRepo, infraRedis.NewLocker(app.Redis), worker.CleanerConfig{
		Retention: cfg.Outbox.Retention,
		Interval:  cfg.Outbox.CleanupInterval,
		BatchSize: cfg.Outbox.CleanupBatchSize,
	}, app.Logger, worker.WithCleanupMetrics(app.Metrics))

	app.Logger.Info().
		Str("broker", cfg.Broker.Kind).
		Int("batch_size", cfg.Outbox.BatchSize).
		Msg("Worker started, dispatching outbox messages...")

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Outbox dispatcher.
	g.Go(func() error { return dispatcher.Run(gCtx) })

	// 2. Retention cleaner.
	g.Go(func() error { return cleaner.Run(gCtx) })

	// 3. Backlog gauge.
	g.Go(func() error { return reportBacklog(gCtx, outboxRepo, app.Metrics, app.Logger) })

	// 4. Metrics endpoint.
	if cfg.Observability.EnableMetrics {
		g.Go(func() error { return serveMetrics(gCtx, cfg.Observability.MetricsPort, app.Logger) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

// newSender builds the configured transport behind a circuit breaker.
func newSender(cfg *config.Config, app *bootstrap.App) (broker.Sender, func(), error) {
	var (
		next    broker.Sender
		closeFn func() error
	)

	switch cfg.Broker.Kind {
	case config.BrokerRabbitMQ:
		pub, err := rabbitmq.Dial(cfg.Broker.RabbitMQURL, cfg.Broker.Exchange)
		if err != nil {
			return nil, nil, err
		}
		s := rabbitmq.NewSender(pub, rabbitmq.Options{
			Exchange:       cfg.Broker.Exchange,
			ConfirmTimeout: cfg.Broker.ConfirmTimeout,
			MaxBatchBytes:  cfg.Broker.MaxBatchBytes,
			MaxMessages:    cfg.Broker.MaxBatchMessages,
		})
		next, closeFn = s, s.Close
	default:
		s := infraRedis.NewStreamSender(app.Redis,
			infraRedis.WithStreamPrefix(cfg.Broker.StreamPrefix),
			infraRedis.WithMaxLen(cfg.Broker.StreamMaxLen),
			infraRedis.WithBatchLimits(cfg.Broker.MaxBatchBytes, cfg.Broker.MaxBatchMessages),
		)
		next, closeFn = s, s.Close
	}

	sender := broker.NewBreakerSender(next, broker.BreakerSettings{
		Name:        cfg.Broker.Kind,
		MaxFailures: cfg.Broker.BreakerMaxFailures,
		Timeout:     cfg.Broker.BreakerTimeout,
		Interval:    cfg.Broker.BreakerInterval,
		OnStateChange: func(name string, to gobreaker.State) {
			app.Metrics.SetBreakerState(name, to)
		},
	}, app.Logger)
	app.Metrics.SetBreakerState(cfg.Broker.Kind, sender.State())

	return sender, func() {
		if err := closeFn(); err != nil {
			app.Logger.Warn().Err(err).Msg("Failed to close broker sender")
		}
	}, nil
}

func reportBacklog(ctx context.Context, stats outbox.StatsReader, metrics *observability.Metrics, logger zerolog.Logger) error {
	ticker := time.NewTicker(backlogInterval)
	defer ticker.Stop()
	for {
		s, err := stats.Stats(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("Failed to read outbox stats")
		} else if err == nil {
			metrics.SetBacklog(s)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func serveMetrics(ctx context.Context, port int, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
