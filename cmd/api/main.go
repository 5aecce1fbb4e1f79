package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	accountApp "github.com/cassiomorais/eventrelay/internal/application/account"
	"github.com/cassiomorais/eventrelay/internal/application/cache"
	"github.com/cassiomorais/eventrelay/internal/application/dispatch"
	"github.com/cassiomorais/eventrelay/internal/application/pipeline"
	"github.com/cassiomorais/eventrelay/internal/bootstrap"
	"github.com/cassiomorais/eventrelay/internal/controller"
	infraRedis "github.com/cassiomorais/eventrelay/internal/infrastructure/redis"
	"github.com/cassiomorais/eventrelay/internal/repository/postgres"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "eventrelay-api", "eventrelay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close(context.Background())

	cfg := app.Config

	// --- Repositories ---
	accountRepo := postgres.NewAccountRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	uowFactory := postgres.NewUnitOfWorkFactory(app.Pool)

	// --- Cache ---
	var (
		accountCache cache.Cache
		invalidator  *cache.Invalidator
	)
	if cfg.Cache.Enabled {
		redisCache := infraRedis.NewCache(app.Redis, cfg.Cache.Prefix, cfg.Cache.TTL)
		accountCache = redisCache
		invalidator = cache.NewInvalidator(redisCache, accountApp.NewInvalidationPolicy(), app.Logger)
	}

	// --- Domain event handlers ---
	dispatcher := dispatch.NewDispatcher(app.Logger)
	if err := accountApp.RegisterHandlers(dispatcher, invalidator); err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to register domain event handlers")
	}

	// --- Application services ---
	accounts := accountApp.NewService(accountApp.Deps{
		Repo:       accountRepo,
		Dispatcher: dispatcher,
		Pipeline: pipeline.Deps{
			Logger:             app.Logger,
			Metrics:            app.Metrics,
			Validators:         pipeline.NewValidatorRegistry(),
			UnitOfWork:         uowFactory,
			Outbox:             outboxRepo,
			DefaultDestination: cfg.Outbox.DefaultTopicName,
		},
		Cache:        accountCache,
		CacheTTL:     cfg.Cache.TTL,
		CacheMetrics: app.Metrics,
		Logger:       app.Logger,
	})

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Accounts:    accounts,
		OutboxStats: outboxRepo,
		HealthChecks: []controller.HealthCheck{
			{Name: "database", Ping: app.Pool.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }},
		},
		Metrics:   app.Metrics,
		Logger:    app.Logger,
		CORS:      cfg.Server.CORS,
		RateLimit: cfg.Server.RateLimit,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
