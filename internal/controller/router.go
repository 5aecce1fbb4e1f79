package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
	"github.com/cassiomorais/eventrelay/internal/infrastructure/config"
	"github.com/cassiomorais/eventrelay/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/eventrelay/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Accounts     AccountService
	OutboxStats  outbox.StatsReader
	HealthChecks []HealthCheck
	Metrics      *observability.Metrics
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
	CORS      config.CORSConfig
	RateLimit int
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: deps.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.HealthChecks...)
	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", metricsHandler(deps.Gatherer))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RateLimit(deps.RateLimit))

		if deps.Accounts != nil {
			accountH := NewAccountController(deps.Accounts)
			r.Post("/accounts", accountH.Create)
			r.Get("/accounts/{id}", accountH.Get)
			r.Post("/accounts/{id}/deposit", accountH.Deposit)
			r.Post("/accounts/{id}/withdraw", accountH.Withdraw)
			r.Post("/accounts/{id}/suspend", accountH.Suspend)
		}

		if deps.OutboxStats != nil {
			var observer StatsObserver
			if deps.Metrics != nil {
				observer = deps.Metrics
			}
			outboxH := NewOutboxController(deps.OutboxStats, observer)
			r.Get("/outbox/stats", outboxH.Stats)
		}
	})

	return r
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
