package observability

import (
	"strconv"
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// Metrics holds all application metrics
type Metrics struct {
	// Pipeline metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Outbox dispatcher metrics
	OutboxMessagesTotal *prometheus.CounterVec
	OutboxClaimedTotal  prometheus.Counter
	OutboxCycleDuration prometheus.Histogram
	OutboxBacklog       *prometheus.GaugeVec
	OutboxCleanedTotal  prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_commands_total",
				Help:      "Total number of commands by name and outcome",
			},
			[]string{"command", "outcome"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_command_duration_seconds",
				Help:      "Command execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		OutboxMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_messages_total",
				Help:      "Outbox messages processed by destination and final status",
			},
			[]string{"destination", "status"},
		),
		OutboxClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_claimed_total",
				Help:      "Total number of outbox messages claimed",
			},
		),
		OutboxCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "outbox_cycle_duration_seconds",
				Help:      "Duration of one claim-send-mark cycle",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),
		OutboxBacklog: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_backlog",
				Help:      "Outbox rows by state",
			},
			[]string{"state"},
		),
		OutboxCleanedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_cleaned_total",
				Help:      "Processed outbox rows removed by retention",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Read-through cache lookups by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.CommandsTotal,
		m.CommandDuration,
		m.OutboxMessagesTotal,
		m.OutboxClaimedTotal,
		m.OutboxCycleDuration,
		m.OutboxBacklog,
		m.OutboxCleanedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.CacheLookups,
	)

	return m
}

func (m *Metrics) ObserveCommand(command, outcome string, d time.Duration) {
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveCycle(claimed int, d time.Duration) {
	m.OutboxClaimedTotal.Add(float64(claimed))
	m.OutboxCycleDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveMessage(destination, status string) {
	m.OutboxMessagesTotal.WithLabelValues(destination, status).Inc()
}

func (m *Metrics) ObserveCleanup(deleted int64) {
	m.OutboxCleanedTotal.Add(float64(deleted))
}

func (m *Metrics) SetBacklog(s outbox.Stats) {
	m.OutboxBacklog.WithLabelValues("pending").Set(float64(s.Pending))
	m.OutboxBacklog.WithLabelValues("locked").Set(float64(s.Locked))
	m.OutboxBacklog.WithLabelValues("completed").Set(float64(s.Completed))
	m.OutboxBacklog.WithLabelValues("errored").Set(float64(s.Errored))
}

func (m *Metrics) SetBreakerState(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
