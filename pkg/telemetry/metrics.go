package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for a glacierd daemon.
// The zero value and instances built with a disabled config are no-ops.
type Metrics struct {
	config MetricsConfig

	// Command metrics
	commandsHandled *prometheus.CounterVec

	// Event bus metrics
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	busSubscribers  prometheus.Gauge

	// Session metrics
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter

	// Build metrics
	buildsTotal   *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		commandsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_handled_total",
				Help:      "Total number of commands handled",
			},
			[]string{"type", "status"},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of events published to the bus",
			},
			[]string{"type"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped by slow subscribers",
			},
			[]string{"type"},
		),
		busSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bus_subscribers",
				Help:      "Current number of event bus subscribers",
			},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Current number of connected client sessions",
			},
		),
		sessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of client sessions accepted",
			},
		),
		buildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of install and switch builds",
			},
			[]string{"kind", "status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of install and switch builds in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"kind", "status"},
		),
	}

	registry.MustRegister(
		m.commandsHandled,
		m.eventsPublished,
		m.eventsDropped,
		m.busSubscribers,
		m.sessionsActive,
		m.sessionsTotal,
		m.buildsTotal,
		m.buildDuration,
	)

	return m, nil
}

// RecordCommand records a handled command and its outcome.
func (m *Metrics) RecordCommand(commandType, status string) {
	if m == nil || m.commandsHandled == nil {
		return
	}
	m.commandsHandled.WithLabelValues(commandType, status).Inc()
}

// RecordEventPublished increments the published counter for an event type.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil || m.eventsPublished == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped increments the dropped counter for an event type.
func (m *Metrics) RecordEventDropped(eventType string) {
	if m == nil || m.eventsDropped == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

// SetBusSubscribers sets the current subscriber count.
func (m *Metrics) SetBusSubscribers(count float64) {
	if m == nil || m.busSubscribers == nil {
		return
	}
	m.busSubscribers.Set(count)
}

// SessionOpened records a newly accepted client session.
func (m *Metrics) SessionOpened() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

// SessionClosed records a closed client session.
func (m *Metrics) SessionClosed() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Dec()
}

// RecordBuild records a completed build with its kind, status, and duration.
func (m *Metrics) RecordBuild(kind, status string, duration time.Duration) {
	if m == nil || m.buildsTotal == nil {
		return
	}
	m.buildsTotal.WithLabelValues(kind, status).Inc()
	m.buildDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics endpoint.
// It returns immediately; serve errors are logged and do not stop the daemon.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	return nil
}
