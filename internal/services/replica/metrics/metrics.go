// Package metrics exposes replica progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "replica"

const (
	resultOK    = "ok"
	resultError = "error"
	resultFatal = "fatal"
)

// Metrics holds the replica collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	eventsIntegrated prometheus.Counter
	compactions      prometheus.Counter
	entityCount      prometheus.Gauge
	backoff          prometheus.Gauge
	initialized      prometheus.Gauge
	lastPoll         prometheus.Gauge
}

// New registers the replica collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Scheduler cycles by result",
		}, []string{"result"}), // ok, error, fatal
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one scheduler cycle",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		eventsIntegrated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_integrated_total",
			Help:      "Remote events appended to the replica log",
		}),
		compactions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Log rewrites onto a fresher snapshot",
		}),
		entityCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entity_count",
			Help:      "Distinct entities known to the replica",
		}),
		backoff: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Current poll interval",
		}),
		initialized: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "initialized",
			Help:      "1 once bootstrap has completed",
		}),
		lastPoll: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last successful catchup poll",
		}),
	}
}

// ObserveCycle records the outcome of one scheduler cycle.
func (m *Metrics) ObserveCycle(duration time.Duration, integrated int, compacted bool, err error) {
	if m == nil {
		return
	}
	result := resultOK
	switch {
	case domain.IsFatal(err):
		result = resultFatal
	case err != nil:
		result = resultError
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(duration.Seconds())
	if integrated > 0 {
		m.eventsIntegrated.Add(float64(integrated))
	}
	if compacted {
		m.compactions.Inc()
	}
}

// ObserveState publishes the persisted replica state.
func (m *Metrics) ObserveState(state domain.State) {
	if m == nil {
		return
	}
	m.entityCount.Set(float64(state.EntityCount))
	m.backoff.Set(state.BackoffInterval.Seconds())
	if state.Phase.Initialized() {
		m.initialized.Set(1)
	} else {
		m.initialized.Set(0)
	}
	if !state.LastPollTime.IsZero() {
		m.lastPoll.Set(float64(state.LastPollTime.Unix()))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	return mux
}
