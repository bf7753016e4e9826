package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for testflight-sentinel.
type Metrics struct {
	registry                 *prometheus.Registry
	cycleDurationSeconds     prometheus.Histogram
	targetsTotal             *prometheus.GaugeVec
	fetchErrorsTotal         prometheus.Counter
	eventsTotal              *prometheus.CounterVec
	notificationsFailedTotal prometheus.Counter
	lastSuccessfulCycleGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		cycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "testflight_sentinel_cycle_duration_seconds",
			Help:    "Duration of poll cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		targetsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "testflight_sentinel_targets_total",
			Help: "Monitored targets by last classified status.",
		}, []string{"status"}),
		fetchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testflight_sentinel_fetch_errors_total",
			Help: "Total page fetches that failed.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testflight_sentinel_events_total",
			Help: "Total transition events fired by kind.",
		}, []string{"kind"}),
		notificationsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testflight_sentinel_notifications_failed_total",
			Help: "Total notifications dropped after all attempts failed.",
		}),
		lastSuccessfulCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "testflight_sentinel_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last cycle whose state was saved.",
		}),
	}

	registry.MustRegister(
		m.cycleDurationSeconds,
		m.targetsTotal,
		m.fetchErrorsTotal,
		m.eventsTotal,
		m.notificationsFailedTotal,
		m.lastSuccessfulCycleGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycleDuration records the duration of a completed cycle.
func (m *Metrics) ObserveCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDurationSeconds.Observe(duration.Seconds())
}

// SetTargetsTotal sets the targets gauge for the given status.
func (m *Metrics) SetTargetsTotal(status string, value int) {
	if m == nil {
		return
	}
	m.targetsTotal.WithLabelValues(status).Set(float64(value))
}

// IncFetchErrors increments the fetch error counter.
func (m *Metrics) IncFetchErrors() {
	if m == nil {
		return
	}
	m.fetchErrorsTotal.Inc()
}

// IncEventsTotal increments the events counter for the given kind.
func (m *Metrics) IncEventsTotal(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

// IncNotificationsFailed increments the undelivered notification counter.
func (m *Metrics) IncNotificationsFailed() {
	if m == nil {
		return
	}
	m.notificationsFailedTotal.Inc()
}

// SetLastSuccessfulCycleTimestamp sets the last successful cycle time.
func (m *Metrics) SetLastSuccessfulCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCycleGauge.Set(float64(t.Unix()))
}
