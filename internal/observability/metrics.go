package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hazard"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// fetch pipeline, alert matching and geocoding.
type Metrics struct {
	SchedulerRunning prometheus.Gauge

	// Source metrics.
	SourceFetches       *prometheus.CounterVec   // labels: source, outcome={success,empty,error,panic,abandoned}
	SourceFetchDuration *prometheus.HistogramVec // labels: source
	RecordsDropped      *prometheus.CounterVec   // labels: kind, reason={invalid,not_hazard}

	// Cycle metrics.
	Cycles        *prometheus.CounterVec   // labels: kind, outcome={ok,degraded,failed}
	CycleDuration *prometheus.HistogramVec // labels: kind
	Degraded      *prometheus.GaugeVec     // labels: kind
	ActiveEvents  *prometheus.GaugeVec     // labels: kind
	NewEvents     *prometheus.CounterVec   // labels: kind

	// Alert metrics.
	NotificationsCreated *prometheus.CounterVec // labels: kind
	NotificationsDeduped *prometheus.CounterVec // labels: kind
	AlertDispatchErrors  prometheus.Counter

	// Stream metrics.
	MessagesPublished *prometheus.CounterVec // labels: topic
	PublishErrors     *prometheus.CounterVec // labels: topic

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the polling scheduler is active, 0 when shut down.",
		}),
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Adapter fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of one adapter fetch, including mirror fallbacks.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 8, 10, 15},
		}, []string{"source"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Provisional records rejected by the normalizer.",
		}, []string{"kind", "reason"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed orchestrator cycles by kind and outcome.",
		}, []string{"kind", "outcome"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-merge-persist cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 15, 20, 30},
		}, []string{"kind"}),
		Degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded",
			Help:      "1 when the last cycle for a kind served stale cached data.",
		}, []string{"kind"}),
		ActiveEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_events",
			Help:      "Events in the active set after the last cycle.",
		}, []string{"kind"}),
		NewEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_events_total",
			Help:      "Identity keys seen for the first time and handed to alerting.",
		}, []string{"kind"}),
		NotificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications inserted.",
		}, []string{"kind"}),
		NotificationsDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_deduplicated_total",
			Help:      "Notification inserts skipped because the pair already existed.",
		}, []string{"kind"}),
		AlertDispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_dispatch_errors_total",
			Help:      "Alert evaluations that failed after all retries.",
		}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages written to the event stream by topic.",
		}, []string{"topic"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed event stream writes by topic.",
		}, []string{"topic"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when place-name enrichment is enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SchedulerRunning,
		m.SourceFetches,
		m.SourceFetchDuration,
		m.RecordsDropped,
		m.Cycles,
		m.CycleDuration,
		m.Degraded,
		m.ActiveEvents,
		m.NewEvents,
		m.NotificationsCreated,
		m.NotificationsDeduped,
		m.AlertDispatchErrors,
		m.MessagesPublished,
		m.PublishErrors,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
