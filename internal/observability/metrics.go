package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// external source aggregation pipeline.
type Metrics struct {
	FetchResults *prometheus.CounterVec // labels: source, status={online,partial,degraded}
	CacheLookups *prometheus.CounterVec // labels: source, result={hit,refresh,stale,cold}

	RefreshRuns     prometheus.Counter
	RefreshDuration prometheus.Histogram
	SnapshotErrors  prometheus.Gauge
	SnapshotUpdated prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests *prometheus.CounterVec // labels: method={centre,resolve}, outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: method={centre,resolve}, result={hit,miss}
}

// NewMetrics creates and registers all aggregation metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.FetchResults,
		m.CacheLookups,
		m.RefreshRuns,
		m.RefreshDuration,
		m.SnapshotErrors,
		m.SnapshotUpdated,
		m.GeocodeRequests,
		m.GeocodeCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics with no registry binding to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ope_protec",
			Name:      "source_fetch_results_total",
			Help:      "Live fetch outcomes by source and resulting status.",
		}, []string{"source", "status"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ope_protec",
			Name:      "source_cache_lookups_total",
			Help:      "TTL cache lookups by source and result.",
		}, []string{"source", "result"}),
		RefreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ope_protec",
			Name:      "refresh_runs_total",
			Help:      "Completed aggregation cycles, background and on-demand.",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ope_protec",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a full fan-out aggregation cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),
		SnapshotErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ope_protec",
			Name:      "snapshot_degraded_sources",
			Help:      "Number of degraded sources in the current snapshot.",
		}),
		SnapshotUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ope_protec",
			Name:      "snapshot_updated_timestamp_seconds",
			Help:      "Unix timestamp of the last published snapshot.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ope_protec",
			Name:      "geocode_requests_total",
			Help:      "Commune geocoding requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ope_protec",
			Name:      "geocode_cache_total",
			Help:      "Commune geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
	}
}
