package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the engine updates as each prefix
// is prepared, as reads begin and end, and when a run ends. These are carried even though the HTTP/metrics surface itself
// is out of scope, mirroring the teacher's practice of instrumenting
// internal refresh pipelines regardless of what consumes the exposition.
type Metrics struct {
	refreshesTotal   *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	revisionProgress prometheus.Gauge
	inFlightReads    prometheus.Gauge
	preparedPrefixes prometheus.Gauge
}

// NewMetrics registers and returns a [Metrics] on reg. reg must not be nil;
// pass [prometheus.NewRegistry]() in tests to avoid colliding with the
// default registry across test runs.
func NewMetrics(reg prometheus.Registerer) (m *Metrics) {
	m = &Metrics{
		refreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pwnedrange",
			Subsystem: "engine",
			Name:      "refreshes_total",
			Help:      "Number of completed refresh attempts by terminal status.",
		}, []string{"status"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pwnedrange",
			Subsystem: "engine",
			Name:      "refresh_duration_seconds",
			Help:      "Wall-clock duration of a refresh run from start to a terminal status.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		revisionProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pwnedrange",
			Subsystem: "engine",
			Name:      "revision_progress_percent",
			Help:      "Progress percentage of the current or most recent refresh.",
		}),
		inFlightReads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pwnedrange",
			Subsystem: "engine",
			Name:      "in_flight_reads",
			Help:      "Number of reads currently registered against the active dataset slot.",
		}),
		preparedPrefixes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pwnedrange",
			Subsystem: "engine",
			Name:      "prepared_prefixes",
			Help:      "Total prefixes prepared across all workers in the current run.",
		}),
	}

	reg.MustRegister(
		m.refreshesTotal,
		m.refreshDuration,
		m.revisionProgress,
		m.inFlightReads,
		m.preparedPrefixes,
	)

	return m
}
