package observability

import (
	"github.com/couchcryptid/emissions-equity-map/internal/choropleth"
	"github.com/couchcryptid/emissions-equity-map/internal/readiness"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "emissions_map"

// Metrics holds the Prometheus counters, histograms, and gauges for the map service.
type Metrics struct {
	// Dataset loading metrics. Labels: kind={facilities,ranks,boundaries}.
	RowsAccepted *prometheus.CounterVec
	RowsRejected *prometheus.CounterVec
	LoadDuration *prometheus.HistogramVec
	LoadFailures *prometheus.CounterVec
	Generation   *prometheus.GaugeVec
	LoadedYear   prometheus.Gauge

	// Query metrics.
	ClusterQueries *prometheus.CounterVec // labels: mode={clustered,raw}
	VisiblePoints  prometheus.Gauge

	// Join and readiness metrics.
	JoinsApplied      *prometheus.CounterVec // labels: discipline={pull,push}
	JoinsDeferred     prometheus.Counter
	JoinFailures      prometheus.Counter
	ReadinessAttempts prometheus.Counter
	ReadinessState    prometheus.Gauge

	// Tile metrics.
	TileCache         *prometheus.CounterVec // labels: layer={fetch,response}, result={hit,miss}
	TileFetchDuration prometheus.Histogram
	StatesPublished   prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		RowsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_accepted_total",
			Help:      "Rows accepted by the normalizer.",
		}, []string{"kind"}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Rows dropped by the normalizer.",
		}, []string{"kind"}),
		LoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Duration of a dataset load including index build.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		LoadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Dataset loads that failed and left the previous generation in place.",
		}, []string{"kind"}),
		Generation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Sequence number of the committed generation.",
		}, []string{"kind"}),
		LoadedYear: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loaded_year",
			Help:      "Dataset year of the current facility generation.",
		}),
		ClusterQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_queries_total",
			Help:      "Viewport queries by level-of-detail mode.",
		}, []string{"mode"}),
		VisiblePoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visible_points",
			Help:      "Facilities passing the current risk filter.",
		}),
		JoinsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_applied_total",
			Help:      "Rank joins applied by target discipline.",
		}, []string{"discipline"}),
		JoinsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_deferred_total",
			Help:      "Push joins queued until the tile source became ready.",
		}),
		JoinFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_failures_total",
			Help:      "Deferred joins that failed when flushed.",
		}),
		ReadinessAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readiness_failed_probes_total",
			Help:      "Tile source availability probes that failed.",
		}),
		ReadinessState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readiness_state",
			Help:      "Tile source handshake state: 0 uninitialized, 1 polling, 2 ready, 3 failed.",
		}),
		TileCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_cache_total",
			Help:      "Tile cache lookups by layer and result.",
		}, []string{"layer", "result"}),
		TileFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tile_fetch_duration_seconds",
			Help:      "Remote tile request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		StatesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_states_published_total",
			Help:      "Feature states written to the state topic.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RowsAccepted,
		m.RowsRejected,
		m.LoadDuration,
		m.LoadFailures,
		m.Generation,
		m.LoadedYear,
		m.ClusterQueries,
		m.VisiblePoints,
		m.JoinsApplied,
		m.JoinsDeferred,
		m.JoinFailures,
		m.ReadinessAttempts,
		m.ReadinessState,
		m.TileCache,
		m.TileFetchDuration,
		m.StatesPublished,
	}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

// ProbeFailed implements readiness.Observer.
func (m *Metrics) ProbeFailed(int) { m.ReadinessAttempts.Inc() }

// StateChanged implements readiness.Observer.
func (m *Metrics) StateChanged(s readiness.State) { m.ReadinessState.Set(float64(s)) }

// JobDeferred implements readiness.Observer. Deferred joins are counted by JoinDeferred.
func (m *Metrics) JobDeferred() {}

// JobFailed implements readiness.Observer.
func (m *Metrics) JobFailed() { m.JoinFailures.Inc() }

// JoinApplied implements choropleth.Observer.
func (m *Metrics) JoinApplied(d choropleth.Discipline, _ int) {
	m.JoinsApplied.WithLabelValues(d.String()).Inc()
}

// JoinDeferred implements choropleth.Observer.
func (m *Metrics) JoinDeferred() { m.JoinsDeferred.Inc() }

// TileCacheHit records a tile cache lookup for layer.
func (m *Metrics) TileCacheHit(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TileCache.WithLabelValues(layer, result).Inc()
}
