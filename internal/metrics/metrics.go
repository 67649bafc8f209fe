// Package metrics wires every Serengeti subsystem into a single
// Prometheus registry, one initXMetrics method per subsystem, all
// registered when New builds the Registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric family exposed at GET /metrics.
type Registry struct {
	registry *prometheus.Registry

	// HTTP boundary (C12)
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// LSM engine (C1-C3)
	LSMWritesTotal      *prometheus.CounterVec
	LSMReadsTotal       *prometheus.CounterVec
	LSMFlushesTotal     *prometheus.CounterVec
	LSMCompactionsTotal *prometheus.CounterVec
	LSMSSTableCount     *prometheus.GaugeVec
	LSMMemTableBytes    *prometheus.GaugeVec

	// Persistence scheduler (C5)
	PersistPassesTotal   *prometheus.CounterVec
	PersistLastErrorUnix prometheus.Gauge
	PersistDuration      prometheus.Histogram

	// Cluster / discovery (C6)
	ClusterNodesTotal  prometheus.Gauge
	ClusterEpoch       prometheus.Gauge
	ClusterElections   prometheus.Counter
	ClusterReshuffles  prometheus.Counter
	ClusterSweepMillis prometheus.Histogram

	// Replication transport (C7)
	ReplicationSendsTotal      *prometheus.CounterVec
	ReplicationBroadcastsTotal prometheus.Counter

	// Query engine (C8-C11)
	QueriesTotal      *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	QueryCacheHits    prometheus.Counter
	QueryCacheMisses  prometheus.Counter
	SpillEventsTotal  *prometheus.CounterVec
	SpillBytesTotal   prometheus.Counter
}

// New creates a Registry registered into its own prometheus.Registry,
// so multiple Registry instances (e.g. in tests) never collide.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	r.initHTTP(reg)
	r.initLSM(reg)
	r.initPersistence(reg)
	r.initCluster(reg)
	r.initReplication(reg)
	r.initQuery(reg)
	return r
}

// PrometheusRegistry returns the underlying registry for promhttp.
func (r *Registry) PrometheusRegistry() *prometheus.Registry { return r.registry }

func (r *Registry) initHTTP(reg *prometheus.Registry) {
	f := promauto.With(reg)
	r.HTTPRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "serengeti_http_requests_total",
		Help: "Total HTTP requests by route and status.",
	}, []string{"route", "status"})
	r.HTTPRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "serengeti_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	r.HTTPRequestsInFlight = f.NewGauge(prometheus.GaugeOpts{
		Name: "serengeti_http_requests_in_flight",
		Help: "HTTP requests currently being served.",
	})
}

func (r *Registry) initLSM(reg *prometheus.Registry) {
	f := promauto.With(reg)
	r.LSMWritesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "serengeti_lsm_writes_total",
		Help: "Total Put/Delete operations by table.",
	}, []string{"db", "table"})
	r.LSMReadsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "serengeti_lsm_reads_total",
		Help: "Total Get operations by table and result.",
	}, []string{"db", "table", "result"})
	r.LSMFlushesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "serengeti_lsm_flushes_total",
		Help: "Total MemTable flushes to SSTable.",
	}, []string{"db", "table"})
	r.LSMCompactionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "serengeti_lsm_compactions_total",
		Help: "Total compaction passes.",
	}, []string{"db", "table"})
	r.LSMSSTableCount = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "serengeti_lsm_sstable_count",
		Help: "Current number of SSTable files.",
	}, []string{"db", "table"})
	r.LSMMemTableBytes = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "serengeti_lsm_memtable_bytes",
		Help: "Current active MemTable size in bytes.",
	}, []string{"db", "table"})
}

func (r *Registry) initPersistence(reg *prometheus.Registry) {
	f := promauto.With(reg)
	r.PersistPassesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "serengeti_persistence_passes_total",
		Help: "Persistence scheduler passes by outcome.",
	}, []string{"outcome"}) // ok, error, skipped
	r.PersistLastErrorUnix = f.NewGauge(prometheus.GaugeOpts{
		Name: "serengeti_persistence_last_error_unixtime",
		Help: "Unix timestamp of the last persistence pass error.",
	})
	r.PersistDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "serengeti_persistence_duration_seconds",
		Help:    "Duration of a full persistence pass.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
}

func (r *Registry) initCluster(reg *prometheus.Registry) {
	f := promauto.With(reg)
	r.ClusterNodesTotal = f.NewGauge(prometheus.GaugeOpts{
		Name: "serengeti_cluster_nodes_total",
		Help: "Number of members in the local view of the cluster.",
	})
	r.ClusterEpoch = f.NewGauge(prometheus.GaugeOpts{
		Name: "serengeti_cluster_sweep_epoch",
		Help: "Monotonic sweep counter.",
	})
	r.ClusterElections = f.NewCounter(prometheus.CounterOpts{
		Name: "serengeti_cluster_elections_total",
		Help: "Total coordinator elections run.",
	})
	r.ClusterReshuffles = f.NewCounter(prometheus.CounterOpts{
		Name: "serengeti_cluster_reshuffles_total",
		Help: "Total replica reshuffles triggered by node loss.",
	})
	r.ClusterSweepMillis = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "serengeti_cluster_sweep_duration_milliseconds",
		Help:    "Duration of a discovery sweep in milliseconds.",
		Buckets: []float64{1, 5, 25, 100, 500, 1000, 5000},
	})
}

func (r *Registry) initReplication(reg *prometheus.Registry) {
	f := promauto.With(reg)
	r.ReplicationSendsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "serengeti_replication_sends_total",
		Help: "Point-to-point replication sends by outcome.",
	}, []string{"outcome"})
	r.ReplicationBroadcastsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "serengeti_replication_broadcasts_total",
		Help: "Total broadcast messages fanned out.",
	})
}

func (r *Registry) initQuery(reg *prometheus.Registry) {
	f := promauto.With(reg)
	r.QueriesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "serengeti_queries_total",
		Help: "Total statements executed by kind and outcome.",
	}, []string{"kind", "outcome"})
	r.QueryDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "serengeti_query_duration_seconds",
		Help:    "Statement execution duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	r.QueryCacheHits = f.NewCounter(prometheus.CounterOpts{
		Name: "serengeti_query_cache_hits_total",
		Help: "Result cache hits.",
	})
	r.QueryCacheMisses = f.NewCounter(prometheus.CounterOpts{
		Name: "serengeti_query_cache_misses_total",
		Help: "Result cache misses.",
	})
	r.SpillEventsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "serengeti_spill_events_total",
		Help: "Spill-to-disk events by operator kind.",
	}, []string{"kind"})
	r.SpillBytesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "serengeti_spill_bytes_total",
		Help: "Total bytes spilled to disk.",
	})
}

// RecordHTTP records one HTTP request observation.
func (r *Registry) RecordHTTP(route, status string, d time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordReplicationFailure records a failed point-to-point send or
// broadcast: on a network error the transport records it here and
// returns false to its caller.
func (r *Registry) RecordReplicationFailure() {
	r.ReplicationSendsTotal.WithLabelValues("error").Inc()
}

// RecordReplicationSuccess records a successful point-to-point send.
func (r *Registry) RecordReplicationSuccess() {
	r.ReplicationSendsTotal.WithLabelValues("ok").Inc()
}

// RecordBroadcast records one fanned-out broadcast message.
func (r *Registry) RecordBroadcast() {
	r.ReplicationBroadcastsTotal.Inc()
}

// SetClusterSize reports the current membership table size, satisfying
// cluster.MetricsSink.
func (r *Registry) SetClusterSize(n int) { r.ClusterNodesTotal.Set(float64(n)) }

// IncNodesLost records one node eviction, satisfying cluster.MetricsSink.
func (r *Registry) IncNodesLost() { r.ClusterReshuffles.Inc() }

// RecordSpill records one operator spill-to-disk event and its size,
// satisfying memory.Manager's metrics hook.
func (r *Registry) RecordSpill(bytes int64) {
	r.SpillEventsTotal.WithLabelValues("operator").Inc()
	r.SpillBytesTotal.Add(float64(bytes))
}
