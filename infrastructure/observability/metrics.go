package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application and implements
// ports.Metrics for the engine.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Sync metrics
	SyncCycles         *prometheus.CounterVec
	SyncDuration       prometheus.Histogram
	SnapshotsCommitted *prometheus.CounterVec
	SnapshotEntities   prometheus.Gauge
	SnapshotRelations  prometheus.Gauge

	// Interaction metrics
	QueriesClassified *prometheus.CounterVec
	FocusChanges      *prometheus.CounterVec
	RetriesExhausted  *prometheus.CounterVec

	// Store metrics
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
}

// NewCollector creates a metrics collector with the given namespace on its
// own registry, so several collectors can coexist in tests.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SyncCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_cycles_total",
				Help:      "Sync cycles by outcome",
			},
			[]string{"outcome"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_cycle_duration_seconds",
				Help:      "Duration of a full graph read and gate evaluation",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SnapshotsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_committed_total",
				Help:      "Snapshots accepted as the live view",
			},
			[]string{"forced"},
		),
		SnapshotEntities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_entities",
				Help:      "Entities in the live snapshot",
			},
		),
		SnapshotRelations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_relations",
				Help:      "Relations in the live snapshot",
			},
		),
		QueriesClassified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_classified_total",
				Help:      "User statements by classification",
			},
			[]string{"kind"},
		),
		FocusChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "focus_changes_total",
				Help:      "Focus state transitions",
			},
			[]string{"state"},
		),
		RetriesExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_exhausted_total",
				Help:      "Retry policies that gave up",
			},
			[]string{"operation"},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of graph store operations",
			},
			[]string{"operation", "status"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Graph store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests,
		c.HTTPDuration,
		c.SyncCycles,
		c.SyncDuration,
		c.SnapshotsCommitted,
		c.SnapshotEntities,
		c.SnapshotRelations,
		c.QueriesClassified,
		c.FocusChanges,
		c.RetriesExhausted,
		c.StoreOperations,
		c.StoreDuration,
	)
	return c
}

func (c *Collector) SyncCycle(outcome string, duration time.Duration) {
	c.SyncCycles.WithLabelValues(outcome).Inc()
	c.SyncDuration.Observe(duration.Seconds())
}

func (c *Collector) SnapshotCommitted(entities, relations int, forced bool) {
	c.SnapshotsCommitted.WithLabelValues(strconv.FormatBool(forced)).Inc()
	c.SnapshotEntities.Set(float64(entities))
	c.SnapshotRelations.Set(float64(relations))
}

func (c *Collector) QueryClassified(kind string) {
	c.QueriesClassified.WithLabelValues(kind).Inc()
}

func (c *Collector) FocusChanged(state string) {
	c.FocusChanges.WithLabelValues(state).Inc()
}

func (c *Collector) RetryExhausted(operation string) {
	c.RetriesExhausted.WithLabelValues(operation).Inc()
}

func (c *Collector) StoreCall(operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.StoreOperations.WithLabelValues(operation, status).Inc()
	c.StoreDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
