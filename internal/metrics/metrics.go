// Package metrics provides Prometheus instrumentation for the smake reconciler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	// Fast operations (tag writes, describe calls, allocation)
	fastBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0}

	// Medium operations (HTTP requests, reconcile cycles)
	mediumBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

	// Slow operations (instance launch) - can take minutes
	slowBuckets = []float64{1, 5, 10, 30, 60, 120, 180, 300, 600}
)

// Collector holds all Prometheus metrics for smake.
type Collector struct {
	// Gauges - Current fleet state
	PoolInstances *prometheus.GaugeVec
	PoolDesired   *prometheus.GaugeVec
	ReconcileDiff *prometheus.GaugeVec
	TTLTimers     prometheus.Gauge

	// Counters - Cumulative events
	ReconcileRunsTotal   *prometheus.CounterVec
	ProviderOpsTotal     *prometheus.CounterVec
	TagWritesTotal       *prometheus.CounterVec
	AllocationsTotal     *prometheus.CounterVec
	TTLTerminationsTotal *prometheus.CounterVec
	TasksTotal           *prometheus.CounterVec

	// Histograms - Latency distributions
	ReconcileDuration   prometheus.Histogram
	AllocationDuration  prometheus.Histogram
	ProvisionDuration   prometheus.Histogram
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		// Gauges
		PoolInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "smake",
			Subsystem: "pool",
			Name:      "instances",
			Help:      "Pool members seen by the last query, by type and state",
		}, []string{"instance_type", "state"}),
		PoolDesired: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "smake",
			Subsystem: "pool",
			Name:      "desired_instances",
			Help:      "Desired pool members by type",
		}, []string{"instance_type"}),
		ReconcileDiff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "smake",
			Subsystem: "reconcile",
			Name:      "diff",
			Help:      "Signed delta computed by the last reconciliation, by type",
		}, []string{"instance_type"}),
		TTLTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smake",
			Subsystem: "ttl",
			Name:      "armed_timers",
			Help:      "Number of armed termination timers",
		}),

		// Counters
		ReconcileRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smake",
			Name:      "reconcile_runs_total",
			Help:      "Total number of reconciliation cycles",
		}, []string{"result"}),
		ProviderOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smake",
			Name:      "provider_operations_total",
			Help:      "Total number of create and terminate operations",
		}, []string{"operation", "result"}),
		TagWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smake",
			Name:      "tag_writes_total",
			Help:      "Total number of tag write attempts",
		}, []string{"operation", "result"}),
		AllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smake",
			Name:      "allocations_total",
			Help:      "Total number of pool allocation attempts",
		}, []string{"instance_type", "result"}),
		TTLTerminationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smake",
			Name:      "ttl_terminations_total",
			Help:      "Total number of TTL-driven terminations",
		}, []string{"trigger"}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smake",
			Name:      "queue_tasks_total",
			Help:      "Total number of queued tasks by type and outcome",
		}, []string{"task", "result"}),

		// Histograms
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smake",
			Name:      "reconcile_duration_seconds",
			Help:      "Time from query to last dispatch of a reconciliation cycle",
			Buckets:   mediumBuckets,
		}),
		AllocationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smake",
			Name:      "allocation_duration_seconds",
			Help:      "Pool allocation latency in seconds",
			Buckets:   fastBuckets,
		}),
		ProvisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smake",
			Name:      "provision_duration_seconds",
			Help:      "Time to launch and tag a new instance in seconds",
			Buckets:   slowBuckets,
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smake",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   mediumBuckets,
		}, []string{"method", "path", "status"}),

		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		// Gauges
		c.PoolInstances,
		c.PoolDesired,
		c.ReconcileDiff,
		c.TTLTimers,
		// Counters
		c.ReconcileRunsTotal,
		c.ProviderOpsTotal,
		c.TagWritesTotal,
		c.AllocationsTotal,
		c.TTLTerminationsTotal,
		c.TasksTotal,
		// Histograms
		c.ReconcileDuration,
		c.AllocationDuration,
		c.ProvisionDuration,
		c.HTTPRequestDuration,
	)

	return c
}

// Handler returns an HTTP handler for the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
