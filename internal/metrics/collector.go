// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records MemFlow operational metrics.
type Collector struct {
	// Store metrics
	storeOpsTotal *prometheus.CounterVec
	itemCount     *prometheus.GaugeVec

	// Search metrics
	searchesTotal  *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec

	// Embedding cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Consolidation metrics
	consolidationsTotal   *prometheus.CounterVec
	clustersFormed        prometheus.Counter
	memoriesConsolidated  prometheus.Counter
	consolidationDuration prometheus.Histogram

	// Scheduler metrics
	tasksTotal   *prometheus.CounterVec
	passDuration prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates the collector and registers its metrics with reg.
// A nil reg uses the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.storeOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of memory store operations",
		},
		[]string{"memory_type", "operation", "status"},
	)

	c.itemCount = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_items",
			Help:      "Number of items currently held per memory type",
		},
		[]string{"memory_type"},
	)

	c.searchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of hybrid searches",
		},
		[]string{"strategy"},
	)

	c.searchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Hybrid search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"strategy"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.consolidationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidations_total",
			Help:      "Total number of consolidation passes",
		},
		[]string{"status"},
	)

	c.clustersFormed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_clusters_formed_total",
			Help:      "Total number of clusters selected for merging",
		},
	)

	c.memoriesConsolidated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_consolidated_total",
			Help:      "Total number of source memories merged away",
		},
	)

	c.consolidationDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consolidation_duration_seconds",
			Help:      "Consolidation pass duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	c.tasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tasks_total",
			Help:      "Total number of executed scheduler tasks",
		},
		[]string{"type", "status"},
	)

	c.passDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_pass_duration_seconds",
			Help:      "Scheduler pass duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 10, 30, 60},
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordStoreOp records one store operation.
func (c *Collector) RecordStoreOp(memoryType, operation, status string) {
	c.storeOpsTotal.WithLabelValues(memoryType, operation, status).Inc()
}

// SetItemCount updates the item gauge for one memory type.
func (c *Collector) SetItemCount(memoryType string, count int) {
	c.itemCount.WithLabelValues(memoryType).Set(float64(count))
}

// RecordSearch records one hybrid search.
func (c *Collector) RecordSearch(strategy string, duration time.Duration) {
	c.searchesTotal.WithLabelValues(strategy).Inc()
	c.searchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordConsolidation records one consolidation pass outcome.
func (c *Collector) RecordConsolidation(status string, clusters, consolidated int, duration time.Duration) {
	c.consolidationsTotal.WithLabelValues(status).Inc()
	c.clustersFormed.Add(float64(clusters))
	c.memoriesConsolidated.Add(float64(consolidated))
	c.consolidationDuration.Observe(duration.Seconds())
}

// RecordTask records one executed scheduler task.
func (c *Collector) RecordTask(taskType, status string) {
	c.tasksTotal.WithLabelValues(taskType, status).Inc()
}

// RecordPass records one scheduler pass duration.
func (c *Collector) RecordPass(duration time.Duration) {
	c.passDuration.Observe(duration.Seconds())
}
