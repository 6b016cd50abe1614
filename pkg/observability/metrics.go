package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the insights worker
type Metrics struct {
	// Ingestion metrics
	EventsAdmittedTotal prometheus.Counter
	EventsDroppedTotal  prometheus.Counter
	EventsInvalidTotal  prometheus.Counter

	// Batch processor metrics
	QueueDepth            prometheus.Gauge
	RetryMapSize          prometheus.Gauge
	EventsPersistedTotal  prometheus.Counter
	EventsRetriedTotal    prometheus.Counter
	EventsDeadLetterTotal prometheus.Counter
	FlushDuration         prometheus.Histogram
	FlushesSkippedTotal   prometheus.Counter

	// Partition metrics
	PartitionsCreatedTotal prometheus.Counter
	PartitionRepairsTotal  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsAdmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_events_admitted_total",
			Help: "Total number of events admitted to the batch queue",
		}),
		EventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_events_dropped_total",
			Help: "Total number of anonymous events dropped at admission",
		}),
		EventsInvalidTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_events_invalid_total",
			Help: "Total number of events rejected by validation",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insights_queue_depth",
			Help: "Current number of events waiting in the batch queue",
		}),
		RetryMapSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insights_retry_map_size",
			Help: "Current number of events with at least one failed insert attempt",
		}),
		EventsPersistedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_events_persisted_total",
			Help: "Total number of events durably inserted",
		}),
		EventsRetriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_events_retried_total",
			Help: "Total number of event re-enqueues after a failed flush",
		}),
		EventsDeadLetterTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_events_dead_letter_total",
			Help: "Total number of events moved to the failed-event store",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "insights_flush_duration_seconds",
			Help:    "Batch flush duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		FlushesSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_flushes_skipped_total",
			Help: "Total number of flush ticks skipped because a flush was in progress",
		}),
		PartitionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_partitions_created_total",
			Help: "Total number of monthly event partitions created",
		}),
		PartitionRepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_partition_repairs_total",
			Help: "Total number of overlap conflicts repaired during partition creation",
		}),
	}

	registry.MustRegister(
		m.EventsAdmittedTotal,
		m.EventsDroppedTotal,
		m.EventsInvalidTotal,
		m.QueueDepth,
		m.RetryMapSize,
		m.EventsPersistedTotal,
		m.EventsRetriedTotal,
		m.EventsDeadLetterTotal,
		m.FlushDuration,
		m.FlushesSkippedTotal,
		m.PartitionsCreatedTotal,
		m.PartitionRepairsTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the registry in Prometheus format
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
