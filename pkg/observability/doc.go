// Package observability provides structured logging and Prometheus metrics
// for the insights worker.
//
// # Logging
//
// Logger wraps log/slog with a JSON handler and a small fluent API:
//
//	log := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	log.WithField("plugin_id", "catalog").Info("event admitted")
//
// # Metrics
//
// Metrics registers the worker's Prometheus collectors (queue depth,
// processed/failed event counters, flush latency) on a caller-supplied
// registry so tests can use isolated registries:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.QueueDepth.Set(float64(queueLen))
package observability
