package store

import "github.com/raditree/raditree/internal/metrics"

// Metrics is the store's Prometheus collector bundle. A caller embedding
// the store in a larger service constructs one with NewMetrics and
// registers Metrics.Registry wherever that service exposes its own
// metrics endpoint; the store itself never serves HTTP.
type Metrics = metrics.Metrics

// NewMetrics builds a fresh, independently-registered Metrics bundle under
// namespace. Each open Store should get its own Metrics value: collectors
// are registered against a private prometheus.Registry, not the global
// default, so two stores in one process never collide on metric names.
func NewMetrics(namespace string) *Metrics {
	return metrics.New(namespace)
}
