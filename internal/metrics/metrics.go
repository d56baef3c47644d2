// Package metrics exposes the store's Prometheus collectors: allocator
// activity, session attach/detach counts, and compaction/recovery events.
// Every store opens its own registry rather than registering into
// prometheus's global default, so more than one store can live in a
// single process without collector name collisions.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector the store updates. Zero value is unusable;
// construct with New.
type Metrics struct {
	Registry *prometheus.Registry

	ObjectsAllocated   prometheus.Counter
	ObjectsReclaimed   *prometheus.CounterVec
	BytesAllocated     *prometheus.CounterVec
	RefcountSaturated  prometheus.Counter
	SegmentsOpened     *prometheus.CounterVec
	SegmentsSealed     *prometheus.CounterVec
	SegmentsFreed      prometheus.Counter
	CompactionRuns     prometheus.Counter
	CompactionDuration prometheus.Histogram
	CompactionBytesMoved prometheus.Counter

	SessionsAttached *prometheus.CounterVec
	SessionAttachRejected *prometheus.CounterVec
	SessionsActive   *prometheus.GaugeVec
	SessionDuration  *prometheus.HistogramVec

	RecoveryRuns      prometheus.Counter
	RecoveryVisited   prometheus.Gauge
	RecoveryReclaimed prometheus.Gauge
}

// New builds a Metrics bound to a fresh registry and registers every
// collector. namespace prefixes every metric name, letting multiple
// stores in one process (or one store among unrelated subsystems) avoid
// name collisions when scraped together.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,

		ObjectsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_allocated_total",
			Help:      "Total number of arena objects allocated.",
		}),
		ObjectsReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_reclaimed_total",
			Help:      "Total number of arena objects reclaimed, by reason.",
		}, []string{"reason"}),
		BytesAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_allocated_total",
			Help:      "Total payload bytes written to the arena, by node type.",
		}, []string{"type"}),
		RefcountSaturated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refcount_saturated_total",
			Help:      "Total number of retains that hit the refcount ceiling and were capped instead of incremented.",
		}),
		SegmentsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_opened_total",
			Help:      "Total number of segments opened for writing, by tier.",
		}, []string{"tier"}),
		SegmentsSealed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_sealed_total",
			Help:      "Total number of segments sealed after filling, by tier.",
		}, []string{"tier"}),
		SegmentsFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_freed_total",
			Help:      "Total number of segments returned to the filesystem by compaction.",
		}),
		CompactionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_runs_total",
			Help:      "Total number of compaction passes completed.",
		}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_duration_seconds",
			Help:      "Wall time of a compaction pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		CompactionBytesMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_bytes_moved_total",
			Help:      "Total bytes relocated while compacting live objects out of sparse segments.",
		}),

		SessionsAttached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_attached_total",
			Help:      "Total number of sessions attached, by kind.",
		}, []string{"kind"}),
		SessionAttachRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_attach_rejected_total",
			Help:      "Total number of session attach attempts rejected, by reason.",
		}, []string{"reason"}),
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently attached sessions, by kind.",
		}, []string{"kind"}),
		SessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time between a session's attach and detach.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		RecoveryRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_runs_total",
			Help:      "Total number of recursive-retain recovery passes run on open.",
		}),
		RecoveryVisited: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_last_visited",
			Help:      "Number of distinct reachable objects found by the last recovery pass.",
		}),
		RecoveryReclaimed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_last_reclaimed",
			Help:      "Number of objects reclaimed by the last recovery pass.",
		}),
	}

	reg.MustRegister(
		m.ObjectsAllocated,
		m.ObjectsReclaimed,
		m.BytesAllocated,
		m.RefcountSaturated,
		m.SegmentsOpened,
		m.SegmentsSealed,
		m.SegmentsFreed,
		m.CompactionRuns,
		m.CompactionDuration,
		m.CompactionBytesMoved,
		m.SessionsAttached,
		m.SessionAttachRejected,
		m.SessionsActive,
		m.SessionDuration,
		m.RecoveryRuns,
		m.RecoveryVisited,
		m.RecoveryReclaimed,
	)
	return m
}
