package store

import (
	"github.com/c2h5oh/datasize"

	"github.com/raditree/raditree/internal/arena"
)

// TierSizes gives each cache tier a byte budget. A zero entry means
// unbounded for that tier.
type TierSizes struct {
	Hot  datasize.ByteSize
	Warm datasize.ByteSize
	Cool datasize.ByteSize
	Cold datasize.ByteSize
}

func (t TierSizes) toArena() arena.TierBudgets {
	return arena.TierBudgets{
		arena.TierHot:  uint64(t.Hot.Bytes()),
		arena.TierWarm: uint64(t.Warm.Bytes()),
		arena.TierCool: uint64(t.Cool.Bytes()),
		arena.TierCold: uint64(t.Cold.Bytes()),
	}
}

// Options configures Open.
type Options struct {
	// Path is the backing file. It is created if absent.
	Path string

	// SegmentSize overrides the allocator's default segment size. Zero
	// selects arena.DefaultSegmentSize.
	SegmentSize datasize.ByteSize

	// Tiers gives each cache tier a byte budget; the zero value leaves
	// every tier unbounded.
	Tiers TierSizes

	// ReadOnly opens the store without taking the writer file lock and
	// without running the crash-recovery pass on open.
	ReadOnly bool

	// MaxReaders bounds the number of concurrently attached reader
	// sessions. Zero means unbounded.
	MaxReaders int

	// Metrics, when non-nil, receives counters and histograms for every
	// allocate/compact/session/recovery event. A single Metrics value
	// must not be shared between two concurrently open stores that
	// register collectors under the same namespace; see
	// internal/metrics.New.
	Metrics *Metrics

	// DisableRecovery skips the recursive-retain pass that otherwise
	// runs once, at open, against the persisted top root. Intended for
	// tests that want to inspect a store's raw post-crash state before
	// recovery corrects it.
	DisableRecovery bool
}

func (o Options) segmentSize() uint32 {
	if o.SegmentSize == 0 {
		return arena.DefaultSegmentSize
	}
	return uint32(o.SegmentSize.Bytes())
}

type Option func(*Options)

// WithSegmentSize overrides the allocator's segment size.
func WithSegmentSize(size datasize.ByteSize) Option {
	return func(o *Options) { o.SegmentSize = size }
}

// WithTiers sets per-tier byte budgets.
func WithTiers(t TierSizes) Option {
	return func(o *Options) { o.Tiers = t }
}

// WithMaxReaders bounds reader concurrency.
func WithMaxReaders(n int) Option {
	return func(o *Options) { o.MaxReaders = n }
}

// WithReadOnly opens the store without a writer lock or recovery pass.
func WithReadOnly(ro bool) Option {
	return func(o *Options) { o.ReadOnly = ro }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// Apply folds opts onto a base Options value (Path must already be set on
// the base), layering functional options over an explicit struct rather
// than requiring every field up front.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
