package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/raditree/raditree/internal/metrics"
)

// Table registers every live reader and the single writer session against
// a store, and answers one question: what is the oldest tick any live
// session might still be observing.
type Table struct {
	mu      sync.Mutex
	tick    atomic.Uint64
	writer  *Session
	readers map[*Session]struct{}

	readerSem *semaphore.Weighted // nil when maxReaders <= 0 (unbounded)

	metrics *metrics.Metrics // nil means metrics are disabled
}

// NewTable builds a Table. maxReaders <= 0 means unbounded reader
// concurrency; beyond a positive maxReaders, AttachReader blocks until a
// slot frees up or its context ends, and TryAttachReader fails at once
// with ErrTooManyReaders.
func NewTable(maxReaders int) *Table {
	t := &Table{readers: make(map[*Session]struct{})}
	if maxReaders > 0 {
		t.readerSem = semaphore.NewWeighted(int64(maxReaders))
	}
	return t
}

// WithMetrics attaches m to the table; subsequent attach/detach calls
// record to it. Call once, before any session attaches.
func (t *Table) WithMetrics(m *metrics.Metrics) *Table {
	t.metrics = m
	return t
}

// CurrentTick returns the table's current global tick.
func (t *Table) CurrentTick() uint64 { return t.tick.Load() }

// Tick advances the global tick by one and returns the new value, the
// free tick that CanReclaim compares against. The store's release path
// does not call it.
func (t *Table) Tick() uint64 { return t.tick.Add(1) }

// AttachReader registers a new reader session, blocking if the table's
// reader concurrency limit is already saturated.
func (t *Table) AttachReader(ctx context.Context) (*Session, error) {
	if t.readerSem != nil {
		if err := t.readerSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	s := newSession(Reader, t)
	t.mu.Lock()
	t.readers[s] = struct{}{}
	t.mu.Unlock()
	t.recordAttach(Reader)
	return s, nil
}

// TryAttachReader is the non-blocking counterpart: it fails immediately
// with ErrTooManyReaders instead of waiting for a slot.
func (t *Table) TryAttachReader() (*Session, error) {
	if t.readerSem != nil && !t.readerSem.TryAcquire(1) {
		if t.metrics != nil {
			t.metrics.SessionAttachRejected.WithLabelValues("too_many_readers").Inc()
		}
		return nil, ErrTooManyReaders
	}
	s := newSession(Reader, t)
	t.mu.Lock()
	t.readers[s] = struct{}{}
	t.mu.Unlock()
	t.recordAttach(Reader)
	return s, nil
}

// AttachWriter registers the single writer session. Only one may be
// attached at a time; a second call fails with ErrWriterBusy.
func (t *Table) AttachWriter() (*Session, error) {
	t.mu.Lock()
	if t.writer != nil {
		t.mu.Unlock()
		if t.metrics != nil {
			t.metrics.SessionAttachRejected.WithLabelValues("writer_busy").Inc()
		}
		return nil, ErrWriterBusy
	}
	s := newSession(Writer, t)
	t.writer = s
	t.mu.Unlock()
	t.recordAttach(Writer)
	return s, nil
}

func (t *Table) recordAttach(kind Kind) {
	if t.metrics == nil {
		return
	}
	t.metrics.SessionsAttached.WithLabelValues(kind.String()).Inc()
	t.metrics.SessionsActive.WithLabelValues(kind.String()).Inc()
}

// Detach removes s from the table, releasing its reader-concurrency slot
// if it held one.
func (t *Table) Detach(s *Session) {
	t.mu.Lock()
	switch s.kind {
	case Writer:
		if t.writer == s {
			t.writer = nil
		}
	default:
		delete(t.readers, s)
	}
	t.mu.Unlock()
	if s.kind == Reader && t.readerSem != nil {
		t.readerSem.Release(1)
	}
	if t.metrics != nil {
		t.metrics.SessionsActive.WithLabelValues(s.kind.String()).Dec()
		t.metrics.SessionDuration.WithLabelValues(s.kind.String()).Observe(time.Since(s.attachedAt).Seconds())
	}
}

// MinLiveAge returns the minimum age stamped by any session currently
// inside a critical region, or the resting sentinel if none are. A freed
// object is safe to physically reclaim once this value exceeds the tick
// at which it was freed.
func (t *Table) MinLiveAge() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	min := restingAge
	if t.writer != nil {
		if age := t.writer.Age(); age < min {
			min = age
		}
	}
	for r := range t.readers {
		if age := r.Age(); age < min {
			min = age
		}
	}
	return min
}

// CanReclaim reports whether storage freed at freedAtTick may now be
// physically reused: true once no live session's stamped age predates it.
func (t *Table) CanReclaim(freedAtTick uint64) bool {
	return t.MinLiveAge() > freedAtTick
}

// ReaderCount reports the number of currently attached reader sessions,
// for diagnostics.
func (t *Table) ReaderCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.readers)
}

// HasWriter reports whether a writer session is currently attached.
func (t *Table) HasWriter() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writer != nil
}
