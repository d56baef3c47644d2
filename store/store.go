package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/raditree/raditree/internal/arena"
	"github.com/raditree/raditree/internal/radix"
	"github.com/raditree/raditree/internal/recovery"
	"github.com/raditree/raditree/internal/session"
	"github.com/raditree/raditree/log"
)

var storeLog = log.Component("store")

// Store ties the segment allocator, the trie engine, the session table,
// and the root manager together behind a single handle. Many reader
// sessions and at most one writer session may be attached at a time; see
// StartReader / StartWriter.
type Store struct {
	opts     Options
	a        *arena.Allocator
	engine   *radix.Engine
	sessions *session.Table
	roots    *rootManager
	metrics  *Metrics
	closed   atomic.Bool
}

// Open creates or reopens a store file at opts.Path. For a read-write
// open, it takes the writer file lock and then runs the recursive-retain
// recovery pass against whatever top root is currently published,
// reclaiming anything an abnormal shutdown left allocated but
// unreachable. Pass Options.DisableRecovery to skip this for
// tests that want to inspect the raw post-crash state first.
func Open(opts Options) (*Store, error) {
	a, err := arena.Open(arena.Options{
		Path:        opts.Path,
		SegmentSize: opts.segmentSize(),
		Tiers:       opts.Tiers.toArena(),
		ReadOnly:    opts.ReadOnly,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		if errors.Is(err, arena.ErrWriterBusy) {
			err = ErrWriterBusy
		}
		return nil, fmt.Errorf("store: open %s: %w", opts.Path, err)
	}

	engine := radix.NewEngine(a)
	sessions := session.NewTable(opts.MaxReaders)
	if opts.Metrics != nil {
		sessions.WithMetrics(opts.Metrics)
	}

	st := &Store{
		opts:     opts,
		a:        a,
		engine:   engine,
		sessions: sessions,
		roots:    &rootManager{a: a, engine: engine},
		metrics:  opts.Metrics,
	}

	if !opts.ReadOnly && !opts.DisableRecovery {
		root := a.TopRoot()
		if !root.Null() {
			report, err := recovery.Run(a, engine, root)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("store: recovery pass: %w", err)
			}
			storeLog.Info().Int("visited", report.Visited).Int("reclaimed", report.Reclaimed).Msg("recovery pass complete on open")
		}
	}

	return st, nil
}

// StartReader attaches a new reader session, blocking if the configured
// reader concurrency limit is saturated.
func (s *Store) StartReader(ctx context.Context) (*Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	sess, err := s.sessions.AttachReader(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{store: s, sess: sess}, nil
}

// TryStartReader is the non-blocking counterpart to StartReader.
func (s *Store) TryStartReader() (*Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	sess, err := s.sessions.TryAttachReader()
	if err != nil {
		if errors.Is(err, session.ErrTooManyReaders) {
			return nil, ErrTooManyReaders
		}
		return nil, err
	}
	return &Session{store: s, sess: sess}, nil
}

// StartWriter attaches the single writer session. A second call while one
// is already attached fails with ErrWriterBusy.
func (s *Store) StartWriter() (*Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	sess, err := s.sessions.AttachWriter()
	if err != nil {
		if errors.Is(err, session.ErrWriterBusy) {
			return nil, ErrWriterBusy
		}
		return nil, err
	}
	return &Session{store: s, sess: sess}, nil
}

// Checkpoint forces the header (including the top-root cell) to be
// flushed and synced to disk. SetTopRoot already flushes on every call;
// Checkpoint exists for callers that want an explicit durability point
// without publishing a new root, e.g. before a planned shutdown.
func (s *Store) Checkpoint() error {
	return s.a.SetTopRoot(s.a.TopRoot())
}

// Compact runs one compaction pass over the segment with the greatest
// dead-byte ratio, relocating its live objects into a cooler tier.
func (s *Store) Compact(ctx context.Context) error {
	return s.a.Compact(ctx, func(segmentID uint32) []arena.ObjectID {
		return s.liveIDsInSegment(segmentID)
	})
}

// liveIDsInSegment scans the index for every live object currently
// located in segmentID. Compaction only needs object ids, not their
// decoded structure; the allocator relocates opaque bytes and the engine
// never has to re-derive node shape to move a node.
func (s *Store) liveIDsInSegment(segmentID uint32) []arena.ObjectID {
	var ids []arena.ObjectID
	s.a.Index().ForEachLive(func(id arena.ObjectID, loc arena.Location) {
		if loc.SegmentID == segmentID {
			ids = append(ids, id)
		}
	})
	return ids
}

// Stats reports a point-in-time diagnostics snapshot of arena occupancy.
func (s *Store) Stats() arena.Stats {
	return s.a.Stats()
}

// Close flushes and releases the underlying mapping and writer lock. Any
// attached sessions are left dangling; callers must detach them first.
func (s *Store) Close() error {
	s.closed.Store(true)
	return s.a.Close()
}

// wrapResult converts a radix.Result into a QueryResult, wrapping any
// nested roots-value ids as caller-owned RootHandles. A roots-value
// containing the null id materializes as a Null handle rather than an
// error (resolved Open Question: see DESIGN.md).
func (s *Store) wrapResult(res radix.Result) QueryResult {
	if !res.Found {
		return QueryResult{}
	}
	qr := QueryResult{Found: true, Bytes: res.Bytes}
	if res.Kind == arena.TypeValueRoots {
		qr.Roots = make([]*RootHandle, len(res.Roots))
		for i, id := range res.Roots {
			if !id.Null() {
				s.engine.Retain(id)
			}
			qr.Roots[i] = s.newHandle(id)
		}
	}
	return qr
}
