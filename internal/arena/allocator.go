package arena

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/raditree/raditree/internal/invariant"
	"github.com/raditree/raditree/internal/metrics"
	"github.com/raditree/raditree/log"
)

var allocLog = log.Component("arena.allocator")

// ErrOutOfSpace is returned by Allocate when no free segment can be
// produced in any tier.
var ErrOutOfSpace = errors.New("arena: out of space")

// TierBudgets gives each tier a byte ceiling; Allocate refuses to open a
// new segment in a tier once its budget is exhausted, and promote
// consults the same numbers before bumping an object into the hot tier.
type TierBudgets [int(numTiers)]uint64

// Options configures a new or reopened Allocator.
type Options struct {
	Path        string
	SegmentSize uint32 // 0 selects DefaultSegmentSize
	Tiers       TierBudgets
	ReadOnly    bool
	Metrics     *metrics.Metrics // nil disables metric collection
}

// Allocator carves a memory-mapped file into fixed-size segments and
// issues stable object ids against them. It is the only component that
// writes node payload bytes; package radix only ever asks it for space
// and to resolve ids back to bytes.
type Allocator struct {
	opts    Options
	mapping *Mapping
	index   *ObjectIndex
	flock   *flock.Flock

	mu       sync.Mutex // guards segments/openSeg bookkeeping (not body bytes)
	segments []*segment
	openSeg  [numTiers]*segment

	pins pinTable

	hot *lru.Cache[ObjectID, struct{}] // recently-touched ids; promote adds to it, nothing reads it back

	metrics *metrics.Metrics // nil means metrics are disabled

	header Header // in-memory top-root cell; see TopRoot/SetTopRoot
}

// pinTable tracks, per object id, how many read sessions currently hold a
// pin on it. Compaction must not relocate a pinned object out from under a
// reader.
type pinTable struct {
	mu     sync.Mutex
	counts map[ObjectID]int
}

func (p *pinTable) add(id ObjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts == nil {
		p.counts = make(map[ObjectID]int)
	}
	p.counts[id]++
}

func (p *pinTable) remove(id ObjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[id]--
	if p.counts[id] <= 0 {
		delete(p.counts, id)
	}
}

func (p *pinTable) pinned(id ObjectID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[id] > 0
}

// Open creates or reopens an allocator-managed store file. Opening for
// read-write takes an advisory exclusive file lock so a second writer
// attempt fails fast instead of corrupting the file, surfaced by the
// store package as ErrWriterBusy.
func Open(opts Options) (*Allocator, error) {
	if opts.SegmentSize == 0 {
		opts.SegmentSize = DefaultSegmentSize
	}

	mode := ReadWrite
	if opts.ReadOnly {
		mode = ReadOnly
	}

	var fl *flock.Flock
	if !opts.ReadOnly {
		fl = flock.New(opts.Path + ".lock")
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("arena: acquire writer lock: %w", err)
		}
		if !ok {
			return nil, ErrWriterBusy
		}
	}

	initialSize := int64(HeaderSize)
	m, err := OpenMapping(opts.Path, initialSize, mode)
	if err != nil {
		if fl != nil {
			fl.Unlock()
		}
		return nil, err
	}

	a := &Allocator{
		opts:    opts,
		mapping: m,
		index:   NewObjectIndex(1 << 20),
		flock:   fl,
		metrics: opts.Metrics,
		header:  Header{Magic: Magic, Version: FormatVersion, SegmentSize: opts.SegmentSize, IndexOffset: HeaderSize, IndexCapacity: 1 << 20},
	}
	a.hot, _ = lru.New[ObjectID, struct{}](4096)

	if !opts.ReadOnly {
		if err := a.flushHeaderLocked(); err != nil {
			m.Close()
			if fl != nil {
				fl.Unlock()
			}
			return nil, err
		}
	}

	allocLog.Info().Str("path", opts.Path).Uint32("segment_size", opts.SegmentSize).Bool("read_only", opts.ReadOnly).Msg("opened arena")
	return a, nil
}

// flushHeaderLocked writes the in-memory header to the mapped file. Caller
// must hold a.mu.
func (a *Allocator) flushHeaderLocked() error {
	copy(a.mapping.Slice(0, HeaderSize), a.header.Encode())
	return nil
}

// TopRoot returns the currently published top-level root id, or the null
// id for an empty database.
func (a *Allocator) TopRoot() ObjectID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.header.TopRoot
}

// SetTopRoot publishes a new top-level root id, writes the header into
// the mapping and syncs the mapping to disk before returning. It does
// not retain or release anything; the caller (store.RootHandle) owns that
// protocol.
//
// Reconstructing the object index and segment table from this persisted
// value after a real process restart is not implemented in this pass (see
// DESIGN.md); within a single process's Allocator lifetime, SetTopRoot is
// exactly the durable publish step the root manager needs.
func (a *Allocator) SetTopRoot(id ObjectID) error {
	a.mu.Lock()
	a.header.TopRoot = id
	a.header.SegmentCount = uint32(len(a.segments))
	err := a.flushHeaderLocked()
	if err == nil {
		err = a.mapping.Flush()
	}
	a.mu.Unlock()
	return err
}

// ErrWriterBusy is returned when a second writer tries to attach while one
// is already open against the same store file.
var ErrWriterBusy = errors.New("arena: a writer session is already attached")

// Close flushes and releases the underlying mapping and writer lock.
func (a *Allocator) Close() error {
	err := a.mapping.Flush()
	if cerr := a.mapping.Close(); err == nil {
		err = cerr
	}
	if a.flock != nil {
		a.flock.Unlock()
	}
	return err
}

// Index exposes the object index for components (root manager, recovery)
// that need direct refcount access.
func (a *Allocator) Index() *ObjectIndex { return a.index }

// Metrics returns the allocator's metrics sink, or nil if none was
// configured.
func (a *Allocator) Metrics() *metrics.Metrics { return a.metrics }

// openSegmentLocked returns the writable segment for tier, opening a new
// one (growing the mapping) if none is open or the open one lacks room.
// Must be called with a.mu held.
func (a *Allocator) openSegmentLocked(tier Tier, need uint32) (*segment, error) {
	s := a.openSeg[tier]
	if s != nil && s.freeBytes() >= need {
		return s, nil
	}
	if s != nil {
		s.seal()
		allocLog.Debug().Uint32("segment_id", s.hdr.ID).Str("tier", tier.String()).Msg("sealed segment")
		if a.metrics != nil {
			a.metrics.SegmentsSealed.WithLabelValues(tier.String()).Inc()
		}
	}

	budget := a.opts.Tiers[tier]
	if budget != 0 {
		used := a.tierBytesLocked(tier)
		if used+uint64(a.opts.SegmentSize) > budget {
			return nil, ErrOutOfSpace
		}
	}

	id := uint32(len(a.segments))
	newTotal := int64(HeaderSize) + int64(id+1)*int64(a.opts.SegmentSize)
	if err := a.mapping.Resize(newTotal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfSpace, err)
	}
	// Resize remapped the file, so every existing segment's slice is
	// re-taken from the new mapping.
	for _, old := range a.segments {
		off := int64(HeaderSize) + int64(old.hdr.ID)*int64(a.opts.SegmentSize)
		old.bytes = a.mapping.Slice(off, int64(a.opts.SegmentSize))
	}
	start := int64(HeaderSize) + int64(id)*int64(a.opts.SegmentSize)
	seg := newSegment(id, a.opts.SegmentSize, tier, a.mapping.Slice(start, int64(a.opts.SegmentSize)))
	a.segments = append(a.segments, seg)
	a.openSeg[tier] = seg
	allocLog.Info().Uint32("segment_id", id).Str("tier", tier.String()).Msg("opened new segment")
	if a.metrics != nil {
		a.metrics.SegmentsOpened.WithLabelValues(tier.String()).Inc()
	}
	return seg, nil
}

func (a *Allocator) tierBytesLocked(tier Tier) uint64 {
	var total uint64
	for _, s := range a.segments {
		if s.tier == tier {
			total += uint64(s.size)
		}
	}
	return total
}

// Allocate appends payload as a new object in the hottest tier with room,
// installs an index entry with refcount 1, and returns the new object id.
func (a *Allocator) Allocate(typ NodeType, payload []byte) (ObjectID, error) {
	return a.AllocateTier(typ, payload, TierHot)
}

// AllocateTier is Allocate with an explicit starting tier, used when a
// caller (e.g. compaction) wants to target a specific tier directly.
func (a *Allocator) AllocateTier(typ NodeType, payload []byte, start Tier) (ObjectID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tier := start
	var seg *segment
	var err error
	for {
		seg, err = a.openSegmentLocked(tier, uint32(len(payload)))
		if err == nil {
			break
		}
		next, ok := tier.Colder()
		if !ok {
			return 0, ErrOutOfSpace
		}
		tier = next
	}

	off := seg.append(payload)
	id, ok := a.index.Reserve(seg.hdr.ID, off, typ, tier)
	if !ok {
		return 0, ErrOutOfSpace
	}
	seg.hdr.LiveBytes += uint64(len(payload))
	if typ == TypeInner {
		seg.hdr.InnerCount++
	} else {
		seg.hdr.ValueCount++
	}
	seg.flushHeader()
	if a.metrics != nil {
		a.metrics.ObjectsAllocated.Inc()
		a.metrics.BytesAllocated.WithLabelValues(typ.String()).Add(float64(len(payload)))
	}
	return id, nil
}

// Retain increments id's refcount. See ObjectIndex.Retain for saturation
// semantics.
func (a *Allocator) Retain(id ObjectID) (uint32, bool) {
	rc, saturated := a.index.Retain(id)
	if saturated && a.metrics != nil {
		a.metrics.RefcountSaturated.Inc()
	}
	return rc, saturated
}

// Release decrements id's refcount. When it reaches zero the object is
// handed to the deferred-free walk, which releases its children in turn
// (tail-recursively, via an explicit stack rather than Go call recursion,
// so a deep trie cannot blow the stack).
func (a *Allocator) Release(id ObjectID, children func(ObjectID) []ObjectID) {
	stack := []ObjectID{id}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if cur == 0 {
			continue
		}
		rc := a.index.Release(cur)
		if rc != 0 {
			continue
		}
		kids := children(cur)
		loc, ok := a.index.Lookup(cur)
		if ok {
			a.markDeadLocked(loc)
		}
		a.index.Clear(cur)
		if a.metrics != nil {
			a.metrics.ObjectsReclaimed.WithLabelValues("release").Inc()
		}
		stack = append(stack, kids...)
	}
}

// ReclaimOrphan frees id's storage directly, without touching its
// refcount or cascading to children. Used only by the recovery pass,
// which has already computed the full live set out-of-band and is
// clearing every id that fell outside it one at a time.
func (a *Allocator) ReclaimOrphan(id ObjectID) {
	loc, ok := a.index.Lookup(id)
	if !ok {
		return
	}
	a.markDeadLocked(loc)
	a.index.Clear(id)
	if a.metrics != nil {
		a.metrics.ObjectsReclaimed.WithLabelValues("orphan").Inc()
	}
}

func (a *Allocator) markDeadLocked(loc Location) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(loc.SegmentID) >= len(a.segments) {
		return
	}
	seg := a.segments[loc.SegmentID]
	// The payload is not re-decoded to learn its size: LiveBytes drops
	// by one per freed object, so it overstates the live bytes and the
	// dead-ratio metric understates how much of the segment is dead.
	if seg.hdr.LiveBytes > 0 {
		seg.hdr.LiveBytes--
	}
	seg.flushHeader()
}

// Lookup resolves id to its current storage location.
func (a *Allocator) Lookup(id ObjectID) (Location, bool) { return a.index.Lookup(id) }

// Bytes returns the raw payload bytes currently stored for id without
// taking a pin; callers that need relocation-safety across a potential
// compaction must use PinForRead instead.
func (a *Allocator) Bytes(id ObjectID) ([]byte, bool) {
	loc, ok := a.index.Lookup(id)
	if !ok {
		return nil, false
	}
	a.mu.Lock()
	seg := a.segments[loc.SegmentID]
	a.mu.Unlock()
	return seg.bytes[loc.Offset:], true
}

// PinGuard prevents compaction from physically reclaiming the segment
// backing the pinned object until Release is called.
type PinGuard struct {
	a  *Allocator
	id ObjectID
}

// Release drops the pin.
func (g PinGuard) Release() { g.a.pins.remove(g.id) }

// PinForRead looks up id and returns a borrowed slice plus a guard the
// caller must release when done. The slice always points into the
// object's segment, whatever its tier; no copy is made. While the pin is
// held, Compact skips the object and leaves its segment open.
func (a *Allocator) PinForRead(id ObjectID) ([]byte, PinGuard, bool) {
	loc, ok := a.index.Lookup(id)
	if !ok {
		return nil, PinGuard{}, false
	}
	a.pins.add(id)
	a.promote(id, loc)

	a.mu.Lock()
	seg := a.segments[loc.SegmentID]
	a.mu.Unlock()
	return seg.bytes[loc.Offset:], PinGuard{a: a, id: id}, true
}

// EditInPlaceLock returns a writable slice for id only when refcount is 1
// and no session currently pins it. Otherwise it reports denied=true and
// the caller must fall back to copy-on-write.
func (a *Allocator) EditInPlaceLock(id ObjectID) (slice []byte, denied bool) {
	loc, ok := a.index.Lookup(id)
	if !ok {
		invariant.Fail("edit-in-place on unknown object id", "object_id", id)
	}
	if loc.Refcount != 1 || a.pins.pinned(id) {
		return nil, true
	}
	a.mu.Lock()
	seg := a.segments[loc.SegmentID]
	a.mu.Unlock()
	return seg.bytes[loc.Offset:], false
}

// promote bumps id into the hot tier when the hot tier has budget.
func (a *Allocator) promote(id ObjectID, loc Location) {
	if loc.Tier == TierHot {
		a.hot.Add(id, struct{}{})
		return
	}
	budget := a.opts.Tiers[TierHot]
	a.mu.Lock()
	used := a.tierBytesLocked(TierHot)
	a.mu.Unlock()
	if budget != 0 && used >= budget {
		return
	}
	a.index.SetTier(id, TierHot)
	a.hot.Add(id, struct{}{})
}

// compactionCandidate picks the sealed segment with the greatest
// dead-byte ratio.
func (a *Allocator) compactionCandidate() *segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	var best *segment
	var bestRatio float64
	for _, s := range a.segments {
		if !s.hdr.Sealed || s.closed {
			continue
		}
		r := s.deadRatio()
		if best == nil || r > bestRatio {
			best, bestRatio = s, r
		}
	}
	return best
}

// Compact runs one compaction pass: it picks the sealed segment with the
// greatest dead-byte ratio, copies each live, unpinned object that
// liveIDs reports for it into the next-colder tier (cold stays cold),
// repoints the object's index entry at the copy, and marks the segment
// closed when no pinned object had to be skipped. It returns nil without
// doing anything when no sealed segment is eligible.
//
// Objects move as opaque bytes under their existing ids, so no node
// payload is re-encoded; liveIDs is supplied by the caller (the store
// scans the object index for it).
func (a *Allocator) Compact(ctx context.Context, liveIDs func(segmentID uint32) []ObjectID) error {
	timer := metrics.StartTimer()
	seg := a.compactionCandidate()
	if seg == nil {
		return nil
	}
	if a.metrics != nil {
		defer timer.ObserveDuration(a.metrics.CompactionDuration)
	}

	ids := liveIDs(seg.hdr.ID)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	skipped := 0
	moved := 0
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if a.pins.pinned(id) {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			loc, ok := a.index.Lookup(id)
			if !ok || loc.SegmentID != seg.hdr.ID {
				return nil
			}
			dest, ok := seg.tier.Colder()
			if !ok {
				dest = seg.tier
			}
			// Copied under a.mu: AllocateTier may grow the mapping and
			// re-take seg.bytes while other objects are being moved.
			a.mu.Lock()
			payload := append([]byte(nil), seg.bytes[loc.Offset:]...)
			a.mu.Unlock()
			newID, err := a.AllocateTier(loc.Type, payload, dest)
			if err != nil {
				return err
			}
			newLoc, _ := a.index.Lookup(newID)
			a.index.Relocate(id, newLoc.SegmentID, newLoc.Offset, newLoc.Tier)
			a.index.Clear(newID)
			mu.Lock()
			moved++
			mu.Unlock()
			if a.metrics != nil {
				a.metrics.CompactionBytesMoved.Add(float64(len(payload)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("arena: compact segment %d: %w", seg.hdr.ID, err)
	}

	allocLog.Info().Uint32("segment_id", seg.hdr.ID).Int("moved", moved).Int("skipped_pinned", skipped).Msg("compaction pass")
	if a.metrics != nil {
		a.metrics.CompactionRuns.Inc()
	}

	if skipped == 0 {
		a.mu.Lock()
		seg.hdr.LiveBytes = 0
		seg.closed = true
		seg.flushHeader()
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.SegmentsFreed.Inc()
		}
	}
	return nil
}

// Stats is a diagnostics snapshot of arena occupancy, useful for
// monitoring and for sizing tier budgets.
type Stats struct {
	Segments     int
	TierBytes    [int(numTiers)]uint64
	LiveObjects  int
	TotalObjects int
}

// Stats reports a point-in-time summary of arena occupancy.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	var st Stats
	st.Segments = len(a.segments)
	for _, s := range a.segments {
		st.TierBytes[s.tier] += uint64(s.hdr.Cursor)
	}
	for id := ObjectID(1); int(id) < a.index.Len(); id++ {
		if _, ok := a.index.Lookup(id); ok {
			st.TotalObjects++
			if loc, _ := a.index.Lookup(id); loc.Refcount > 0 {
				st.LiveObjects++
			}
		}
	}
	return st
}
