package arena

import (
	"math"
	"sync/atomic"

	"github.com/raditree/raditree/internal/invariant"
)

// IndexEntry is the packed 8-byte redirection from an object id to its
// storage location: segment id (20 bits), in-segment byte offset (24
// bits, bounding DefaultSegmentSize at 16 MiB), type (2 bits), tier (2
// bits), and a saturating refcount (16 bits).
type IndexEntry uint64

const (
	segmentIDBits = 20
	offsetBits    = 24
	typeBits      = 2
	tierBits      = 2
	refcountBits  = 16

	segmentIDShift = 0
	offsetShift    = segmentIDShift + segmentIDBits
	typeShift      = offsetShift + offsetBits
	tierShift      = typeShift + typeBits
	refcountShift  = tierShift + tierBits

	segmentIDMask = (1 << segmentIDBits) - 1
	offsetMask    = (1 << offsetBits) - 1
	typeMask      = (1 << typeBits) - 1
	tierMask      = (1 << tierBits) - 1
	refcountMask  = (1 << refcountBits) - 1

	// MaxRefcount is the saturation ceiling for a packed entry's refcount
	// field. A saturated id must never be mutated in place again: the
	// caller has lost the ability to tell whether it holds the only
	// reference, so it must always clone on write from here on.
	MaxRefcount = refcountMask
)

var _ = math.MaxUint16 // documents MaxRefcount == MaxUint16

func packEntry(segmentID uint32, offset uint32, typ NodeType, tier Tier, refcount uint32) IndexEntry {
	return IndexEntry(
		uint64(segmentID&segmentIDMask)<<segmentIDShift |
			uint64(offset&offsetMask)<<offsetShift |
			uint64(uint8(typ)&typeMask)<<typeShift |
			uint64(uint8(tier)&tierMask)<<tierShift |
			uint64(refcount&refcountMask)<<refcountShift,
	)
}

func (e IndexEntry) segmentID() uint32 { return uint32(e>>segmentIDShift) & segmentIDMask }
func (e IndexEntry) offset() uint32    { return uint32(e>>offsetShift) & offsetMask }
func (e IndexEntry) typ() NodeType     { return NodeType(uint32(e>>typeShift) & typeMask) }
func (e IndexEntry) tier() Tier        { return Tier(uint32(e>>tierShift) & tierMask) }
func (e IndexEntry) refcount() uint32  { return uint32(e>>refcountShift) & refcountMask }

func (e IndexEntry) withRefcount(rc uint32) IndexEntry {
	return packEntry(e.segmentID(), e.offset(), e.typ(), e.tier(), rc)
}

func (e IndexEntry) withLocation(segmentID, offset uint32, tier Tier) IndexEntry {
	return packEntry(segmentID, offset, e.typ(), tier, e.refcount())
}

// Location describes where an object's payload currently lives.
type Location struct {
	SegmentID uint32
	Offset    uint32
	Type      NodeType
	Tier      Tier
	Refcount  uint32
}

// ObjectIndex maps a 40-bit object id to its packed IndexEntry. Entries are
// mutated with atomic operations only; there is no per-entry lock.
type ObjectIndex struct {
	entries []atomic.Uint64
	next    atomic.Uint64 // next unused object id, monotonically increasing
}

// NewObjectIndex allocates an index with room for capacity object ids.
// Entry 0 is permanently reserved as the null id.
func NewObjectIndex(capacity uint32) *ObjectIndex {
	idx := &ObjectIndex{entries: make([]atomic.Uint64, capacity)}
	idx.next.Store(1)
	return idx
}

// Reserve allocates a fresh object id and installs entry as its initial
// index entry. It does not itself write any payload bytes.
func (idx *ObjectIndex) Reserve(segmentID, offset uint32, typ NodeType, tier Tier) (ObjectID, bool) {
	id := idx.next.Add(1) - 1
	if id == 0 || int(id) >= len(idx.entries) {
		return 0, false
	}
	idx.entries[id].Store(uint64(packEntry(segmentID, offset, typ, tier, 1)))
	return ObjectID(id), true
}

// Lookup returns the current location of id.
func (idx *ObjectIndex) Lookup(id ObjectID) (Location, bool) {
	if id == 0 || int(id) >= len(idx.entries) {
		return Location{}, false
	}
	raw := idx.entries[id].Load()
	if raw == 0 {
		return Location{}, false
	}
	e := IndexEntry(raw)
	return Location{
		SegmentID: e.segmentID(),
		Offset:    e.offset(),
		Type:      e.typ(),
		Tier:      e.tier(),
		Refcount:  e.refcount(),
	}, true
}

// Retain atomically increments id's refcount, saturating at MaxRefcount.
// It reports the post-increment refcount and whether saturation was hit
// (the caller must then clone rather than trust the shared id further).
func (idx *ObjectIndex) Retain(id ObjectID) (newCount uint32, saturated bool) {
	if id == 0 {
		return 0, false
	}
	slot := &idx.entries[id]
	for {
		raw := slot.Load()
		e := IndexEntry(raw)
		rc := e.refcount()
		if rc >= MaxRefcount {
			return MaxRefcount, true
		}
		next := e.withRefcount(rc + 1)
		if slot.CompareAndSwap(raw, uint64(next)) {
			return rc + 1, false
		}
	}
}

// Release atomically decrements id's refcount. It reports the post-decrement
// refcount; callers enqueue id for deferred free when it reaches zero.
func (idx *ObjectIndex) Release(id ObjectID) uint32 {
	if id == 0 {
		return 0
	}
	slot := &idx.entries[id]
	for {
		raw := slot.Load()
		e := IndexEntry(raw)
		rc := e.refcount()
		if rc == 0 {
			invariant.Fail("refcount underflow", "object_id", id)
			return 0
		}
		next := e.withRefcount(rc - 1)
		if slot.CompareAndSwap(raw, uint64(next)) {
			return rc - 1
		}
	}
}

// Clear removes id's entry entirely, called once its refcount has reached
// zero and it has been fully reclaimed.
func (idx *ObjectIndex) Clear(id ObjectID) {
	if id == 0 {
		return
	}
	idx.entries[id].Store(0)
}

// Relocate swings id's entry to a new (segment, offset, tier) atomically,
// used by compaction. It never changes type or refcount.
func (idx *ObjectIndex) Relocate(id ObjectID, segmentID, offset uint32, tier Tier) {
	slot := &idx.entries[id]
	for {
		raw := slot.Load()
		e := IndexEntry(raw)
		next := e.withLocation(segmentID, offset, tier)
		if slot.CompareAndSwap(raw, uint64(next)) {
			return
		}
	}
}

// SetTier atomically updates only the tier classification of id, used by
// cache promotion.
func (idx *ObjectIndex) SetTier(id ObjectID, tier Tier) {
	slot := &idx.entries[id]
	for {
		raw := slot.Load()
		e := IndexEntry(raw)
		next := packEntry(e.segmentID(), e.offset(), e.typ(), tier, e.refcount())
		if slot.CompareAndSwap(raw, uint64(next)) {
			return
		}
	}
}

// Len returns the number of entry slots, including the reserved null slot.
func (idx *ObjectIndex) Len() int { return len(idx.entries) }

// SetRefcount overwrites id's refcount field directly, bypassing the
// saturating increment/decrement used by Retain/Release. Used only by the
// post-crash recovery pass, which computes true live-edge counts
// out-of-band and then installs them in one shot.
func (idx *ObjectIndex) SetRefcount(id ObjectID, rc uint32) {
	if id == 0 {
		return
	}
	slot := &idx.entries[id]
	for {
		raw := slot.Load()
		if raw == 0 {
			return
		}
		e := IndexEntry(raw)
		next := e.withRefcount(rc)
		if slot.CompareAndSwap(raw, uint64(next)) {
			return
		}
	}
}

// ForEachLive calls fn once for every currently occupied entry (id, loc).
// Used by the recovery pass to enumerate every object the allocator knows
// about, reachable or not.
func (idx *ObjectIndex) ForEachLive(fn func(id ObjectID, loc Location)) {
	for i := 1; i < len(idx.entries); i++ {
		raw := idx.entries[i].Load()
		if raw == 0 {
			continue
		}
		e := IndexEntry(raw)
		fn(ObjectID(i), Location{
			SegmentID: e.segmentID(),
			Offset:    e.offset(),
			Type:      e.typ(),
			Tier:      e.tier(),
			Refcount:  e.refcount(),
		})
	}
}
