package arena

import (
	"encoding/binary"
	"fmt"
)

// segmentHeaderSize is the small per-segment header: id, write cursor,
// sealed flag, live byte count, and object counts per type.
const segmentHeaderSize = 64

const (
	segOffID        = 0
	segOffCursor    = 4
	segOffSealed    = 8
	segOffLiveBytes = 9
	segOffInnerCnt  = 16
	segOffValueCnt  = 24
)

// SegmentHeader is the decoded form of a segment's header bytes.
type SegmentHeader struct {
	ID         uint32
	Cursor     uint32 // next free byte offset within the segment, header included
	Sealed     bool
	LiveBytes  uint64 // bytes still occupied by live objects (informs compaction's dead-ratio metric)
	InnerCount uint64
	ValueCount uint64
}

func encodeSegmentHeader(h SegmentHeader, buf []byte) {
	binary.LittleEndian.PutUint32(buf[segOffID:], h.ID)
	binary.LittleEndian.PutUint32(buf[segOffCursor:], h.Cursor)
	if h.Sealed {
		buf[segOffSealed] = 1
	} else {
		buf[segOffSealed] = 0
	}
	binary.LittleEndian.PutUint64(buf[segOffLiveBytes:], h.LiveBytes)
	binary.LittleEndian.PutUint64(buf[segOffInnerCnt:], h.InnerCount)
	binary.LittleEndian.PutUint64(buf[segOffValueCnt:], h.ValueCount)
}

func decodeSegmentHeader(buf []byte) SegmentHeader {
	return SegmentHeader{
		ID:         binary.LittleEndian.Uint32(buf[segOffID:]),
		Cursor:     binary.LittleEndian.Uint32(buf[segOffCursor:]),
		Sealed:     buf[segOffSealed] != 0,
		LiveBytes:  binary.LittleEndian.Uint64(buf[segOffLiveBytes:]),
		InnerCount: binary.LittleEndian.Uint64(buf[segOffInnerCnt:]),
		ValueCount: binary.LittleEndian.Uint64(buf[segOffValueCnt:]),
	}
}

// segment is the allocator's in-memory view of one on-disk segment: a
// cached copy of its header plus a handle to the mapped bytes backing its
// body. Body writes are append-only and therefore lock-free with respect
// to readers; only header bookkeeping needs the allocator's mutex.
type segment struct {
	hdr    SegmentHeader
	tier   Tier
	bytes  []byte // full segment region, header + body
	size   uint32
	closed bool // true once sealed and every live object has relocated away
}

func newSegment(id uint32, size uint32, tier Tier, bytes []byte) *segment {
	s := &segment{
		hdr:   SegmentHeader{ID: id, Cursor: segmentHeaderSize},
		tier:  tier,
		bytes: bytes,
		size:  size,
	}
	s.flushHeader()
	return s
}

func (s *segment) flushHeader() {
	encodeSegmentHeader(s.hdr, s.bytes[:segmentHeaderSize])
}

func (s *segment) freeBytes() uint32 {
	if s.hdr.Sealed {
		return 0
	}
	return s.size - s.hdr.Cursor
}

// append writes n bytes at the current cursor and returns the offset they
// were written at. The caller must have already checked freeBytes() >= n.
func (s *segment) append(payload []byte) uint32 {
	off := s.hdr.Cursor
	copy(s.bytes[off:], payload)
	s.hdr.Cursor += uint32(len(payload))
	s.flushHeader()
	return off
}

func (s *segment) seal() {
	s.hdr.Sealed = true
	s.flushHeader()
}

// deadRatio is the fraction of the segment's written bytes that no longer
// belong to a live object, the metric compaction maximizes over when
// picking a source segment.
func (s *segment) deadRatio() float64 {
	written := s.hdr.Cursor - segmentHeaderSize
	if written == 0 {
		return 0
	}
	dead := uint64(written) - s.hdr.LiveBytes
	return float64(dead) / float64(written)
}

func (s *segment) String() string {
	return fmt.Sprintf("segment{id=%d tier=%s cursor=%d sealed=%v live=%d}",
		s.hdr.ID, s.tier, s.hdr.Cursor, s.hdr.Sealed, s.hdr.LiveBytes)
}
