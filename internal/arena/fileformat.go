// Package arena implements the segment allocator: the memory-mapped,
// segment-structured, copy-on-write storage arena that furnishes stable
// object ids and byte ranges to the trie engine.
//
// Layout on disk: a fixed-size Header (magic, version, segment size,
// segment count, the top-root cell, and object index offset and capacity
// fields), followed by N fixed-size Segments. Segment tiers and the
// object index itself are kept in memory only and are not written to the
// file. Everything here is a pure mechanical concern: node
// semantics live in package radix.
package arena

import (
	"encoding/binary"
	"errors"
)

// Magic identifies a raditree store file.
const Magic uint32 = 0x52_41_44_58 // "RADX"

// FormatVersion is bumped whenever the on-disk layout changes in an
// incompatible way. MaxKeyBytes is part of the format contract: it bounds
// the original (pre six-bit-digit) key length and is fixed at 1024 bytes.
const (
	FormatVersion = 1
	MaxKeyBytes   = 1024
)

// DefaultSegmentSize is chosen so that a segment's in-segment byte offset
// fits the 24-bit offset field of a packed IndexEntry (see index.go):
// 1<<24 bytes = 16 MiB.
const DefaultSegmentSize = 1 << 24

// HeaderSize is the fixed size, in bytes, of the file header region that
// precedes the segment array.
const HeaderSize = 4096

var (
	ErrBadMagic       = errors.New("arena: bad magic number")
	ErrVersionMismatch = errors.New("arena: on-disk format version mismatch")
)

// Header is the decoded form of the file's fixed header region.
type Header struct {
	Magic         uint32
	Version       uint32
	SegmentSize   uint32
	SegmentCount  uint32
	TopRoot       ObjectID // 0 == empty database
	IndexOffset   uint64
	IndexCapacity uint32
}

// header field byte offsets within HeaderSize.
const (
	offMagic         = 0
	offVersion       = 4
	offSegmentSize   = 8
	offSegmentCount  = 12
	offTopRoot       = 16
	offIndexOffset   = 24
	offIndexCapacity = 32
)

// Encode serializes h into a HeaderSize-byte buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[offMagic:], h.Magic)
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offSegmentSize:], h.SegmentSize)
	binary.LittleEndian.PutUint32(buf[offSegmentCount:], h.SegmentCount)
	binary.LittleEndian.PutUint64(buf[offTopRoot:], uint64(h.TopRoot))
	binary.LittleEndian.PutUint64(buf[offIndexOffset:], h.IndexOffset)
	binary.LittleEndian.PutUint32(buf[offIndexCapacity:], h.IndexCapacity)
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer produced by Encode.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, errors.New("arena: short header")
	}
	h.Magic = binary.LittleEndian.Uint32(buf[offMagic:])
	if h.Magic != Magic {
		return h, ErrBadMagic
	}
	h.Version = binary.LittleEndian.Uint32(buf[offVersion:])
	if h.Version != FormatVersion {
		return h, ErrVersionMismatch
	}
	h.SegmentSize = binary.LittleEndian.Uint32(buf[offSegmentSize:])
	h.SegmentCount = binary.LittleEndian.Uint32(buf[offSegmentCount:])
	h.TopRoot = ObjectID(binary.LittleEndian.Uint64(buf[offTopRoot:]))
	h.IndexOffset = binary.LittleEndian.Uint64(buf[offIndexOffset:])
	h.IndexCapacity = binary.LittleEndian.Uint32(buf[offIndexCapacity:])
	return h, nil
}

// ObjectID is the 40-bit stable handle by which every reference to a node
// is made; it survives relocation even though the node's physical
// location does not. 0 is the null id.
type ObjectID uint64

// Null reports whether id is the null object id.
func (id ObjectID) Null() bool { return id == 0 }

// NodeType tags the payload an object id refers to.
type NodeType uint8

const (
	TypeInner NodeType = iota + 1
	TypeValueBytes
	TypeValueRoots
)

// String names typ for metric labels and log lines.
func (typ NodeType) String() string {
	switch typ {
	case TypeInner:
		return "inner"
	case TypeValueBytes:
		return "value_bytes"
	case TypeValueRoots:
		return "value_roots"
	default:
		return "unknown"
	}
}

// Tier classifies a segment (and therefore the objects it holds) by
// access temperature.
type Tier uint8

const (
	TierHot Tier = iota
	TierWarm
	TierCool
	TierCold
	numTiers
)

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCool:
		return "cool"
	case TierCold:
		return "cold"
	default:
		return "unknown"
	}
}

// Colder returns the next tier down, or false if t is already TierCold.
func (t Tier) Colder() (Tier, bool) {
	if t >= TierCold {
		return t, false
	}
	return t + 1, true
}
