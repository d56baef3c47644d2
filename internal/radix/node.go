package radix

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/raditree/raditree/internal/arena"
)

// hasValueFlag is set on an inner node's type byte when it carries a
// value at its own key position.
const hasValueFlag = 0x80

// Node is the decoded, in-memory form of a trie node's packed payload.
// Inner nodes use Bitmap/ValueID/Children; value nodes use Bytes (for
// TypeValueBytes) or Roots (for TypeValueRoots). PrefixDigits is the
// 6-bit-digit span this node consumes from its parent before either
// branching (inner) or terminating (value).
type Node struct {
	Kind         arena.NodeType
	PrefixDigits []byte
	Bitmap       uint64
	ValueID      arena.ObjectID
	Children     []arena.ObjectID
	Bytes        []byte
	Roots        []arena.ObjectID
}

// childIndex returns the position within Children that corresponds to
// digit, given the node's branch bitmap: the compacted array holds one
// entry per set bit, ordered by bit index.
func childIndex(bitmap uint64, digit byte) int {
	return bits.OnesCount64(bitmap & ((uint64(1) << digit) - 1))
}

func hasBranch(bitmap uint64, digit byte) bool {
	return bitmap&(uint64(1)<<digit) != 0
}

// Encode serializes n into a self-describing byte slice. Decoding never
// needs to know the slice's exact length up front: it consumes exactly
// as many bytes as the structure calls for and ignores anything after.
func Encode(n Node) []byte {
	var buf []byte

	typeByte := byte(n.Kind)
	if n.Kind == arena.TypeInner && !n.ValueID.Null() {
		typeByte |= hasValueFlag
	}
	buf = append(buf, typeByte)
	buf = appendUvarint(buf, uint64(len(n.PrefixDigits)))
	buf = append(buf, packDigits(n.PrefixDigits)...)

	switch n.Kind {
	case arena.TypeInner:
		var bm [8]byte
		binary.LittleEndian.PutUint64(bm[:], n.Bitmap)
		buf = append(buf, bm[:]...)
		if !n.ValueID.Null() {
			buf = appendObjectID(buf, n.ValueID)
		}
		for _, c := range n.Children {
			buf = appendObjectID(buf, c)
		}
	case arena.TypeValueBytes:
		buf = appendUvarint(buf, uint64(len(n.Bytes)))
		buf = append(buf, n.Bytes...)
	case arena.TypeValueRoots:
		buf = appendUvarint(buf, uint64(len(n.Roots)))
		for _, r := range n.Roots {
			buf = appendObjectID(buf, r)
		}
	}
	return buf
}

// Decode parses a node payload out of buf, which may (and usually does)
// extend past the node's own encoded bytes into whatever was appended
// after it in the segment.
func Decode(buf []byte) (Node, error) {
	if len(buf) < 1 {
		return Node{}, fmt.Errorf("radix: empty node payload")
	}
	var n Node
	typeByte := buf[0]
	n.Kind = arena.NodeType(typeByte &^ hasValueFlag)
	hasValue := typeByte&hasValueFlag != 0
	buf = buf[1:]

	digitCount, used := readUvarint(buf)
	if used == 0 {
		return Node{}, fmt.Errorf("radix: truncated prefix length")
	}
	buf = buf[used:]
	prefixBytes := (int(digitCount)*6 + 7) / 8
	if len(buf) < prefixBytes {
		return Node{}, fmt.Errorf("radix: truncated prefix bytes")
	}
	n.PrefixDigits = unpackDigits(buf[:prefixBytes], int(digitCount))
	buf = buf[prefixBytes:]

	switch n.Kind {
	case arena.TypeInner:
		if len(buf) < 8 {
			return Node{}, fmt.Errorf("radix: truncated bitmap")
		}
		n.Bitmap = binary.LittleEndian.Uint64(buf[:8])
		buf = buf[8:]
		if hasValue {
			id, rest, err := readObjectID(buf)
			if err != nil {
				return Node{}, err
			}
			n.ValueID = id
			buf = rest
		}
		count := bits.OnesCount64(n.Bitmap)
		n.Children = make([]arena.ObjectID, count)
		for i := 0; i < count; i++ {
			id, rest, err := readObjectID(buf)
			if err != nil {
				return Node{}, err
			}
			n.Children[i] = id
			buf = rest
		}
	case arena.TypeValueBytes:
		length, used := readUvarint(buf)
		if used == 0 {
			return Node{}, fmt.Errorf("radix: truncated value length")
		}
		buf = buf[used:]
		if uint64(len(buf)) < length {
			return Node{}, fmt.Errorf("radix: truncated value bytes")
		}
		n.Bytes = append([]byte(nil), buf[:length]...)
	case arena.TypeValueRoots:
		count, used := readUvarint(buf)
		if used == 0 {
			return Node{}, fmt.Errorf("radix: truncated roots count")
		}
		buf = buf[used:]
		n.Roots = make([]arena.ObjectID, count)
		for i := range n.Roots {
			id, rest, err := readObjectID(buf)
			if err != nil {
				return Node{}, err
			}
			n.Roots[i] = id
			buf = rest
		}
	default:
		return Node{}, fmt.Errorf("radix: unknown node type tag %d", n.Kind)
	}
	return n, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(buf []byte) (uint64, int) {
	return binary.Uvarint(buf)
}

func appendObjectID(buf []byte, id arena.ObjectID) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(id))
	return append(buf, tmp[:]...)
}

func readObjectID(buf []byte) (arena.ObjectID, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("radix: truncated object id")
	}
	return arena.ObjectID(binary.LittleEndian.Uint64(buf[:8])), buf[8:], nil
}
