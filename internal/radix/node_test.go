package radix

import (
	"testing"

	"github.com/raditree/raditree/internal/arena"
	"github.com/stretchr/testify/require"
)

func TestNodeEncodeDecodeValueBytes(t *testing.T) {
	n := Node{Kind: arena.TypeValueBytes, PrefixDigits: ToDigits([]byte("apple")), Bytes: []byte("a fruit")}
	buf := Encode(n)
	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, n.Kind, got.Kind)
	require.Equal(t, n.PrefixDigits, got.PrefixDigits)
	require.Equal(t, n.Bytes, got.Bytes)
}

func TestNodeEncodeDecodeValueRoots(t *testing.T) {
	n := Node{Kind: arena.TypeValueRoots, PrefixDigits: []byte{1, 2, 3}, Roots: []arena.ObjectID{7, 9, 11}}
	buf := Encode(n)
	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, n.Roots, got.Roots)
}

func TestNodeEncodeDecodeInnerWithValue(t *testing.T) {
	n := Node{
		Kind:         arena.TypeInner,
		PrefixDigits: []byte{4, 5},
		Bitmap:       (1 << 3) | (1 << 40),
		ValueID:      99,
		Children:     []arena.ObjectID{101, 202},
	}
	buf := Encode(n)
	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, n.Bitmap, got.Bitmap)
	require.Equal(t, n.ValueID, got.ValueID)
	require.Equal(t, n.Children, got.Children)
}

func TestNodeEncodeDecodeInnerWithoutValue(t *testing.T) {
	n := Node{
		Kind:         arena.TypeInner,
		PrefixDigits: nil,
		Bitmap:       1 << 0,
		Children:     []arena.ObjectID{5},
	}
	buf := Encode(n)
	got, err := Decode(buf)
	require.NoError(t, err)
	require.True(t, got.ValueID.Null())
	require.Equal(t, n.Children, got.Children)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	n := Node{Kind: arena.TypeValueBytes, Bytes: []byte("x")}
	buf := append(Encode(n), 0xDE, 0xAD, 0xBE, 0xEF)
	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, n.Bytes, got.Bytes)
}

func TestChildIndexOrdersByBitPosition(t *testing.T) {
	bitmap := (uint64(1) << 2) | (uint64(1) << 5) | (uint64(1) << 40)
	require.Equal(t, 0, childIndex(bitmap, 2))
	require.Equal(t, 1, childIndex(bitmap, 5))
	require.Equal(t, 2, childIndex(bitmap, 40))
}
