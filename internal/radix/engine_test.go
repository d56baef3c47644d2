package radix

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/raditree/raditree/internal/arena"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	a, err := arena.Open(arena.Options{
		Path:        filepath.Join(dir, "store.raditree"),
		SegmentSize: 1 << 16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return NewEngine(a)
}

func TestInsertLookupSingleKey(t *testing.T) {
	e := newTestEngine(t)
	root, prev, err := e.Insert(0, []byte("apple"), BytesPayload([]byte("fruit")), true)
	require.NoError(t, err)
	require.Equal(t, -1, prev)

	res, err := e.Lookup(root, []byte("apple"))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []byte("fruit"), res.Bytes)

	res, err = e.Lookup(root, []byte("missing"))
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestInsertOverwriteReturnsPreviousSize(t *testing.T) {
	e := newTestEngine(t)
	root, _, err := e.Insert(0, []byte("apple"), BytesPayload([]byte("fruit")), true)
	require.NoError(t, err)

	root, prev, err := e.Insert(root, []byte("apple"), BytesPayload([]byte("pome")), true)
	require.NoError(t, err)
	require.Equal(t, len("fruit"), prev)

	res, err := e.Lookup(root, []byte("apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("pome"), res.Bytes)
}

func TestInsertOverwriteWithSamePayloadIsNoop(t *testing.T) {
	e := newTestEngine(t)
	root, _, err := e.Insert(0, []byte("apple"), BytesPayload([]byte("fruit")), true)
	require.NoError(t, err)

	newRoot, prev, err := e.Insert(root, []byte("apple"), BytesPayload([]byte("fruit")), true)
	require.NoError(t, err)
	require.Equal(t, root, newRoot)
	require.Equal(t, len("fruit"), prev)
}

func TestInsertSharesPrefixBranches(t *testing.T) {
	e := newTestEngine(t)
	root, _, err := e.Insert(0, []byte("apple"), BytesPayload([]byte("1")), true)
	require.NoError(t, err)
	root, _, err = e.Insert(root, []byte("apricot"), BytesPayload([]byte("2")), true)
	require.NoError(t, err)

	for _, kv := range []struct{ k, v string }{{"apple", "1"}, {"apricot", "2"}} {
		res, err := e.Lookup(root, []byte(kv.k))
		require.NoError(t, err)
		require.True(t, res.Found)
		require.Equal(t, []byte(kv.v), res.Bytes)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	root, _, err := e.Insert(0, []byte("apple"), BytesPayload([]byte("1")), true)
	require.NoError(t, err)

	root, size, err := e.Remove(root, []byte("apple"))
	require.NoError(t, err)
	require.Equal(t, 1, size)

	root2, size2, err := e.Remove(root, []byte("apple"))
	require.NoError(t, err)
	require.Equal(t, root, root2)
	require.Equal(t, -1, size2)
}

func TestRemoveMissingKeyReturnsMinusOne(t *testing.T) {
	e := newTestEngine(t)
	root, _, err := e.Insert(0, []byte("apple"), BytesPayload([]byte("1")), true)
	require.NoError(t, err)

	newRoot, size, err := e.Remove(root, []byte("banana"))
	require.NoError(t, err)
	require.Equal(t, root, newRoot)
	require.Equal(t, -1, size)
}

func TestRemoveCollapsesSingleChildInner(t *testing.T) {
	e := newTestEngine(t)
	root, _, err := e.Insert(0, []byte("apple"), BytesPayload([]byte("1")), true)
	require.NoError(t, err)
	root, _, err = e.Insert(root, []byte("apricot"), BytesPayload([]byte("2")), true)
	require.NoError(t, err)

	root, _, err = e.Remove(root, []byte("apricot"))
	require.NoError(t, err)

	res, err := e.Lookup(root, []byte("apple"))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []byte("1"), res.Bytes)

	res, err = e.Lookup(root, []byte("apricot"))
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestRemoveAllKeysCollapsesToNullRoot(t *testing.T) {
	e := newTestEngine(t)
	root, _, err := e.Insert(0, []byte("a"), BytesPayload([]byte("1")), true)
	require.NoError(t, err)
	root, _, err = e.Remove(root, []byte("a"))
	require.NoError(t, err)
	require.True(t, root.Null())
}

func TestEmptyStringKey(t *testing.T) {
	e := newTestEngine(t)
	root, _, err := e.Insert(0, []byte(""), BytesPayload([]byte("root value")), true)
	require.NoError(t, err)

	res, err := e.Lookup(root, []byte(""))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []byte("root value"), res.Bytes)

	root, _, err = e.Insert(root, []byte("a"), BytesPayload([]byte("child")), true)
	require.NoError(t, err)
	res, err = e.Lookup(root, []byte(""))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []byte("root value"), res.Bytes)
}

func TestIteratorVisitsKeysInOrder(t *testing.T) {
	e := newTestEngine(t)
	keys := []string{"banana", "apple", "apricot", "cherry", "avocado"}
	var root arena.ObjectID
	var err error
	for _, k := range keys {
		root, _, err = e.Insert(root, []byte(k), BytesPayload([]byte(k)), true)
		require.NoError(t, err)
	}

	c := e.NewCursor(root, nil)
	require.NoError(t, c.First())
	var got []string
	for c.Valid() {
		k, err := c.Key()
		require.NoError(t, err)
		got = append(got, string(k))
		require.NoError(t, c.Next())
	}
	require.Equal(t, []string{"apple", "apricot", "avocado", "banana", "cherry"}, got)
}

func TestIteratorReverseMatchesForward(t *testing.T) {
	e := newTestEngine(t)
	keys := []string{"banana", "apple", "apricot", "cherry", "avocado"}
	var root arena.ObjectID
	var err error
	for _, k := range keys {
		root, _, err = e.Insert(root, []byte(k), BytesPayload([]byte(k)), true)
		require.NoError(t, err)
	}

	c := e.NewCursor(root, nil)
	require.NoError(t, c.Last())
	var got []string
	for c.Valid() {
		k, err := c.Key()
		require.NoError(t, err)
		got = append(got, string(k))
		require.NoError(t, c.Prev())
	}
	require.Equal(t, []string{"cherry", "banana", "avocado", "apricot", "apple"}, got)
}

func TestIteratorRestrictedToPrefix(t *testing.T) {
	e := newTestEngine(t)
	keys := []string{"apple", "apricot", "banana", "avocado"}
	var root arena.ObjectID
	var err error
	for _, k := range keys {
		root, _, err = e.Insert(root, []byte(k), BytesPayload([]byte(k)), true)
		require.NoError(t, err)
	}

	c := e.NewCursor(root, []byte("ap"))
	require.NoError(t, c.First())
	var got []string
	for c.Valid() {
		k, err := c.Key()
		require.NoError(t, err)
		got = append(got, string(k))
		require.NoError(t, c.Next())
	}
	require.Equal(t, []string{"apple", "apricot"}, got)
}

func TestIteratorOverManyNumericKeysWithEvenRemoval(t *testing.T) {
	e := newTestEngine(t)
	var root arena.ObjectID
	var err error
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("k%04d", i)
		root, _, err = e.Insert(root, []byte(k), BytesPayload([]byte(k)), true)
		require.NoError(t, err)
	}
	for i := 0; i < 200; i += 2 {
		k := fmt.Sprintf("k%04d", i)
		root, _, err = e.Remove(root, []byte(k))
		require.NoError(t, err)
	}

	c := e.NewCursor(root, nil)
	require.NoError(t, c.First())
	var got []string
	for c.Valid() {
		k, err := c.Key()
		require.NoError(t, err)
		got = append(got, string(k))
		require.NoError(t, c.Next())
	}
	require.Len(t, got, 100)
	for i, s := range got {
		require.Equal(t, fmt.Sprintf("k%04d", 2*i+1), s)
	}
}

func TestGreaterOrEqualAndLessThan(t *testing.T) {
	e := newTestEngine(t)
	keys := []string{"apple", "apricot", "banana", "cherry"}
	var root arena.ObjectID
	var err error
	for _, k := range keys {
		root, _, err = e.Insert(root, []byte(k), BytesPayload([]byte(k)), true)
		require.NoError(t, err)
	}

	key, res, ok, err := e.GreaterOrEqual(root, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "banana", string(key))
	require.Equal(t, "banana", string(res.Bytes))

	key, _, ok, err = e.GreaterOrEqual(root, []byte("cherry"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cherry", string(key))

	_, _, ok, err = e.GreaterOrEqual(root, []byte("zzz"))
	require.NoError(t, err)
	require.False(t, ok)

	key, _, ok, err = e.LessThan(root, []byte("banana"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "apricot", string(key))

	_, _, ok, err = e.LessThan(root, []byte("apple"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMaxWithinPrefix(t *testing.T) {
	e := newTestEngine(t)
	keys := []string{"apple", "apricot", "applesauce", "banana"}
	var root arena.ObjectID
	var err error
	for _, k := range keys {
		root, _, err = e.Insert(root, []byte(k), BytesPayload([]byte(k)), true)
		require.NoError(t, err)
	}

	key, _, ok, err := e.MaxWithinPrefix(root, []byte("app"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "applesauce", string(key))

	_, _, ok, err = e.MaxWithinPrefix(root, []byte("zz"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertRejectsOversizedKey(t *testing.T) {
	e := newTestEngine(t)
	huge := make([]byte, arena.MaxKeyBytes+1)
	_, _, err := e.Insert(0, huge, BytesPayload([]byte("x")), true)
	require.ErrorIs(t, err, ErrKeyTooLong)
}

func TestRootsValuePayloadRetainsAndReleasesReferents(t *testing.T) {
	e := newTestEngine(t)
	leaf, _, err := e.Insert(0, []byte("leaf"), BytesPayload([]byte("v")), true)
	require.NoError(t, err)

	root, _, err := e.Insert(0, []byte("nested"), RootsPayload([]arena.ObjectID{leaf}), true)
	require.NoError(t, err)

	loc, ok := e.a.Lookup(leaf)
	require.True(t, ok)
	require.Equal(t, uint32(2), loc.Refcount) // Insert's own + the roots-value edge

	res, err := e.Lookup(root, []byte("nested"))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []arena.ObjectID{leaf}, res.Roots)

	// Remove never tears down the superseded version itself — it only
	// computes the new one. The caller (normally the store layer) is
	// responsible for releasing the old root once no snapshot needs it.
	newRoot, _, err := e.Remove(root, []byte("nested"))
	require.NoError(t, err)
	require.True(t, newRoot.Null())
	loc, ok = e.a.Lookup(leaf)
	require.True(t, ok)
	require.Equal(t, uint32(2), loc.Refcount)

	e.Release(root)
	loc, ok = e.a.Lookup(leaf)
	require.True(t, ok)
	require.Equal(t, uint32(1), loc.Refcount)
}
