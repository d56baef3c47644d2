package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts ...func(*Options)) *Store {
	t.Helper()
	dir := t.TempDir()
	o := Options{Path: filepath.Join(dir, "store.raditree"), SegmentSize: 1 << 16}
	for _, fn := range opts {
		fn(&o)
	}
	st, err := Open(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Scenario 1: two keys, forward iteration and bound queries.
func TestScenarioBasicUpsertAndIteration(t *testing.T) {
	st := openTestStore(t)
	w, err := st.StartWriter()
	require.NoError(t, err)
	defer w.Close()

	root := w.GetTopRoot()
	root, _, err = w.UpsertBytes(root, []byte("apple"), []byte("red"), true)
	require.NoError(t, err)
	root, _, err = w.UpsertBytes(root, []byte("apricot"), []byte("orange"), true)
	require.NoError(t, err)
	require.NoError(t, w.SetTopRoot(root))

	res, err := w.Get(root, []byte("apple"), CacheDefault)
	require.NoError(t, err)
	require.Equal(t, []byte("red"), res.Bytes)

	res, err = w.Get(root, []byte("apricot"), CacheDefault)
	require.NoError(t, err)
	require.Equal(t, []byte("orange"), res.Bytes)

	c := w.Cursor(root, nil)
	require.NoError(t, c.First())
	k, err := c.Key()
	require.NoError(t, err)
	require.Equal(t, []byte("apple"), k)
	require.NoError(t, c.Next())
	k, err = c.Key()
	require.NoError(t, err)
	require.Equal(t, []byte("apricot"), k)
	require.NoError(t, c.Next())
	require.False(t, c.Valid())

	key, _, ok, err := w.GreaterOrEqual(root, []byte("ap"), CacheDefault)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("apple"), key)

	key, _, ok, err = w.GreaterOrEqual(root, []byte("aq"), CacheDefault)
	require.NoError(t, err)
	require.False(t, ok)

	key, _, ok, err = w.LessThan(root, []byte("apricotz"), CacheDefault)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("apricot"), key)
}

// Scenario 2: 1000 keys, remove the evens, snapshot before and after differ
// exactly as expected, and the surviving root iterates in order.
func TestScenarioSnapshotIsolationAcrossRemovals(t *testing.T) {
	st := openTestStore(t)
	w, err := st.StartWriter()
	require.NoError(t, err)
	defer w.Close()

	root := w.GetTopRoot()
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		val := []byte(fmt.Sprintf("%d", i))
		root, _, err = w.UpsertBytes(root, key, val, true)
		require.NoError(t, err)
	}

	r1 := root
	r2 := r1
	for i := 0; i < 1000; i += 2 {
		key := []byte(fmt.Sprintf("k%04d", i))
		r2, _, err = w.Remove(r2, key)
		require.NoError(t, err)
	}

	res, err := w.Get(r1, []byte("k0500"), CacheDefault)
	require.NoError(t, err)
	require.Equal(t, []byte("500"), res.Bytes)

	res, err = w.Get(r2, []byte("k0500"), CacheDefault)
	require.NoError(t, err)
	require.False(t, res.Found)

	res, err = w.Get(r2, []byte("k0501"), CacheDefault)
	require.NoError(t, err)
	require.Equal(t, []byte("501"), res.Bytes)

	c := w.Cursor(r2, nil)
	require.NoError(t, c.First())
	count := 0
	for c.Valid() {
		count++
		require.NoError(t, c.Next())
	}
	require.Equal(t, 500, count)
}

// Scenario 3: a nested roots-value, mutated independently of the outer
// tree that references it; the outer snapshot taken before the mutation is
// unaffected.
func TestScenarioNestedRootsValueIndependence(t *testing.T) {
	st := openTestStore(t)
	w, err := st.StartWriter()
	require.NoError(t, err)
	defer w.Close()

	inner := w.GetTopRoot()
	inner, _, err = w.UpsertBytes(inner, []byte("x"), []byte("1"), true)
	require.NoError(t, err)

	outer := w.GetTopRoot()
	outer, _, err = w.UpsertRoots(outer, []byte("bucket/A"), []*RootHandle{inner}, true)
	require.NoError(t, err)
	t1 := outer

	innerPrime, _, err := w.UpsertBytes(inner, []byte("x"), []byte("2"), false)
	require.NoError(t, err)

	t1Prime, _, err := w.UpsertRoots(t1, []byte("bucket/A"), []*RootHandle{innerPrime}, false)
	require.NoError(t, err)

	resT1, err := w.Get(t1, []byte("bucket/A"), CacheDefault)
	require.NoError(t, err)
	require.Len(t, resT1.Roots, 1)
	v, err := w.Get(resT1.Roots[0], []byte("x"), CacheDefault)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v.Bytes)
	resT1.Roots[0].Release()

	resT1Prime, err := w.Get(t1Prime, []byte("bucket/A"), CacheDefault)
	require.NoError(t, err)
	require.Len(t, resT1Prime.Roots, 1)
	v, err = w.Get(resT1Prime.Roots[0], []byte("x"), CacheDefault)
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v.Bytes)
	resT1Prime.Roots[0].Release()
}

// Scenario 4: fill past a segment boundary, delete everything, compact, and
// confirm the same keys can be reinserted without unbounded growth.
func TestScenarioCompactionReclaimsDeletedSpace(t *testing.T) {
	st := openTestStore(t, func(o *Options) { o.SegmentSize = 1 << 13 })
	w, err := st.StartWriter()
	require.NoError(t, err)
	defer w.Close()

	root := w.GetTopRoot()
	var keys [][]byte
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		keys = append(keys, key)
		root, _, err = w.UpsertBytes(root, key, make([]byte, 32), true)
		require.NoError(t, err)
	}
	require.NoError(t, w.SetTopRoot(root))

	for _, key := range keys {
		root, _, err = w.Remove(root, key)
		require.NoError(t, err)
	}
	require.NoError(t, w.SetTopRoot(root))

	for i := 0; i < 10; i++ {
		require.NoError(t, st.Compact(context.Background()))
	}

	for _, key := range keys {
		root, _, err = w.UpsertBytes(root, key, make([]byte, 32), true)
		require.NoError(t, err)
	}
	for _, key := range keys {
		res, err := w.Get(root, key, CacheDefault)
		require.NoError(t, err)
		require.True(t, res.Found)
	}
}

// Scenario 5: the empty key is a valid key and sorts first.
func TestScenarioEmptyKeyIsValid(t *testing.T) {
	st := openTestStore(t)
	w, err := st.StartWriter()
	require.NoError(t, err)
	defer w.Close()

	root := w.GetTopRoot()
	root, _, err = w.UpsertBytes(root, []byte(""), []byte("empty-key-value"), true)
	require.NoError(t, err)
	root, _, err = w.UpsertBytes(root, []byte("a"), []byte("x"), true)
	require.NoError(t, err)

	res, err := w.Get(root, []byte(""), CacheDefault)
	require.NoError(t, err)
	require.Equal(t, []byte("empty-key-value"), res.Bytes)

	c := w.Cursor(root, nil)
	require.NoError(t, c.First())
	k, err := c.Key()
	require.NoError(t, err)
	require.Equal(t, []byte(""), k)
}

// Scenario 6: a writer crashes mid-mutation without publishing; reopening
// shows the last committed root, and recovery leaks nothing.
func TestScenarioCrashRecoveryKeepsLastCommittedRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.raditree")

	st, err := Open(Options{Path: path, SegmentSize: 1 << 16})
	require.NoError(t, err)
	w, err := st.StartWriter()
	require.NoError(t, err)

	root := w.GetTopRoot()
	root, _, err = w.UpsertBytes(root, []byte("s1"), []byte("committed"), true)
	require.NoError(t, err)
	require.NoError(t, w.SetTopRoot(root))
	s1 := root

	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("pending-%04d", i))
		root, _, err = w.UpsertBytes(root, key, []byte("v"), false)
		require.NoError(t, err)
	}
	// Crash: close without publishing root again.
	w.Close()
	require.NoError(t, st.Close())

	reopened, err := Open(Options{Path: path, SegmentSize: 1 << 16})
	require.NoError(t, err)
	defer reopened.Close()

	r, err := reopened.StartReader(context.Background())
	require.NoError(t, err)
	defer r.Close()

	top := r.GetTopRoot()
	require.Equal(t, s1.ID(), top.ID())

	res, err := r.Get(top, []byte("s1"), CacheDefault)
	require.NoError(t, err)
	require.Equal(t, []byte("committed"), res.Bytes)

	res, err = r.Get(top, []byte("pending-0000"), CacheDefault)
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestWriterBusyRejectsSecondWriter(t *testing.T) {
	st := openTestStore(t)
	w, err := st.StartWriter()
	require.NoError(t, err)
	defer w.Close()

	_, err = st.StartWriter()
	require.ErrorIs(t, err, ErrWriterBusy)
}

func TestReaderCannotSetTopRoot(t *testing.T) {
	st := openTestStore(t)
	r, err := st.StartReader(context.Background())
	require.NoError(t, err)
	defer r.Close()

	require.ErrorIs(t, r.SetTopRoot(r.GetTopRoot()), ErrNotWriter)
}

func TestKeyTooLongIsRejected(t *testing.T) {
	st := openTestStore(t)
	w, err := st.StartWriter()
	require.NoError(t, err)
	defer w.Close()

	root := w.GetTopRoot()
	_, _, err = w.UpsertBytes(root, make([]byte, 2000), []byte("v"), true)
	require.ErrorIs(t, err, ErrKeyTooLong)
}

func TestIdempotentRemoveReturnsSameRoot(t *testing.T) {
	st := openTestStore(t)
	w, err := st.StartWriter()
	require.NoError(t, err)
	defer w.Close()

	root := w.GetTopRoot()
	root, _, err = w.UpsertBytes(root, []byte("a"), []byte("v"), true)
	require.NoError(t, err)

	newRoot, removed, err := w.Remove(root, []byte("missing"))
	require.NoError(t, err)
	require.Equal(t, -1, removed)
	require.Equal(t, root.ID(), newRoot.ID())
}
