package radix

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"testing/quick"

	"github.com/raditree/raditree/internal/arena"
	"github.com/stretchr/testify/require"
)

// randKey draws a key short enough to keep ToDigits/FromDigits's encoding
// well inside arena.MaxKeyBytes, biased toward overlapping prefixes so
// insert/remove regularly exercise branch splitting and collapsing rather
// than a flat set of unrelated leaves.
func randKey(r *rand.Rand) []byte {
	n := 1 + r.Intn(12)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte('a' + r.Intn(4))
	}
	return buf
}

func randValue(r *rand.Rand) []byte {
	n := r.Intn(24)
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

// TestQuickInsertLookupRoundTrips checks, for arbitrary key/value byte
// slices generated by testing/quick, that a value inserted under a key is
// the exact value Lookup later returns for that key.
func TestQuickInsertLookupRoundTrips(t *testing.T) {
	e := newTestEngine(t)
	prop := func(key, value []byte) bool {
		if len(key) == 0 || len(key) > 64 {
			return true
		}
		root, _, err := e.Insert(0, key, BytesPayload(value), true)
		if err != nil {
			return false
		}
		res, err := e.Lookup(root, key)
		if err != nil || !res.Found {
			return false
		}
		ok := bytes.Equal(res.Bytes, value)
		e.Release(root)
		return ok
	}
	require.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 200}))
}

// TestPropertyRandomKeySequenceRoundTrips builds a trie from a random
// sequence of unique key/value pairs and checks every key looks up its
// own value, across a table of seeds so failures are reproducible.
func TestPropertyRandomKeySequenceRoundTrips(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 42, 1337} {
		seed := seed
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			e := newTestEngine(t)
			r := rand.New(rand.NewSource(seed))
			want := make(map[string][]byte)
			var root arena.ObjectID
			var err error
			for i := 0; i < 300; i++ {
				k := randKey(r)
				v := randValue(r)
				root, _, err = e.Insert(root, k, BytesPayload(v), true)
				require.NoError(t, err)
				want[string(k)] = v
			}
			for k, v := range want {
				res, err := e.Lookup(root, []byte(k))
				require.NoError(t, err)
				require.True(t, res.Found, "key %q missing after insert sequence", k)
				require.Equal(t, v, res.Bytes)
			}
		})
	}
}

// TestPropertyIteratorOrderMatchesSortedKeys checks that a forward cursor
// walk over a randomly built trie always yields keys in byte-lexicographic
// order, matching ToDigits's order-preserving guarantee.
func TestPropertyIteratorOrderMatchesSortedKeys(t *testing.T) {
	for _, seed := range []int64{7, 13, 99, 256, 4096} {
		seed := seed
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			e := newTestEngine(t)
			r := rand.New(rand.NewSource(seed))
			seen := make(map[string]bool)
			var keys []string
			var root arena.ObjectID
			var err error
			for i := 0; i < 200; i++ {
				k := randKey(r)
				if seen[string(k)] {
					continue
				}
				seen[string(k)] = true
				keys = append(keys, string(k))
				root, _, err = e.Insert(root, k, BytesPayload(randValue(r)), true)
				require.NoError(t, err)
			}
			sort.Strings(keys)

			c := e.NewCursor(root, nil)
			require.NoError(t, c.First())
			var got []string
			for c.Valid() {
				k, err := c.Key()
				require.NoError(t, err)
				got = append(got, string(k))
				require.NoError(t, c.Next())
			}
			require.Equal(t, keys, got)
		})
	}
}

// TestPropertyIdempotentOverwriteWithSameValue checks that re-inserting the
// identical value under an already-present key is a true no-op: the root
// id is unchanged and the reported previous size still reflects the
// existing value, for a random sample of keys drawn from a trie built by a
// random insert sequence.
func TestPropertyIdempotentOverwriteWithSameValue(t *testing.T) {
	for _, seed := range []int64{5, 11, 23, 77} {
		seed := seed
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			e := newTestEngine(t)
			r := rand.New(rand.NewSource(seed))
			values := make(map[string][]byte)
			var root arena.ObjectID
			var err error
			for i := 0; i < 150; i++ {
				k := randKey(r)
				v := randValue(r)
				root, _, err = e.Insert(root, k, BytesPayload(v), true)
				require.NoError(t, err)
				values[string(k)] = v
			}

			for k, v := range values {
				before := root
				after, prev, err := e.Insert(before, []byte(k), BytesPayload(v), true)
				require.NoError(t, err)
				require.Equal(t, before, after, "same-value overwrite of %q reallocated the root", k)
				require.Equal(t, len(v), prev)
				root = after
			}
		})
	}
}

// TestPropertyRemoveAllLeavesEmptyTrie checks that removing every key
// inserted by a random sequence, in a different random order, always
// drains the trie back to a null root with no survivors.
func TestPropertyRemoveAllLeavesEmptyTrie(t *testing.T) {
	for _, seed := range []int64{2, 9, 31, 64} {
		seed := seed
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			e := newTestEngine(t)
			r := rand.New(rand.NewSource(seed))
			seen := make(map[string]bool)
			var keys []string
			var root arena.ObjectID
			var err error
			for i := 0; i < 200; i++ {
				k := randKey(r)
				if seen[string(k)] {
					continue
				}
				seen[string(k)] = true
				keys = append(keys, string(k))
				root, _, err = e.Insert(root, k, BytesPayload(randValue(r)), true)
				require.NoError(t, err)
			}

			r.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
			for _, k := range keys {
				var size int
				root, size, err = e.Remove(root, []byte(k))
				require.NoError(t, err)
				require.GreaterOrEqual(t, size, 0, "removing %q that was inserted reported absent", k)
			}
			require.True(t, root.Null())
		})
	}
}
