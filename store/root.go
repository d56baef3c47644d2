package store

import (
	"sync"

	"github.com/raditree/raditree/internal/arena"
	"github.com/raditree/raditree/internal/radix"
)

// RootHandle is a user-visible reference to a trie snapshot. It owns a
// refcount on its underlying object id for as long as it is held: the
// zero value and a nil *RootHandle both denote the empty tree, and
// releasing either is a no-op.
//
// Every handle this package hands back — whether from GetTopRoot, an
// upsert, or a nested roots-value read out of Get — owns its own retained
// reference, rather than the lighter-weight "ancestor back-pointer"
// variant the glossary also allows; a single ownership discipline is
// easier to get right than mixing the two.
type RootHandle struct {
	store *Store
	id    arena.ObjectID
}

// Null reports whether h denotes the empty tree.
func (h *RootHandle) Null() bool {
	return h == nil || h.id.Null()
}

// ID exposes the underlying object id, for callers that need to compare
// two handles for identity (e.g. the idempotent-remove and
// idempotent-overwrite properties).
func (h *RootHandle) ID() arena.ObjectID {
	if h == nil {
		return 0
	}
	return h.id
}

// Release drops this handle's reference, freeing the subtree (cascading
// to its children) once no other handle or on-disk publication keeps it
// alive. Calling Release twice on the same handle is a caller bug — like
// any refcounted handle, ownership is transferred, not shared, by a bare
// assignment.
func (h *RootHandle) Release() {
	if h.Null() {
		return
	}
	h.store.engine.Release(h.id)
	h.id = 0
}

func (s *Store) newHandle(id arena.ObjectID) *RootHandle {
	return &RootHandle{store: s, id: id}
}

// rootManager is a single mutex-guarded top-root cell layered over the
// allocator's durable TopRoot/SetTopRoot word, adding the retain/release
// protocol the allocator deliberately leaves to its caller.
type rootManager struct {
	mu     sync.Mutex
	a      *arena.Allocator
	engine *radix.Engine
}

// get atomically reads the published top root and retains it once on the
// caller's behalf, returning a bare id for the Store to wrap.
func (r *rootManager) get() arena.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.a.TopRoot()
	if !id.Null() {
		r.engine.Retain(id)
	}
	return id
}

// set retains newID, publishes it, and releases whatever was previously
// published — all under the same mutex, so an in-flight reader's get()
// can never observe a root between its retain and its publish.
func (r *rootManager) set(newID arena.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !newID.Null() {
		r.engine.Retain(newID)
	}
	oldID := r.a.TopRoot()
	if err := r.a.SetTopRoot(newID); err != nil {
		if !newID.Null() {
			r.engine.Release(newID)
		}
		return err
	}
	if !oldID.Null() {
		r.engine.Release(oldID)
	}
	return nil
}
