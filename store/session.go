package store

import (
	"github.com/raditree/raditree/internal/arena"
	"github.com/raditree/raditree/internal/radix"
	"github.com/raditree/raditree/internal/session"
)

// CacheMode selects whether a read path is allowed to promote the nodes
// it touches into a hotter tier: a
// full scan that will never be repeated should not evict genuinely hot
// data just to cache itself once.
type CacheMode uint8

const (
	// CacheDefault lets promotion happen, the normal point-lookup path.
	CacheDefault CacheMode = iota
	// CacheBypass suppresses promotion for this call, for scans and
	// one-shot reads that would otherwise pollute the hot tier.
	CacheBypass
)

// Session is a reader's or the single writer's registration with a Store.
// Every method below runs synchronously on the caller's goroutine; the
// query and mutation methods (GetTopRoot through MaxWithinPrefix) stamp
// the session's age for the duration of the call, while Cursor, Release,
// Stats and Close do not. There is no internal task executor anywhere in
// this package.
type Session struct {
	store *Store
	sess  *session.Session
}

// Kind reports whether this is a reader or the writer session.
func (s *Session) Kind() session.Kind { return s.sess.Kind() }

// Close detaches the session from its store. A writer session must be
// closed before another writer may attach.
func (s *Session) Close() {
	s.store.sessions.Detach(s.sess)
}

func (s *Session) enter() func() {
	s.sess.Enter()
	return s.sess.Exit
}

// GetTopRoot returns a handle owning a reference to the currently
// published top root. The handle may be Null for an empty database.
func (s *Session) GetTopRoot() *RootHandle {
	defer s.enter()()
	id := s.store.roots.get()
	return s.store.newHandle(id)
}

// SetTopRoot publishes root as the new committed snapshot, releasing
// whatever was previously published. Writer sessions only.
func (s *Session) SetTopRoot(root *RootHandle) error {
	if s.Kind() != session.Writer {
		return ErrNotWriter
	}
	defer s.enter()()
	return s.store.roots.set(root.ID())
}

// UpsertBytes sets key to value under root and returns the new root plus
// the previous value's size, or -1 if key was absent. unique tells the
// engine it may attempt the cheaper in-place edit; see radix.Engine.Insert.
func (s *Session) UpsertBytes(root *RootHandle, key, value []byte, unique bool) (*RootHandle, int, error) {
	if err := s.checkKeyLen(key); err != nil {
		return root, 0, err
	}
	defer s.enter()()
	newID, prevSize, err := s.store.engine.Insert(root.ID(), key, radix.BytesPayload(value), unique)
	if err != nil {
		return root, 0, err
	}
	return s.store.newHandle(newID), prevSize, nil
}

// UpsertRoots sets key to a roots-value listing the given root handles'
// ids under root. It does not consume its roots argument; callers keep
// their own handles and must Release them separately once this call
// returns (the engine retains each id it embeds).
func (s *Session) UpsertRoots(root *RootHandle, key []byte, roots []*RootHandle, unique bool) (*RootHandle, int, error) {
	if err := s.checkKeyLen(key); err != nil {
		return root, 0, err
	}
	ids := make([]arena.ObjectID, len(roots))
	for i, r := range roots {
		ids[i] = r.ID()
	}
	defer s.enter()()
	newID, prevSize, err := s.store.engine.Insert(root.ID(), key, radix.RootsPayload(ids), unique)
	if err != nil {
		return root, 0, err
	}
	return s.store.newHandle(newID), prevSize, nil
}

// Remove deletes key from root. When key was absent it returns root
// itself (same id) and removedSize -1, per the idempotent-remove
// property.
func (s *Session) Remove(root *RootHandle, key []byte) (*RootHandle, int, error) {
	defer s.enter()()
	newID, removedSize, err := s.store.engine.Remove(root.ID(), key)
	if err != nil {
		return root, 0, err
	}
	if newID == root.ID() {
		return root, removedSize, nil
	}
	return s.store.newHandle(newID), removedSize, nil
}

// Get looks up key under root. A found roots-value's ids are wrapped as
// freshly retained RootHandles the caller owns and must Release.
func (s *Session) Get(root *RootHandle, key []byte, mode CacheMode) (QueryResult, error) {
	defer s.enter()()
	res, err := s.store.engine.Lookup(root.ID(), key)
	if err != nil {
		return QueryResult{}, err
	}
	s.maybeTouch(res, mode)
	return s.store.wrapResult(res), nil
}

// GreaterOrEqual returns the least key >= key under root, if any.
func (s *Session) GreaterOrEqual(root *RootHandle, key []byte, mode CacheMode) ([]byte, QueryResult, bool, error) {
	defer s.enter()()
	k, res, ok, err := s.store.engine.GreaterOrEqual(root.ID(), key)
	if err != nil {
		return nil, QueryResult{}, false, err
	}
	s.maybeTouch(res, mode)
	return k, s.store.wrapResult(res), ok, nil
}

// LessThan returns the greatest key < key under root, if any.
func (s *Session) LessThan(root *RootHandle, key []byte, mode CacheMode) ([]byte, QueryResult, bool, error) {
	defer s.enter()()
	k, res, ok, err := s.store.engine.LessThan(root.ID(), key)
	if err != nil {
		return nil, QueryResult{}, false, err
	}
	s.maybeTouch(res, mode)
	return k, s.store.wrapResult(res), ok, nil
}

// MaxWithinPrefix returns the greatest key sharing prefix under root, if
// any.
func (s *Session) MaxWithinPrefix(root *RootHandle, prefix []byte, mode CacheMode) ([]byte, QueryResult, bool, error) {
	defer s.enter()()
	k, res, ok, err := s.store.engine.MaxWithinPrefix(root.ID(), prefix)
	if err != nil {
		return nil, QueryResult{}, false, err
	}
	s.maybeTouch(res, mode)
	return k, s.store.wrapResult(res), ok, nil
}

func (s *Session) maybeTouch(res radix.Result, mode CacheMode) {
	if mode == CacheBypass || !res.Found {
		return
	}
	s.store.engine.Touch(res.ID)
}

// Cursor returns an iterator over root, optionally restricted to a byte
// prefix (pass nil for the whole tree). The cursor re-derives its
// position from root on every step rather than holding a live path, so
// it is never invalidated by concurrent mutation of other roots; it
// always observes the exact snapshot root names.
func (s *Session) Cursor(root *RootHandle, prefix []byte) *radix.Cursor {
	return s.store.engine.NewCursor(root.ID(), prefix)
}

// Release drops root's reference, per the "release subtree" operation.
func (s *Session) Release(root *RootHandle) {
	root.Release()
}

// Stats passes through the allocator's diagnostics snapshot.
func (s *Session) Stats() arena.Stats {
	return s.store.a.Stats()
}

func (s *Session) checkKeyLen(key []byte) error {
	if len(key) > arena.MaxKeyBytes {
		return ErrKeyTooLong
	}
	return nil
}

// QueryResult mirrors radix.Result but wraps any nested roots as
// caller-owned RootHandles instead of bare object ids.
type QueryResult struct {
	Found bool
	Bytes []byte
	Roots []*RootHandle
}
