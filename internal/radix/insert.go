package radix

import "github.com/raditree/raditree/internal/arena"

// Insert returns a new root reflecting key set to payload. prevSize is
// the byte (or id-count, for roots values) size of whatever value
// previously occupied key, or -1 if there was none.
//
// unique=false tells the engine to skip the allocator's edit-in-place
// check entirely and go straight to copy-on-write; passing true only
// grants permission to attempt the cheaper path; the allocator's own
// refcount-and-pin check is always the final word on whether a node may
// actually be mutated in place.
func (e *Engine) Insert(root arena.ObjectID, key []byte, payload Payload, unique bool) (newRoot arena.ObjectID, prevSize int, err error) {
	if len(key) > arena.MaxKeyBytes {
		return root, 0, ErrKeyTooLong
	}
	digits := ToDigits(key)
	return e.insert(root, digits, payload, unique)
}

func (e *Engine) insert(id arena.ObjectID, digits []byte, payload Payload, unique bool) (arena.ObjectID, int, error) {
	if id.Null() {
		newID, err := e.newLeaf(digits, payload)
		return newID, -1, err
	}
	n, err := e.decode(id)
	if err != nil {
		return 0, 0, err
	}
	if n.Kind == arena.TypeInner {
		return e.insertInner(id, n, digits, payload, unique)
	}
	return e.insertLeaf(id, n, digits, payload, unique)
}

func (e *Engine) insertLeaf(id arena.ObjectID, n Node, digits []byte, payload Payload, unique bool) (arena.ObjectID, int, error) {
	if commonPrefixLen(n.PrefixDigits, digits) == len(n.PrefixDigits) && len(n.PrefixDigits) == len(digits) {
		prevSize := n.size()
		if payload.equalTo(n) {
			return id, prevSize, nil
		}
		if unique {
			if slice, denied := e.a.EditInPlaceLock(id); !denied && sameEncodedShape(n, payload) {
				if n.Kind == arena.TypeValueRoots {
					e.releaseAll(n.Roots)
					for _, r := range payload.Roots {
						e.retain(r)
					}
				}
				copy(slice, Encode(Node{Kind: payload.Kind, PrefixDigits: n.PrefixDigits, Bytes: payload.Bytes, Roots: payload.Roots}))
				return id, prevSize, nil
			}
		}
		// id remains a valid, untouched node of the old tree (it may
		// still be shared with an older snapshot); its Roots are left
		// exactly as they were for that snapshot's eventual release to
		// account for. Only the new leaf's own content is retained.
		newID, err := e.newLeaf(n.PrefixDigits, payload)
		return newID, prevSize, err
	}

	cpre := commonPrefixLen(n.PrefixDigits, digits)
	newRoot, err := e.split(n, cpre, digits, payload)
	return newRoot, -1, err
}

func (e *Engine) insertInner(id arena.ObjectID, n Node, digits []byte, payload Payload, unique bool) (arena.ObjectID, int, error) {
	cpre := commonPrefixLen(n.PrefixDigits, digits)

	if cpre < len(n.PrefixDigits) {
		newRoot, err := e.split(n, cpre, digits, payload)
		return newRoot, -1, err
	}

	rem := digits[cpre:]
	if len(rem) == 0 {
		prevSize := -1
		if !n.ValueID.Null() {
			vn, err := e.decode(n.ValueID)
			if err != nil {
				return 0, 0, err
			}
			prevSize = vn.size()
		}
		newValueID, err := e.newLeaf(nil, payload)
		if err != nil {
			return 0, 0, err
		}
		if unique && !n.ValueID.Null() {
			if slice, denied := e.a.EditInPlaceLock(id); !denied {
				patchValueID(slice, n, newValueID)
				if !n.ValueID.Null() {
					e.Release(n.ValueID)
				}
				return id, prevSize, nil
			}
		}
		clone := n
		clone.ValueID = newValueID
		e.retainChildren(n.Children)
		newRoot, err := e.allocate(clone)
		return newRoot, prevSize, err
	}

	digit, tail := rem[0], rem[1:]
	if !hasBranch(n.Bitmap, digit) {
		newLeafID, err := e.newLeaf(tail, payload)
		if err != nil {
			return 0, 0, err
		}
		// A new branch bit always changes the node's encoded length
		// (the children array grows), so this path never qualifies for
		// in-place editing regardless of unique/refcount.
		idx := childIndex(n.Bitmap, digit)
		clone := n
		clone.Bitmap = n.Bitmap | (uint64(1) << digit)
		clone.Children = insertChildAt(n.Children, idx, newLeafID)
		e.retainChildren(n.Children)
		if !n.ValueID.Null() {
			e.retain(n.ValueID)
		}
		newRoot, err := e.allocate(clone)
		return newRoot, -1, err
	}

	idx := childIndex(n.Bitmap, digit)
	oldChildID := n.Children[idx]
	newChildID, prevSize, err := e.insert(oldChildID, tail, payload, unique)
	if err != nil {
		return 0, 0, err
	}

	if unique {
		if slice, denied := e.a.EditInPlaceLock(id); !denied {
			patchChild(slice, n, idx, newChildID)
			return id, prevSize, nil
		}
	}
	clone := n
	clone.Children = append([]arena.ObjectID(nil), n.Children...)
	clone.Children[idx] = newChildID
	for i, c := range n.Children {
		if i == idx && newChildID == oldChildID {
			e.retain(c) // same id now referenced by both old and new parent
		} else if i != idx {
			e.retain(c)
		}
	}
	if !n.ValueID.Null() {
		e.retain(n.ValueID)
	}
	newRoot, err := e.allocate(clone)
	return newRoot, prevSize, err
}

// split handles the case where digits diverges from n's own prefix
// partway through: n is relocated (always via a fresh id; a node's key
// position never changes in place) to become a child of a brand new
// inner node rooted at the shared prefix, alongside a new leaf for the
// incoming key — or, when the incoming key ends exactly at the shared
// prefix, the new leaf becomes the new inner's value slot instead. When
// n's own key ends exactly at the shared prefix, n's relocated copy takes
// the value slot and the new leaf is the inner node's only child.
func (e *Engine) split(n Node, cpre int, digits []byte, payload Payload) (arena.ObjectID, error) {
	oldRem := n.PrefixDigits[cpre:]
	newRem := digits[cpre:]

	if len(oldRem) == 0 {
		valueID, err := e.relocate(n, nil)
		if err != nil {
			return 0, err
		}
		newLeafID, err := e.newLeaf(newRem[1:], payload)
		if err != nil {
			return 0, err
		}
		return e.allocate(Node{Kind: arena.TypeInner, PrefixDigits: append([]byte(nil), digits[:cpre]...),
			Bitmap: uint64(1) << newRem[0], Children: []arena.ObjectID{newLeafID}, ValueID: valueID})
	}

	oldChildID, err := e.relocate(n, oldRem[1:])
	if err != nil {
		return 0, err
	}

	inner := Node{PrefixDigits: append([]byte(nil), digits[:cpre]...), Kind: arena.TypeInner}
	if len(newRem) == 0 {
		valueID, err := e.newLeaf(nil, payload)
		if err != nil {
			return 0, err
		}
		inner.Bitmap = uint64(1) << oldRem[0]
		inner.Children = []arena.ObjectID{oldChildID}
		inner.ValueID = valueID
	} else {
		newLeafID, err := e.newLeaf(newRem[1:], payload)
		if err != nil {
			return 0, err
		}
		inner.Bitmap = uint64(1)<<oldRem[0] | uint64(1)<<newRem[0]
		if oldRem[0] < newRem[0] {
			inner.Children = []arena.ObjectID{oldChildID, newLeafID}
		} else {
			inner.Children = []arena.ObjectID{newLeafID, oldChildID}
		}
	}
	return e.allocate(inner)
}

func (e *Engine) retainChildren(ids []arena.ObjectID) {
	for _, id := range ids {
		e.retain(id)
	}
}

func (e *Engine) releaseAll(ids []arena.ObjectID) {
	for _, id := range ids {
		e.Release(id)
	}
}

func (n Node) size() int {
	if n.Kind == arena.TypeValueRoots {
		return len(n.Roots)
	}
	return len(n.Bytes)
}

func sameEncodedShape(n Node, p Payload) bool {
	if n.Kind != p.Kind {
		return false
	}
	if p.Kind == arena.TypeValueRoots {
		return len(n.Roots) == len(p.Roots)
	}
	return len(n.Bytes) == len(p.Bytes)
}

func insertChildAt(children []arena.ObjectID, idx int, id arena.ObjectID) []arena.ObjectID {
	out := make([]arena.ObjectID, 0, len(children)+1)
	out = append(out, children[:idx]...)
	out = append(out, id)
	out = append(out, children[idx:]...)
	return out
}

// patchChild and patchValueID byte-patch an existing encoded node's
// fixed-width object-id fields directly, avoiding a full re-encode when
// only a single id changes and the node's shape (bitmap, digit count)
// does not.
func patchChild(slice []byte, n Node, idx int, newID arena.ObjectID) {
	off := childFieldOffset(n, idx)
	writeObjectID(slice[off:], newID)
}

func patchValueID(slice []byte, n Node, newID arena.ObjectID) {
	off := valueFieldOffset(n)
	writeObjectID(slice[off:], newID)
}

func childFieldOffset(n Node, idx int) int {
	base := valueFieldOffset(n)
	if !n.ValueID.Null() {
		base += 8
	}
	return base + idx*8
}

func valueFieldOffset(n Node) int {
	prefixBytes := (len(n.PrefixDigits)*6 + 7) / 8
	return 1 + uvarintLen(uint64(len(n.PrefixDigits))) + prefixBytes + 8
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func writeObjectID(buf []byte, id arena.ObjectID) {
	buf[0] = byte(id)
	buf[1] = byte(id >> 8)
	buf[2] = byte(id >> 16)
	buf[3] = byte(id >> 24)
	buf[4] = byte(id >> 32)
	buf[5] = byte(id >> 40)
	buf[6] = byte(id >> 48)
	buf[7] = byte(id >> 56)
}
