package radix

import "github.com/raditree/raditree/internal/arena"

// Remove returns a new root with key removed. When key was absent, it
// returns the identical root id unchanged and removedSize -1, per the
// idempotent-remove guarantee.
//
// Every mutated node's encoded length changes on removal (a value slot
// disappears, or a child slot shrinks the array), so unlike Insert there
// is no byte-length-preserving in-place edit available here; every
// touched node along the path is reallocated.
func (e *Engine) Remove(root arena.ObjectID, key []byte) (newRoot arena.ObjectID, removedSize int, err error) {
	digits := ToDigits(key)
	return e.remove(root, digits)
}

func (e *Engine) remove(id arena.ObjectID, digits []byte) (arena.ObjectID, int, error) {
	if id.Null() {
		return id, -1, nil
	}
	n, err := e.decode(id)
	if err != nil {
		return 0, 0, err
	}
	if n.Kind != arena.TypeInner {
		if commonPrefixLen(n.PrefixDigits, digits) == len(n.PrefixDigits) && len(n.PrefixDigits) == len(digits) {
			size := n.size()
			return arena.ObjectID(0), size, nil
		}
		return id, -1, nil
	}

	cpre := commonPrefixLen(n.PrefixDigits, digits)
	if cpre != len(n.PrefixDigits) {
		return id, -1, nil
	}
	rem := digits[cpre:]

	if len(rem) == 0 {
		if n.ValueID.Null() {
			return id, -1, nil
		}
		vn, err := e.decode(n.ValueID)
		if err != nil {
			return 0, 0, err
		}
		removedSize := vn.size()
		// id itself is left untouched (it's still a valid node of the
		// old tree, possibly shared with an older snapshot); the clone
		// below simply omits the value edge rather than releasing it.
		clone := n
		clone.ValueID = 0
		e.retainChildren(n.Children)
		newRoot, err := e.collapseOrAllocate(clone)
		return newRoot, removedSize, err
	}

	digit, tail := rem[0], rem[1:]
	if !hasBranch(n.Bitmap, digit) {
		return id, -1, nil
	}
	idx := childIndex(n.Bitmap, digit)
	oldChildID := n.Children[idx]

	newChildID, removedSize, err := e.remove(oldChildID, tail)
	if err != nil {
		return 0, 0, err
	}
	if removedSize < 0 {
		return id, -1, nil
	}

	if newChildID.Null() {
		clone := n
		clone.Bitmap = n.Bitmap &^ (uint64(1) << digit)
		clone.Children = removeChildAt(n.Children, idx)
		if !n.ValueID.Null() {
			e.retain(n.ValueID)
		}
		for i, c := range n.Children {
			if i != idx {
				e.retain(c)
			}
		}
		newRoot, err := e.collapseOrAllocate(clone)
		return newRoot, removedSize, err
	}

	clone := n
	clone.Children = append([]arena.ObjectID(nil), n.Children...)
	clone.Children[idx] = newChildID
	for i, c := range n.Children {
		if i == idx && newChildID == oldChildID {
			e.retain(c)
		} else if i != idx {
			e.retain(c)
		}
	}
	if !n.ValueID.Null() {
		e.retain(n.ValueID)
	}
	newRoot, err := e.allocate(clone)
	return newRoot, removedSize, err
}

// collapseOrAllocate implements the "an inner node must have ≥2 children,
// or exactly 1 child plus a value" invariant: after a value or branch is
// cleared, a node left with zero children and no value collapses to
// null; a node left with zero children and a value becomes a plain value
// leaf at the same prefix (an inner node wrapping nothing but a value
// edge is not a legal shape); a node left with exactly one child and no
// value is absorbed into that child (its prefix, branch digit, and the
// child's own prefix concatenate); otherwise the node is allocated as-is.
func (e *Engine) collapseOrAllocate(n Node) (arena.ObjectID, error) {
	count := len(n.Children)
	if count == 0 && n.ValueID.Null() {
		return 0, nil
	}
	if count == 0 && !n.ValueID.Null() {
		vn, err := e.decode(n.ValueID)
		if err != nil {
			return 0, err
		}
		newID, err := e.relocate(vn, append([]byte(nil), n.PrefixDigits...))
		if err != nil {
			return 0, err
		}
		// as below: the retained value edge callers already hold on n's
		// behalf is superseded by the fresh leaf relocate just created.
		e.Release(n.ValueID)
		return newID, nil
	}
	if count == 1 && n.ValueID.Null() {
		digit := soleBranchDigit(n.Bitmap)
		child, err := e.decode(n.Children[0])
		if err != nil {
			return 0, err
		}
		merged := append(append(append([]byte(nil), n.PrefixDigits...), digit), child.PrefixDigits...)
		newID, err := e.relocate(child, merged)
		if err != nil {
			return 0, err
		}
		// n itself is never allocated when collapsing; the edge to its
		// sole child that callers already retained on n's behalf is
		// superseded by the fresh edge relocate just created.
		e.Release(n.Children[0])
		return newID, nil
	}
	return e.allocate(n)
}

func soleBranchDigit(bitmap uint64) byte {
	for d := byte(0); d < 64; d++ {
		if bitmap&(uint64(1)<<d) != 0 {
			return d
		}
	}
	return 0
}

func removeChildAt(children []arena.ObjectID, idx int) []arena.ObjectID {
	out := make([]arena.ObjectID, 0, len(children)-1)
	out = append(out, children[:idx]...)
	out = append(out, children[idx+1:]...)
	return out
}
