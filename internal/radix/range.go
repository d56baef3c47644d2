package radix

import "github.com/raditree/raditree/internal/arena"

// digitCompare lexicographically compares two digit sequences the same
// way byte-string comparison works: shorter is less when one is a
// prefix of the other.
func digitCompare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// firstInSubtree returns the smallest key (and its value) within the
// subtree rooted at id, with acc as the digits already consumed to
// reach id. An inner node's own key — if it carries a value — is always
// the smallest in its subtree, since every descendant key is a strict
// extension of it.
func (e *Engine) firstInSubtree(id arena.ObjectID, acc []byte) ([]byte, Result, bool, error) {
	if id.Null() {
		return nil, Result{}, false, nil
	}
	n, err := e.decode(id)
	if err != nil {
		return nil, Result{}, false, err
	}
	full := concatDigits(acc, n.PrefixDigits)
	if n.Kind != arena.TypeInner {
		return full, valueResult(id, n), true, nil
	}
	if !n.ValueID.Null() {
		vn, err := e.decode(n.ValueID)
		if err != nil {
			return nil, Result{}, false, err
		}
		return full, valueResult(n.ValueID, vn), true, nil
	}
	if len(n.Children) == 0 {
		return nil, Result{}, false, nil
	}
	digit := firstSetDigit(n.Bitmap)
	return e.firstInSubtree(n.Children[0], concatDigits(full, []byte{digit}))
}

// lastInSubtree is firstInSubtree's mirror: the largest key in the
// subtree.
func (e *Engine) lastInSubtree(id arena.ObjectID, acc []byte) ([]byte, Result, bool, error) {
	if id.Null() {
		return nil, Result{}, false, nil
	}
	n, err := e.decode(id)
	if err != nil {
		return nil, Result{}, false, err
	}
	full := concatDigits(acc, n.PrefixDigits)
	if n.Kind != arena.TypeInner {
		return full, valueResult(id, n), true, nil
	}
	if len(n.Children) > 0 {
		digit := lastSetDigit(n.Bitmap)
		return e.lastInSubtree(n.Children[len(n.Children)-1], concatDigits(full, []byte{digit}))
	}
	if !n.ValueID.Null() {
		vn, err := e.decode(n.ValueID)
		if err != nil {
			return nil, Result{}, false, err
		}
		return full, valueResult(n.ValueID, vn), true, nil
	}
	return nil, Result{}, false, nil
}

// geSearch returns the smallest key at or after target within the
// subtree rooted at id.
func (e *Engine) geSearch(id arena.ObjectID, acc []byte, target []byte) ([]byte, Result, bool, error) {
	if id.Null() {
		return nil, Result{}, false, nil
	}
	n, err := e.decode(id)
	if err != nil {
		return nil, Result{}, false, err
	}
	nodeKey := concatDigits(acc, n.PrefixDigits)

	if n.Kind != arena.TypeInner {
		if digitCompare(nodeKey, target) >= 0 {
			return nodeKey, valueResult(id, n), true, nil
		}
		return nil, Result{}, false, nil
	}

	if digitCompare(nodeKey, target) >= 0 {
		if !n.ValueID.Null() {
			vn, err := e.decode(n.ValueID)
			if err != nil {
				return nil, Result{}, false, err
			}
			return nodeKey, valueResult(n.ValueID, vn), true, nil
		}
		return e.firstInSubtree(id, acc)
	}

	cpre := commonPrefixLen(nodeKey, target)
	if cpre < len(nodeKey) {
		return nil, Result{}, false, nil
	}
	digit := target[cpre]
	if hasBranch(n.Bitmap, digit) {
		idx := childIndex(n.Bitmap, digit)
		key, res, ok, err := e.geSearch(n.Children[idx], concatDigits(nodeKey, []byte{digit}), target)
		if err != nil {
			return nil, Result{}, false, err
		}
		if ok {
			return key, res, true, nil
		}
	}
	if next, found := nextSetDigit(n.Bitmap, int(digit)); found {
		idx := childIndex(n.Bitmap, next)
		return e.firstInSubtree(n.Children[idx], concatDigits(nodeKey, []byte{next}))
	}
	return nil, Result{}, false, nil
}

// ltSearch returns the largest key strictly before target within the
// subtree rooted at id.
func (e *Engine) ltSearch(id arena.ObjectID, acc []byte, target []byte) ([]byte, Result, bool, error) {
	if id.Null() {
		return nil, Result{}, false, nil
	}
	n, err := e.decode(id)
	if err != nil {
		return nil, Result{}, false, err
	}
	nodeKey := concatDigits(acc, n.PrefixDigits)

	if n.Kind != arena.TypeInner {
		if digitCompare(nodeKey, target) < 0 {
			return nodeKey, valueResult(id, n), true, nil
		}
		return nil, Result{}, false, nil
	}

	cpre := commonPrefixLen(nodeKey, target)
	if cpre == len(nodeKey) && cpre < len(target) {
		digit := target[cpre]
		if hasBranch(n.Bitmap, digit) {
			idx := childIndex(n.Bitmap, digit)
			key, res, ok, err := e.ltSearch(n.Children[idx], concatDigits(nodeKey, []byte{digit}), target)
			if err != nil {
				return nil, Result{}, false, err
			}
			if ok {
				return key, res, true, nil
			}
		}
		if prev, found := prevSetDigit(n.Bitmap, int(digit)); found {
			idx := childIndex(n.Bitmap, prev)
			return e.lastInSubtree(n.Children[idx], concatDigits(nodeKey, []byte{prev}))
		}
		if !n.ValueID.Null() {
			vn, err := e.decode(n.ValueID)
			if err != nil {
				return nil, Result{}, false, err
			}
			return nodeKey, valueResult(n.ValueID, vn), true, nil
		}
		return nil, Result{}, false, nil
	}

	if digitCompare(nodeKey, target) < 0 {
		return e.lastInSubtree(id, acc)
	}
	return nil, Result{}, false, nil
}

func concatDigits(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// GreaterOrEqual returns the least key >= key, if any.
func (e *Engine) GreaterOrEqual(root arena.ObjectID, key []byte) ([]byte, Result, bool, error) {
	digits, res, ok, err := e.geSearch(root, nil, ToDigits(key))
	return fromDigitsOrNil(digits, ok), res, ok, err
}

// LessThan returns the greatest key < key, if any.
func (e *Engine) LessThan(root arena.ObjectID, key []byte) ([]byte, Result, bool, error) {
	digits, res, ok, err := e.ltSearch(root, nil, ToDigits(key))
	return fromDigitsOrNil(digits, ok), res, ok, err
}

// MaxWithinPrefix returns the greatest key sharing prefix, if any.
func (e *Engine) MaxWithinPrefix(root arena.ObjectID, prefix []byte) ([]byte, Result, bool, error) {
	pd := ToDigits(prefix)
	digits, res, ok, err := e.maxUnderPrefix(root, nil, pd)
	return fromDigitsOrNil(digits, ok), res, ok, err
}

func (e *Engine) maxUnderPrefix(id arena.ObjectID, acc []byte, prefix []byte) ([]byte, Result, bool, error) {
	if id.Null() {
		return nil, Result{}, false, nil
	}
	n, err := e.decode(id)
	if err != nil {
		return nil, Result{}, false, err
	}
	nodeKey := concatDigits(acc, n.PrefixDigits)

	if n.Kind != arena.TypeInner {
		if len(nodeKey) >= len(prefix) && digitCompare(nodeKey[:len(prefix)], prefix) == 0 {
			return nodeKey, valueResult(id, n), true, nil
		}
		return nil, Result{}, false, nil
	}

	cpre := commonPrefixLen(nodeKey, prefix)
	switch {
	case cpre == len(prefix):
		// nodeKey already covers the whole prefix; everything at or
		// under id qualifies, so the answer is simply the max here.
		return e.lastInSubtree(id, acc)
	case cpre == len(nodeKey) && cpre < len(prefix):
		digit := prefix[cpre]
		if !hasBranch(n.Bitmap, digit) {
			return nil, Result{}, false, nil
		}
		idx := childIndex(n.Bitmap, digit)
		return e.maxUnderPrefix(n.Children[idx], concatDigits(nodeKey, []byte{digit}), prefix)
	default:
		return nil, Result{}, false, nil
	}
}

func fromDigitsOrNil(digits []byte, ok bool) []byte {
	if !ok {
		return nil
	}
	key, err := FromDigits(digits)
	if err != nil {
		return nil
	}
	return key
}
