package radix

import "github.com/raditree/raditree/internal/arena"

// Result is what a point lookup returns: at most one of Bytes/Roots is
// populated, selected by Kind, when Found is true.
type Result struct {
	Found bool
	Kind  arena.NodeType
	Bytes []byte
	Roots []arena.ObjectID

	// ID is the object id backing this value, for callers (store's
	// cache-mode plumbing) that want to promote it on a successful read
	// without the engine hardcoding that policy itself.
	ID arena.ObjectID
}

// Lookup walks from root to the node matching key, without touching any
// refcount: inner nodes on the read path are never retained, matching
// the "no intermediate refcount bump" guarantee.
func (e *Engine) Lookup(root arena.ObjectID, key []byte) (Result, error) {
	digits := ToDigits(key)
	return e.lookup(root, digits)
}

func (e *Engine) lookup(id arena.ObjectID, digits []byte) (Result, error) {
	if id.Null() {
		return Result{}, nil
	}
	n, err := e.decode(id)
	if err != nil {
		return Result{}, err
	}
	switch n.Kind {
	case arena.TypeInner:
		cpre := commonPrefixLen(n.PrefixDigits, digits)
		if cpre != len(n.PrefixDigits) {
			return Result{}, nil
		}
		rem := digits[cpre:]
		if len(rem) == 0 {
			if n.ValueID.Null() {
				return Result{}, nil
			}
			return e.lookupValue(n.ValueID)
		}
		digit, tail := rem[0], rem[1:]
		if !hasBranch(n.Bitmap, digit) {
			return Result{}, nil
		}
		child := n.Children[childIndex(n.Bitmap, digit)]
		return e.lookup(child, tail)
	default:
		cpre := commonPrefixLen(n.PrefixDigits, digits)
		if cpre == len(n.PrefixDigits) && cpre == len(digits) {
			return valueResult(id, n), nil
		}
		return Result{}, nil
	}
}

func (e *Engine) lookupValue(id arena.ObjectID) (Result, error) {
	n, err := e.decode(id)
	if err != nil {
		return Result{}, err
	}
	return valueResult(id, n), nil
}

func valueResult(id arena.ObjectID, n Node) Result {
	return Result{Found: true, Kind: n.Kind, Bytes: n.Bytes, Roots: n.Roots, ID: id}
}
