package radix

import (
	"fmt"

	"github.com/raditree/raditree/internal/arena"
	"github.com/raditree/raditree/log"
)

var engineLog = log.Component("radix.engine")

// Payload is the value half of an upsert: exactly one of Bytes or Roots
// is meaningful, selected by Kind.
type Payload struct {
	Kind  arena.NodeType
	Bytes []byte
	Roots []arena.ObjectID
}

// BytesPayload wraps a raw byte value.
func BytesPayload(b []byte) Payload {
	return Payload{Kind: arena.TypeValueBytes, Bytes: b}
}

// RootsPayload wraps a list of nested root ids.
func RootsPayload(ids []arena.ObjectID) Payload {
	return Payload{Kind: arena.TypeValueRoots, Roots: ids}
}

func (p Payload) size() int {
	if p.Kind == arena.TypeValueRoots {
		return len(p.Roots)
	}
	return len(p.Bytes)
}

func (p Payload) equalTo(n Node) bool {
	if n.Kind != p.Kind {
		return false
	}
	if p.Kind == arena.TypeValueRoots {
		if len(n.Roots) != len(p.Roots) {
			return false
		}
		for i := range n.Roots {
			if n.Roots[i] != p.Roots[i] {
				return false
			}
		}
		return true
	}
	return string(n.Bytes) == string(p.Bytes)
}

// Engine implements the trie algebra (lookup, insert, delete, range scan,
// iteration) as a thin layer over a segment allocator: every node
// reference is an arena.ObjectID, every mutation is expressed as
// allocating new nodes and adjusting refcounts, never as in-place
// pointer surgery on a shared graph.
type Engine struct {
	a *arena.Allocator
}

// NewEngine builds an Engine over an already-open allocator.
func NewEngine(a *arena.Allocator) *Engine {
	return &Engine{a: a}
}

func (e *Engine) decode(id arena.ObjectID) (Node, error) {
	raw, ok := e.a.Bytes(id)
	if !ok {
		return Node{}, fmt.Errorf("radix: object %d not found", id)
	}
	return Decode(raw)
}

func (e *Engine) allocate(n Node) (arena.ObjectID, error) {
	return e.a.Allocate(n.Kind, Encode(n))
}

// Retain adds one reference to id on the caller's behalf; the null id is
// ignored.
func (e *Engine) Retain(id arena.ObjectID) { e.retain(id) }

func (e *Engine) retain(id arena.ObjectID) {
	if id.Null() {
		return
	}
	if _, saturated := e.a.Retain(id); saturated {
		engineLog.Warn().Uint64("object_id", uint64(id)).Msg("refcount saturated; further sharing of this id requires cloning")
	}
}

// childrenOf is handed to arena.Release so the deferred-free walk can
// discover a node's outgoing edges without the allocator knowing
// anything about trie structure.
func (e *Engine) childrenOf(id arena.ObjectID) []arena.ObjectID {
	kids, err := e.Edges(id)
	if err != nil {
		engineLog.Error().Err(err).Uint64("object_id", uint64(id)).Msg("failed to decode node while releasing; its edges will not be cascaded")
		return nil
	}
	return kids
}

// Edges returns every outgoing object-id reference a node holds: a
// branching node's children plus its value slot, or a roots-value's
// nested roots. Used by the recovery pass, which needs to propagate
// decode errors rather than silently drop edges.
func (e *Engine) Edges(id arena.ObjectID) ([]arena.ObjectID, error) {
	n, err := e.decode(id)
	if err != nil {
		return nil, err
	}
	switch n.Kind {
	case arena.TypeInner:
		kids := append([]arena.ObjectID(nil), n.Children...)
		if !n.ValueID.Null() {
			kids = append(kids, n.ValueID)
		}
		return kids, nil
	case arena.TypeValueRoots:
		return append([]arena.ObjectID(nil), n.Roots...), nil
	default:
		return nil, nil
	}
}

// Touch opportunistically promotes id into the hot cache tier on a
// successful lookup. It is a no-op when id is null or already hot, and
// never fails: promotion is a cache hint, not part of the operation's
// correctness.
func (e *Engine) Touch(id arena.ObjectID) {
	if id.Null() {
		return
	}
	_, guard, ok := e.a.PinForRead(id)
	if ok {
		guard.Release()
	}
}

// Release drops the caller's reference to root, freeing it and
// cascading through its children when the refcount reaches zero.
func (e *Engine) Release(root arena.ObjectID) {
	e.a.Release(root, e.childrenOf)
}

// newLeaf allocates a fresh value node holding payload under the given
// prefix digits, retaining any roots it carries (each root gains the new
// edge this leaf represents).
func (e *Engine) newLeaf(prefix []byte, p Payload) (arena.ObjectID, error) {
	n := Node{Kind: p.Kind, PrefixDigits: prefix, Bytes: p.Bytes, Roots: p.Roots}
	id, err := e.allocate(n)
	if err != nil {
		return 0, err
	}
	if p.Kind == arena.TypeValueRoots {
		for _, r := range p.Roots {
			e.retain(r)
		}
	}
	return id, nil
}

// relocate clones an existing node's content under a new prefix. Used
// whenever a node's key position changes (prefix splits); the original
// id is left exactly as it was for its existing owner to release.
func (e *Engine) relocate(n Node, newPrefix []byte) (arena.ObjectID, error) {
	clone := n
	clone.PrefixDigits = newPrefix
	id, err := e.allocate(clone)
	if err != nil {
		return 0, err
	}
	if n.Kind == arena.TypeValueRoots {
		for _, r := range n.Roots {
			e.retain(r)
		}
	} else if n.Kind == arena.TypeInner {
		for _, c := range n.Children {
			e.retain(c)
		}
		if !n.ValueID.Null() {
			e.retain(n.ValueID)
		}
	}
	return id, nil
}
