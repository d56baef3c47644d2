package radix

import (
	"bytes"

	"github.com/raditree/raditree/internal/arena"
)

// Cursor walks a trie in key order, forward or backward, optionally
// restricted to a byte prefix. It never mutates the trie and never
// touches a refcount; each step re-descends from root rather than
// holding a live path into node state, so a cursor is never invalidated
// by concurrent structural changes to other parts of the trie — it only
// ever observes whatever root it was built against.
type Cursor struct {
	e      *Engine
	root   arena.ObjectID
	prefix []byte // digit-space prefix restriction, nil for unrestricted
	key    []byte // digit-space key at the current position
	res    Result
	valid  bool
}

// NewCursor creates a cursor over root. If prefix is non-nil, iteration
// is restricted to keys sharing that byte prefix.
func (e *Engine) NewCursor(root arena.ObjectID, prefix []byte) *Cursor {
	var digitPrefix []byte
	if prefix != nil {
		digitPrefix = ToDigits(prefix)
	}
	return &Cursor{e: e, root: root, prefix: digitPrefix}
}

// Valid reports whether the cursor currently sits on a key.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the original byte key at the cursor's current position.
// Valid must be true.
func (c *Cursor) Key() ([]byte, error) { return FromDigits(c.key) }

// Value returns the result at the cursor's current position.
func (c *Cursor) Value() (Result, error) { return c.res, nil }

// First seeks to the smallest key in the (possibly prefix-restricted)
// range.
func (c *Cursor) First() error {
	var (
		digits []byte
		res    Result
		ok     bool
		err    error
	)
	if c.prefix != nil {
		digits, res, ok, err = c.e.geSearch(c.root, nil, c.prefix)
	} else {
		digits, res, ok, err = c.e.firstInSubtree(c.root, nil)
	}
	return c.land(digits, res, ok, err)
}

// Last seeks to the largest key in the range.
func (c *Cursor) Last() error {
	var (
		digits []byte
		res    Result
		ok     bool
		err    error
	)
	if c.prefix != nil {
		digits, res, ok, err = c.e.maxUnderPrefix(c.root, nil, c.prefix)
	} else {
		digits, res, ok, err = c.e.lastInSubtree(c.root, nil)
	}
	return c.land(digits, res, ok, err)
}

// Next advances the cursor to the next key in ascending order. Since
// every key sharing a prefix sorts contiguously, it is enough to find
// the global successor and then check it still falls inside the
// cursor's prefix restriction.
func (c *Cursor) Next() error {
	if !c.valid {
		return nil
	}
	target := append(append([]byte(nil), c.key...), 0)
	digits, res, ok, err := c.e.geSearch(c.root, nil, target)
	return c.land(digits, res, ok, err)
}

// Prev moves the cursor to the previous key in ascending order (i.e.
// the next-smaller key).
func (c *Cursor) Prev() error {
	if !c.valid {
		return nil
	}
	digits, res, ok, err := c.e.ltSearch(c.root, nil, c.key)
	return c.land(digits, res, ok, err)
}

func (c *Cursor) land(digits []byte, res Result, ok bool, err error) error {
	if err != nil {
		c.valid = false
		return err
	}
	if !ok {
		c.valid = false
		return nil
	}
	c.key = digits
	c.res = res
	c.valid = c.matchesPrefix()
	return nil
}

func (c *Cursor) matchesPrefix() bool {
	if c.prefix == nil {
		return true
	}
	// Compare in byte space: the digit form of a prefix whose length is
	// not a multiple of 3 bytes ends in zero padding that longer keys
	// need not share.
	key, err := FromDigits(c.key)
	if err != nil {
		return false
	}
	prefix, _ := FromDigits(c.prefix)
	return bytes.HasPrefix(key, prefix)
}

func firstSetDigit(bitmap uint64) byte {
	for d := byte(0); d < 64; d++ {
		if bitmap&(uint64(1)<<d) != 0 {
			return d
		}
	}
	return 0
}

func lastSetDigit(bitmap uint64) byte {
	for d := byte(63); ; d-- {
		if bitmap&(uint64(1)<<d) != 0 {
			return d
		}
		if d == 0 {
			return 0
		}
	}
}

func nextSetDigit(bitmap uint64, after int) (byte, bool) {
	for d := after + 1; d < 64; d++ {
		if bitmap&(uint64(1)<<uint(d)) != 0 {
			return byte(d), true
		}
	}
	return 0, false
}

func prevSetDigit(bitmap uint64, before int) (byte, bool) {
	for d := before - 1; d >= 0; d-- {
		if bitmap&(uint64(1)<<uint(d)) != 0 {
			return byte(d), true
		}
	}
	return 0, false
}
