// Package radix implements the 64-ary prefix trie that sits on top of
// internal/arena. Keys are re-expressed as sequences of 6-bit digits
// (see digits.go) so that a single node can branch up to 64 ways while
// still preserving the original byte-lexicographic key order; all
// mutation goes through the copy-on-write Engine, which decides per
// call whether a node can be edited in place or must be cloned, based
// on the allocator's refcount and pin state.
package radix
