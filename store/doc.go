// Package store ties the segment allocator, the trie engine, the session
// coordinator, and the crash-recovery pass into the public database API: a
// single Store value backing any number of concurrent read sessions plus
// one writer session, each addressing an independent, copy-on-write
// snapshot of the 64-ary radix trie.
package store
