// Package recovery implements the post-crash garbage-collection pass: a
// writer killed between mutating the trie and publishing a new top root
// leaves behind allocations unreachable from the last committed root.
// Run walks the committed root, counts true live edges out-of-band, and
// reconciles every index entry's refcount against that count in one
// pass, reclaiming anything the walk never reached.
package recovery
