// Package session implements the store's session registry and age
// bookkeeping: every reader and the single writer register a Session with
// the Table, stamp a monotonic age while inside a query or mutation, and
// relax it on exit. Table.MinLiveAge and Table.CanReclaim report whether
// a given free tick predates every live session's age. The allocator does
// not consult them: arena.Allocator.Release clears an object's index
// entry as soon as its refcount reaches zero.
package session
