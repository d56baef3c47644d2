// Package invariant enforces the store's fatal-on-corruption policy.
//
// Errors fall into two classes: ones a caller can recover from
// (out-of-space, writer busy, key too long) and ones that mean the on-disk
// structure is no longer trustworthy (bitmap popcount mismatch, refcount
// underflow). The second class must never be swallowed — continuing to
// write would risk propagating corruption to disk, so Check aborts the
// process instead.
package invariant

import (
	"fmt"
	"os"

	"github.com/go-stack/stack"

	"github.com/raditree/raditree/log"
)

var logger = log.Component("invariant")

// Check aborts the process if cond is false, logging msg and the supplied
// key-value context together with the caller's stack.
func Check(cond bool, msg string, kv ...any) {
	if cond {
		return
	}
	Fail(msg, kv...)
}

// Fail unconditionally logs a fatal invariant violation and aborts.
func Fail(msg string, kv ...any) {
	trace := stack.Trace().TrimRuntime()
	evt := logger.Error().Str("stack", fmt.Sprintf("%+v", trace))
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		evt = evt.Interface(key, kv[i+1])
	}
	evt.Msg("invariant violation: " + msg)
	os.Exit(2)
}
