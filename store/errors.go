package store

import (
	"errors"

	"github.com/raditree/raditree/internal/radix"
)

// ErrWriterBusy is surfaced when a second writer session attaches while
// one is already open, either within this process (session.Table) or
// against the same file from another process (the arena's advisory lock).
var ErrWriterBusy = errors.New("store: a writer session is already attached")

// ErrTooManyReaders is returned by a bounded reader pool when no slot is
// available and the caller used the non-blocking attach path.
var ErrTooManyReaders = errors.New("store: reader concurrency limit reached")

// ErrClosed is returned by StartReader, TryStartReader and StartWriter
// once the Store has been closed; Session methods do not check for it.
var ErrClosed = errors.New("store: use of store after Close")

// ErrNotWriter is returned when a reader session attempts a writer-only
// operation such as SetTopRoot.
var ErrNotWriter = errors.New("store: operation requires the writer session")

// ErrKeyTooLong re-exports radix.ErrKeyTooLong so callers need not import
// internal/radix directly to compare against it.
var ErrKeyTooLong = radix.ErrKeyTooLong

// ErrWrongValueKind re-exports radix.ErrWrongValueKind.
var ErrWrongValueKind = radix.ErrWrongValueKind
