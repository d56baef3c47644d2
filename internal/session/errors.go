package session

import "errors"

// ErrWriterBusy is returned when a second writer session tries to attach
// while one is already registered.
var ErrWriterBusy = errors.New("session: a writer is already attached")

// ErrTooManyReaders is returned when AttachReader would exceed the
// table's configured reader concurrency limit.
var ErrTooManyReaders = errors.New("session: reader concurrency limit reached")

// ErrDetached describes use of a session that has already been detached
// from its table. Enter and Exit return no error, and no function in this
// package returns ErrDetached.
var ErrDetached = errors.New("session: session already detached")
