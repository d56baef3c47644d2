package radix

import "errors"

// ErrKeyTooLong is returned when a key exceeds arena.MaxKeyBytes.
var ErrKeyTooLong = errors.New("radix: key exceeds maximum length")

// ErrWrongValueKind describes a request for bytes from a roots-value or
// vice versa. No operation in this module returns it; lookups report the
// stored kind in Result.Kind instead.
var ErrWrongValueKind = errors.New("radix: value is not of the requested kind")
