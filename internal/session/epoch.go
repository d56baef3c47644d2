package session

import (
	"sync/atomic"
	"time"
)

// restingAge is the sentinel a session's age holds while it is not inside
// a critical region; it compares greater than any real tick so a resting
// session never holds back reclamation.
const restingAge = ^uint64(0)

// Kind distinguishes a reader session from the single writer session.
type Kind uint8

const (
	Reader Kind = iota
	Writer
)

// String names k for metric labels.
func (k Kind) String() string {
	if k == Writer {
		return "writer"
	}
	return "reader"
}

// Session is one reader's or the writer's registration with a Table. Its
// zero value is not usable; obtain one via Table.Attach.
type Session struct {
	kind      Kind
	table     *Table
	age       atomic.Uint64
	attachedAt time.Time
}

func newSession(kind Kind, t *Table) *Session {
	s := &Session{kind: kind, table: t, attachedAt: time.Now()}
	s.age.Store(restingAge)
	return s
}

// Kind reports whether this is a reader or the writer session.
func (s *Session) Kind() Kind { return s.kind }

// Enter stamps the session's age to the table's current tick, marking the
// start of a critical region (a query or a mutation). Until the session
// calls Exit, Table.CanReclaim reports false for anything freed at or
// after this tick.
func (s *Session) Enter() {
	s.age.Store(s.table.CurrentTick())
}

// Exit relaxes the session, signaling it holds no outstanding interest in
// the current tick.
func (s *Session) Exit() {
	s.age.Store(restingAge)
}

// Age returns the session's currently stamped age, or the resting
// sentinel if it is not inside a critical region.
func (s *Session) Age() uint64 { return s.age.Load() }
