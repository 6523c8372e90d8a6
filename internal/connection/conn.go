// Package connection provides the per-peer transport abstraction: an
// ordered, single-writer outbound sink over one physical duplex link.
package connection

import (
	"errors"
	"sync/atomic"

	"github.com/framehub/framehub/internal/frame"
)

// Errors
var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("slow consumer: send time limit exceeded")
)

// State is the liveness state of a connection.
type State int32

const (
	StateOpen State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is one physical connection to a remote peer. WriteFrame is safe
// for concurrent use; writes are serialized and ordered. A write that
// cannot complete within the connection's send time limit force-closes
// the connection and returns ErrSlowConsumer.
type Conn interface {
	// ID returns the connection identifier.
	ID() string

	// WriteFrame writes one frame to the peer.
	WriteFrame(f *frame.Frame) error

	// Close closes the connection. Idempotent.
	Close() error

	// State returns the current liveness state.
	State() State
}

// state holds an atomically updated State for embedding.
type state struct {
	v atomic.Int32
}

func (s *state) get() State   { return State(s.v.Load()) }
func (s *state) set(st State) { s.v.Store(int32(st)) }
