package connection

import (
	"sync"
	"time"

	"github.com/framehub/framehub/internal/frame"
)

// ChanConn is an in-process Conn delivering frames to a buffered channel.
// It backs the relay's loopback injection in tests and any embedded
// consumer that wants frames without a socket.
type ChanConn struct {
	id     string
	frames chan *frame.Frame

	// SendTimeLimit applies when the channel is full; zero means
	// fail immediately on a full channel.
	sendTimeLimit time.Duration

	st        state
	closeOnce sync.Once
	done      chan struct{}
}

// NewChan creates a channel-backed connection with the given buffer size.
func NewChan(id string, buffer int, sendTimeLimit time.Duration) *ChanConn {
	c := &ChanConn{
		id:            id,
		frames:        make(chan *frame.Frame, buffer),
		sendTimeLimit: sendTimeLimit,
		done:          make(chan struct{}),
	}
	c.st.set(StateOpen)
	return c
}

// ID returns the connection identifier.
func (c *ChanConn) ID() string { return c.id }

// State returns the current liveness state.
func (c *ChanConn) State() State { return c.st.get() }

// Frames returns the receive side of the sink.
func (c *ChanConn) Frames() <-chan *frame.Frame { return c.frames }

// WriteFrame delivers to the channel, bounded by the send time limit.
// A full channel past the limit closes the connection, mirroring the
// slow-consumer policy of socket-backed connections.
func (c *ChanConn) WriteFrame(f *frame.Frame) error {
	if c.st.get() == StateClosed {
		return ErrClosed
	}

	if c.sendTimeLimit <= 0 {
		select {
		case c.frames <- f:
			return nil
		case <-c.done:
			return ErrClosed
		default:
			c.Close()
			return ErrSlowConsumer
		}
	}

	timer := time.NewTimer(c.sendTimeLimit)
	defer timer.Stop()
	select {
	case c.frames <- f:
		return nil
	case <-c.done:
		return ErrClosed
	case <-timer.C:
		c.Close()
		return ErrSlowConsumer
	}
}

// Close closes the connection. Idempotent.
func (c *ChanConn) Close() error {
	c.closeOnce.Do(func() {
		c.st.set(StateClosed)
		close(c.done)
	})
	return nil
}
