package connection

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/framehub/framehub/internal/frame"
)

// WSConfig configures a websocket-backed connection.
type WSConfig struct {
	SendTimeLimit time.Duration // Max time for one outbound write before force close
}

// DefaultWSConfig returns sensible defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		SendTimeLimit: 10 * time.Second,
	}
}

// wsConn adapts a websocket connection to the Conn interface. Each frame
// travels as one text message in wire form.
type wsConn struct {
	id     string
	cfg    WSConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Write serialization
	writeMu sync.Mutex

	st        state
	closeOnce sync.Once
}

// NewWS wraps an accepted websocket connection.
func NewWS(id string, ws *websocket.Conn, cfg WSConfig, logger *slog.Logger) Conn {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendTimeLimit <= 0 {
		cfg.SendTimeLimit = DefaultWSConfig().SendTimeLimit
	}

	c := &wsConn{
		id:     id,
		cfg:    cfg,
		logger: logger,
		conn:   ws,
	}
	c.st.set(StateOpen)
	return c
}

// ID returns the connection identifier.
func (c *wsConn) ID() string { return c.id }

// State returns the current liveness state.
func (c *wsConn) State() State { return c.st.get() }

// WriteFrame writes one frame, bounded by the send time limit. A timeout
// is fatal for this connection: the peer is not draining its sink and the
// shared worker pool must not stall behind it.
func (c *wsConn) WriteFrame(f *frame.Frame) error {
	if c.st.get() == StateClosed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeLimit))
	err := c.conn.WriteMessage(websocket.TextMessage, frame.Marshal(f))
	if err == nil {
		return nil
	}

	if netTimeout(err) {
		c.logger.Warn("closing slow consumer",
			"conn", c.id,
			"send_time_limit", c.cfg.SendTimeLimit,
		)
		c.forceClose()
		return ErrSlowConsumer
	}

	c.forceClose()
	return err
}

// Close drains politely: a close message with a short deadline, then the
// underlying transport.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.st.set(StateDraining)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
		c.st.set(StateClosed)
	})
	return err
}

// forceClose skips the close handshake. Must be called with writeMu held
// or from Close.
func (c *wsConn) forceClose() {
	c.closeOnce.Do(func() {
		c.st.set(StateClosed)
		c.conn.Close()
	})
	c.st.set(StateClosed)
}

// netTimeout reports whether err is a deadline-exceeded transport error.
func netTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
