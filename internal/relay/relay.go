// Package relay maintains the long-lived connection to an external
// broker peer. Shared-destination sends are forwarded upstream and
// broker-originated frames are injected back into local routing, so
// several instances of the core can share one set of subscribers.
//
// The broker is a black box speaking the same line framing over TCP.
// Relay unavailability is never fatal: local routing continues and the
// link is retried with exponential backoff.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/framehub/framehub/internal/frame"
	"github.com/framehub/framehub/internal/routing"
)

// State is the relay link state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	}
	return "unknown"
}

// Errors
var (
	ErrHandshakeFailed  = errors.New("relay handshake failed")
	ErrHeartbeatTimeout = errors.New("relay heartbeat grace period exceeded")
)

// Config configures the relay forwarder.
type Config struct {
	Enabled bool

	Addr        string // broker host:port
	Login       string // system-level credential pair
	Passcode    string
	VirtualHost string

	HeartbeatSend time.Duration // our send interval
	HeartbeatRecv time.Duration // expected broker send interval
	GracePeriod   time.Duration // degraded time allowed before reconnect

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int

	// Origin tags forwarded frames with this instance's id; broker
	// frames carrying our own origin are echoes and are discarded.
	Origin string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatSend:      10 * time.Second,
		HeartbeatRecv:      10 * time.Second,
		GracePeriod:        30 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		DialTimeout:        10 * time.Second,
		WriteTimeout:       5 * time.Second,
		QueueSize:          4096,
	}
}

// Stats are relay counters and link state.
type Stats struct {
	State      State
	QueueDepth int
	Forwarded  int64
	Injected   int64
	Dropped    int64
	Reconnects int64
}

// Inject hands a broker-originated frame back into local routing.
type Inject func(f *frame.Frame)

// DialFunc opens the transport to the broker. Injectable for tests.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Forwarder is the relay connection manager.
type Forwarder struct {
	cfg    Config
	logger *slog.Logger
	dial   DialFunc
	inject Inject

	queue chan *frame.Frame

	st       atomic.Int32
	lastRecv atomic.Int64 // unix nanos of last broker traffic

	connMu sync.Mutex
	conn   net.Conn

	writeMu sync.Mutex

	// Upstream subscription mirror: shared destinations with at least
	// one local subscriber.
	subMu  sync.Mutex
	subs   map[string]string // destination -> upstream subscription id
	subSeq atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	forwarded  atomic.Int64
	injected   atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
}

// NewForwarder creates a relay forwarder. inject is called for every
// accepted broker frame.
func NewForwarder(cfg Config, inject Inject, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.HeartbeatSend <= 0 {
		cfg.HeartbeatSend = def.HeartbeatSend
	}
	if cfg.HeartbeatRecv <= 0 {
		cfg.HeartbeatRecv = def.HeartbeatRecv
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	return &Forwarder{
		cfg:    cfg,
		logger: logger.With("component", "relay"),
		inject: inject,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: cfg.DialTimeout}
			return d.DialContext(ctx, "tcp", addr)
		},
		queue: make(chan *frame.Frame, cfg.QueueSize),
		subs:  make(map[string]string),
	}
}

// SetDial overrides the transport dialer. Call before Start.
func (r *Forwarder) SetDial(dial DialFunc) { r.dial = dial }

// Start launches the connect/reconnect loop.
func (r *Forwarder) Start(ctx context.Context) {
	if !r.cfg.Enabled {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run()
}

// Stop tears the link down and waits for the loop, bounded by ctx.
func (r *Forwarder) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	r.closeConn()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.setState(StateDisconnected)
		return nil
	case <-ctx.Done():
		r.logger.Warn("relay stop timed out")
		return ctx.Err()
	}
}

// State returns the current link state.
func (r *Forwarder) State() State {
	return State(r.st.Load())
}

// Stats returns relay counters.
func (r *Forwarder) Stats() Stats {
	return Stats{
		State:      r.State(),
		QueueDepth: len(r.queue),
		Forwarded:  r.forwarded.Load(),
		Injected:   r.injected.Load(),
		Dropped:    r.dropped.Load(),
		Reconnects: r.reconnects.Load(),
	}
}

// Forward sends a shared-destination frame upstream. Never an error to
// the caller: with the link down the frame is dropped and counted, local
// routing having already happened. With the link up and the queue full,
// the caller performs the write itself.
func (r *Forwarder) Forward(f *frame.Frame) {
	if !r.cfg.Enabled || !routing.Shared(f.Destination()) {
		return
	}

	out := f.Clone()
	out.SetHeader(frame.HdrOrigin, r.cfg.Origin)

	select {
	case r.queue <- out:
		r.forwarded.Add(1)
		return
	default:
	}

	if r.State() != StateConnected {
		r.dropped.Add(1)
		return
	}

	// Queue full while connected: caller-runs.
	if err := r.writeFrame(out); err != nil {
		r.dropped.Add(1)
		return
	}
	r.forwarded.Add(1)
}

// SubscribeUpstream mirrors the first local subscriber of a shared
// destination to the broker.
func (r *Forwarder) SubscribeUpstream(destination string) {
	if !r.cfg.Enabled || !routing.Shared(destination) {
		return
	}

	r.subMu.Lock()
	if _, exists := r.subs[destination]; exists {
		r.subMu.Unlock()
		return
	}
	id := "relay-" + strconv.FormatInt(r.subSeq.Add(1), 10)
	r.subs[destination] = id
	r.subMu.Unlock()

	f := frame.New(frame.CmdSubscribe)
	f.SetHeader(frame.HdrID, id)
	f.SetHeader(frame.HdrDestination, destination)
	r.enqueueControl(f)
}

// UnsubscribeUpstream drops the broker subscription once the last local
// subscriber of a shared destination is gone.
func (r *Forwarder) UnsubscribeUpstream(destination string) {
	if !r.cfg.Enabled {
		return
	}

	r.subMu.Lock()
	id, exists := r.subs[destination]
	if exists {
		delete(r.subs, destination)
	}
	r.subMu.Unlock()
	if !exists {
		return
	}

	f := frame.New(frame.CmdUnsubscribe)
	f.SetHeader(frame.HdrID, id)
	r.enqueueControl(f)
}

// run is the connect/reconnect loop. Backoff doubles from base to max
// and resets after a successful session.
func (r *Forwarder) run() {
	defer r.wg.Done()
	defer r.setState(StateDisconnected)

	wait := r.cfg.ReconnectBaseDelay

	for {
		if r.ctx.Err() != nil {
			return
		}

		r.setState(StateConnecting)
		conn, hbSend, hbRecv, err := r.connect()
		if err != nil {
			r.setState(StateDisconnected)
			r.logger.Warn("relay connect failed",
				"addr", r.cfg.Addr,
				"retry_in", wait,
				"error", err,
			)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(wait):
			}
			wait *= 2
			if wait > r.cfg.ReconnectMaxDelay {
				wait = r.cfg.ReconnectMaxDelay
			}
			continue
		}

		wait = r.cfg.ReconnectBaseDelay
		r.setState(StateConnected)
		r.lastRecv.Store(time.Now().UnixNano())
		r.logger.Info("relay connected", "addr", r.cfg.Addr, "vhost", r.cfg.VirtualHost)

		r.replaySubscriptions()

		err = r.serve(conn, hbSend, hbRecv)
		r.closeConn()
		r.setState(StateDisconnected)
		if r.ctx.Err() != nil {
			return
		}
		r.reconnects.Add(1)
		r.logger.Warn("relay session ended", "error", err)
	}
}

// connect dials and performs the CONNECT/CONNECTED handshake. The
// returned intervals are the configured heartbeats adjusted by the
// broker's heart-beat reply: our send interval stretches to what the
// broker wants to receive, and a broker that offers no heartbeats of
// its own (sx of 0) disables receive monitoring.
func (r *Forwarder) connect() (net.Conn, time.Duration, time.Duration, error) {
	conn, err := r.dial(r.ctx, r.cfg.Addr)
	if err != nil {
		return nil, 0, 0, err
	}

	hb := fmt.Sprintf("%d,%d",
		r.cfg.HeartbeatSend.Milliseconds(),
		r.cfg.HeartbeatRecv.Milliseconds(),
	)
	connect := frame.New(frame.CmdConnect)
	connect.SetHeader(frame.HdrLogin, r.cfg.Login)
	connect.SetHeader(frame.HdrPasscode, r.cfg.Passcode)
	connect.SetHeader(frame.HdrHost, r.cfg.VirtualHost)
	connect.SetHeader(frame.HdrHeartBeat, hb)

	conn.SetDeadline(time.Now().Add(r.cfg.DialTimeout))
	if err := frame.WriteTo(conn, connect); err != nil {
		conn.Close()
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	reader := bufio.NewReader(conn)
	var reply *frame.Frame
	for reply == nil {
		f, err := frame.Parse(reader)
		if err != nil {
			conn.Close()
			return nil, 0, 0, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		if f == nil {
			continue // heartbeat before CONNECTED
		}
		if f.Command != frame.CmdConnected {
			conn.Close()
			return nil, 0, 0, fmt.Errorf("%w: got %s", ErrHandshakeFailed, f.Command)
		}
		reply = f
	}
	conn.SetDeadline(time.Time{})

	hbSend, hbRecv := r.cfg.HeartbeatSend, r.cfg.HeartbeatRecv
	if value := reply.Header(frame.HdrHeartBeat); value != "" {
		sx, sy, err := HeartbeatHeader(value)
		if err != nil {
			r.logger.Warn("relay ignoring bad heart-beat reply", "value", value)
		} else {
			if sy > hbSend {
				hbSend = sy
			}
			switch {
			case sx == 0:
				hbRecv = 0
			case sx > hbRecv:
				hbRecv = sx
			}
		}
	}

	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()

	// The handshake consumed part of the stream; keep the reader.
	r.wg.Add(1)
	go r.readLoop(reader)

	return conn, hbSend, hbRecv, nil
}

// serve pumps the outbound queue and heartbeats until the session ends.
// An hbRecv of zero means the broker sends no heartbeats and receive
// monitoring is off for this session.
func (r *Forwarder) serve(conn net.Conn, hbSend, hbRecv time.Duration) error {
	hbTick := time.NewTicker(hbSend)
	defer hbTick.Stop()

	var checkC <-chan time.Time
	if hbRecv > 0 {
		checkEvery := hbRecv / 2
		if checkEvery < 10*time.Millisecond {
			checkEvery = 10 * time.Millisecond
		}
		checkTick := time.NewTicker(checkEvery)
		defer checkTick.Stop()
		checkC = checkTick.C
	}

	for {
		select {
		case <-r.ctx.Done():
			return nil

		case f := <-r.queue:
			if err := r.writeFrame(f); err != nil {
				return err
			}

		case <-hbTick.C:
			if err := r.writeRaw(frame.Heartbeat); err != nil {
				return err
			}

		case <-checkC:
			elapsed := time.Since(time.Unix(0, r.lastRecv.Load()))
			switch {
			case elapsed > hbRecv+r.cfg.GracePeriod:
				return ErrHeartbeatTimeout
			case elapsed > hbRecv:
				if r.State() == StateConnected {
					r.setState(StateDegraded)
					r.logger.Warn("relay degraded: heartbeat overdue", "elapsed", elapsed)
				}
			default:
				if r.State() == StateDegraded {
					r.setState(StateConnected)
					r.logger.Info("relay heartbeat resumed")
				}
			}
		}
	}
}

// readLoop parses broker frames off the socket until it breaks.
func (r *Forwarder) readLoop(reader *bufio.Reader) {
	defer r.wg.Done()

	for {
		f, err := frame.Parse(reader)
		if err != nil {
			// Transport gone; serve notices via its next write or
			// the heartbeat window.
			return
		}
		r.lastRecv.Store(time.Now().UnixNano())

		if f == nil {
			continue // heartbeat
		}
		if f.Header(frame.HdrOrigin) == r.cfg.Origin && r.cfg.Origin != "" {
			continue // our own echo
		}

		switch f.Command {
		case frame.CmdMessage, frame.CmdSend:
			r.injected.Add(1)
			r.inject(f)
		case frame.CmdError:
			r.logger.Warn("relay broker error", "message", f.Header(frame.HdrMessage))
		default:
			// CONNECTED replays, receipts and the like carry nothing
			// to route.
		}
	}
}

// replaySubscriptions re-establishes the upstream subscription mirror
// after a reconnect.
func (r *Forwarder) replaySubscriptions() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for destination, id := range r.subs {
		f := frame.New(frame.CmdSubscribe)
		f.SetHeader(frame.HdrID, id)
		f.SetHeader(frame.HdrDestination, destination)
		select {
		case r.queue <- f:
		default:
			r.dropped.Add(1)
		}
	}
}

func (r *Forwarder) enqueueControl(f *frame.Frame) {
	select {
	case r.queue <- f:
	default:
		r.dropped.Add(1)
	}
}

func (r *Forwarder) writeFrame(f *frame.Frame) error {
	return r.writeRaw(frame.Marshal(f))
}

func (r *Forwarder) writeRaw(data []byte) error {
	r.connMu.Lock()
	conn := r.conn
	r.connMu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	_, err := conn.Write(data)
	return err
}

func (r *Forwarder) closeConn() {
	r.connMu.Lock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.connMu.Unlock()
}

func (r *Forwarder) setState(s State) {
	r.st.Store(int32(s))
}

// HeartbeatHeader parses a "sx,sy" heart-beat header into send and
// receive intervals. Zero means none offered.
func HeartbeatHeader(value string) (send, recv time.Duration, err error) {
	sx, sy, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0, fmt.Errorf("bad heart-beat header %q", value)
	}
	sendMs, err := strconv.Atoi(strings.TrimSpace(sx))
	if err != nil {
		return 0, 0, fmt.Errorf("bad heart-beat header %q", value)
	}
	recvMs, err := strconv.Atoi(strings.TrimSpace(sy))
	if err != nil {
		return 0, 0, fmt.Errorf("bad heart-beat header %q", value)
	}
	return time.Duration(sendMs) * time.Millisecond, time.Duration(recvMs) * time.Millisecond, nil
}
