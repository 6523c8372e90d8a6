package relay

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/framehub/framehub/internal/frame"
)

// fakeBroker hands out one end of a net.Pipe per dial and exposes the
// other end for the test to act as the broker.
type fakeBroker struct {
	mu    sync.Mutex
	conns chan net.Conn
	fail  int // dials to fail before succeeding
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{conns: make(chan net.Conn, 4)}
}

func (b *fakeBroker) dial(ctx context.Context, addr string) (net.Conn, error) {
	b.mu.Lock()
	if b.fail > 0 {
		b.fail--
		b.mu.Unlock()
		return nil, net.ErrClosed
	}
	b.mu.Unlock()

	client, server := net.Pipe()
	b.conns <- server
	return client, nil
}

// accept waits for the next relay connection and completes the
// handshake, returning the server side and its reader.
func (b *fakeBroker) accept(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	select {
	case conn := <-b.conns:
		reader := bufio.NewReader(conn)
		connect := readFrame(t, reader)
		if connect.Command != frame.CmdConnect {
			t.Fatalf("broker got %s, want CONNECT", connect.Command)
		}
		if err := frame.WriteTo(conn, frame.New(frame.CmdConnected)); err != nil {
			t.Fatalf("broker CONNECTED write failed: %v", err)
		}
		return conn, reader
	case <-time.After(2 * time.Second):
		t.Fatal("no relay connection arrived")
		return nil, nil
	}
}

func readFrame(t *testing.T, r *bufio.Reader) *frame.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, err := frame.Parse(r)
		if err != nil {
			t.Fatalf("broker read failed: %v", err)
		}
		if f != nil {
			return f
		}
		// heartbeat; keep reading
	}
	t.Fatal("broker read timed out waiting for a frame")
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Addr = "broker:61613"
	cfg.Login = "system"
	cfg.Passcode = "secret"
	cfg.VirtualHost = "/"
	cfg.Origin = "node-a"
	cfg.HeartbeatSend = 50 * time.Millisecond
	cfg.HeartbeatRecv = time.Hour // heartbeat monitoring off unless a test wants it
	cfg.GracePeriod = time.Hour
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 50 * time.Millisecond
	return cfg
}

func waitState(t *testing.T, f *Forwarder, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State = %s, want %s", f.State(), want)
}

func TestForwarder_HandshakeCarriesCredentials(t *testing.T) {
	broker := newFakeBroker()
	f := NewForwarder(testConfig(), func(*frame.Frame) {}, nil)
	f.SetDial(broker.dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop(context.Background())

	conn := <-broker.conns
	reader := bufio.NewReader(conn)
	connect := readFrame(t, reader)

	if connect.Command != frame.CmdConnect {
		t.Fatalf("Command = %s, want CONNECT", connect.Command)
	}
	if connect.Header(frame.HdrLogin) != "system" || connect.Header(frame.HdrPasscode) != "secret" {
		t.Errorf("credentials = %s/%s", connect.Header(frame.HdrLogin), connect.Header(frame.HdrPasscode))
	}
	if connect.Header(frame.HdrHost) != "/" {
		t.Errorf("host = %s, want /", connect.Header(frame.HdrHost))
	}
	if connect.Header(frame.HdrHeartBeat) == "" {
		t.Error("heart-beat header missing")
	}

	frame.WriteTo(conn, frame.New(frame.CmdConnected))
	waitState(t, f, StateConnected)
}

func TestForwarder_ForwardTagsOrigin(t *testing.T) {
	broker := newFakeBroker()
	f := NewForwarder(testConfig(), func(*frame.Frame) {}, nil)
	f.SetDial(broker.dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop(context.Background())

	conn, reader := broker.accept(t)
	defer conn.Close()
	waitState(t, f, StateConnected)

	send := frame.New(frame.CmdSend)
	send.SetHeader(frame.HdrDestination, "/topic/news")
	send.Body = []byte("hello")
	f.Forward(send)

	got := readFrame(t, reader)
	if got.Command != frame.CmdSend {
		t.Fatalf("Command = %s, want SEND", got.Command)
	}
	if got.Header(frame.HdrOrigin) != "node-a" {
		t.Errorf("origin = %s, want node-a", got.Header(frame.HdrOrigin))
	}
	if string(got.Body) != "hello" {
		t.Errorf("Body = %q, want hello", got.Body)
	}
	if f.Stats().Forwarded != 1 {
		t.Errorf("Forwarded = %d, want 1", f.Stats().Forwarded)
	}
}

func TestForwarder_OnlySharedDestinationsForwarded(t *testing.T) {
	f := NewForwarder(testConfig(), func(*frame.Frame) {}, nil)

	private := frame.New(frame.CmdSend)
	private.SetHeader(frame.HdrDestination, "/user-session/s1/queue/x")
	f.Forward(private)

	if len(f.queue) != 0 {
		t.Error("session-private destination was queued for the relay")
	}
}

func TestForwarder_InjectsBrokerFrames(t *testing.T) {
	broker := newFakeBroker()
	injected := make(chan *frame.Frame, 4)
	f := NewForwarder(testConfig(), func(fr *frame.Frame) { injected <- fr }, nil)
	f.SetDial(broker.dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop(context.Background())

	conn, reader := broker.accept(t)
	defer conn.Close()
	// Drain relay heartbeats so pipe writes never stall the serve loop.
	go io.Copy(io.Discard, reader)
	waitState(t, f, StateConnected)

	// A frame from another instance is injected.
	msg := frame.New(frame.CmdSend)
	msg.SetHeader(frame.HdrDestination, "/topic/news")
	msg.SetHeader(frame.HdrOrigin, "node-b")
	msg.Body = []byte("from-b")
	frame.WriteTo(conn, msg)

	select {
	case got := <-injected:
		if string(got.Body) != "from-b" {
			t.Errorf("Body = %q, want from-b", got.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broker frame was not injected")
	}

	// Our own echo is discarded.
	echo := frame.New(frame.CmdSend)
	echo.SetHeader(frame.HdrDestination, "/topic/news")
	echo.SetHeader(frame.HdrOrigin, "node-a")
	frame.WriteTo(conn, echo)

	select {
	case got := <-injected:
		t.Fatalf("own echo was injected: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestForwarder_DropsWhileDisconnected(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	f := NewForwarder(cfg, func(*frame.Frame) {}, nil)
	// Never started: link is down, queue fills, then drops are counted.

	send := frame.New(frame.CmdSend)
	send.SetHeader(frame.HdrDestination, "/topic/news")
	f.Forward(send)
	f.Forward(send)

	if got := f.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestForwarder_ReconnectsWithBackoff(t *testing.T) {
	broker := newFakeBroker()
	broker.fail = 2
	f := NewForwarder(testConfig(), func(*frame.Frame) {}, nil)
	f.SetDial(broker.dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop(context.Background())

	conn, _ := broker.accept(t)
	defer conn.Close()
	waitState(t, f, StateConnected)
}

func TestForwarder_SubscriptionMirror(t *testing.T) {
	broker := newFakeBroker()
	f := NewForwarder(testConfig(), func(*frame.Frame) {}, nil)
	f.SetDial(broker.dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop(context.Background())

	conn, reader := broker.accept(t)
	defer conn.Close()
	waitState(t, f, StateConnected)

	f.SubscribeUpstream("/topic/news")
	f.SubscribeUpstream("/topic/news") // duplicate is a no-op

	sub := readFrame(t, reader)
	if sub.Command != frame.CmdSubscribe {
		t.Fatalf("Command = %s, want SUBSCRIBE", sub.Command)
	}
	if sub.Destination() != "/topic/news" {
		t.Errorf("Destination = %s, want /topic/news", sub.Destination())
	}
	subID := sub.Header(frame.HdrID)
	if subID == "" {
		t.Error("SUBSCRIBE missing id header")
	}

	f.UnsubscribeUpstream("/topic/news")
	unsub := readFrame(t, reader)
	if unsub.Command != frame.CmdUnsubscribe {
		t.Fatalf("Command = %s, want UNSUBSCRIBE", unsub.Command)
	}
	if unsub.Header(frame.HdrID) != subID {
		t.Errorf("id = %s, want %s", unsub.Header(frame.HdrID), subID)
	}
}

func TestForwarder_DegradedOnMissedHeartbeat(t *testing.T) {
	broker := newFakeBroker()
	cfg := testConfig()
	cfg.HeartbeatRecv = 40 * time.Millisecond
	cfg.GracePeriod = 10 * time.Second
	f := NewForwarder(cfg, func(*frame.Frame) {}, nil)
	f.SetDial(broker.dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop(context.Background())

	conn, reader := broker.accept(t)
	defer conn.Close()
	go io.Copy(io.Discard, reader)
	waitState(t, f, StateConnected)

	// Broker goes quiet past the receive window: degraded, not dropped.
	waitState(t, f, StateDegraded)

	// Heartbeat resumes within grace: back to connected.
	deadline := time.Now().Add(2 * time.Second)
	for f.State() != StateConnected && time.Now().Before(deadline) {
		conn.Write(frame.Heartbeat)
		time.Sleep(10 * time.Millisecond)
	}
	if f.State() != StateConnected {
		t.Fatalf("State = %s, want connected after heartbeat resumed", f.State())
	}
}

func TestForwarder_HeartbeatReplyDisablesReceiveMonitoring(t *testing.T) {
	broker := newFakeBroker()
	cfg := testConfig()
	cfg.HeartbeatRecv = 40 * time.Millisecond
	cfg.GracePeriod = 40 * time.Millisecond
	f := NewForwarder(cfg, func(*frame.Frame) {}, nil)
	f.SetDial(broker.dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop(context.Background())

	// The broker offers no heartbeats of its own (sx = 0); its reply
	// overrides the configured receive window.
	conn := <-broker.conns
	reader := bufio.NewReader(conn)
	connect := readFrame(t, reader)
	if connect.Command != frame.CmdConnect {
		t.Fatalf("broker got %s, want CONNECT", connect.Command)
	}
	connected := frame.New(frame.CmdConnected)
	connected.SetHeader(frame.HdrHeartBeat, "0,0")
	if err := frame.WriteTo(conn, connected); err != nil {
		t.Fatalf("broker CONNECTED write failed: %v", err)
	}
	defer conn.Close()
	go io.Copy(io.Discard, reader)

	waitState(t, f, StateConnected)

	// Silence well past the configured window plus grace: with the
	// negotiated intervals the link must neither degrade nor drop.
	time.Sleep(250 * time.Millisecond)
	if got := f.State(); got != StateConnected {
		t.Fatalf("State = %s, want connected with receive monitoring off", got)
	}
	if got := f.Stats().Reconnects; got != 0 {
		t.Errorf("Reconnects = %d, want 0", got)
	}
}

func TestForwarder_DisabledIsNoop(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	f := NewForwarder(cfg, func(*frame.Frame) {}, nil)

	f.Start(context.Background())
	send := frame.New(frame.CmdSend)
	send.SetHeader(frame.HdrDestination, "/topic/news")
	f.Forward(send)

	if got := f.Stats(); got.Forwarded != 0 || got.Dropped != 0 {
		t.Errorf("Stats = %+v, want zeroes", got)
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestHeartbeatHeader(t *testing.T) {
	send, recv, err := HeartbeatHeader("10000,5000")
	if err != nil {
		t.Fatalf("HeartbeatHeader failed: %v", err)
	}
	if send != 10*time.Second || recv != 5*time.Second {
		t.Errorf("send/recv = %v/%v", send, recv)
	}

	for _, bad := range []string{"", "10", "a,b"} {
		if _, _, err := HeartbeatHeader(bad); err == nil {
			t.Errorf("HeartbeatHeader(%q) succeeded", bad)
		}
	}
}
