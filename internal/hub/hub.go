// Package hub wires the registries, router, dispatch table, pipeline,
// and relay into one message core. Transports hand it connections and
// parsed frames; the hub owns session lifecycle and frame flow from
// inbound SEND to outbound MESSAGE.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/framehub/framehub/internal/connection"
	"github.com/framehub/framehub/internal/dispatch"
	"github.com/framehub/framehub/internal/frame"
	"github.com/framehub/framehub/internal/identity"
	"github.com/framehub/framehub/internal/metrics"
	"github.com/framehub/framehub/internal/pipeline"
	"github.com/framehub/framehub/internal/relay"
	"github.com/framehub/framehub/internal/routing"
	"github.com/framehub/framehub/internal/session"
	"github.com/framehub/framehub/internal/subscription"
)

// Config configures the hub.
type Config struct {
	InstanceID string
	Pipeline   pipeline.Config
	Relay      relay.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Pipeline: pipeline.DefaultConfig(),
		Relay:    relay.DefaultConfig(),
	}
}

// Observer receives lifecycle notifications. All callbacks are optional
// and run synchronously on the goroutine performing the change; keep
// them short. Register observers before frames start flowing.
type Observer struct {
	SessionConnected    func(s *session.Session)
	SessionDisconnected func(s *session.Session)
	Subscribed          func(sessionID, subID, destination string)
	Unsubscribed        func(sessionID, subID, destination string)
}

// Hub is the message core.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	sessions *session.Registry
	subs     *subscription.Registry
	idents   *identity.Registry
	router   *routing.Router
	table    *dispatch.Table
	pipe     *pipeline.Pipeline
	relay    *relay.Forwarder

	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a hub. table may be nil when no application handlers are
// registered.
func New(cfg Config, table *dispatch.Table, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if table == nil {
		table = dispatch.NewTable()
	}
	if cfg.Relay.Origin == "" {
		cfg.Relay.Origin = cfg.InstanceID
	}

	h := &Hub{
		cfg:      cfg,
		logger:   logger.With("component", "hub"),
		sessions: session.NewRegistry(),
		subs:     subscription.NewRegistry(),
		idents:   identity.NewRegistry(),
		table:    table,
	}
	h.router = routing.NewRouter(h.subs, h.idents, logger)
	h.relay = relay.NewForwarder(cfg.Relay, h.injectFromRelay, logger)
	h.pipe = pipeline.New(cfg.Pipeline, h.handleInbound, h.handleProcess, h.deliver, logger)
	return h
}

// AddObserver registers lifecycle callbacks. Call before Start.
func (h *Hub) AddObserver(o Observer) {
	h.observers = append(h.observers, o)
}

// Start launches the pipeline workers and the relay link.
func (h *Hub) Start(ctx context.Context) {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.pipe.Start(h.ctx)
	h.relay.Start(h.ctx)
	h.logger.Info("hub started", "instance", h.cfg.InstanceID)
}

// Stop drains the pipeline and tears the relay down, bounded by ctx.
// Live sessions are disconnected.
func (h *Hub) Stop(ctx context.Context) error {
	var ids []string
	h.sessions.Range(func(s *session.Session) bool {
		ids = append(ids, s.ID)
		return true
	})
	for _, id := range ids {
		h.Disconnect(id)
	}

	err := h.pipe.Stop(ctx)
	if rerr := h.relay.Stop(ctx); rerr != nil && err == nil {
		err = rerr
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.logger.Info("hub stopped")
	return err
}

// Connect binds a new session to conn. identityName may be empty for
// anonymous sessions.
func (h *Hub) Connect(conn connection.Conn, identityName string) *session.Session {
	s := session.New(uuid.NewString(), identityName, conn)
	h.sessions.Register(s)
	h.idents.Attach(identityName, s.ID)

	h.logger.Info("session connected",
		"session", s.ID,
		"identity", identityName,
		"conn", conn.ID(),
	)
	for _, o := range h.observers {
		if o.SessionConnected != nil {
			o.SessionConnected(s)
		}
	}
	return s
}

// Disconnect tears a session down: subscriptions first, then the
// identity binding, then the session entry, then the transport. The
// ordering leaves no window where a dead session is still routable.
// Unknown ids are a no-op.
func (h *Hub) Disconnect(sessionID string) {
	s, ok := h.sessions.Lookup(sessionID)
	if !ok {
		return
	}

	removed := h.subs.RemoveSession(sessionID)
	for _, sub := range removed {
		h.retireShared(sub.Destination)
		for _, o := range h.observers {
			if o.Unsubscribed != nil {
				o.Unsubscribed(sub.SessionID, sub.ID, sub.Destination)
			}
		}
	}

	h.idents.Detach(s.Identity, sessionID)

	// Concurrent Disconnects race to this point; the loser stops here.
	if _, ok := h.sessions.Remove(sessionID); !ok {
		return
	}
	s.Conn.Close()

	h.logger.Info("session disconnected",
		"session", sessionID,
		"identity", s.Identity,
		"subscriptions", len(removed),
	)
	for _, o := range h.observers {
		if o.SessionDisconnected != nil {
			o.SessionDisconnected(s)
		}
	}
}

// Submit hands one parsed frame from a transport to the inbound stage.
// The frame's SessionID must identify a connected session.
func (h *Hub) Submit(f *frame.Frame) bool {
	return h.pipe.SubmitInbound(f)
}

// Stats returns the full observability snapshot.
func (h *Hub) Stats() metrics.Snapshot {
	snap := metrics.Snapshot{
		Sessions:      h.sessions.Len(),
		Identities:    h.idents.Len(),
		Subscriptions: h.subs.Len(),
		Router:        h.router.Stats(),
		Pipeline:      h.pipe.Stats(),
		Relay:         h.relay.Stats(),
	}
	h.sessions.Range(func(s *session.Session) bool {
		snap.Connections = append(snap.Connections, metrics.ConnectionInfo{
			SessionID: s.ID,
			Identity:  s.Identity,
			State:     s.Conn.State().String(),
		})
		return true
	})
	return snap
}

// Relay exposes the relay forwarder, mainly for tests and diagnostics.
func (h *Hub) Relay() *relay.Forwarder { return h.relay }

// handleInbound runs on inbound workers: frame triage by command.
func (h *Hub) handleInbound(f *frame.Frame) {
	s, ok := h.sessions.Lookup(f.SessionID)
	if !ok {
		return // session torn down while the frame sat in the queue
	}
	s.Touch()

	if err := f.Validate(); err != nil {
		h.sendError(s, "malformed frame: "+err.Error(), f.Body)
		return
	}

	switch f.Command {
	case frame.CmdSend:
		if _, err := routing.Classify(f.Destination()); err != nil {
			h.sendError(s, "unroutable destination: "+f.Destination(), f.Body)
			return
		}
		h.pipe.SubmitProcess(f)

	case frame.CmdSubscribe:
		h.handleSubscribe(s, f)

	case frame.CmdUnsubscribe:
		h.handleUnsubscribe(s, f)

	case frame.CmdDisconnect:
		h.Disconnect(s.ID)

	default:
		h.sendError(s, "unexpected command: "+string(f.Command), nil)
	}
}

func (h *Hub) handleSubscribe(s *session.Session, f *frame.Frame) {
	dest := f.Destination()
	subID := f.SubscriptionID()

	// Logical user destinations are rewritten to the session-private
	// form before they reach the registry.
	if kind, err := routing.Classify(dest); err != nil {
		h.sendError(s, "unroutable destination: "+dest, nil)
		return
	} else if kind == routing.KindUser {
		rewritten, err := routing.RewriteUserSubscription(s.ID, dest)
		if err != nil {
			h.sendError(s, "unroutable destination: "+dest, nil)
			return
		}
		dest = rewritten
	}

	prev, replaced := h.subs.Subscribe(s.ID, subID, dest)
	if replaced && prev.Destination != dest {
		h.retireShared(prev.Destination)
	}
	if routing.Shared(dest) {
		h.relay.SubscribeUpstream(dest)
	}

	// A concurrent Disconnect may have finished its teardown between
	// the session lookup and the insert above, which would leave the
	// new subscription orphaned on a dead session. Re-check and roll
	// back.
	if _, alive := h.sessions.Lookup(s.ID); !alive {
		for _, sub := range h.subs.RemoveSession(s.ID) {
			h.retireShared(sub.Destination)
		}
		return
	}

	h.logger.Debug("subscribed",
		"session", s.ID,
		"subscription", subID,
		"destination", dest,
		"replaced", replaced,
	)
	for _, o := range h.observers {
		if o.Subscribed != nil {
			o.Subscribed(s.ID, subID, dest)
		}
	}
}

func (h *Hub) handleUnsubscribe(s *session.Session, f *frame.Frame) {
	removed, ok := h.subs.Unsubscribe(s.ID, f.SubscriptionID())
	if !ok {
		return // unknown id, spurious unsubscribe
	}
	h.retireShared(removed.Destination)

	h.logger.Debug("unsubscribed",
		"session", s.ID,
		"subscription", removed.ID,
		"destination", removed.Destination,
	)
	for _, o := range h.observers {
		if o.Unsubscribed != nil {
			o.Unsubscribed(removed.SessionID, removed.ID, removed.Destination)
		}
	}
}

// retireShared drops the upstream subscription mirror once the last
// local subscriber of a shared destination is gone.
func (h *Hub) retireShared(destination string) {
	if !routing.Shared(destination) {
		return
	}
	if len(h.subs.SubscribersOf(destination)) == 0 {
		h.relay.UnsubscribeUpstream(destination)
	}
}

// handleProcess runs on process workers: application dispatch, then
// routing, then relay forwarding.
func (h *Hub) handleProcess(f *frame.Frame) {
	identityName := ""
	if s, ok := h.sessions.Lookup(f.SessionID); ok {
		identityName = s.Identity
	}

	ctx := h.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// Emitted frames are routed directly; they never re-enter dispatch,
	// so a handler emitting to its own prefix cannot loop.
	emitter := dispatch.EmitterFunc(func(out *frame.Frame) {
		h.routeLocal(out, "")
	})
	h.table.Dispatch(ctx, identityName, f, emitter)

	h.routeLocal(f, f.SessionID)
	h.relay.Forward(f)
}

// injectFromRelay routes a broker-originated frame to local subscribers.
// It never goes back through application dispatch or the relay.
func (h *Hub) injectFromRelay(f *frame.Frame) {
	h.routeLocal(f, "")
}

// routeLocal resolves a SEND into deliveries and enqueues them. When
// originSessionID is set, unroutable destinations are reported back to
// that session.
func (h *Hub) routeLocal(f *frame.Frame, originSessionID string) {
	outcome := h.router.Route(f.Destination())
	switch outcome.Result {
	case routing.RejectedUnroutable:
		if s, ok := h.sessions.Lookup(originSessionID); ok {
			h.sendError(s, "unroutable destination: "+f.Destination(), f.Body)
		}
	case routing.Delivered:
		for _, d := range outcome.Deliveries {
			h.pipe.SubmitDelivery(pipeline.Delivery{
				SessionID: d.SessionID,
				Frame:     h.messageFor(d, f),
			})
		}
	case routing.DroppedNoSubscribers:
		// Expected steady state; the relay may still find subscribers
		// on another instance.
	}
}

// messageFor builds the MESSAGE frame for one delivery, carrying the
// payload and application headers of the originating SEND.
func (h *Hub) messageFor(d routing.Delivery, f *frame.Frame) *frame.Frame {
	msg := frame.NewMessage(d.Destination, d.SubscriptionID, f.Body)
	for k, v := range f.Headers {
		switch k {
		case frame.HdrDestination, frame.HdrID, frame.HdrSubscription, frame.HdrOrigin:
		default:
			msg.Headers[k] = v
		}
	}
	return msg
}

// deliver runs on an outbound shard worker: one session, in order.
func (h *Hub) deliver(d pipeline.Delivery) {
	s, ok := h.sessions.Lookup(d.SessionID)
	if !ok {
		return // session gone; the frame is dropped
	}

	err := s.Conn.WriteFrame(d.Frame)
	if err == nil {
		return
	}
	if errors.Is(err, connection.ErrSlowConsumer) {
		h.logger.Warn("slow consumer disconnected",
			"session", d.SessionID,
			"destination", d.Frame.Destination(),
		)
	}
	// Slow or already-closed transports both end the session; other
	// sessions are unaffected.
	h.Disconnect(d.SessionID)
}

// sendError writes an ERROR frame straight to the session's transport,
// skipping the outbound queue. Errors here are best-effort.
func (h *Hub) sendError(s *session.Session, msg string, body []byte) {
	f := frame.NewError(msg, body)
	f.SetHeader(frame.HdrSession, s.ID)
	if err := s.Conn.WriteFrame(f); err != nil {
		h.logger.Debug("error frame write failed", "session", s.ID, "error", err)
	}
}

// IdleSessions returns sessions whose last activity predates cutoff.
// A supervising caller may disconnect them.
func (h *Hub) IdleSessions(cutoff time.Time) []string {
	var ids []string
	h.sessions.Range(func(s *session.Session) bool {
		if s.LastActivity().Before(cutoff) {
			ids = append(ids, s.ID)
		}
		return true
	})
	return ids
}
