// Package server exposes the hub over WebSocket. Each client connection
// carries wire frames as text messages; the first frame must be CONNECT.
// A small HTTP surface serves health and stats alongside.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/framehub/framehub/internal/connection"
	"github.com/framehub/framehub/internal/frame"
	"github.com/framehub/framehub/internal/hub"
	"github.com/framehub/framehub/internal/session"
)

// Config configures the server.
type Config struct {
	ListenAddr       string
	WSPath           string
	HandshakeTimeout time.Duration
	SendTimeLimit    time.Duration
	ReadLimit        int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":8080",
		WSPath:           "/ws",
		HandshakeTimeout: 10 * time.Second,
		SendTimeLimit:    10 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// Authenticator resolves a CONNECT frame to an identity. An empty
// identity with a nil error admits the session as anonymous.
type Authenticator interface {
	Authenticate(r *http.Request, connect *frame.Frame) (identity string, err error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(r *http.Request, connect *frame.Frame) (string, error)

// Authenticate calls the function.
func (fn AuthenticatorFunc) Authenticate(r *http.Request, connect *frame.Frame) (string, error) {
	return fn(r, connect)
}

// LoginAuthenticator trusts the CONNECT login header as the identity.
// Suitable behind a terminating proxy that has already authenticated.
func LoginAuthenticator() Authenticator {
	return AuthenticatorFunc(func(_ *http.Request, connect *frame.Frame) (string, error) {
		return connect.Header(frame.HdrLogin), nil
	})
}

// Server is the WebSocket front end for one hub.
type Server struct {
	cfg    Config
	hub    *hub.Hub
	auth   Authenticator
	logger *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New creates a server. auth may be nil, defaulting to the login header.
func New(cfg Config, h *hub.Hub, auth Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if auth == nil {
		auth = LoginAuthenticator()
	}
	def := DefaultConfig()
	if cfg.WSPath == "" {
		cfg.WSPath = def.WSPath
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.SendTimeLimit <= 0 {
		cfg.SendTimeLimit = def.SendTimeLimit
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}

	s := &Server{
		cfg:    cfg,
		hub:    h,
		auth:   auth,
		logger: logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	s.httpSrv = &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start begins serving. Non-blocking; listen errors are logged.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info("listening", "addr", s.cfg.ListenAddr, "ws_path", s.cfg.WSPath)
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("listener failed", "error", err)
		}
	}()
}

// Stop shuts the listener down, bounded by ctx. Live sessions are torn
// down by the hub.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleWS upgrades the connection and runs its read loop until the
// client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	conn := connection.NewWS(uuid.NewString(), ws, connection.WSConfig{
		SendTimeLimit: s.cfg.SendTimeLimit,
	}, s.logger)

	sess, err := s.handshake(r, ws, conn)
	if err != nil {
		s.logger.Debug("handshake rejected", "remote", r.RemoteAddr, "error", err)
		conn.WriteFrame(frame.NewError(err.Error(), nil))
		conn.Close()
		return
	}

	s.readLoop(ws, conn, sess.ID)
	s.hub.Disconnect(sess.ID)
}

// handshake reads the CONNECT frame and admits the session.
func (s *Server) handshake(r *http.Request, ws *websocket.Conn, conn connection.Conn) (*session.Session, error) {
	ws.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	var connect *frame.Frame
	for connect == nil {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read connect: %w", err)
		}
		f, err := frame.ParseBytes(data)
		if err != nil {
			return nil, fmt.Errorf("parse connect: %w", err)
		}
		if f == nil {
			continue // heartbeat before CONNECT
		}
		if f.Command != frame.CmdConnect {
			return nil, fmt.Errorf("expected CONNECT, got %s", f.Command)
		}
		connect = f
	}

	identity, err := s.auth.Authenticate(r, connect)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	sess := s.hub.Connect(conn, identity)

	connected := frame.New(frame.CmdConnected)
	connected.SetHeader(frame.HdrSession, sess.ID)
	if hb := connect.Header(frame.HdrHeartBeat); hb != "" {
		connected.SetHeader(frame.HdrHeartBeat, hb)
	}
	if err := conn.WriteFrame(connected); err != nil {
		s.hub.Disconnect(sess.ID)
		return nil, fmt.Errorf("write connected: %w", err)
	}
	return sess, nil
}

// readLoop pumps client frames into the hub until the socket breaks.
// A frame that fails to parse earns the sender an ERROR frame; the
// connection stays open.
func (s *Server) readLoop(ws *websocket.Conn, conn connection.Conn, sessionID string) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := frame.ParseBytes(data)
		if err != nil {
			s.logger.Debug("malformed frame", "session", sessionID, "error", err)
			conn.WriteFrame(frame.NewError("malformed frame: "+err.Error(), nil))
			continue
		}
		if f == nil {
			continue // heartbeat
		}
		f.SessionID = sessionID
		s.hub.Submit(f)

		if f.Command == frame.CmdDisconnect {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.hub.Stats()
	status := "healthy"
	if snap.Relay.State.String() == "degraded" {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"sessions": snap.Sessions,
		"relay":    snap.Relay.State.String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.Stats())
}
