// Package session tracks live sessions: one authenticated logical
// conversation bound to exactly one connection.
package session

import (
	"sync"
	"time"

	"github.com/framehub/framehub/internal/connection"
)

// Session is one live client conversation. The Identity field is a weak
// reference by name; the identity registry owns the identity→sessions
// relation.
type Session struct {
	ID        string
	Identity  string // empty for anonymous sessions
	Conn      connection.Conn
	CreatedAt time.Time

	mu           sync.RWMutex
	attrs        map[string]any
	lastActivity time.Time
}

// New creates a session bound to conn. identity may be empty.
func New(id, identity string, conn connection.Conn) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Identity:     identity,
		Conn:         conn,
		CreatedAt:    now,
		attrs:        make(map[string]any),
		lastActivity: now,
	}
}

// SetAttr stores a free-form session attribute.
func (s *Session) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Attr returns a session attribute.
func (s *Session) Attr(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent Touch.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}
