package session

import (
	"sync"
	"sync/atomic"
)

// Registry maps session ids to live sessions. Safe for arbitrary
// concurrent Register/Lookup/Remove from all pipeline stages.
type Registry struct {
	sessions sync.Map // session id -> *Session
	count    atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a session. Registering an id twice replaces the prior
// entry; callers generate unique ids so this only happens in tests.
func (r *Registry) Register(s *Session) {
	if _, loaded := r.sessions.Swap(s.ID, s); !loaded {
		r.count.Add(1)
	}
}

// Lookup returns the session for id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Remove deletes the session for id and reports whether it existed.
// Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) (*Session, bool) {
	v, loaded := r.sessions.LoadAndDelete(id)
	if !loaded {
		return nil, false
	}
	r.count.Add(-1)
	return v.(*Session), true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Range calls fn for each live session until fn returns false.
func (r *Registry) Range(fn func(*Session) bool) {
	r.sessions.Range(func(_, v any) bool {
		return fn(v.(*Session))
	})
}
