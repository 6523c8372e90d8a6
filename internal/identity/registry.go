// Package identity maps logical users to their live sessions. One user
// may hold many sessions (several devices, several tabs); the registry
// resolves a user name to every session that should receive user-scoped
// traffic.
package identity

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string][]string // identity -> session ids, attach order
}

// Registry is a lock-striped identity→sessions index. An identity entry
// exists only while at least one session references it; the last Detach
// deletes it, so no background sweep is needed.
type Registry struct {
	shards [shardCount]shard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string][]string)
	}
	return r
}

func (r *Registry) shard(identity string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return &r.shards[h.Sum32()%shardCount]
}

// Attach records sessionID as belonging to identity. Attaching the same
// pair twice is a no-op.
func (r *Registry) Attach(identity, sessionID string) {
	if identity == "" || sessionID == "" {
		return
	}
	s := r.shard(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sessions[identity] {
		if id == sessionID {
			return
		}
	}
	s.sessions[identity] = append(s.sessions[identity], sessionID)
}

// Detach removes sessionID from identity. The last session removes the
// identity entry itself. Detaching an unknown pair is a no-op.
func (r *Registry) Detach(identity, sessionID string) {
	if identity == "" {
		return
	}
	s := r.shard(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.sessions[identity]
	for i, id := range ids {
		if id == sessionID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.sessions, identity)
	} else {
		s.sessions[identity] = ids
	}
}

// SessionsOf returns the live session ids for identity, in attach order.
// Unknown identities yield an empty slice, never an error: sending to an
// offline user is an expected no-op.
func (r *Registry) SessionsOf(identity string) []string {
	s := r.shard(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sessions[identity]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Len returns the number of identities with at least one session.
func (r *Registry) Len() int {
	total := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		total += len(s.sessions)
		s.mu.RUnlock()
	}
	return total
}
