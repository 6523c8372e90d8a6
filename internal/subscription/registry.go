// Package subscription indexes destination subscriptions both by owning
// session and by destination, so routing can resolve fan-out sets and
// session teardown can retire everything a session registered.
package subscription

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Subscription is a (session, local id) registration of interest in a
// destination. The id is unique only within its owning session.
type Subscription struct {
	SessionID   string
	ID          string
	Destination string
}

const destShardCount = 16

// destShard holds the destination→subscribers index for a slice of the
// destination space. Slices preserve insertion order, which keeps
// SubscribersOf deterministic for tests; it is not a delivery guarantee.
type destShard struct {
	mu   sync.RWMutex
	subs map[string][]Subscription
}

// sessionSubs holds one session's subscriptions keyed by local id.
type sessionSubs struct {
	mu   sync.Mutex
	subs map[string]Subscription
}

// Registry is the subscription store. The destination index is lock
// striped so unrelated destinations never contend; per-session entries
// carry their own lock.
type Registry struct {
	sessions sync.Map // session id -> *sessionSubs
	shards   [destShardCount]destShard
	count    atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].subs = make(map[string][]Subscription)
	}
	return r
}

func (r *Registry) shard(destination string) *destShard {
	h := fnv.New32a()
	h.Write([]byte(destination))
	return &r.shards[h.Sum32()%destShardCount]
}

// Subscribe registers (sessionID, subID) on destination. Subscribing
// twice with the same id replaces the prior mapping, matching clients
// that resend subscribe frames after a reconnect. When a mapping was
// replaced, the prior subscription is returned so its destination can
// be retired by the caller.
func (r *Registry) Subscribe(sessionID, subID, destination string) (Subscription, bool) {
	entry := r.sessionEntry(sessionID)

	entry.mu.Lock()
	prev, replaced := entry.subs[subID]
	sub := Subscription{SessionID: sessionID, ID: subID, Destination: destination}
	entry.subs[subID] = sub
	entry.mu.Unlock()

	if replaced {
		r.removeFromDest(prev)
	} else {
		r.count.Add(1)
	}
	r.addToDest(sub)
	return prev, replaced
}

// Unsubscribe removes (sessionID, subID) and returns the removed
// subscription. Unknown pairs are a no-op.
func (r *Registry) Unsubscribe(sessionID, subID string) (Subscription, bool) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return Subscription{}, false
	}
	entry := v.(*sessionSubs)

	entry.mu.Lock()
	sub, ok := entry.subs[subID]
	if ok {
		delete(entry.subs, subID)
	}
	entry.mu.Unlock()

	if !ok {
		return Subscription{}, false
	}
	r.removeFromDest(sub)
	r.count.Add(-1)
	return sub, true
}

// SubscribersOf returns the subscriptions on destination in insertion
// order. The slice is a copy.
func (r *Registry) SubscribersOf(destination string) []Subscription {
	s := r.shard(destination)
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := s.subs[destination]
	if len(subs) == 0 {
		return nil
	}
	out := make([]Subscription, len(subs))
	copy(out, subs)
	return out
}

// RemoveSession retires every subscription owned by sessionID and
// returns them. Called during session teardown before the session
// itself is removed, so no window exists where a dead session remains
// routable.
func (r *Registry) RemoveSession(sessionID string) []Subscription {
	v, loaded := r.sessions.LoadAndDelete(sessionID)
	if !loaded {
		return nil
	}
	entry := v.(*sessionSubs)

	entry.mu.Lock()
	removed := make([]Subscription, 0, len(entry.subs))
	for _, sub := range entry.subs {
		removed = append(removed, sub)
	}
	entry.subs = make(map[string]Subscription)
	entry.mu.Unlock()

	for _, sub := range removed {
		r.removeFromDest(sub)
	}
	r.count.Add(int64(-len(removed)))
	return removed
}

// Len returns the total number of active subscriptions.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

func (r *Registry) sessionEntry(sessionID string) *sessionSubs {
	if v, ok := r.sessions.Load(sessionID); ok {
		return v.(*sessionSubs)
	}
	v, _ := r.sessions.LoadOrStore(sessionID, &sessionSubs{subs: make(map[string]Subscription)})
	return v.(*sessionSubs)
}

func (r *Registry) addToDest(sub Subscription) {
	s := r.shard(sub.Destination)
	s.mu.Lock()
	s.subs[sub.Destination] = append(s.subs[sub.Destination], sub)
	s.mu.Unlock()
}

func (r *Registry) removeFromDest(sub Subscription) {
	s := r.shard(sub.Destination)
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[sub.Destination]
	for i, candidate := range subs {
		if candidate.SessionID == sub.SessionID && candidate.ID == sub.ID {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(s.subs, sub.Destination)
	} else {
		s.subs[sub.Destination] = subs
	}
}
