package routing

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/framehub/framehub/internal/identity"
	"github.com/framehub/framehub/internal/subscription"
)

// Result is the outcome class of a routing attempt. "No subscribers" is
// expected steady state, not an error.
type Result int

const (
	Delivered Result = iota
	DroppedNoSubscribers
	RejectedUnroutable
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case DroppedNoSubscribers:
		return "dropped"
	case RejectedUnroutable:
		return "unroutable"
	}
	return "unknown"
}

// Delivery is one concrete target for an outbound MESSAGE frame.
type Delivery struct {
	SessionID      string
	SubscriptionID string
	Destination    string // destination as the subscriber addressed it
}

// Outcome is the full result of routing one SEND.
type Outcome struct {
	Result     Result
	Deliveries []Delivery
}

// Stats are routing counters since start.
type Stats struct {
	Routed     int64
	Delivered  int64
	Dropped    int64
	Unroutable int64
}

// Router resolves a destination into the set of (session, subscription)
// pairs that should receive a message. It owns no state beyond counters;
// the registries are injected.
type Router struct {
	subs   *subscription.Registry
	idents *identity.Registry
	logger *slog.Logger

	routed     atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Int64
	unroutable atomic.Int64
}

// NewRouter creates a router over the given registries.
func NewRouter(subs *subscription.Registry, idents *identity.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		subs:   subs,
		idents: idents,
		logger: logger,
	}
}

// Route resolves destination into a delivery set.
//
// Topic and queue destinations resolve to their subscribers verbatim;
// a queue with N subscribers yields N deliveries (competing-consumer
// semantics only exist behind a real broker). User destinations resolve
// the identity to its live sessions and look up each session-private
// rewritten form. An empty set is a silent drop.
func (r *Router) Route(destination string) Outcome {
	r.routed.Add(1)

	kind, err := Classify(destination)
	if err != nil {
		r.unroutable.Add(1)
		return Outcome{Result: RejectedUnroutable}
	}

	var deliveries []Delivery
	switch kind {
	case KindTopic, KindQueue, KindUserSession:
		deliveries = r.collect(destination)

	case KindUser:
		ident, suffix, err := SplitUser(destination)
		if err != nil {
			r.unroutable.Add(1)
			return Outcome{Result: RejectedUnroutable}
		}
		for _, sessionID := range r.idents.SessionsOf(ident) {
			private := UserSessionDestination(sessionID, suffix)
			deliveries = append(deliveries, r.collect(private)...)
		}
	}

	if len(deliveries) == 0 {
		r.dropped.Add(1)
		return Outcome{Result: DroppedNoSubscribers}
	}
	r.delivered.Add(1)
	return Outcome{Result: Delivered, Deliveries: deliveries}
}

// IsUnroutable reports whether err marks an unrecognized destination.
func IsUnroutable(err error) bool {
	return errors.Is(err, ErrUnroutable)
}

// Stats returns routing counters.
func (r *Router) Stats() Stats {
	return Stats{
		Routed:     r.routed.Load(),
		Delivered:  r.delivered.Load(),
		Dropped:    r.dropped.Load(),
		Unroutable: r.unroutable.Load(),
	}
}

func (r *Router) collect(destination string) []Delivery {
	subs := r.subs.SubscribersOf(destination)
	if len(subs) == 0 {
		return nil
	}
	deliveries := make([]Delivery, 0, len(subs))
	for _, sub := range subs {
		deliveries = append(deliveries, Delivery{
			SessionID:      sub.SessionID,
			SubscriptionID: sub.ID,
			Destination:    sub.Destination,
		})
	}
	return deliveries
}
