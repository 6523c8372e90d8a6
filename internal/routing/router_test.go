package routing

import (
	"testing"

	"github.com/framehub/framehub/internal/identity"
	"github.com/framehub/framehub/internal/subscription"
)

func newTestRouter() (*Router, *subscription.Registry, *identity.Registry) {
	subs := subscription.NewRegistry()
	idents := identity.NewRegistry()
	return NewRouter(subs, idents, nil), subs, idents
}

func TestRoute_TopicFanOut(t *testing.T) {
	r, subs, _ := newTestRouter()
	subs.Subscribe("s1", "a", "/topic/news")
	subs.Subscribe("s2", "b", "/topic/news")
	subs.Subscribe("s3", "c", "/topic/other")

	out := r.Route("/topic/news")
	if out.Result != Delivered {
		t.Fatalf("Result = %s, want delivered", out.Result)
	}
	if len(out.Deliveries) != 2 {
		t.Fatalf("Deliveries = %d, want 2", len(out.Deliveries))
	}
	seen := map[string]bool{}
	for _, d := range out.Deliveries {
		seen[d.SessionID] = true
		if d.Destination != "/topic/news" {
			t.Errorf("Destination = %s, want /topic/news", d.Destination)
		}
	}
	if !seen["s1"] || !seen["s2"] || seen["s3"] {
		t.Errorf("delivery sessions = %v, want s1 and s2 only", seen)
	}
}

func TestRoute_QueueNotSpecialCased(t *testing.T) {
	r, subs, _ := newTestRouter()
	subs.Subscribe("s1", "a", "/queue/work")
	subs.Subscribe("s2", "b", "/queue/work")

	out := r.Route("/queue/work")
	if len(out.Deliveries) != 2 {
		t.Errorf("Deliveries = %d, want 2 (queue is a naming convention, not a competing-consumer guarantee)", len(out.Deliveries))
	}
}

func TestRoute_UserFanOut(t *testing.T) {
	r, subs, idents := newTestRouter()

	// alice has two sessions, both subscribed to the logical /user/queue/notices,
	// stored in rewritten per-session form.
	idents.Attach("alice", "S1")
	idents.Attach("alice", "S2")
	subs.Subscribe("S1", "n", "/user-session/S1/queue/notices")
	subs.Subscribe("S2", "n", "/user-session/S2/queue/notices")

	// bob's session must never qualify.
	idents.Attach("bob", "S3")
	subs.Subscribe("S3", "n", "/user-session/S3/queue/notices")

	out := r.Route("/user/alice/queue/notices")
	if out.Result != Delivered {
		t.Fatalf("Result = %s, want delivered", out.Result)
	}
	if len(out.Deliveries) != 2 {
		t.Fatalf("Deliveries = %d, want 2", len(out.Deliveries))
	}
	for _, d := range out.Deliveries {
		if d.SessionID != "S1" && d.SessionID != "S2" {
			t.Errorf("delivery to %s, want only S1/S2", d.SessionID)
		}
	}
}

func TestRoute_UserSessionIsolation(t *testing.T) {
	r, subs, idents := newTestRouter()
	idents.Attach("alice", "S1")
	idents.Attach("alice", "S2")
	subs.Subscribe("S1", "n", "/user-session/S1/queue/x")
	subs.Subscribe("S2", "n", "/user-session/S2/queue/x")

	// Addressing the rewritten private form reaches only that session,
	// even though both belong to the same identity.
	out := r.Route("/user-session/S1/queue/x")
	if len(out.Deliveries) != 1 || out.Deliveries[0].SessionID != "S1" {
		t.Errorf("Deliveries = %v, want exactly S1", out.Deliveries)
	}
}

func TestRoute_OfflineUserIsSilentDrop(t *testing.T) {
	r, _, _ := newTestRouter()

	out := r.Route("/user/nobody/queue/x")
	if out.Result != DroppedNoSubscribers {
		t.Errorf("Result = %s, want dropped", out.Result)
	}
	if len(out.Deliveries) != 0 {
		t.Errorf("Deliveries = %d, want 0", len(out.Deliveries))
	}
}

func TestRoute_NoSubscribersIsSilentDrop(t *testing.T) {
	r, _, _ := newTestRouter()
	out := r.Route("/topic/empty")
	if out.Result != DroppedNoSubscribers {
		t.Errorf("Result = %s, want dropped", out.Result)
	}
}

func TestRoute_Unroutable(t *testing.T) {
	r, _, _ := newTestRouter()
	out := r.Route("/bogus/destination")
	if out.Result != RejectedUnroutable {
		t.Errorf("Result = %s, want unroutable", out.Result)
	}

	// Malformed user destination: identity present but no suffix.
	out = r.Route("/user/alice")
	if out.Result != RejectedUnroutable {
		t.Errorf("Result = %s, want unroutable", out.Result)
	}
}

func TestRouter_Stats(t *testing.T) {
	r, subs, _ := newTestRouter()
	subs.Subscribe("s1", "a", "/topic/news")

	r.Route("/topic/news")
	r.Route("/topic/empty")
	r.Route("/nope")

	got := r.Stats()
	if got.Routed != 3 {
		t.Errorf("Routed = %d, want 3", got.Routed)
	}
	if got.Delivered != 1 || got.Dropped != 1 || got.Unroutable != 1 {
		t.Errorf("Stats = %+v, want 1/1/1", got)
	}
}
