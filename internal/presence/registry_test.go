package presence

import (
	"sync"
	"testing"
	"time"
)

type recordedEvents struct {
	mu          sync.Mutex
	presence    []string // "user:online" / "user:offline"
	reachable   []string
	unreachable []string
}

func (e *recordedEvents) PresenceChanged(userID string, online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	e.presence = append(e.presence, userID+":"+state)
}

func (e *recordedEvents) Reachable(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reachable = append(e.reachable, userID)
}

func (e *recordedEvents) Unreachable(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unreachable = append(e.unreachable, userID)
}

func newTestRegistry(now *time.Time) (*Registry, *recordedEvents) {
	ev := &recordedEvents{}
	r := NewRegistry(
		WithClock(func() time.Time { return *now }),
		WithStaleAfter(60*time.Second),
	)
	r.Subscribe(ev)
	return r, ev
}

func TestOnlineRequiresAvailabilityAndConnection(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r, _ := newTestRegistry(&now)

	if r.IsOnline("u1") {
		t.Fatalf("unknown user should be offline")
	}

	r.SetAvailable("u1", true)
	if r.IsOnline("u1") {
		t.Fatalf("available without connection should be offline")
	}

	r.ConnectionOpened("u1", "counselor", "c1")
	if !r.IsOnline("u1") {
		t.Fatalf("available with connection should be online")
	}

	r.SetAvailable("u1", false)
	if r.IsOnline("u1") {
		t.Fatalf("opted-out user should be offline")
	}
}

func TestPresenceEventsFireOnlyOnTransitions(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r, ev := newTestRegistry(&now)

	r.SetAvailable("u1", true)
	r.ConnectionOpened("u1", "client", "c1")
	r.ConnectionOpened("u1", "client", "c2") // second device, no transition
	r.SetAvailable("u1", true)               // no-op

	if len(ev.presence) != 1 || ev.presence[0] != "u1:online" {
		t.Fatalf("expected one online transition, got %v", ev.presence)
	}

	r.ConnectionClosed("u1", "c1")
	if len(ev.presence) != 1 {
		t.Fatalf("still one connection left, got %v", ev.presence)
	}
	r.ConnectionClosed("u1", "c2")
	if len(ev.presence) != 2 || ev.presence[1] != "u1:offline" {
		t.Fatalf("expected offline transition, got %v", ev.presence)
	}
}

func TestDoubleCloseProducesOneTransition(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r, ev := newTestRegistry(&now)

	r.SetAvailable("u1", true)
	r.ConnectionOpened("u1", "client", "c1")
	r.ConnectionClosed("u1", "c1")
	r.ConnectionClosed("u1", "c1")

	offline := 0
	for _, p := range ev.presence {
		if p == "u1:offline" {
			offline++
		}
	}
	if offline != 1 {
		t.Fatalf("expected exactly one offline transition, got %d (%v)", offline, ev.presence)
	}
	if len(ev.unreachable) != 1 {
		t.Fatalf("expected exactly one unreachable event, got %v", ev.unreachable)
	}
}

func TestReachabilityIgnoresAvailability(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r, ev := newTestRegistry(&now)

	// Never opted in, but reachability still tracks the connection set.
	r.ConnectionOpened("u1", "client", "c1")
	r.ConnectionClosed("u1", "c1")

	if len(ev.reachable) != 1 || len(ev.unreachable) != 1 {
		t.Fatalf("expected reachable+unreachable, got %v / %v", ev.reachable, ev.unreachable)
	}
	if len(ev.presence) != 0 {
		t.Fatalf("expected no presence transitions, got %v", ev.presence)
	}
}

func TestExpireStaleClosesSilentConnections(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r, ev := newTestRegistry(&now)

	r.SetAvailable("u1", true)
	r.ConnectionOpened("u1", "client", "c1")
	r.ConnectionOpened("u1", "client", "c2")

	// c2 keeps beating, c1 goes silent.
	now = now.Add(45 * time.Second)
	r.Heartbeat("u1", "c2")

	now = now.Add(30 * time.Second)
	stale := r.ExpireStale(now)

	if len(stale) != 1 || stale[0].ConnID != "c1" {
		t.Fatalf("expected c1 reaped, got %v", stale)
	}
	if !r.IsOnline("u1") {
		t.Fatalf("u1 should stay online via c2")
	}
	if len(ev.presence) != 1 {
		t.Fatalf("no offline transition expected, got %v", ev.presence)
	}

	now = now.Add(2 * time.Minute)
	if got := r.ExpireStale(now); len(got) != 1 {
		t.Fatalf("expected c2 reaped, got %v", got)
	}
	if r.IsOnline("u1") {
		t.Fatalf("u1 should be offline after all connections reaped")
	}
}

func TestLookupSnapshot(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r, _ := newTestRegistry(&now)

	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("expected no snapshot for unknown user")
	}

	r.SetAvailable("u1", true)
	r.ConnectionOpened("u1", "counselor", "c1")

	snap, ok := r.Lookup("u1")
	if !ok {
		t.Fatalf("expected snapshot")
	}
	if !snap.Online || snap.Role != "counselor" || snap.Connections != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
