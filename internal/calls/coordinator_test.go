package calls

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type stubPresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func (p *stubPresence) set(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online == nil {
		p.online = make(map[string]bool)
	}
	p.online[userID] = online
}

func (p *stubPresence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

type capturedEvent struct {
	UserID string
	Event
}

type stubNotifier struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (n *stubNotifier) Publish(userID string, event any) {
	ev, ok := event.(Event)
	if !ok {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, capturedEvent{UserID: userID, Event: ev})
}

func (n *stubNotifier) count(userID, typ string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.UserID == userID && e.Type == typ {
			c++
		}
	}
	return c
}

type stubHistory struct {
	mu   sync.Mutex
	rows []Session
}

func (h *stubHistory) CallEnded(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = append(h.rows, s)
}

func newTestCoordinator(cfg Config) (*Coordinator, *stubPresence, *stubNotifier, *stubHistory) {
	p := &stubPresence{}
	n := &stubNotifier{}
	h := &stubHistory{}
	c := NewCoordinator(p, n, h, cfg, slog.Default())
	return c, p, n, h
}

func bothOnline(p *stubPresence) {
	p.set("alice", true)
	p.set("bob", true)
}

func waitState(t *testing.T, c *Coordinator, callID string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := c.Get(callID); ok && s.State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	s, _ := c.Get(callID)
	t.Fatalf("call %s never reached %s (now %s)", callID, want, s.State)
}

// connect drives a session to connected.
func connect(t *testing.T, c *Coordinator) Session {
	t.Helper()
	s, err := c.Request("alice", "bob")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := c.Accept(s.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := c.HandshakeComplete(s.ID, "alice"); err != nil {
		t.Fatalf("caller ack: %v", err)
	}
	if err := c.HandshakeComplete(s.ID, "bob"); err != nil {
		t.Fatalf("callee ack: %v", err)
	}
	got, _ := c.Get(s.ID)
	if got.State != StateConnected {
		t.Fatalf("expected connected, got %s", got.State)
	}
	return got
}

func TestRequestRejectsOfflineCallee(t *testing.T) {
	c, p, _, _ := newTestCoordinator(Config{})
	p.set("alice", true)

	_, err := c.Request("alice", "bob")
	var adm *AdmissionError
	if !errors.As(err, &adm) || adm.Reason != AdmissionOffline {
		t.Fatalf("expected offline admission error, got %v", err)
	}
	if _, _, _, ok := c.Participants("anything"); ok {
		t.Fatalf("no session should exist")
	}
}

func TestRequestRejectsSelfCall(t *testing.T) {
	c, p, _, _ := newTestCoordinator(Config{})
	p.set("alice", true)

	_, err := c.Request("alice", "alice")
	var adm *AdmissionError
	if !errors.As(err, &adm) || adm.Reason != AdmissionSelfCall {
		t.Fatalf("expected self_call admission error, got %v", err)
	}
}

func TestPairHasAtMostOneActiveSession(t *testing.T) {
	c, p, _, _ := newTestCoordinator(Config{})
	bothOnline(p)

	first, err := c.Request("alice", "bob")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// The reverse request while the first is ringing must lose.
	_, err = c.Request("bob", "alice")
	var adm *AdmissionError
	if !errors.As(err, &adm) || adm.Reason != AdmissionBusy {
		t.Fatalf("expected busy, got %v", err)
	}

	// A third party cannot double-book either participant.
	p.set("carol", true)
	if _, err := c.Request("carol", "bob"); err == nil {
		t.Fatalf("expected busy for double-booked callee")
	}

	// After teardown the pair is free again.
	if err := c.Hangup(first.ID, "alice", ""); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if _, err := c.Request("bob", "alice"); err != nil {
		t.Fatalf("pair should be released, got %v", err)
	}
}

func TestConcurrentCrossRequestsResolveToOneSession(t *testing.T) {
	c, p, _, _ := newTestCoordinator(Config{})
	bothOnline(p)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, results[0] = c.Request("alice", "bob") }()
	go func() { defer wg.Done(); _, results[1] = c.Request("bob", "alice") }()
	wg.Wait()

	ok, busy := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		default:
			var adm *AdmissionError
			if errors.As(err, &adm) && adm.Reason == AdmissionBusy {
				busy++
			}
		}
	}
	if ok != 1 || busy != 1 {
		t.Fatalf("expected exactly one surviving session, got ok=%d busy=%d (%v)", ok, busy, results)
	}
}

func TestRingTimeoutEndsExactlyOnce(t *testing.T) {
	c, p, n, _ := newTestCoordinator(Config{RingTimeout: 20 * time.Millisecond})
	bothOnline(p)

	s, err := c.Request("alice", "bob")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	waitState(t, c, s.ID, StateEnded)
	got, _ := c.Get(s.ID)
	if got.EndReason != ReasonTimeout {
		t.Fatalf("expected timeout reason, got %q", got.EndReason)
	}

	// A late accept must not be honored.
	if err := c.Accept(s.ID, "bob"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal for late accept, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n.count("alice", EventEnded) != 1 {
		t.Fatalf("caller should see exactly one ended event, got %d", n.count("alice", EventEnded))
	}
}

func TestAcceptCancelsRingTimer(t *testing.T) {
	c, p, _, _ := newTestCoordinator(Config{RingTimeout: 20 * time.Millisecond})
	bothOnline(p)

	s, _ := c.Request("alice", "bob")
	if err := c.Accept(s.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	got, _ := c.Get(s.ID)
	if got.State != StateAccepted {
		t.Fatalf("late ring timer must be a no-op, got %s", got.State)
	}
}

func TestOnlyCalleeMayAccept(t *testing.T) {
	c, p, _, _ := newTestCoordinator(Config{})
	bothOnline(p)

	s, _ := c.Request("alice", "bob")
	if err := c.Accept(s.ID, "alice"); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("caller accepting should fail, got %v", err)
	}
	if err := c.Accept(s.ID, "mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("stranger accepting should fail, got %v", err)
	}
}

func TestDeclineEndsWithRejected(t *testing.T) {
	c, p, n, _ := newTestCoordinator(Config{})
	bothOnline(p)

	s, _ := c.Request("alice", "bob")
	if err := c.Decline(s.ID, "bob"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	got, _ := c.Get(s.ID)
	if got.State != StateEnded || got.EndReason != ReasonRejected {
		t.Fatalf("expected ended/rejected, got %s/%s", got.State, got.EndReason)
	}
	if n.count("alice", EventEnded) != 1 {
		t.Fatalf("caller should learn about rejection")
	}
}

func TestConnectedRequiresBothAcks(t *testing.T) {
	c, p, _, _ := newTestCoordinator(Config{})
	bothOnline(p)

	s, _ := c.Request("alice", "bob")
	_ = c.Accept(s.ID, "bob")

	if err := c.HandshakeComplete(s.ID, "alice"); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	got, _ := c.Get(s.ID)
	if got.State != StateAccepted {
		t.Fatalf("one ack must not connect, got %s", got.State)
	}

	if err := c.HandshakeComplete(s.ID, "bob"); err != nil {
		t.Fatalf("second ack: %v", err)
	}
	got, _ = c.Get(s.ID)
	if got.State != StateConnected || got.ConnectedAt.IsZero() {
		t.Fatalf("expected connected with timestamp, got %+v", got)
	}
}

func TestHangupFromAnyNonTerminalState(t *testing.T) {
	c, p, n, _ := newTestCoordinator(Config{})
	bothOnline(p)

	s, _ := c.Request("alice", "bob")
	if err := c.Hangup(s.ID, "alice", "user_ended"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	got, _ := c.Get(s.ID)
	if got.State != StateEnded || got.EndReason != "user_ended" {
		t.Fatalf("expected ended/user_ended, got %s/%s", got.State, got.EndReason)
	}
	if n.count("bob", EventEnded) != 1 {
		t.Fatalf("callee should see the hangup")
	}

	if err := c.Hangup(s.ID, "bob", ""); !errors.Is(err, ErrTerminal) {
		t.Fatalf("second hangup should report terminal, got %v", err)
	}
}

func TestReconnectWithinWindowResumesSameCall(t *testing.T) {
	c, p, n, _ := newTestCoordinator(Config{
		ReconnectAttempts: 3,
		ReconnectDelay:    30 * time.Millisecond,
	})
	bothOnline(p)
	s := connect(t, c)

	c.HandleUnreachable("bob")
	got, _ := c.Get(s.ID)
	if got.State != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", got.State)
	}
	if n.count("alice", EventPeerDisconnected) != 1 {
		t.Fatalf("remaining party should be told about the drop")
	}

	c.HandleReachable("bob")
	got, _ = c.Get(s.ID)
	if got.State != StateConnected {
		t.Fatalf("expected resumed connected, got %s", got.State)
	}
	if n.count("alice", EventPeerReconnected) != 1 {
		t.Fatalf("remaining party should be told about the resume")
	}

	// The window timer must be dead: no failure later.
	time.Sleep(150 * time.Millisecond)
	got, _ = c.Get(s.ID)
	if got.State != StateConnected {
		t.Fatalf("cancelled reconnect timer forced a transition: %s", got.State)
	}
}

func TestReconnectExhaustionFailsExactlyOnce(t *testing.T) {
	c, p, n, h := newTestCoordinator(Config{
		ReconnectAttempts: 3,
		ReconnectDelay:    10 * time.Millisecond,
	})
	bothOnline(p)
	s := connect(t, c)

	c.HandleUnreachable("bob")
	waitState(t, c, s.ID, StateFailed)

	got, _ := c.Get(s.ID)
	if got.EndReason != ReasonReconnectExhausted {
		t.Fatalf("expected reconnect_exhausted, got %q", got.EndReason)
	}
	if n.count("alice", EventEnded) != 1 {
		t.Fatalf("remaining party should see exactly one ended event, got %d", n.count("alice", EventEnded))
	}

	// Late reachability must not resurrect the call.
	c.HandleReachable("bob")
	got, _ = c.Get(s.ID)
	if got.State != StateFailed {
		t.Fatalf("terminal session must stay terminal, got %s", got.State)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		rows := len(h.rows)
		h.mu.Unlock()
		if rows == 1 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected one history row")
}

func TestBothPartiesGoneFailsImmediately(t *testing.T) {
	c, p, _, _ := newTestCoordinator(Config{
		ReconnectAttempts: 3,
		ReconnectDelay:    time.Minute, // window must not matter
	})
	bothOnline(p)
	s := connect(t, c)

	c.HandleUnreachable("bob")
	c.HandleUnreachable("alice")

	got, _ := c.Get(s.ID)
	if got.State != StateFailed || got.EndReason != ReasonReconnectExhausted {
		t.Fatalf("expected immediate failure, got %s/%s", got.State, got.EndReason)
	}
}

func TestParticipantsReadForRouting(t *testing.T) {
	c, p, _, _ := newTestCoordinator(Config{})
	bothOnline(p)

	s, _ := c.Request("alice", "bob")
	caller, callee, terminal, ok := c.Participants(s.ID)
	if !ok || caller != "alice" || callee != "bob" || terminal {
		t.Fatalf("unexpected participants %s/%s terminal=%v ok=%v", caller, callee, terminal, ok)
	}

	_ = c.Hangup(s.ID, "alice", "")
	_, _, terminal, ok = c.Participants(s.ID)
	if !ok || !terminal {
		t.Fatalf("ended session should read as terminal")
	}

	if _, _, _, ok := c.Participants("missing"); ok {
		t.Fatalf("unknown call id should not resolve")
	}
}
