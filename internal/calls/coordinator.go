// Package calls owns the call-session state machine: admission, ring timeout,
// accept/decline, the media-handshake acknowledgment, the reconnection window,
// and final teardown with reason codes.
//
// Concurrency model: the coordinator mutex guards only the session table and
// the active-pair index; each session carries its own lock, so unrelated calls
// never contend. Timers are generation-tagged — every transition bumps the
// session generation, and a timer that fires after its generation has moved on
// is a no-op.
package calls

import (
	"log/slog"
	"sync"
	"time"

	"counsel-platform/internal/observability/metrics"

	"github.com/google/uuid"
)

// Presence is the synchronous admission view. Must never block on I/O.
type Presence interface {
	IsOnline(userID string) bool
}

// Notifier fans an event out to all live connections of one identity.
type Notifier interface {
	Publish(userID string, event any)
}

// HistorySink receives terminal sessions for durable, best-effort recording.
// Invoked off the signaling path; implementations own their own timeouts.
type HistorySink interface {
	CallEnded(s Session)
}

type Config struct {
	RingTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// TerminalRetention is how long an ended session stays resolvable so that
	// late signaling for it is rejected as terminal rather than unknown.
	TerminalRetention time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.RingTimeout <= 0 {
		out.RingTimeout = 30 * time.Second
	}
	if out.ReconnectAttempts <= 0 {
		out.ReconnectAttempts = 3
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 2 * time.Second
	}
	if out.TerminalRetention <= 0 {
		out.TerminalRetention = 5 * time.Minute
	}
	return out
}

// session is the mutable record behind one call id. All fields are guarded by
// mu. The session lock may be taken while holding nothing else; the
// coordinator lock is only ever acquired after a session lock, never before.
type session struct {
	mu sync.Mutex

	id     string
	caller string
	callee string

	state  State
	reason string

	createdAt   time.Time
	connectedAt time.Time
	endedAt     time.Time

	// gen increments on every transition; timers capture it at arming and
	// check it at firing.
	gen   int
	timer *time.Timer

	callerReady bool
	calleeReady bool

	// Reconnection window bookkeeping.
	goneParty    string
	resumeTo     State
	attemptsLeft int
}

func (s *session) snapshot() Session {
	return Session{
		ID:          s.id,
		CallerID:    s.caller,
		CalleeID:    s.callee,
		State:       s.state,
		EndReason:   s.reason,
		CreatedAt:   s.createdAt,
		ConnectedAt: s.connectedAt,
		EndedAt:     s.endedAt,
	}
}

// bump cancels any pending timer and advances the generation. Call with s.mu held.
func (s *session) bump() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *session) isParticipant(userID string) bool {
	return userID == s.caller || userID == s.callee
}

func (s *session) otherParty(userID string) string {
	if userID == s.caller {
		return s.callee
	}
	return s.caller
}

type Coordinator struct {
	mu           sync.Mutex
	sessions     map[string]*session
	activeByUser map[string]string // userID -> non-terminal callID

	presence Presence
	notify   Notifier
	history  HistorySink

	cfg   Config
	clock func() time.Time
	log   *slog.Logger
}

func NewCoordinator(presence Presence, notify Notifier, history HistorySink, cfg Config, log *slog.Logger) *Coordinator {
	return &Coordinator{
		sessions:     make(map[string]*session),
		activeByUser: make(map[string]string),
		presence:     presence,
		notify:       notify,
		history:      history,
		cfg:          cfg.withDefaults(),
		clock:        time.Now,
		log:          log,
	}
}

// SetClock injects a clock for tests. Timers still run on real time.
func (c *Coordinator) SetClock(clock func() time.Time) { c.clock = clock }

/* ===================== ADMISSION ===================== */

// Request performs the admission check and, on success, creates a ringing
// session, notifies the callee, and arms the ring timer.
//
// Admission failures return *AdmissionError and leave no session behind.
func (c *Coordinator) Request(callerID, calleeID string) (Session, error) {
	if callerID == calleeID {
		return Session{}, &AdmissionError{Reason: AdmissionSelfCall}
	}

	now := c.clock()

	c.mu.Lock()
	if !c.presence.IsOnline(calleeID) {
		c.mu.Unlock()
		return Session{}, &AdmissionError{Reason: AdmissionOffline}
	}
	// No double-booking: neither party may already be in an active call.
	if _, busy := c.activeByUser[callerID]; busy {
		c.mu.Unlock()
		return Session{}, &AdmissionError{Reason: AdmissionBusy}
	}
	if _, busy := c.activeByUser[calleeID]; busy {
		c.mu.Unlock()
		return Session{}, &AdmissionError{Reason: AdmissionBusy}
	}

	s := &session{
		id:        uuid.NewString(),
		caller:    callerID,
		callee:    calleeID,
		state:     StateRinging,
		createdAt: now,
	}
	c.sessions[s.id] = s
	c.activeByUser[callerID] = s.id
	c.activeByUser[calleeID] = s.id
	c.mu.Unlock()

	c.armRingTimer(s)
	metrics.CallsActive.Inc()

	c.publish(calleeID, Event{Type: EventIncoming, CallID: s.id, FromID: callerID})
	c.log.Info("call ringing", "call_id", s.id, "caller", callerID, "callee", calleeID)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

/* ===================== PARTICIPANT OPERATIONS ===================== */

// Accept moves a ringing session to accepted. Only the callee may accept.
func (c *Coordinator) Accept(callID, userID string) error {
	s, err := c.lookup(callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrTerminal
	}
	if !s.isParticipant(userID) {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if userID != s.callee || s.state != StateRinging {
		s.mu.Unlock()
		return ErrBadTransition
	}
	s.state = StateAccepted
	s.bump()
	caller := s.caller
	s.mu.Unlock()

	c.publish(caller, Event{Type: EventAccepted, CallID: callID, FromID: userID})
	c.log.Info("call accepted", "call_id", callID)
	return nil
}

// Decline ends a ringing session with reason rejected. Only the callee may decline.
func (c *Coordinator) Decline(callID, userID string) error {
	s, err := c.lookup(callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrTerminal
	}
	if !s.isParticipant(userID) {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if userID != s.callee || s.state != StateRinging {
		s.mu.Unlock()
		return ErrBadTransition
	}
	snap := c.finalizeLocked(s, StateEnded, ReasonRejected)
	s.mu.Unlock()

	c.afterTerminal(snap)
	return nil
}

// HandshakeComplete records one party's explicit media-handshake success
// acknowledgment. When both parties have acknowledged, the session becomes
// connected. Success is signaled, never inferred.
func (c *Coordinator) HandshakeComplete(callID, userID string) error {
	s, err := c.lookup(callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrTerminal
	}
	if !s.isParticipant(userID) {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if s.state == StateConnected {
		// Duplicate ack after connection; harmless.
		s.mu.Unlock()
		return nil
	}
	if s.state != StateAccepted {
		s.mu.Unlock()
		return ErrBadTransition
	}
	if userID == s.caller {
		s.callerReady = true
	} else {
		s.calleeReady = true
	}
	if !(s.callerReady && s.calleeReady) {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnected
	s.connectedAt = c.clock()
	s.bump()
	caller, callee := s.caller, s.callee
	s.mu.Unlock()

	ev := Event{Type: EventConnected, CallID: callID}
	c.publish(caller, ev)
	c.publish(callee, ev)
	c.log.Info("call connected", "call_id", callID)
	return nil
}

// Hangup ends the session immediately from any non-terminal state. The
// supplied reason is kept on the record; empty defaults to "hangup".
func (c *Coordinator) Hangup(callID, userID, reason string) error {
	s, err := c.lookup(callID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = ReasonHangup
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrTerminal
	}
	if !s.isParticipant(userID) {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	snap := c.finalizeLocked(s, StateEnded, reason)
	s.mu.Unlock()

	c.afterTerminal(snap)
	return nil
}

/* ===================== REACHABILITY ===================== */

// HandleUnreachable reacts to an identity losing its last live connection.
// An accepted or connected call enters the reconnection window; a call whose
// other party is already in that window fails immediately (both sides gone).
// Ringing calls are left to the ring timer.
func (c *Coordinator) HandleUnreachable(userID string) {
	s := c.activeSessionFor(userID)
	if s == nil {
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateAccepted, StateConnected:
		s.resumeTo = s.state
		s.state = StateDisconnected
		s.goneParty = userID
		s.attemptsLeft = c.cfg.ReconnectAttempts
		s.bump()
		gen := s.gen
		s.timer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
			c.reconnectTick(s, gen)
		})
		other := s.otherParty(userID)
		callID := s.id
		s.mu.Unlock()

		c.publish(other, Event{Type: EventPeerDisconnected, CallID: callID, FromID: userID})
		c.log.Info("call party disconnected", "call_id", callID, "user_id", userID)

	case StateDisconnected:
		// The remaining party dropped as well; nobody is left to wait for.
		snap := c.finalizeLocked(s, StateFailed, ReasonReconnectExhausted)
		s.mu.Unlock()
		c.afterTerminal(snap)

	default:
		s.mu.Unlock()
	}
}

// HandleReachable reacts to an identity regaining a live connection. If that
// identity was the disconnected party of a call in the reconnection window,
// the session resumes under the same call id.
func (c *Coordinator) HandleReachable(userID string) {
	s := c.activeSessionFor(userID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.state != StateDisconnected || s.goneParty != userID {
		s.mu.Unlock()
		return
	}
	s.state = s.resumeTo
	s.goneParty = ""
	s.attemptsLeft = 0
	s.bump()
	other := s.otherParty(userID)
	callID := s.id
	s.mu.Unlock()

	c.publish(other, Event{Type: EventPeerReconnected, CallID: callID, FromID: userID})
	c.log.Info("call party reconnected", "call_id", callID, "user_id", userID)
}

/* ===================== READS ===================== */

// Get returns a snapshot of one session.
func (c *Coordinator) Get(callID string) (Session, bool) {
	s, err := c.lookup(callID)
	if err != nil {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), true
}

// Participants resolves the pair behind a call id for message routing.
// The signaling router holds no call state of its own and reads through this.
func (c *Coordinator) Participants(callID string) (caller, callee string, terminal bool, ok bool) {
	s, err := c.lookup(callID)
	if err != nil {
		return "", "", false, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caller, s.callee, s.state.Terminal(), true
}

/* ===================== INTERNAL ===================== */

func (c *Coordinator) lookup(callID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[callID]
	if !ok {
		return nil, ErrUnknownCall
	}
	return s, nil
}

func (c *Coordinator) activeSessionFor(userID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	callID, ok := c.activeByUser[userID]
	if !ok {
		return nil
	}
	return c.sessions[callID]
}

func (c *Coordinator) armRingTimer(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRinging {
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(c.cfg.RingTimeout, func() {
		c.ringTimeout(s, gen)
	})
}

func (c *Coordinator) ringTimeout(s *session, gen int) {
	s.mu.Lock()
	if s.state != StateRinging || s.gen != gen {
		s.mu.Unlock()
		return
	}
	snap := c.finalizeLocked(s, StateEnded, ReasonTimeout)
	s.mu.Unlock()

	c.afterTerminal(snap)
}

func (c *Coordinator) reconnectTick(s *session, gen int) {
	s.mu.Lock()
	if s.state != StateDisconnected || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.attemptsLeft--
	if s.attemptsLeft > 0 {
		s.timer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
			c.reconnectTick(s, gen)
		})
		s.mu.Unlock()
		return
	}
	snap := c.finalizeLocked(s, StateFailed, ReasonReconnectExhausted)
	s.mu.Unlock()

	c.afterTerminal(snap)
}

// finalizeLocked moves a session to a terminal state. Call with s.mu held.
func (c *Coordinator) finalizeLocked(s *session, state State, reason string) Session {
	s.state = state
	s.reason = reason
	s.endedAt = c.clock()
	s.bump()
	return s.snapshot()
}

// afterTerminal releases the pair from active status, notifies both parties,
// records history, and schedules the session for pruning. Never called with
// any lock held.
func (c *Coordinator) afterTerminal(snap Session) {
	c.mu.Lock()
	if c.activeByUser[snap.CallerID] == snap.ID {
		delete(c.activeByUser, snap.CallerID)
	}
	if c.activeByUser[snap.CalleeID] == snap.ID {
		delete(c.activeByUser, snap.CalleeID)
	}
	c.mu.Unlock()

	metrics.CallsActive.Dec()
	metrics.CallsTotal.WithLabelValues(snap.EndReason).Inc()

	ev := Event{Type: EventEnded, CallID: snap.ID, Reason: snap.EndReason}
	c.publish(snap.CallerID, ev)
	c.publish(snap.CalleeID, ev)

	if c.history != nil {
		// Durable recording is best-effort and stays off the signaling path.
		go c.history.CallEnded(snap)
	}

	time.AfterFunc(c.cfg.TerminalRetention, func() {
		c.mu.Lock()
		delete(c.sessions, snap.ID)
		c.mu.Unlock()
	})

	c.log.Info("call ended", "call_id", snap.ID, "state", snap.State, "reason", snap.EndReason)
}

func (c *Coordinator) publish(userID string, ev Event) {
	if c.notify != nil {
		c.notify.Publish(userID, ev)
	}
}
