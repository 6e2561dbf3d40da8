package history

import "time"

// Record is an immutable, append-only row describing one finished call.
//
// Invariants:
// - Records are written exactly once per call, at teardown, and never updated.
// - Recording is best-effort; a failed insert never blocks or fails teardown.

type Record struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	// Outcome is the terminal state the call reached (ended or failed).
	Outcome string `json:"outcome" db:"outcome"`
	// EndReason is the teardown reason code (timeout, rejected, hangup, ...).
	EndReason string `json:"end_reason" db:"end_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	// ConnectedAt is zero for calls that never reached the connected state.
	ConnectedAt time.Time `json:"connected_at" db:"connected_at"`
	EndedAt     time.Time `json:"ended_at" db:"ended_at"`

	// DurationSeconds counts connected time only; zero for unanswered calls.
	DurationSeconds int64 `json:"duration_seconds" db:"duration_seconds"`
}
