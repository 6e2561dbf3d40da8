package calls

import "errors"

// Admission rejection reasons, surfaced synchronously to the caller.
const (
	AdmissionOffline  = "offline"
	AdmissionBusy     = "busy"
	AdmissionSelfCall = "self_call"
)

// AdmissionError rejects a call request before a session is created.
// No session exists after an admission failure.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string {
	return "call admission rejected: " + e.Reason
}

// Operation errors on existing sessions. These are surfaced to the acting
// party only; they never tear down other calls.
var (
	ErrUnknownCall    = errors.New("calls: unknown call id")
	ErrNotParticipant = errors.New("calls: identity is not a participant of this call")
	ErrTerminal       = errors.New("calls: call already ended")
	ErrBadTransition  = errors.New("calls: operation not valid in current state")
)
