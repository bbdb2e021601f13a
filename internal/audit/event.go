package audit

import (
	"fmt"
	"time"
)

// EventType classifies what happened.
type EventType string

// Event types recorded by the pipeline.
const (
	TypeRequestValidated EventType = "request_validated"
	TypeInputRejected    EventType = "input_rejected"
	TypeSessionRejected  EventType = "session_rejected"
	TypeRateLimited      EventType = "rate_limited"
	TypeCommandDenied    EventType = "command_denied"
	TypeSessionCreated   EventType = "session_created"
	TypeSessionRevoked   EventType = "session_revoked"
	TypeAuditDegraded    EventType = "audit_degraded"
)

// Severity orders events by urgency. Alert hooks fire at Critical and
// above.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityNotice
	SeverityWarning
	SeverityCritical
	SeverityEmergency
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityNotice:
		return "notice"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	case SeverityEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Outcome is the terminal result of the request the event describes.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeRejected    Outcome = "rejected"
)

// Event is one immutable record in the log. ID, Seq, TS, PrevHash, and
// Hash are assigned by the logger; callers fill the rest.
type Event struct {
	ID       string            `json:"id"`
	Seq      uint64            `json:"seq"`
	TS       time.Time         `json:"ts"`
	Type     EventType         `json:"type"`
	Severity Severity          `json:"severity"`
	Outcome  Outcome           `json:"outcome"`
	UserID   string            `json:"user_id,omitempty"`
	Session  string            `json:"session,omitempty"`
	Command  string            `json:"command,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Risk     int               `json:"risk,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
	PrevHash string            `json:"prev_hash"`
	Hash     string            `json:"hash"`
}
