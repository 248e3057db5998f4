package domain

import "time"

type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "SUCCESS"
	OutcomeFailure AuditOutcome = "FAILURE"
	OutcomeDenied  AuditOutcome = "DENIED"
)

type AuditSource string

const (
	SourceAPI    AuditSource = "API"
	SourceSocket AuditSource = "SOCKET"
	SourceSystem AuditSource = "SYSTEM"
)

// AuditEvent records who did what where. Persistence is best-effort; losing
// an audit row must never fail the action it describes.
type AuditEvent struct {
	ID        string       `json:"id"`
	ActorID   string       `json:"actor_id,omitempty"`
	ActorRole string       `json:"actor_role,omitempty"`
	Action    string       `json:"action"`
	Entity    string       `json:"entity"`
	EntityID  string       `json:"entity_id,omitempty"`
	VisitorID string       `json:"visitor_id,omitempty"`
	Gate      string       `json:"gate,omitempty"`
	Outcome   AuditOutcome `json:"outcome"`
	Severity  Severity     `json:"severity"`
	Source    AuditSource  `json:"source"`
	Meta      string       `json:"meta,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
