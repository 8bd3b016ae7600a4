package audit

import "time"

// Event is an immutable, append-only audit log record of an operator or system action.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block dialing on audit failures.
//
// Storage (Postgres): table audit_events, INSERT-only (see internal/migrate).
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorID is the authenticated operator or integration (empty for system actions).
	ActorID   string `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when the action came over HTTP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers (optional, depending on the event type).
	AccountID string `json:"account_id,omitempty" db:"account_id"`
	AgentID   string `json:"agent_id,omitempty" db:"agent_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeSequenceConfigured EventType = "sequence_configured"
	EventTypeExternalSignal     EventType = "external_signal"
	EventTypeAgentStatus        EventType = "agent_status"
	EventTypeAgentProfile       EventType = "agent_profile"
	EventTypeAgentPin           EventType = "agent_pin"
	EventTypePinApplied         EventType = "agent_pin_applied"
)

// Actor identifies who triggered an action.
type Actor struct {
	ID   string
	Role string
	IP   string
}
