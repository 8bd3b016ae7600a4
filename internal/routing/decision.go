package routing

// Decision is the output of routing one work item.
//
// It carries only what the dialer needs to claim the agent and what the operator
// dashboard needs to explain why an item is still waiting.
type Decision struct {
	AccountID string  `json:"account_id"`
	AgentID   string  `json:"agent_id,omitempty"`
	Score     float64 `json:"score,omitempty"`

	// Pinned is set when a supervisor pin selected the agent; Pin is that pin.
	Pinned bool `json:"pinned,omitempty"`
	Pin    *Pin `json:"pin,omitempty"`

	// Reason explains a negative decision.
	Reason Reason `json:"reason,omitempty"`
}

type Reason string

const (
	// ReasonNoCandidates: no available agent holds the required skills. Surfaced to
	// operators as RoutingExhausted.
	ReasonNoCandidates Reason = "no_candidates"
	// ReasonBelowThreshold: candidates exist but none clears the minimum match score.
	ReasonBelowThreshold Reason = "below_threshold"
)
