package reporting

import (
	"time"

	"collections-orchestrator/internal/workitem"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// AttemptSummaryRequest requests aggregated contact attempt metrics.
// AccountID is optional; empty means every account.
type AttemptSummaryRequest struct {
	AccountID string    `json:"account_id,omitempty"`
	Range     TimeRange `json:"range"`
}

type AttemptSummary struct {
	AccountID string `json:"account_id,omitempty"`

	VoiceAttempts    int `json:"voice_attempts"`
	Connected        int `json:"connected"`
	NoAnswer         int `json:"no_answer"`
	Busy             int `json:"busy"`
	Failed           int `json:"failed"`
	AnsweringMachine int `json:"answering_machine"`
	DialFailures     int `json:"dial_failures"`

	ChannelDispatched int                          `json:"channel_dispatched"`
	DispatchFailures  int                          `json:"dispatch_failures"`
	ChannelDelivered  int                          `json:"channel_delivered"`
	ChannelResponded  int                          `json:"channel_responded"`
	ChannelByKind     map[workitem.AttemptKind]int `json:"channel_by_kind"`

	ConnectionRate float64 `json:"connection_rate"`
	ResponseRate   float64 `json:"response_rate"`
}

// Dashboard is the operator view of the dialer at one point in time.
type Dashboard struct {
	GeneratedAt time.Time `json:"generated_at"`

	Items map[workitem.State]int `json:"items"`
	Total int                    `json:"total"`

	// RoutingExhausted lists Ready items no available agent can take.
	RoutingExhausted []string `json:"routing_exhausted"`
	BelowThreshold   []string `json:"below_threshold"`
	CoolingDown      int      `json:"cooling_down"`

	PendingEscalations int `json:"pending_escalations"`

	Agents AgentUtilisation `json:"agents"`
	Alerts []Alert          `json:"alerts"`
}

type AgentUtilisation struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	OnCall    int `json:"on_call"`
	OnBreak   int `json:"on_break"`
	Offline   int `json:"offline"`

	// Utilisation is OnCall over agents that are logged in (not Offline).
	Utilisation float64 `json:"utilisation"`
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}
