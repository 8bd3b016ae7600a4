package calls

import (
	"errors"
	"strings"
	"time"
)

// Call is one outbound voice attempt placed on behalf of a work item.
//
// Provider-specific identifiers (Twilio CallSid, SIP dialog id) live in ProviderCallID
// and never leak into the orchestrator core.
type Call struct {
	CallID         string `json:"call_id"`
	ProviderCallID string `json:"provider_call_id,omitempty"`

	AccountID string `json:"account_id"`
	AgentID   string `json:"agent_id"`
	To        string `json:"to"`

	Status CallStatus `json:"status"`

	// AnsweredBy is only populated when machine detection ran.
	AnsweredBy string `json:"answered_by,omitempty"`

	DurationSeconds int `json:"duration"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether the provider will send no further updates for the call.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// Outcome is the result of a voice attempt as seen by the orchestrator.
type Outcome string

const (
	OutcomeConnected        Outcome = "connected"
	OutcomeNoAnswer         Outcome = "no_answer"
	OutcomeBusy             Outcome = "busy"
	OutcomeFailed           Outcome = "failed"
	OutcomeAnsweringMachine Outcome = "answering_machine"
)

var ErrUnknownOutcome = errors.New("calls: unknown outcome")

// ParseOutcome accepts the canonical snake_case names as well as the CamelCase
// spellings used by the CRM frontend ("NoAnswer", "AnsweringMachine").
func ParseOutcome(s string) (Outcome, error) {
	k := strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), "-", ""))
	switch k {
	case "connected":
		return OutcomeConnected, nil
	case "noanswer":
		return OutcomeNoAnswer, nil
	case "busy":
		return OutcomeBusy, nil
	case "failed":
		return OutcomeFailed, nil
	case "answeringmachine", "machine":
		return OutcomeAnsweringMachine, nil
	default:
		return "", ErrUnknownOutcome
	}
}

// Reached reports whether a human was reached on the call.
func (o Outcome) Reached() bool { return o == OutcomeConnected }

// OutcomeFor derives the orchestrator outcome from a terminal provider status.
// answeredBy carries the machine detection verdict ("human", "machine_start", ...).
// ok is false while the call is still live.
func OutcomeFor(status CallStatus, answeredBy string) (Outcome, bool) {
	switch status {
	case CallStatusCompleted:
		if strings.HasPrefix(answeredBy, "machine") || answeredBy == "fax" {
			return OutcomeAnsweringMachine, true
		}
		return OutcomeConnected, true
	case CallStatusNoAnswer:
		return OutcomeNoAnswer, true
	case CallStatusBusy:
		return OutcomeBusy, true
	case CallStatusFailed, CallStatusCanceled:
		return OutcomeFailed, true
	default:
		return "", false
	}
}
