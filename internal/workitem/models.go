package workitem

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WorkItem is one debtor account's outstanding outreach task.
//
// Invariants (enforced by Store):
// - AssignedAgentID is set iff State is Assigned or InProgress.
// - EscalationCursor is >= 0 only while State is EscalationActive.
// - A Suppressed item never leaves Suppressed.
type WorkItem struct {
	AccountID string `json:"account_id"`

	DebtorName string `json:"debtor_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	WhatsApp   string `json:"whatsapp,omitempty"`

	RequiredSkills []string `json:"required_skills,omitempty"`

	// Ranking inputs.
	RecoveryProbability float64    `json:"recovery_probability"`
	DaysPastDue         int        `json:"days_past_due"`
	BestCallWindow      CallWindow `json:"best_call_window"`
	PreviousAttempts    int        `json:"previous_attempts"`
	LastContactAt       *time.Time `json:"last_contact_at,omitempty"`

	State            State  `json:"state"`
	AssignedAgentID  string `json:"assigned_agent_id,omitempty"`
	EscalationCursor int    `json:"escalation_cursor"`

	// NotBefore holds the item out of the voice queue until the given time.
	NotBefore time.Time `json:"not_before,omitempty"`
	// VoiceCycles counts re-entries into the voice queue after an exhausted sequence.
	VoiceCycles int `json:"voice_cycles"`
	// WaitReason is the last reason routing could not place the item.
	WaitReason string `json:"wait_reason,omitempty"`

	History []Attempt `json:"history,omitempty"`

	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoCursor marks an item that is not walking an escalation sequence.
const NoCursor = -1

type State string

const (
	StateReady              State = "ready"
	StateAssigned           State = "assigned"
	StateInProgress         State = "in_progress"
	StateAwaitingEscalation State = "awaiting_escalation"
	StateEscalationActive   State = "escalation_active"
	StateResolved           State = "resolved"
	StateSuppressed         State = "suppressed"
)

func (s State) Terminal() bool { return s == StateResolved || s == StateSuppressed }

// HoldsAgent reports whether an item in this state must carry an assigned agent.
func (s State) HoldsAgent() bool { return s == StateAssigned || s == StateInProgress }

// AttemptKind identifies the channel used for a contact attempt.
type AttemptKind string

const (
	AttemptVoice    AttemptKind = "voice"
	AttemptSMS      AttemptKind = "sms"
	AttemptEmail    AttemptKind = "email"
	AttemptWhatsApp AttemptKind = "whatsapp"
)

// Attempt is one entry of a work item's contact history.
type Attempt struct {
	AccountID string      `json:"account_id"`
	At        time.Time   `json:"at"`
	Kind      AttemptKind `json:"kind"`
	AgentID   string      `json:"agent_id,omitempty"`
	StepIndex int         `json:"step_index"`
	Outcome   string      `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
}

// CallWindow is a time-of-day range in the debtor's local time.
// Start == End means no preferred window. Windows may wrap midnight (22:00-02:00).
type CallWindow struct {
	StartMinute int            `json:"start_minute"`
	EndMinute   int            `json:"end_minute"`
	Location    *time.Location `json:"-"`
}

func (w CallWindow) Empty() bool { return w.StartMinute == w.EndMinute }

// Contains reports whether t falls inside the window.
func (w CallWindow) Contains(t time.Time) bool {
	if w.Empty() {
		return false
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	m := lt.Hour()*60 + lt.Minute()
	if w.StartMinute < w.EndMinute {
		return m >= w.StartMinute && m < w.EndMinute
	}
	return m >= w.StartMinute || m < w.EndMinute
}

// ParseCallWindow parses "HH:MM-HH:MM". An empty string yields an empty window.
// tz is an IANA zone name; empty means UTC.
func ParseCallWindow(s, tz string) (CallWindow, error) {
	var w CallWindow
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return CallWindow{}, fmt.Errorf("workitem: call window timezone: %w", err)
		}
		w.Location = loc
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return w, nil
	}
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return CallWindow{}, fmt.Errorf("workitem: call window %q must be HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return CallWindow{}, err
	}
	end, err := parseClock(to)
	if err != nil {
		return CallWindow{}, err
	}
	w.StartMinute, w.EndMinute = start, end
	return w, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("workitem: invalid clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("workitem: invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("workitem: invalid minute in %q", s)
	}
	return (h*60 + m) % (24 * 60), nil
}

func (w CallWindow) String() string {
	if w.Empty() {
		return ""
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.StartMinute/60, w.StartMinute%60, w.EndMinute/60, w.EndMinute%60)
}

func (it WorkItem) clone() WorkItem {
	out := it
	if it.RequiredSkills != nil {
		out.RequiredSkills = append([]string(nil), it.RequiredSkills...)
	}
	if it.LastContactAt != nil {
		t := *it.LastContactAt
		out.LastContactAt = &t
	}
	if it.History != nil {
		out.History = append([]Attempt(nil), it.History...)
	}
	return out
}
