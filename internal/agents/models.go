package agents

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrAgentUnavailable = errors.New("agents: agent unavailable")
	ErrAgentNotFound    = errors.New("agents: agent not found")
	ErrInvalidAgent     = errors.New("agents: invalid agent")
	ErrInvalidStatus    = errors.New("agents: invalid status")
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusOnCall    Status = "on_call"
	StatusBreak     Status = "break"
	StatusOffline   Status = "offline"
)

// ParseStatus accepts snake_case and the CRM's CamelCase spelling ("OnCall").
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "available":
		return StatusAvailable, nil
	case "oncall":
		return StatusOnCall, nil
	case "break":
		return StatusBreak, nil
	case "offline":
		return StatusOffline, nil
	}
	return "", ErrInvalidStatus
}

// seedWeight is how many live calls the CRM-seeded recovery rate is worth when
// blended with live outcomes.
const seedWeight = 10

// Agent is a human collector.
type Agent struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status Status         `json:"status"`
	Skills map[string]int `json:"skills"`

	// CurrentAssignment is the work item id while OnCall.
	CurrentAssignment string `json:"current_assignment,omitempty"`

	// PendingStatus is applied on release when the agent asked for Break/Offline mid-call.
	PendingStatus Status `json:"pending_status,omitempty"`

	HistoricalRecoveryRate float64 `json:"historical_recovery_rate"`
	Handled                int     `json:"handled"`
	Connected              int     `json:"connected"`

	UpdatedAt time.Time `json:"updated_at"`
}

// RecoveryRate blends the CRM-seeded rate with live outcomes.
func (a Agent) RecoveryRate() float64 {
	return (seedWeight*a.HistoricalRecoveryRate + float64(a.Connected)) / float64(seedWeight+a.Handled)
}

// HasSkills reports whether the agent holds every tag.
func (a Agent) HasSkills(tags []string) bool {
	for _, t := range tags {
		if _, ok := a.Skills[t]; !ok {
			return false
		}
	}
	return true
}

// Proficiency is the mean proficiency over tags. With no required tags every agent is
// fully qualified.
func (a Agent) Proficiency(tags []string) float64 {
	if len(tags) == 0 {
		return 100
	}
	sum := 0
	for _, t := range tags {
		sum += a.Skills[t]
	}
	return float64(sum) / float64(len(tags))
}

func (a Agent) clone() Agent {
	out := a
	if a.Skills != nil {
		out.Skills = make(map[string]int, len(a.Skills))
		for k, v := range a.Skills {
			out.Skills[k] = v
		}
	}
	return out
}
