package dialer

import (
	"time"

	"collections-orchestrator/internal/escalation"
	"collections-orchestrator/internal/ranking"
	"collections-orchestrator/internal/workitem"
)

// QueueEntry is one row of the operator queue view.
type QueueEntry struct {
	Rank                int               `json:"rank"`
	AccountID           string            `json:"account_id"`
	DebtorName          string            `json:"debtor_name,omitempty"`
	State               workitem.State    `json:"state"`
	Score               float64           `json:"score"`
	RecoveryProbability float64           `json:"recovery_probability"`
	DaysPastDue         int               `json:"days_past_due"`
	AgentID             string            `json:"agent_id,omitempty"`
	EscalationCursor    int               `json:"escalation_cursor"`
	WaitReason          string            `json:"wait_reason,omitempty"`
	NotBefore           time.Time         `json:"not_before,omitempty"`
	VoiceCycles         int               `json:"voice_cycles"`
	Pending             []escalation.Job  `json:"pending_escalations,omitempty"`
	Attempts            int               `json:"attempts"`
	LastAttempt         *workitem.Attempt `json:"last_attempt,omitempty"`
}

// QueueSnapshot returns every work item in rank order at the current time. Each entry
// is consistent on its own; the snapshot as a whole is not a global cut.
func (e *Engine) QueueSnapshot() []QueueEntry {
	now := e.now()
	ranked := ranking.Order(e.ranker, e.store.Snapshot(), now)
	out := make([]QueueEntry, 0, len(ranked))
	for i, r := range ranked {
		it := r.Item
		entry := QueueEntry{
			Rank:                i + 1,
			AccountID:           it.AccountID,
			DebtorName:          it.DebtorName,
			State:               it.State,
			Score:               r.Score.Value,
			RecoveryProbability: it.RecoveryProbability,
			DaysPastDue:         it.DaysPastDue,
			AgentID:             it.AssignedAgentID,
			EscalationCursor:    it.EscalationCursor,
			WaitReason:          it.WaitReason,
			NotBefore:           it.NotBefore,
			VoiceCycles:         it.VoiceCycles,
			Pending:             e.scheduler.Pending(it.AccountID),
			Attempts:            len(it.History),
		}
		if n := len(it.History); n > 0 {
			last := it.History[n-1]
			entry.LastAttempt = &last
		}
		out = append(out, entry)
	}
	return out
}

// Item returns a single work item.
func (e *Engine) Item(accountID string) (workitem.WorkItem, error) {
	return e.store.Get(accountID)
}
