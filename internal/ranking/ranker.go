package ranking

import (
	"math"
	"strings"
	"time"

	"collections-orchestrator/internal/workitem"
)

// Ranker computes the dialing priority of a work item.
//
// Contract:
// - Pure and deterministic: the same item and now always produce the same Score.
// - Never fails; malformed inputs are clamped.
// - Safe for concurrent use.
type Ranker interface {
	Rank(item workitem.WorkItem, now time.Time) Score
}

// Score is a totally ordered ranking key. Higher Value ranks first, then higher
// DaysPastDue, then the lexicographically smaller AccountID.
type Score struct {
	Value       float64 `json:"value"`
	DaysPastDue int     `json:"days_past_due"`
	AccountID   string  `json:"account_id"`
}

// Compare returns -1 when s ranks ahead of o, +1 when behind and 0 when equal.
func (s Score) Compare(o Score) int {
	switch {
	case s.Value > o.Value:
		return -1
	case s.Value < o.Value:
		return 1
	case s.DaysPastDue > o.DaysPastDue:
		return -1
	case s.DaysPastDue < o.DaysPastDue:
		return 1
	}
	return strings.Compare(s.AccountID, o.AccountID)
}

// Before reports whether s ranks strictly ahead of o.
func (s Score) Before(o Score) bool { return s.Compare(o) < 0 }

// Weights tune the blend of ranking signals. They are expected to sum to 1.
type Weights struct {
	Probability float64
	Staleness   float64
	CallWindow  float64

	// StalenessHalfLife is the time since last contact at which staleness reaches 0.5.
	StalenessHalfLife time.Duration
}

func DefaultWeights() Weights {
	return Weights{
		Probability:       0.6,
		Staleness:         0.25,
		CallWindow:        0.15,
		StalenessHalfLife: 24 * time.Hour,
	}
}

// WeightedRanker is the default Ranker.
type WeightedRanker struct {
	w Weights
}

func NewWeightedRanker(w Weights) *WeightedRanker {
	if w.StalenessHalfLife <= 0 {
		w.StalenessHalfLife = 24 * time.Hour
	}
	return &WeightedRanker{w: w}
}

func (r *WeightedRanker) Rank(item workitem.WorkItem, now time.Time) Score {
	p := clampProbability(item.RecoveryProbability) / 100
	score := r.w.Probability*p + r.w.Staleness*r.staleness(item, now)
	if item.BestCallWindow.Contains(now) {
		score += r.w.CallWindow
	}
	dpd := item.DaysPastDue
	if dpd < 0 {
		dpd = 0
	}
	return Score{Value: score, DaysPastDue: dpd, AccountID: item.AccountID}
}

// staleness maps time since last contact to [0,1).
func (r *WeightedRanker) staleness(item workitem.WorkItem, now time.Time) float64 {
	if item.LastContactAt == nil {
		if item.PreviousAttempts == 0 {
			return 1
		}
		return 0
	}
	since := now.Sub(*item.LastContactAt)
	if since <= 0 {
		return 0
	}
	h := float64(since)
	return h / (h + float64(r.w.StalenessHalfLife))
}

func clampProbability(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
