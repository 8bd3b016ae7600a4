package ranking

import (
	"slices"
	"time"

	"collections-orchestrator/internal/workitem"
)

// Ranked pairs an item with its score.
type Ranked struct {
	Item  workitem.WorkItem
	Score Score
}

// Order scores items at now and returns them in rank order.
func Order(r Ranker, items []workitem.WorkItem, now time.Time) []Ranked {
	out := make([]Ranked, 0, len(items))
	for _, it := range items {
		out = append(out, Ranked{Item: it, Score: r.Rank(it, now)})
	}
	slices.SortFunc(out, func(a, b Ranked) int { return a.Score.Compare(b.Score) })
	return out
}
