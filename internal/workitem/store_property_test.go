package workitem

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

var allStates = []State{
	StateReady, StateAssigned, StateInProgress, StateAwaitingEscalation,
	StateEscalationActive, StateResolved, StateSuppressed,
}

// For any sequence of attempted transitions, an item carries an agent iff it is
// Assigned or InProgress, and a cursor iff it is EscalationActive.
func TestProperty_AssignmentInvariantHolds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := NewStore(nil, nil)
		n := rapid.IntRange(1, 5).Draw(rt, "items")
		for i := 0; i < n; i++ {
			if _, err := s.Enqueue(WorkItem{AccountID: fmt.Sprintf("acc-%d", i)}); err != nil {
				rt.Fatalf("enqueue: %v", err)
			}
		}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := fmt.Sprintf("acc-%d", rapid.IntRange(0, n-1).Draw(rt, "item"))
			to := rapid.SampledFrom(allStates).Draw(rt, "to")
			withAgent := rapid.Bool().Draw(rt, "withAgent")
			cursor := rapid.IntRange(-1, 3).Draw(rt, "cursor")

			before, _ := s.Get(id)
			_, err := s.Transition(id, to, func(it *WorkItem) error {
				if withAgent {
					it.AssignedAgentID = "agent"
				}
				it.EscalationCursor = cursor
				return nil
			})
			after, _ := s.Get(id)
			if err != nil && after.Version != before.Version {
				rt.Fatalf("rejected transition mutated item %s", id)
			}
			if before.State == StateSuppressed && after.State != StateSuppressed {
				rt.Fatalf("suppressed item left suppression")
			}

			for _, it := range s.Snapshot() {
				if (it.AssignedAgentID != "") != it.State.HoldsAgent() {
					rt.Fatalf("agent invariant broken: %+v", it)
				}
				if (it.EscalationCursor >= 0) != (it.State == StateEscalationActive) {
					rt.Fatalf("cursor invariant broken: %+v", it)
				}
			}
		}
	})
}
