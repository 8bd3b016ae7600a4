package routing

import (
	"context"
	"iter"
	"time"

	"collections-orchestrator/internal/agents"
	"collections-orchestrator/internal/workitem"
)

// Candidates is the read side of the agent pool the router needs.
type Candidates interface {
	ListAvailable(skillTags []string) iter.Seq[agents.Agent]
	Get(agentID string) (agents.Agent, error)
}

// Router selects the agent for a work item.
//
// Route returns ok=false with a Reason when nobody qualifies; that is a normal
// outcome, not an error. Route has no side effects on the pool.
type Router interface {
	Route(ctx context.Context, item workitem.WorkItem, pool Candidates) (Decision, bool)
}

type Weights struct {
	Proficiency  float64
	RecoveryRate float64
}

func DefaultWeights() Weights { return Weights{Proficiency: 0.7, RecoveryRate: 0.3} }

const DefaultMinScore = 0.35

// SkillRouter scores available agents holding every required skill:
//
//	score = Proficiency * mean(proficiency over required skills)/100 + RecoveryRate * agent recovery rate
//
// Highest score wins, agent id ascending on ties. An active supervisor pin takes
// precedence when the pinned agent is available, qualified and clears MinScore.
type SkillRouter struct {
	Weights  Weights
	MinScore float64

	Pins  *PinEngine
	Clock func() time.Time
}

func NewSkillRouter(w Weights, minScore float64, pins *PinEngine) *SkillRouter {
	return &SkillRouter{Weights: w, MinScore: minScore, Pins: pins, Clock: time.Now}
}

// MatchScore is the router's score for agent a against tags.
func (r *SkillRouter) MatchScore(a agents.Agent, tags []string) float64 {
	return r.Weights.Proficiency*a.Proficiency(tags)/100 + r.Weights.RecoveryRate*a.RecoveryRate()
}

func (r *SkillRouter) Route(ctx context.Context, item workitem.WorkItem, pool Candidates) (Decision, bool) {
	tags := item.RequiredSkills
	if r.Pins != nil {
		if d, ok := r.Pins.Decide(ctx, item, pool); ok {
			if d.Score = r.MatchScore(mustGet(pool, d.AgentID), tags); d.Score >= r.MinScore {
				return d, true
			}
		}
	}

	var (
		best  agents.Agent
		score float64
		found bool
	)
	for a := range pool.ListAvailable(tags) {
		s := r.MatchScore(a, tags)
		if !found || s > score || (s == score && a.ID < best.ID) {
			best, score, found = a, s, true
		}
	}
	if !found {
		return Decision{AccountID: item.AccountID, Reason: ReasonNoCandidates}, false
	}
	if score < r.MinScore {
		return Decision{AccountID: item.AccountID, Score: score, Reason: ReasonBelowThreshold}, false
	}
	return Decision{AccountID: item.AccountID, AgentID: best.ID, Score: score}, true
}

func mustGet(pool Candidates, id string) agents.Agent {
	a, _ := pool.Get(id)
	return a
}
