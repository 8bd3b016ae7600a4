package routing

import (
	"context"
	"testing"
	"time"

	"collections-orchestrator/internal/agents"
	"collections-orchestrator/internal/audit"
	"collections-orchestrator/internal/workitem"
)

func pool(t *testing.T, list ...agents.Agent) *agents.Pool {
	t.Helper()
	p := agents.NewPool(nil, nil)
	for _, a := range list {
		if _, err := p.Upsert(a); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	return p
}

func TestSkillRouter_PicksHighestScore(t *testing.T) {
	p := pool(t,
		agents.Agent{ID: "a", Status: agents.StatusAvailable, Skills: map[string]int{"spanish": 90}, HistoricalRecoveryRate: 0.1},
		agents.Agent{ID: "b", Status: agents.StatusAvailable, Skills: map[string]int{"spanish": 80}, HistoricalRecoveryRate: 0.9},
	)
	r := NewSkillRouter(DefaultWeights(), DefaultMinScore, nil)
	d, ok := r.Route(context.Background(), workitem.WorkItem{AccountID: "acc", RequiredSkills: []string{"spanish"}}, p)
	if !ok || d.AgentID != "b" {
		t.Fatalf("expected agent b, got %+v ok=%v", d, ok)
	}
}

func TestSkillRouter_TieBreaksByAgentID(t *testing.T) {
	p := pool(t,
		agents.Agent{ID: "z", Status: agents.StatusAvailable, Skills: map[string]int{"legal": 70}, HistoricalRecoveryRate: 0.5},
		agents.Agent{ID: "m", Status: agents.StatusAvailable, Skills: map[string]int{"legal": 70}, HistoricalRecoveryRate: 0.5},
	)
	r := NewSkillRouter(DefaultWeights(), DefaultMinScore, nil)
	d, ok := r.Route(context.Background(), workitem.WorkItem{AccountID: "acc", RequiredSkills: []string{"legal"}}, p)
	if !ok || d.AgentID != "m" {
		t.Fatalf("expected agent m, got %+v", d)
	}
}

func TestSkillRouter_NoCandidates(t *testing.T) {
	p := pool(t,
		agents.Agent{ID: "a", Status: agents.StatusAvailable, Skills: map[string]int{"spanish": 90}},
		agents.Agent{ID: "b", Status: agents.StatusBreak, Skills: map[string]int{"legal": 90}},
	)
	r := NewSkillRouter(DefaultWeights(), DefaultMinScore, nil)
	d, ok := r.Route(context.Background(), workitem.WorkItem{AccountID: "acc", RequiredSkills: []string{"legal"}}, p)
	if ok || d.Reason != ReasonNoCandidates {
		t.Fatalf("expected no_candidates, got %+v", d)
	}
}

func TestSkillRouter_BelowThreshold(t *testing.T) {
	p := pool(t, agents.Agent{ID: "a", Status: agents.StatusAvailable, Skills: map[string]int{"legal": 10}, HistoricalRecoveryRate: 0.1})
	r := NewSkillRouter(DefaultWeights(), DefaultMinScore, nil)
	d, ok := r.Route(context.Background(), workitem.WorkItem{AccountID: "acc", RequiredSkills: []string{"legal"}}, p)
	if ok || d.Reason != ReasonBelowThreshold {
		t.Fatalf("expected below_threshold, got %+v", d)
	}
}

func TestSkillRouter_PinTakesPrecedence(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	p := pool(t,
		agents.Agent{ID: "star", Status: agents.StatusAvailable, Skills: map[string]int{"spanish": 100}, HistoricalRecoveryRate: 1},
		agents.Agent{ID: "pinned", Status: agents.StatusAvailable, Skills: map[string]int{"spanish": 60}},
	)
	repo := audit.NewMemoryRepo()
	pins := NewPinEngine(NewMemoryPinStore(), AuditAdapter{Audit: audit.NewService(repo, nil)})
	pins.Now = func() time.Time { return now }
	if err := pins.Set(context.Background(), Pin{AccountID: "acc", AgentID: "pinned", ExpiresAt: now.Add(time.Hour), CreatedBy: "sup-1"}); err != nil {
		t.Fatalf("set pin: %v", err)
	}
	r := NewSkillRouter(DefaultWeights(), DefaultMinScore, pins)
	item := workitem.WorkItem{AccountID: "acc", RequiredSkills: []string{"spanish"}}

	d, ok := r.Route(context.Background(), item, p)
	if !ok || d.AgentID != "pinned" || !d.Pinned || d.Pin == nil {
		t.Fatalf("expected pinned agent, got %+v", d)
	}
	if evs := repo.OfType(audit.EventTypePinApplied); len(evs) != 0 {
		t.Fatalf("routing alone must not audit the pin, got %+v", evs)
	}
	if err := pins.RecordApplied(context.Background(), d); err != nil {
		t.Fatalf("record: %v", err)
	}
	if evs := repo.OfType(audit.EventTypePinApplied); len(evs) != 1 || evs[0].ActorID != "sup-1" || evs[0].AgentID != "pinned" {
		t.Fatalf("expected pin audit event, got %+v", evs)
	}

	_ = p.Claim(context.Background(), "pinned", "other")
	d, ok = r.Route(context.Background(), item, p)
	if !ok || d.AgentID != "star" || d.Pinned {
		t.Fatalf("busy pinned agent must fall back to normal routing, got %+v", d)
	}

	pins.Now = func() time.Time { return now.Add(2 * time.Hour) }
	_ = p.Release(context.Background(), "pinned", "")
	d, _ = r.Route(context.Background(), item, p)
	if d.Pinned {
		t.Fatalf("expired pin must not apply")
	}
}

func TestSkillRouter_PinBelowThresholdFallsBack(t *testing.T) {
	p := pool(t,
		agents.Agent{ID: "star", Status: agents.StatusAvailable, Skills: map[string]int{"legal": 90}, HistoricalRecoveryRate: 0.8},
		agents.Agent{ID: "weak", Status: agents.StatusAvailable, Skills: map[string]int{"legal": 10}},
	)
	pins := NewPinEngine(NewMemoryPinStore(), nil)
	if err := pins.Set(context.Background(), Pin{AccountID: "acc", AgentID: "weak", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("set pin: %v", err)
	}
	r := NewSkillRouter(DefaultWeights(), DefaultMinScore, pins)
	d, ok := r.Route(context.Background(), workitem.WorkItem{AccountID: "acc", RequiredSkills: []string{"legal"}}, p)
	if !ok || d.AgentID != "star" || d.Pinned || d.Pin != nil {
		t.Fatalf("pin below the minimum score must fall back, got %+v", d)
	}
	if d.Score < DefaultMinScore {
		t.Fatalf("fallback decision must clear the threshold, got %v", d.Score)
	}
}

func TestPinEngine_RejectsInvalidPins(t *testing.T) {
	pins := NewPinEngine(NewMemoryPinStore(), nil)
	if err := pins.Set(context.Background(), Pin{AccountID: "acc", AgentID: "a", ExpiresAt: time.Now().Add(-time.Minute)}); err != ErrInvalidPin {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}
	if err := pins.Set(context.Background(), Pin{AgentID: "a", ExpiresAt: time.Now().Add(time.Minute)}); err != ErrInvalidPin {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}
}
