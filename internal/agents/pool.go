package agents

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"collections-orchestrator/internal/calls"
)

type slot struct {
	mu sync.Mutex
	a  Agent
}

// Pool tracks agent availability and assignments.
//
// Contract:
// - Claim is an atomic test-and-set per agent: of any number of concurrent claims on
//   one Available agent exactly one succeeds.
// - CurrentAssignment is set iff Status is OnCall.
// - Reads (ListAvailable, Get, Snapshot) never block claims on other agents.
type Pool struct {
	mu    sync.RWMutex
	slots map[string]*slot

	guard ClaimGuard
	log   *slog.Logger

	Now func() time.Time
}

// NewPool creates an empty pool. guard may be nil for single-replica deployments.
func NewPool(guard ClaimGuard, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		slots: make(map[string]*slot),
		guard: guard,
		log:   log.With("component", "agent_pool"),
		Now:   time.Now,
	}
}

func (p *Pool) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p *Pool) slot(id string) (*slot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.slots[id]
	return s, ok
}

// Upsert registers an agent or updates its profile (name, skills, seeded rate).
// Status, assignment and live stats of an existing agent are preserved.
func (p *Pool) Upsert(a Agent) (Agent, error) {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" || a.HistoricalRecoveryRate < 0 || a.HistoricalRecoveryRate > 1 {
		return Agent{}, ErrInvalidAgent
	}
	for tag, v := range a.Skills {
		if strings.TrimSpace(tag) == "" || v < 0 || v > 100 {
			return Agent{}, fmt.Errorf("%w: skill %q proficiency %d", ErrInvalidAgent, tag, v)
		}
	}

	p.mu.Lock()
	s, ok := p.slots[a.ID]
	if !ok {
		if a.Status == "" {
			a.Status = StatusOffline
		}
		status, err := ParseStatus(string(a.Status))
		if err != nil {
			p.mu.Unlock()
			return Agent{}, err
		}
		if status == StatusOnCall {
			p.mu.Unlock()
			return Agent{}, ErrInvalidStatus
		}
		a.Status = status
		a.CurrentAssignment = ""
		a.PendingStatus = ""
		a.Handled, a.Connected = 0, 0
		a.UpdatedAt = p.now()
		s = &slot{a: a.clone()}
		p.slots[a.ID] = s
		p.mu.Unlock()
		return a.clone(), nil
	}
	p.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.a.Name = a.Name
	s.a.Skills = a.clone().Skills
	s.a.HistoricalRecoveryRate = a.HistoricalRecoveryRate
	s.a.UpdatedAt = p.now()
	return s.a.clone(), nil
}

// Claim marks an Available agent OnCall for workItemID.
func (p *Pool) Claim(ctx context.Context, agentID, workItemID string) error {
	s, ok := p.slot(agentID)
	if !ok {
		return ErrAgentNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.a.Status != StatusAvailable {
		return ErrAgentUnavailable
	}
	if p.guard != nil {
		acquired, err := p.guard.Acquire(ctx, agentID, workItemID)
		if err != nil {
			return fmt.Errorf("agents: claim guard: %w", err)
		}
		if !acquired {
			return ErrAgentUnavailable
		}
	}
	s.a.Status = StatusOnCall
	s.a.CurrentAssignment = workItemID
	s.a.UpdatedAt = p.now()
	return nil
}

// Release frees the agent after a call. outcome may be empty when the assignment was
// pre-empted before any call result; live stats are only updated for real outcomes.
// Releasing an agent that is not OnCall is a no-op.
func (p *Pool) Release(ctx context.Context, agentID string, outcome calls.Outcome) error {
	s, ok := p.slot(agentID)
	if !ok {
		return ErrAgentNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.a.Status != StatusOnCall {
		return nil
	}
	owner := s.a.CurrentAssignment
	if outcome != "" {
		s.a.Handled++
		if outcome.Reached() {
			s.a.Connected++
		}
	}
	next := StatusAvailable
	if s.a.PendingStatus != "" {
		next = s.a.PendingStatus
	}
	s.a.Status = next
	s.a.PendingStatus = ""
	s.a.CurrentAssignment = ""
	s.a.UpdatedAt = p.now()

	if p.guard != nil {
		if err := p.guard.Release(ctx, agentID, owner); err != nil {
			// The lease expires on its own; the local release stands.
			p.log.Warn("claim guard release failed", "agent_id", agentID, "err", err)
		}
	}
	return nil
}

// SetStatus applies an operator or agent status change. While OnCall, Break and
// Offline are deferred until release and Available cancels a deferred change.
func (p *Pool) SetStatus(agentID string, status Status) (Agent, error) {
	status, err := ParseStatus(string(status))
	if err != nil {
		return Agent{}, err
	}
	if status == StatusOnCall {
		return Agent{}, ErrInvalidStatus
	}
	s, ok := p.slot(agentID)
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.a.Status == StatusOnCall {
		if status == StatusAvailable {
			s.a.PendingStatus = ""
		} else {
			s.a.PendingStatus = status
		}
	} else {
		s.a.Status = status
	}
	s.a.UpdatedAt = p.now()
	return s.a.clone(), nil
}

func (p *Pool) Get(agentID string) (Agent, error) {
	s, ok := p.slot(agentID)
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.clone(), nil
}

// Snapshot returns all agents ordered by id.
func (p *Pool) Snapshot() []Agent {
	p.mu.RLock()
	slots := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		slots = append(slots, s)
	}
	p.mu.RUnlock()

	out := make([]Agent, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.a.clone())
		s.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b Agent) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// ListAvailable yields Available agents holding every tag, by mean proficiency over
// the tags descending and agent id ascending. The pool is read when iteration starts,
// so the sequence can be ranged over repeatedly and reflects the pool each time.
func (p *Pool) ListAvailable(tags []string) iter.Seq[Agent] {
	return func(yield func(Agent) bool) {
		var matches []Agent
		for _, a := range p.Snapshot() {
			if a.Status == StatusAvailable && a.HasSkills(tags) {
				matches = append(matches, a)
			}
		}
		slices.SortFunc(matches, func(a, b Agent) int {
			pa, pb := a.Proficiency(tags), b.Proficiency(tags)
			switch {
			case pa > pb:
				return -1
			case pa < pb:
				return 1
			}
			return strings.Compare(a.ID, b.ID)
		})
		for _, a := range matches {
			if !yield(a) {
				return
			}
		}
	}
}
