package routing

import (
	"context"
	"errors"
	"sync"
	"time"

	"collections-orchestrator/internal/agents"
	"collections-orchestrator/internal/workitem"
)

// PinEngine applies supervisor pins: expiry-bound requests that a specific account be
// handled by a specific agent.
//
// Requirements:
// - Expiry based: pins must be time-bounded.
// - A pin never bypasses availability, skills or the router's minimum score; when the
//   pinned agent cannot take the call, normal routing applies.
// - Internal audit logging: a pin is recorded once it led to an assignment.
type PinEngine struct {
	Store PinStore
	Audit AuditLogger
	Now   func() time.Time
}

// PinStore resolves currently-active pins.
type PinStore interface {
	// ActivePin returns (Pin{}, false, nil) when no pin applies at now.
	ActivePin(ctx context.Context, accountID string, now time.Time) (Pin, bool, error)
	Put(ctx context.Context, p Pin) error
	Delete(ctx context.Context, accountID string) error
}

// AuditLogger records internal-only audit events.
type AuditLogger interface {
	LogPinApplied(ctx context.Context, e PinAuditEvent) error
}

type Pin struct {
	AccountID string    `json:"account_id"`
	AgentID   string    `json:"agent_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

type PinAuditEvent struct {
	AccountID string
	AgentID   string
	CreatedBy string
	AppliedAt time.Time
	ExpiresAt time.Time
}

var ErrInvalidPin = errors.New("routing: invalid pin")

func NewPinEngine(store PinStore, audit AuditLogger) *PinEngine {
	return &PinEngine{Store: store, Audit: audit, Now: time.Now}
}

// Set stores a pin after validating it.
func (e *PinEngine) Set(ctx context.Context, p Pin) error {
	if p.AccountID == "" || p.AgentID == "" || !p.ExpiresAt.After(e.now()) {
		return ErrInvalidPin
	}
	return e.Store.Put(ctx, p)
}

func (e *PinEngine) Clear(ctx context.Context, accountID string) error {
	return e.Store.Delete(ctx, accountID)
}

func (e *PinEngine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Decide returns (decision, true) if an active pin names an agent that is Available
// and holds every required skill. It has no side effects; see RecordApplied.
func (e *PinEngine) Decide(ctx context.Context, item workitem.WorkItem, pool Candidates) (Decision, bool) {
	if e.Store == nil {
		return Decision{}, false
	}
	now := e.now()
	p, ok, err := e.Store.ActivePin(ctx, item.AccountID, now)
	if err != nil || !ok || !p.ExpiresAt.After(now) {
		return Decision{}, false
	}
	a, err := pool.Get(p.AgentID)
	if err != nil || a.Status != agents.StatusAvailable || !a.HasSkills(item.RequiredSkills) {
		return Decision{}, false
	}
	return Decision{AccountID: item.AccountID, AgentID: p.AgentID, Pinned: true, Pin: &p}, true
}

// RecordApplied audits a pinned decision after the agent was claimed for it.
func (e *PinEngine) RecordApplied(ctx context.Context, d Decision) error {
	if d.Pin == nil || e.Audit == nil {
		return nil
	}
	return e.Audit.LogPinApplied(ctx, PinAuditEvent{
		AccountID: d.AccountID,
		AgentID:   d.AgentID,
		CreatedBy: d.Pin.CreatedBy,
		AppliedAt: e.now(),
		ExpiresAt: d.Pin.ExpiresAt,
	})
}

// MemoryPinStore keeps pins in process.
type MemoryPinStore struct {
	mu   sync.RWMutex
	pins map[string]Pin
}

func NewMemoryPinStore() *MemoryPinStore { return &MemoryPinStore{pins: make(map[string]Pin)} }

func (s *MemoryPinStore) ActivePin(ctx context.Context, accountID string, now time.Time) (Pin, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pins[accountID]
	if !ok || !p.ExpiresAt.After(now) {
		return Pin{}, false, nil
	}
	return p, true, nil
}

func (s *MemoryPinStore) Put(ctx context.Context, p Pin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[p.AccountID] = p
	return nil
}

func (s *MemoryPinStore) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, accountID)
	return nil
}
