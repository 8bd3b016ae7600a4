package workitem

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	shardCount   = 64
	historyLimit = 50
)

// Change is emitted after every committed state transition.
type Change struct {
	AccountID string    `json:"account_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	AgentID   string    `json:"agent_id,omitempty"`
	Cursor    int       `json:"escalation_cursor"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
}

// AttemptRepository persists contact attempts. It MUST be append-only.
type AttemptRepository interface {
	AppendAttempt(ctx context.Context, a Attempt) error
}

type shard struct {
	mu    sync.RWMutex
	items map[string]*WorkItem
}

// Store holds the authoritative state of every work item.
//
// Items are partitioned across shards by account id; a transition locks exactly one
// shard, so ranking snapshots and transitions on unrelated accounts never contend on
// a single lock.
type Store struct {
	shards   [shardCount]shard
	attempts AttemptRepository
	log      *slog.Logger

	Now func() time.Time

	// OnChange runs synchronously after each committed transition, outside any lock.
	OnChange func(Change)
}

func NewStore(attempts AttemptRepository, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{attempts: attempts, log: log.With("component", "workitem_store"), Now: time.Now}
	for i := range s.shards {
		s.shards[i].items = make(map[string]*WorkItem)
	}
	return s
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.shards[h.Sum32()%shardCount]
}

// Enqueue adds an account to the voice queue in state Ready.
//
// A resolved account may re-enter the pipeline (new delinquency); a suppressed one never does.
func (s *Store) Enqueue(item WorkItem) (WorkItem, error) {
	item.AccountID = strings.TrimSpace(item.AccountID)
	if item.AccountID == "" {
		return WorkItem{}, ErrInvalidItem
	}
	if math.IsNaN(item.RecoveryProbability) {
		item.RecoveryProbability = 0
	}
	if item.DaysPastDue < 0 || item.PreviousAttempts < 0 {
		return WorkItem{}, ErrInvalidItem
	}

	item.Version = 0
	now := s.now()
	sh := s.shardFor(item.AccountID)
	sh.mu.Lock()
	var prev State
	if existing, ok := sh.items[item.AccountID]; ok {
		switch existing.State {
		case StateSuppressed:
			sh.mu.Unlock()
			return WorkItem{}, ErrSuppressed
		case StateResolved:
			prev = existing.State
			item.History = append(existing.History, item.History...)
			item.Version = existing.Version
		default:
			sh.mu.Unlock()
			return WorkItem{}, ErrAlreadyExists
		}
	}
	item.State = StateReady
	item.AssignedAgentID = ""
	item.EscalationCursor = NoCursor
	item.WaitReason = ""
	item.Version++
	item.CreatedAt = now
	item.UpdatedAt = now
	stored := item.clone()
	sh.items[item.AccountID] = &stored
	out := stored.clone()
	sh.mu.Unlock()

	s.emit(Change{AccountID: out.AccountID, From: prev, To: StateReady, Cursor: NoCursor, Version: out.Version, At: now})
	return out, nil
}

// Get returns a copy of the item.
func (s *Store) Get(id string) (WorkItem, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	it, ok := sh.items[id]
	if !ok {
		return WorkItem{}, ErrNotFound
	}
	return it.clone(), nil
}

// Transition atomically moves the item to state `to`.
//
// mutate runs on a scratch copy under the item's shard lock; returning an error
// aborts the transition and leaves the stored item untouched. The lifecycle graph and
// the agent/cursor invariants are checked after mutate runs.
func (s *Store) Transition(id string, to State, mutate func(*WorkItem) error) (WorkItem, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	cur, ok := sh.items[id]
	if !ok {
		sh.mu.Unlock()
		return WorkItem{}, ErrNotFound
	}
	from := cur.State
	if !CanTransition(from, to) {
		sh.mu.Unlock()
		return WorkItem{}, &TransitionError{AccountID: id, From: from, To: to}
	}

	next := cur.clone()
	if mutate != nil {
		if err := mutate(&next); err != nil {
			sh.mu.Unlock()
			return WorkItem{}, err
		}
	}
	next.State = to
	if err := normalize(&next); err != nil {
		sh.mu.Unlock()
		return WorkItem{}, &TransitionError{AccountID: id, From: from, To: to, Reason: err.Error()}
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()
	*cur = next
	out := next.clone()
	sh.mu.Unlock()

	s.emit(Change{AccountID: id, From: from, To: to, AgentID: out.AssignedAgentID, Cursor: out.EscalationCursor, Version: out.Version, At: out.UpdatedAt})
	return out, nil
}

// Mutate applies an in-state update (cursor advance, wait reason, probability decay)
// only if the item is currently in state expect.
func (s *Store) Mutate(id string, expect State, mutate func(*WorkItem) error) (WorkItem, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.items[id]
	if !ok {
		return WorkItem{}, ErrNotFound
	}
	if cur.State != expect {
		return WorkItem{}, &TransitionError{AccountID: id, From: cur.State, To: expect, Reason: "state changed"}
	}
	next := cur.clone()
	if err := mutate(&next); err != nil {
		return WorkItem{}, err
	}
	next.State = expect
	if err := normalize(&next); err != nil {
		return WorkItem{}, &TransitionError{AccountID: id, From: expect, To: expect, Reason: err.Error()}
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()
	*cur = next
	return next.clone(), nil
}

// normalize enforces the per-item invariants after a mutation.
func normalize(it *WorkItem) error {
	if it.State.HoldsAgent() {
		if it.AssignedAgentID == "" {
			return errAgentRequired
		}
	} else {
		it.AssignedAgentID = ""
	}
	if it.State == StateEscalationActive {
		if it.EscalationCursor < 0 {
			return errCursorRequired
		}
	} else {
		it.EscalationCursor = NoCursor
	}
	if it.State != StateReady {
		it.WaitReason = ""
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

const (
	errAgentRequired  invariantError = "assigned agent required"
	errCursorRequired invariantError = "escalation cursor required"
)

// RecordAttempt appends to the in-memory history and to the attempt repository.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	sh := s.shardFor(a.AccountID)
	sh.mu.Lock()
	it, ok := sh.items[a.AccountID]
	if !ok {
		sh.mu.Unlock()
		return ErrNotFound
	}
	if a.At.IsZero() {
		a.At = s.now()
	}
	it.History = append(it.History, a)
	if n := len(it.History); n > historyLimit {
		it.History = append([]Attempt(nil), it.History[n-historyLimit:]...)
	}
	sh.mu.Unlock()

	if s.attempts == nil {
		return nil
	}
	if err := s.attempts.AppendAttempt(ctx, a); err != nil {
		s.log.Warn("attempt persist failed", "account_id", a.AccountID, "kind", a.Kind, "err", err)
		return err
	}
	return nil
}

// Snapshot returns copies of all items ordered by account id. Each shard is read-locked
// independently, so the result is per-item consistent rather than a global cut.
func (s *Store) Snapshot() []WorkItem {
	return s.collect(func(*WorkItem) bool { return true })
}

// Eligible returns Ready items whose cooldown has elapsed at now.
func (s *Store) Eligible(now time.Time) []WorkItem {
	return s.collect(func(it *WorkItem) bool {
		return it.State == StateReady && !now.Before(it.NotBefore)
	})
}

func (s *Store) collect(keep func(*WorkItem) bool) []WorkItem {
	var out []WorkItem
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, it := range sh.items {
			if keep(it) {
				out = append(out, it.clone())
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func (s *Store) emit(c Change) {
	if s.OnChange != nil {
		s.OnChange(c)
	}
}
