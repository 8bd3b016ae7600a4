package workitem

import (
	"context"
	"sync"
	"time"
)

// MemoryAttemptRepo is an in-memory append-only attempt log for tests and local runs.
type MemoryAttemptRepo struct {
	mu       sync.Mutex
	attempts []Attempt
}

func NewMemoryAttemptRepo() *MemoryAttemptRepo { return &MemoryAttemptRepo{} }

func (r *MemoryAttemptRepo) AppendAttempt(ctx context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *MemoryAttemptRepo) Attempts(accountID string) []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Attempt
	for _, a := range r.attempts {
		if accountID == "" || a.AccountID == accountID {
			out = append(out, a)
		}
	}
	return out
}

func (r *MemoryAttemptRepo) ListAttempts(ctx context.Context, accountID string, from, to time.Time) ([]Attempt, error) {
	var out []Attempt
	for _, a := range r.Attempts(accountID) {
		if !a.At.Before(from) && a.At.Before(to) {
			out = append(out, a)
		}
	}
	return out, nil
}
