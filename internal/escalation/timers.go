package escalation

import (
	"context"
	"sync"
	"time"
)

// Job is a pending escalation step.
type Job struct {
	ID              string    `json:"id"`
	WorkItemID      string    `json:"work_item_id"`
	StepIndex       int       `json:"step_index"`
	Attempt         int       `json:"attempt"`
	FireAt          time.Time `json:"fire_at"`
	SequenceVersion int64     `json:"sequence_version"`
}

// TimerQueue fires jobs at their FireAt. Firing one job never blocks another.
// Cancel of an unknown or already-fired job is a no-op.
type TimerQueue interface {
	Schedule(ctx context.Context, job Job) error
	Cancel(ctx context.Context, jobID string) error
}

// FireFunc handles a due job.
type FireFunc func(ctx context.Context, job Job)

// LocalTimers is an in-process TimerQueue with one time.AfterFunc per job.
// Jobs are lost on restart.
type LocalTimers struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	handler FireFunc
}

func NewLocalTimers() *LocalTimers {
	return &LocalTimers{timers: make(map[string]*time.Timer)}
}

// Handle sets the function invoked for due jobs. It must be called before Schedule.
func (l *LocalTimers) Handle(fn FireFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = fn
}

func (l *LocalTimers) Schedule(ctx context.Context, job Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.timers[job.ID]; ok {
		old.Stop()
	}
	handler := l.handler
	l.timers[job.ID] = time.AfterFunc(time.Until(job.FireAt), func() {
		l.mu.Lock()
		delete(l.timers, job.ID)
		l.mu.Unlock()
		if handler != nil {
			handler(context.Background(), job)
		}
	})
	return nil
}

func (l *LocalTimers) Cancel(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[jobID]; ok {
		t.Stop()
		delete(l.timers, jobID)
	}
	return nil
}

// Len is the number of armed timers.
func (l *LocalTimers) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}
