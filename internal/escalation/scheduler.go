package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"collections-orchestrator/internal/channels"
	"collections-orchestrator/internal/workitem"

	"github.com/google/uuid"
)

// ItemStore is the part of the work item store the scheduler drives.
type ItemStore interface {
	Get(id string) (workitem.WorkItem, error)
	Transition(id string, to workitem.State, mutate func(*workitem.WorkItem) error) (workitem.WorkItem, error)
	Mutate(id string, expect workitem.State, mutate func(*workitem.WorkItem) error) (workitem.WorkItem, error)
	RecordAttempt(ctx context.Context, a workitem.Attempt) error
}

type Options struct {
	// MaxAttemptsPerStep bounds dispatch attempts of one step before it is skipped.
	MaxAttemptsPerStep int
	// RetryDelay separates failed dispatch attempts of the same step.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttemptsPerStep < 1 {
		o.MaxAttemptsPerStep = 2
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Minute
	}
	return o
}

// Scheduler runs the alternate-channel sequence of escalated work items.
//
// Contract:
// - Each escalated item is bound to a snapshot of the sequence at BeginSequence.
// - A job fires at most once and only while it is pending; the item must still be
//   EscalationActive at the job's step, otherwise the firing is a no-op.
// - CancelAll leaves no pending job for the item; jobs already in flight notice the
//   item's new state and stop.
// - ItemStore.OnChange hooks must not call back into the scheduler.
type Scheduler struct {
	items      ItemStore
	dispatcher channels.Dispatcher
	timers     TimerQueue
	opts       Options
	log        *slog.Logger

	Now func() time.Time

	// OnExhausted runs, outside any scheduler lock, once the last step of an item's
	// sequence has been dispatched or has failed out.
	OnExhausted func(ctx context.Context, workItemID string)

	mu      sync.Mutex
	pending map[string]map[string]Job
	bound   map[string]Sequence
}

func NewScheduler(items ItemStore, dispatcher channels.Dispatcher, timers TimerQueue, opts Options, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		items:      items,
		dispatcher: dispatcher,
		timers:     timers,
		opts:       opts.withDefaults(),
		log:        log.With("component", "escalation_scheduler"),
		Now:        time.Now,
		pending:    make(map[string]map[string]Job),
		bound:      make(map[string]Sequence),
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// BeginSequence moves an AwaitingEscalation item to EscalationActive at the first
// enabled step of seq and arms that step's timer.
func (s *Scheduler) BeginSequence(ctx context.Context, workItemID string, seq Sequence) error {
	idx, ok := seq.NextEnabled(0)
	if !ok {
		return ErrNoEnabledSteps
	}
	seq = seq.clone()

	s.mu.Lock()
	if _, err := s.items.Transition(workItemID, workitem.StateEscalationActive, func(it *workitem.WorkItem) error {
		it.EscalationCursor = idx
		return nil
	}); err != nil {
		s.mu.Unlock()
		return err
	}
	s.bound[workItemID] = seq
	job := s.addPendingLocked(workItemID, idx, 1, s.now().Add(seq.Steps[idx].Duration()), seq.Version)
	s.mu.Unlock()

	if err := s.arm(ctx, job); err != nil {
		s.mu.Lock()
		delete(s.bound, workItemID)
		s.mu.Unlock()
		return err
	}
	s.log.Info("escalation started", "account_id", workItemID, "step_index", idx, "fire_at", job.FireAt, "sequence_version", seq.Version)
	return nil
}

// OnTimerFire handles a due job.
func (s *Scheduler) OnTimerFire(ctx context.Context, job Job) {
	log := s.log.With("account_id", job.WorkItemID, "job_id", job.ID, "step_index", job.StepIndex, "attempt", job.Attempt)

	s.mu.Lock()
	if _, ok := s.pending[job.WorkItemID][job.ID]; !ok {
		s.mu.Unlock()
		log.Debug("escalation job not pending")
		return
	}
	s.dropPendingLocked(job)
	seq, bound := s.bound[job.WorkItemID]
	s.mu.Unlock()

	item, err := s.items.Get(job.WorkItemID)
	if err != nil || !bound || item.State != workitem.StateEscalationActive ||
		item.EscalationCursor != job.StepIndex || job.StepIndex >= len(seq.Steps) {
		log.Info("escalation job no longer applies", "state", item.State)
		return
	}

	step := seq.Steps[job.StepIndex]
	sendErr := s.dispatcher.Send(ctx, channels.SendRequest{
		Channel:    step.Channel,
		TemplateID: step.TemplateID,
		AccountID:  item.AccountID,
		StepIndex:  job.StepIndex,
		Contact: channels.Contact{
			Name:     item.DebtorName,
			Phone:    item.Phone,
			Email:    item.Email,
			WhatsApp: item.WhatsApp,
		},
	})
	s.record(ctx, item.AccountID, step, job, sendErr)

	switch {
	case sendErr == nil:
		s.advance(ctx, job.WorkItemID, job.StepIndex+1)
	case job.Attempt < s.opts.MaxAttemptsPerStep:
		log.Warn("escalation dispatch failed, retrying", "channel", step.Channel, "err", sendErr)
		s.retry(ctx, job)
	default:
		log.Warn("dispatch failure, step abandoned", "kind", "DispatchFailure", "channel", step.Channel, "err", sendErr)
		s.advance(ctx, job.WorkItemID, job.StepIndex+1)
	}
}

// advance moves the cursor to the next enabled step at or after from, or completes
// the sequence.
func (s *Scheduler) advance(ctx context.Context, workItemID string, from int) {
	s.mu.Lock()
	seq, ok := s.bound[workItemID]
	if !ok {
		s.mu.Unlock()
		return
	}
	next, found := seq.NextEnabled(from)
	if !found {
		delete(s.bound, workItemID)
		s.mu.Unlock()
		s.log.Info("escalation sequence exhausted", "account_id", workItemID)
		s.finish(ctx, workItemID)
		return
	}
	if _, err := s.items.Mutate(workItemID, workitem.StateEscalationActive, func(it *workitem.WorkItem) error {
		it.EscalationCursor = next
		return nil
	}); err != nil {
		delete(s.bound, workItemID)
		s.mu.Unlock()
		s.log.Debug("escalation stopped", "account_id", workItemID, "err", err)
		return
	}
	job := s.addPendingLocked(workItemID, next, 1, s.now().Add(seq.Steps[next].Duration()), seq.Version)
	s.mu.Unlock()

	if err := s.arm(ctx, job); err != nil {
		s.log.Error("escalation step not armed", "account_id", workItemID, "step_index", next, "err", err)
		s.abandon(ctx, workItemID)
	}
}

func (s *Scheduler) retry(ctx context.Context, failed Job) {
	s.mu.Lock()
	if _, ok := s.bound[failed.WorkItemID]; !ok {
		s.mu.Unlock()
		return
	}
	item, err := s.items.Get(failed.WorkItemID)
	if err != nil || item.State != workitem.StateEscalationActive || item.EscalationCursor != failed.StepIndex {
		s.mu.Unlock()
		return
	}
	job := s.addPendingLocked(failed.WorkItemID, failed.StepIndex, failed.Attempt+1, s.now().Add(s.opts.RetryDelay), failed.SequenceVersion)
	s.mu.Unlock()

	if err := s.arm(ctx, job); err != nil {
		s.log.Error("escalation retry not armed", "account_id", failed.WorkItemID, "err", err)
		s.abandon(ctx, failed.WorkItemID)
	}
}

// abandon ends a sequence whose timer could not be armed; the item goes back to the
// voice queue rather than staying EscalationActive with nothing pending.
func (s *Scheduler) abandon(ctx context.Context, workItemID string) {
	s.mu.Lock()
	_, ok := s.bound[workItemID]
	delete(s.bound, workItemID)
	delete(s.pending, workItemID)
	s.mu.Unlock()
	if ok {
		s.finish(ctx, workItemID)
	}
}

func (s *Scheduler) finish(ctx context.Context, workItemID string) {
	if s.OnExhausted != nil {
		s.OnExhausted(ctx, workItemID)
	}
}

// CancelAll removes every pending job of the item and returns how many were removed.
func (s *Scheduler) CancelAll(ctx context.Context, workItemID string) int {
	s.mu.Lock()
	jobs := s.pending[workItemID]
	delete(s.pending, workItemID)
	delete(s.bound, workItemID)
	s.mu.Unlock()

	for id := range jobs {
		if err := s.timers.Cancel(ctx, id); err != nil {
			// The job is no longer pending, so a late firing is ignored.
			s.log.Warn("escalation timer cancel failed", "account_id", workItemID, "job_id", id, "err", err)
		}
	}
	if len(jobs) > 0 {
		s.log.Info("escalations cancelled", "account_id", workItemID, "jobs", len(jobs))
	}
	return len(jobs)
}

// Pending returns the item's pending jobs ordered by fire time.
func (s *Scheduler) Pending(workItemID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.pending[workItemID]))
	for _, j := range s.pending[workItemID] {
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b Job) int { return a.FireAt.Compare(b.FireAt) })
	return out
}

// PendingCount is the number of pending jobs across all items.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, jobs := range s.pending {
		n += len(jobs)
	}
	return n
}

// Bound returns the sequence snapshot an escalating item is bound to.
func (s *Scheduler) Bound(workItemID string) (Sequence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.bound[workItemID]
	if !ok {
		return Sequence{}, false
	}
	return seq.clone(), true
}

func (s *Scheduler) arm(ctx context.Context, job Job) error {
	if err := s.timers.Schedule(ctx, job); err != nil {
		s.mu.Lock()
		s.dropPendingLocked(job)
		s.mu.Unlock()
		return fmt.Errorf("escalation: schedule step %d: %w", job.StepIndex, err)
	}
	return nil
}

func (s *Scheduler) addPendingLocked(workItemID string, step, attempt int, fireAt time.Time, version int64) Job {
	job := Job{
		ID:              uuid.NewString(),
		WorkItemID:      workItemID,
		StepIndex:       step,
		Attempt:         attempt,
		FireAt:          fireAt,
		SequenceVersion: version,
	}
	if s.pending[workItemID] == nil {
		s.pending[workItemID] = make(map[string]Job)
	}
	s.pending[workItemID][job.ID] = job
	return job
}

func (s *Scheduler) dropPendingLocked(job Job) {
	jobs := s.pending[job.WorkItemID]
	delete(jobs, job.ID)
	if len(jobs) == 0 {
		delete(s.pending, job.WorkItemID)
	}
}

func (s *Scheduler) record(ctx context.Context, accountID string, step Step, job Job, sendErr error) {
	a := workitem.Attempt{
		AccountID: accountID,
		At:        s.now(),
		Kind:      AttemptKind(step.Channel),
		StepIndex: job.StepIndex,
		Outcome:   "dispatched",
	}
	if sendErr != nil {
		a.Outcome = "dispatch_failed"
		a.Detail = fmt.Sprintf("attempt %d: %v", job.Attempt, sendErr)
	}
	if err := s.items.RecordAttempt(ctx, a); err != nil {
		s.log.Warn("escalation attempt not recorded", "account_id", accountID, "err", err)
	}
}

// AttemptKind maps a channel to the attempt kind recorded in item history.
func AttemptKind(ch channels.Channel) workitem.AttemptKind {
	switch ch {
	case channels.ChannelSMS:
		return workitem.AttemptSMS
	case channels.ChannelEmail:
		return workitem.AttemptEmail
	default:
		return workitem.AttemptWhatsApp
	}
}
