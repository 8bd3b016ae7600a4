package escalation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"collections-orchestrator/internal/channels"
	"collections-orchestrator/internal/workitem"
)

// manualTimers records scheduled jobs; tests fire them explicitly.
type manualTimers struct {
	mu        sync.Mutex
	scheduled []Job
	cancelled []string
	fail      bool
}

func (m *manualTimers) Schedule(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("queue down")
	}
	m.scheduled = append(m.scheduled, job)
	return nil
}

func (m *manualTimers) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *manualTimers) last() Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled[len(m.scheduled)-1]
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []channels.SendRequest
	err  error
}

func (d *recordingDispatcher) Send(ctx context.Context, req channels.SendRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, req)
	return d.err
}

type fixture struct {
	store     *workitem.Store
	timers    *manualTimers
	disp      *recordingDispatcher
	sched     *Scheduler
	now       time.Time
	exhausted []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  workitem.NewStore(nil, nil),
		timers: &manualTimers{},
		disp:   &recordingDispatcher{},
		now:    time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	f.store.Now = func() time.Time { return f.now }
	f.sched = NewScheduler(f.store, f.disp, f.timers, Options{}, nil)
	f.sched.Now = func() time.Time { return f.now }
	f.sched.OnExhausted = func(ctx context.Context, id string) { f.exhausted = append(f.exhausted, id) }
	return f
}

// awaiting puts an item into AwaitingEscalation the way the dialer does.
func (f *fixture) awaiting(t *testing.T, id string) {
	t.Helper()
	if _, err := f.store.Enqueue(workitem.WorkItem{AccountID: id, Phone: "+15551234567", Email: "d@example.com"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := f.store.Transition(id, workitem.StateAssigned, func(it *workitem.WorkItem) error {
		it.AssignedAgentID = "ag-1"
		return nil
	}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := f.store.Transition(id, workitem.StateAwaitingEscalation, nil); err != nil {
		t.Fatalf("awaiting: %v", err)
	}
}

func (f *fixture) fireLast(ctx context.Context) Job {
	job := f.timers.last()
	f.now = job.FireAt
	f.sched.OnTimerFire(ctx, job)
	return job
}

func TestBeginSequence_SchedulesFirstEnabledStep(t *testing.T) {
	f := newFixture(t)
	f.awaiting(t, "acc-1")

	seq := DefaultSequence()
	seq.Steps[0].Enabled = false
	if err := f.sched.BeginSequence(context.Background(), "acc-1", seq); err != nil {
		t.Fatalf("begin: %v", err)
	}
	it, _ := f.store.Get("acc-1")
	if it.State != workitem.StateEscalationActive || it.EscalationCursor != 1 {
		t.Fatalf("unexpected item %+v", it)
	}
	pending := f.sched.Pending("acc-1")
	if len(pending) != 1 || pending[0].StepIndex != 1 || !pending[0].FireAt.Equal(f.now.Add(2*time.Hour)) {
		t.Fatalf("unexpected pending %+v", pending)
	}
}

func TestBeginSequence_NoEnabledSteps(t *testing.T) {
	f := newFixture(t)
	f.awaiting(t, "acc-1")
	seq := DefaultSequence()
	for i := range seq.Steps {
		seq.Steps[i].Enabled = false
	}
	if err := f.sched.BeginSequence(context.Background(), "acc-1", seq); !errors.Is(err, ErrNoEnabledSteps) {
		t.Fatalf("expected ErrNoEnabledSteps, got %v", err)
	}
	if it, _ := f.store.Get("acc-1"); it.State != workitem.StateAwaitingEscalation {
		t.Fatalf("item must stay awaiting, got %s", it.State)
	}
}

func TestOnTimerFire_WalksSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.awaiting(t, "acc-1")
	_ = f.sched.BeginSequence(ctx, "acc-1", DefaultSequence())

	for step := 0; step < 3; step++ {
		job := f.fireLast(ctx)
		if job.StepIndex != step {
			t.Fatalf("expected step %d, fired %d", step, job.StepIndex)
		}
	}
	if len(f.disp.sent) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(f.disp.sent))
	}
	want := []channels.Channel{channels.ChannelSMS, channels.ChannelEmail, channels.ChannelWhatsApp}
	for i, ch := range want {
		if f.disp.sent[i].Channel != ch || f.disp.sent[i].StepIndex != i {
			t.Fatalf("dispatch %d: %+v", i, f.disp.sent[i])
		}
	}
	if len(f.exhausted) != 1 || f.sched.PendingCount() != 0 {
		t.Fatalf("expected exhaustion with nothing pending, exhausted=%v pending=%d", f.exhausted, f.sched.PendingCount())
	}
	it, _ := f.store.Get("acc-1")
	if len(it.History) != 3 || it.History[2].Kind != workitem.AttemptWhatsApp {
		t.Fatalf("unexpected history %+v", it.History)
	}
}

func TestOnTimerFire_FailedDispatchesRetryThenAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.disp.err = errors.New("gateway down")
	f.awaiting(t, "acc-1")
	_ = f.sched.BeginSequence(ctx, "acc-1", DefaultSequence())

	for i := 0; i < 6; i++ {
		f.fireLast(ctx)
	}
	if len(f.disp.sent) != 6 {
		t.Fatalf("expected 6 dispatch attempts, got %d", len(f.disp.sent))
	}
	perStep := map[int]int{}
	for _, r := range f.disp.sent {
		perStep[r.StepIndex]++
	}
	if perStep[0] != 2 || perStep[1] != 2 || perStep[2] != 2 {
		t.Fatalf("expected 2 attempts per step, got %v", perStep)
	}
	if len(f.exhausted) != 1 {
		t.Fatalf("expected sequence complete, got %v", f.exhausted)
	}
	it, _ := f.store.Get("acc-1")
	if it.State == workitem.StateEscalationActive && f.sched.PendingCount() > 0 {
		t.Fatalf("sequence must not remain active with pending jobs")
	}
}

func TestOnTimerFire_RetryUsesRetryDelay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.disp.err = errors.New("gateway down")
	f.awaiting(t, "acc-1")
	_ = f.sched.BeginSequence(ctx, "acc-1", DefaultSequence())

	first := f.fireLast(ctx)
	retry := f.timers.last()
	if retry.StepIndex != first.StepIndex || retry.Attempt != 2 || !retry.FireAt.Equal(f.now.Add(time.Minute)) {
		t.Fatalf("unexpected retry job %+v", retry)
	}
}

func TestCancelAll_StaleFireIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.awaiting(t, "acc-1")
	_ = f.sched.BeginSequence(ctx, "acc-1", DefaultSequence())
	f.fireLast(ctx)
	step1 := f.timers.last()

	if _, err := f.store.Transition("acc-1", workitem.StateResolved, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if n := f.sched.CancelAll(ctx, "acc-1"); n != 1 {
		t.Fatalf("expected 1 cancelled job, got %d", n)
	}
	if len(f.timers.cancelled) != 1 || f.timers.cancelled[0] != step1.ID {
		t.Fatalf("expected step-1 timer cancelled, got %v", f.timers.cancelled)
	}

	f.sched.OnTimerFire(ctx, step1)
	if len(f.disp.sent) != 1 {
		t.Fatalf("stale fire must not dispatch, sent=%d", len(f.disp.sent))
	}
	if f.sched.CancelAll(ctx, "acc-1") != 0 {
		t.Fatalf("second CancelAll must be a safe no-op")
	}
}

func TestOnTimerFire_ItemSuppressedInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.awaiting(t, "acc-1")
	_ = f.sched.BeginSequence(ctx, "acc-1", DefaultSequence())
	job := f.timers.last()

	// Suppression lands while the dispatch is in flight.
	blocking := channels.DispatcherFunc(func(ctx context.Context, req channels.SendRequest) error {
		_, _ = f.store.Transition("acc-1", workitem.StateSuppressed, nil)
		f.sched.CancelAll(ctx, "acc-1")
		return nil
	})
	f.sched.dispatcher = blocking
	f.sched.OnTimerFire(ctx, job)

	if f.sched.PendingCount() != 0 {
		t.Fatalf("expected zero pending after suppression, got %d", f.sched.PendingCount())
	}
	if len(f.exhausted) != 0 {
		t.Fatalf("suppressed item must not be requeued")
	}
}

func TestBeginSequence_ArmFailureReturnsError(t *testing.T) {
	f := newFixture(t)
	f.timers.fail = true
	f.awaiting(t, "acc-1")
	if err := f.sched.BeginSequence(context.Background(), "acc-1", DefaultSequence()); err == nil {
		t.Fatalf("expected schedule error")
	}
	if f.sched.PendingCount() != 0 {
		t.Fatalf("failed schedule must not leave pending jobs")
	}
}

func TestConfig_ConfigureVersionsAndValidates(t *testing.T) {
	cfg, err := NewConfig(DefaultSequence())
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	seq := Sequence{Steps: []Step{{Channel: "SMS", Delay: 10, DelayUnit: "Minutes", TemplateID: "payment-reminder-sms", Enabled: true}}}
	got, err := cfg.Configure(seq, "sup-1")
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got.Version != 2 || got.UpdatedBy != "sup-1" || got.Steps[0].Channel != channels.ChannelSMS || got.Steps[0].DelayUnit != UnitMinutes {
		t.Fatalf("unexpected sequence %+v", got)
	}

	bad := Sequence{Steps: []Step{{Channel: "fax", DelayUnit: UnitMinutes, TemplateID: "x"}}}
	if _, err := cfg.Configure(bad, "sup-1"); !errors.Is(err, ErrInvalidSequence) {
		t.Fatalf("expected ErrInvalidSequence, got %v", err)
	}
	if _, err := cfg.Configure(Sequence{}, "sup-1"); !errors.Is(err, ErrInvalidSequence) {
		t.Fatalf("empty sequence must be rejected, got %v", err)
	}
	if cfg.Current().Version != 2 {
		t.Fatalf("rejected edits must not bump the version")
	}
}

func TestBoundSnapshotSurvivesReconfigure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg, _ := NewConfig(DefaultSequence())
	f.awaiting(t, "acc-1")
	_ = f.sched.BeginSequence(ctx, "acc-1", cfg.Current())

	_, _ = cfg.Configure(Sequence{Steps: []Step{{Channel: channels.ChannelEmail, Delay: 1, DelayUnit: UnitMinutes, TemplateID: "payment-reminder-email", Enabled: true}}}, "sup")
	f.fireLast(ctx)
	f.fireLast(ctx)
	if f.disp.sent[1].Channel != channels.ChannelEmail || len(f.disp.sent) != 2 {
		t.Fatalf("in-flight escalation must keep its bound sequence: %+v", f.disp.sent)
	}
	if seq, ok := f.sched.Bound("acc-1"); !ok || len(seq.Steps) != 3 {
		t.Fatalf("expected original 3-step snapshot bound")
	}
}

func TestLoadSequenceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequence.yaml")
	data := `steps:
  - channel: SMS
    delay: 15
    delay_unit: minutes
    template_id: payment-reminder-sms
    enabled: true
  - channel: whatsapp
    delay: 3
    delay_unit: days
    template_id: payment-reminder-whatsapp
    enabled: false
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	seq, err := LoadSequenceFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(seq.Steps) != 2 || seq.Steps[0].Duration() != 15*time.Minute || seq.Steps[1].Duration() != 72*time.Hour {
		t.Fatalf("unexpected sequence %+v", seq)
	}
	if idx, ok := seq.NextEnabled(1); ok {
		t.Fatalf("expected no enabled step after 0, got %d", idx)
	}

	if err := os.WriteFile(path, []byte("steps: [{channel: pigeon}]"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSequenceFile(path); !errors.Is(err, ErrInvalidSequence) {
		t.Fatalf("expected ErrInvalidSequence, got %v", err)
	}
}

func TestLocalTimers_FireAndCancel(t *testing.T) {
	lt := NewLocalTimers()
	fired := make(chan Job, 2)
	lt.Handle(func(ctx context.Context, job Job) { fired <- job })

	_ = lt.Schedule(context.Background(), Job{ID: "a", FireAt: time.Now().Add(10 * time.Millisecond)})
	_ = lt.Schedule(context.Background(), Job{ID: "b", FireAt: time.Now().Add(time.Hour)})
	_ = lt.Cancel(context.Background(), "b")

	select {
	case job := <-fired:
		if job.ID != "a" {
			t.Fatalf("unexpected job %s", job.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}
	if lt.Len() != 0 {
		t.Fatalf("expected no armed timers, got %d", lt.Len())
	}
	_ = lt.Cancel(context.Background(), "missing")
}
