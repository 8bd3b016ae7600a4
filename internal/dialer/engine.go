package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"collections-orchestrator/internal/agents"
	"collections-orchestrator/internal/audit"
	"collections-orchestrator/internal/calls"
	"collections-orchestrator/internal/escalation"
	"collections-orchestrator/internal/ranking"
	"collections-orchestrator/internal/routing"
	"collections-orchestrator/internal/telephony"
	"collections-orchestrator/internal/workitem"
	"collections-orchestrator/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Wait reasons shown on the operator dashboard.
const (
	WaitRoutingExhausted = "routing_exhausted"
	WaitBelowThreshold   = "below_threshold"
)

var ErrInvalidPhone = errors.New("dialer: invalid phone number")

// PinRecorder audits supervisor pins that led to an assignment.
type PinRecorder interface {
	RecordApplied(ctx context.Context, d routing.Decision) error
}

// Deps are the collaborators of the engine. Audit and Pins may be nil.
type Deps struct {
	Store     *workitem.Store
	Ranker    ranking.Ranker
	Router    routing.Router
	Pool      *agents.Pool
	Dialer    telephony.Dialer
	Scheduler *escalation.Scheduler
	Sequences *escalation.Config
	Audit     *audit.Service
	Pins      PinRecorder
	Log       *slog.Logger
}

// Engine drives the work item lifecycle: it assigns Ready items to agents, issues
// dial requests and reacts to call, channel and external signals.
//
// Rules:
// - Tick never overlaps with itself.
// - A failed collaborator call never stops the loop; the item goes back to Ready.
// - Resolved/Suppressed transitions release the agent and cancel pending escalations.
type Engine struct {
	store     *workitem.Store
	ranker    ranking.Ranker
	router    routing.Router
	pool      *agents.Pool
	dialer    telephony.Dialer
	scheduler *escalation.Scheduler
	sequences *escalation.Config
	audit     *audit.Service
	pins      PinRecorder
	limiter   *rate.Limiter
	opts      Options
	log       *slog.Logger

	Now func() time.Time

	tickMu sync.Mutex

	callsMu sync.Mutex
	active  map[string]calls.Call
}

func New(d Deps, opts Options) *Engine {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	e := &Engine{
		store:     d.Store,
		ranker:    d.Ranker,
		router:    d.Router,
		pool:      d.Pool,
		dialer:    d.Dialer,
		scheduler: d.Scheduler,
		sequences: d.Sequences,
		audit:     d.Audit,
		pins:      d.Pins,
		opts:      opts,
		log:       log.With("component", "dialer_engine"),
		Now:       time.Now,
		active:    make(map[string]calls.Call),
	}
	if opts.DialsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.DialsPerSecond), opts.DialBurst)
	}
	e.scheduler.OnExhausted = e.requeueExhausted
	return e
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Engine) Options() Options { return e.opts }

// Run ticks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	t := time.NewTicker(e.opts.TickInterval)
	defer t.Stop()
	e.log.Info("dialer loop started", "tick_interval", e.opts.TickInterval, "max_assignments_per_tick", e.opts.MaxAssignmentsPerTick)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("dialer loop stopped")
			return nil
		case <-t.C:
			e.safeTick(ctx)
		}
	}
}

func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("dialer tick panicked", "panic", fmt.Sprint(r))
		}
	}()
	e.Tick(ctx)
}

// Tick runs one scheduling pass and returns the number of assignments made.
//
// Eligible Ready items are walked in rank order. Items nobody can take are marked with
// a wait reason and skipped so one hard-to-route account never blocks the queue.
func (e *Engine) Tick(ctx context.Context) int {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.now()
	assigned := 0
	for _, r := range ranking.Order(e.ranker, e.store.Eligible(now), now) {
		if assigned >= e.opts.MaxAssignmentsPerTick || ctx.Err() != nil {
			break
		}
		item := r.Item
		d, ok := e.router.Route(ctx, item, e.pool)
		if !ok {
			e.markWaiting(item, d.Reason)
			continue
		}
		if e.limiter != nil && !e.limiter.Allow() {
			e.log.Debug("dial rate limited", "account_id", item.AccountID)
			break
		}
		if err := e.pool.Claim(ctx, d.AgentID, item.AccountID); err != nil {
			if !errors.Is(err, agents.ErrAgentUnavailable) {
				e.log.Warn("agent claim failed", "account_id", item.AccountID, "agent_id", d.AgentID, "err", err)
			}
			continue
		}
		if e.assign(ctx, item, d) {
			assigned++
		}
	}
	return assigned
}

func (e *Engine) markWaiting(item workitem.WorkItem, reason routing.Reason) {
	wait := WaitBelowThreshold
	if reason == routing.ReasonNoCandidates {
		wait = WaitRoutingExhausted
	}
	if item.WaitReason == wait {
		return
	}
	if _, err := e.store.Mutate(item.AccountID, workitem.StateReady, func(it *workitem.WorkItem) error {
		it.WaitReason = wait
		return nil
	}); err != nil {
		e.log.Debug("wait reason not recorded", "account_id", item.AccountID, "err", err)
	}
}

// assign moves a claimed item to Assigned and issues the dial request.
func (e *Engine) assign(ctx context.Context, item workitem.WorkItem, d routing.Decision) bool {
	log := e.log.With("account_id", item.AccountID, "agent_id", d.AgentID)

	assigned, err := e.store.Transition(item.AccountID, workitem.StateAssigned, func(it *workitem.WorkItem) error {
		it.AssignedAgentID = d.AgentID
		return nil
	})
	if err != nil {
		// Suppressed or resolved since the snapshot.
		log.Info("assignment pre-empted", "err", err)
		e.releaseAgent(ctx, d.AgentID, "")
		return false
	}
	log.Info("work item assigned", "score", d.Score, "pinned", d.Pinned)
	if d.Pinned && e.pins != nil {
		if err := e.pins.RecordApplied(ctx, d); err != nil {
			log.Warn("pin audit failed", "err", err)
		}
	}

	cur, err := e.store.Get(item.AccountID)
	if err != nil || cur.State != workitem.StateAssigned || cur.AssignedAgentID != d.AgentID {
		log.Info("assignment pre-empted before dial", "state", cur.State)
		e.releaseAgent(ctx, d.AgentID, "")
		return true
	}

	// The call is tracked before dialing: the provider may report an outcome before
	// Dial returns, and that report must find and close the entry.
	callID := uuid.NewString()
	e.callsMu.Lock()
	e.active[assigned.AccountID] = calls.Call{
		CallID:    callID,
		AccountID: assigned.AccountID,
		AgentID:   d.AgentID,
		To:        assigned.Phone,
		Status:    calls.CallStatusQueued,
		StartedAt: e.now(),
	}
	e.callsMu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, e.opts.CollaboratorTimeout)
	res, err := e.dialer.Dial(dctx, telephony.DialRequest{
		AgentID:          d.AgentID,
		AccountID:        assigned.AccountID,
		PhoneNumber:      assigned.Phone,
		MachineDetection: e.opts.AMDEnabled,
	})
	cancel()

	e.callsMu.Lock()
	c, tracked := e.active[assigned.AccountID]
	tracked = tracked && c.CallID == callID
	switch {
	case tracked && err != nil:
		delete(e.active, assigned.AccountID)
	case tracked:
		c.ProviderCallID = res.ProviderCallID
		e.active[assigned.AccountID] = c
	}
	e.callsMu.Unlock()

	if err != nil {
		e.dialFailed(ctx, assigned.AccountID, d.AgentID, err)
		return true
	}
	log.Info("dial requested", "dialer", e.dialer.Name(), "provider_call_id", res.ProviderCallID)
	return true
}

// dialFailed returns the item to Ready after a dial request could not be issued.
func (e *Engine) dialFailed(ctx context.Context, accountID, agentID string, dialErr error) {
	log := e.log.With("account_id", accountID, "agent_id", agentID)
	log.Warn("dial request failed", "dialer", e.dialer.Name(), "err", dialErr)

	now := e.now()
	if _, err := e.store.Transition(accountID, workitem.StateReady, func(it *workitem.WorkItem) error {
		it.NotBefore = now.Add(e.opts.DialFailureCooldown)
		return nil
	}); err != nil {
		log.Info("item not returned to queue", "err", err)
	}
	e.releaseAgent(ctx, agentID, "")
	e.recordAttempt(ctx, workitem.Attempt{
		AccountID: accountID,
		At:        now,
		Kind:      workitem.AttemptVoice,
		AgentID:   agentID,
		StepIndex: workitem.NoCursor,
		Outcome:   "dial_failed",
		Detail:    dialErr.Error(),
	})
}

// Enqueue puts an account into the voice queue. Phone numbers are normalised to
// E.164; the WhatsApp number defaults to the phone number.
func (e *Engine) Enqueue(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
	phone, ok := utils.NormalizeE164(item.Phone, e.opts.PhoneRegion)
	if !ok {
		return workitem.WorkItem{}, fmt.Errorf("%w: %q", ErrInvalidPhone, item.Phone)
	}
	item.Phone = phone
	if item.WhatsApp == "" {
		item.WhatsApp = phone
	} else if wa, ok := utils.NormalizeE164(item.WhatsApp, e.opts.PhoneRegion); ok {
		item.WhatsApp = wa
	} else {
		return workitem.WorkItem{}, fmt.Errorf("%w: %q", ErrInvalidPhone, item.WhatsApp)
	}
	out, err := e.store.Enqueue(item)
	if err != nil {
		return workitem.WorkItem{}, err
	}
	e.log.Info("work item enqueued", "account_id", out.AccountID, "version", out.Version)
	return out, nil
}

// Sequence returns the currently configured channel sequence.
func (e *Engine) Sequence() escalation.Sequence {
	return e.sequences.Current()
}

// ConfigureSequence replaces the channel sequence. Escalations already running keep
// the snapshot they were started with.
func (e *Engine) ConfigureSequence(ctx context.Context, seq escalation.Sequence) (escalation.Sequence, error) {
	actor := audit.ActorFrom(ctx)
	out, err := e.sequences.Configure(seq, actor.ID)
	if err != nil {
		return escalation.Sequence{}, err
	}
	e.log.Info("channel sequence configured", "version", out.Version, "steps", len(out.Steps), "updated_by", actor.ID)
	e.audit.Record(ctx, audit.EventTypeSequenceConfigured, "", "", fmt.Sprintf("channel sequence v%d configured", out.Version), out)
	return out, nil
}

// ActiveCalls lists dial requests awaiting an outcome.
func (e *Engine) ActiveCalls() []calls.Call {
	e.callsMu.Lock()
	defer e.callsMu.Unlock()
	out := make([]calls.Call, 0, len(e.active))
	for _, c := range e.active {
		out = append(out, c)
	}
	return out
}

func (e *Engine) updateCall(accountID string, status calls.CallStatus, outcome calls.Outcome) {
	e.callsMu.Lock()
	defer e.callsMu.Unlock()
	c, ok := e.active[accountID]
	if !ok {
		return
	}
	if outcome != "" || status.Terminal() {
		delete(e.active, accountID)
		return
	}
	c.Status = status
	e.active[accountID] = c
}

func (e *Engine) releaseAgent(ctx context.Context, agentID string, outcome calls.Outcome) {
	if agentID == "" {
		return
	}
	if err := e.pool.Release(ctx, agentID, outcome); err != nil {
		e.log.Warn("agent release failed", "agent_id", agentID, "err", err)
	}
}

func (e *Engine) recordAttempt(ctx context.Context, a workitem.Attempt) {
	if err := e.store.RecordAttempt(ctx, a); err != nil && !errors.Is(err, workitem.ErrNotFound) {
		e.log.Warn("attempt not recorded", "account_id", a.AccountID, "err", err)
	}
}
