package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"collections-orchestrator/internal/audit"
	"collections-orchestrator/internal/calls"
	"collections-orchestrator/internal/channels"
	"collections-orchestrator/internal/escalation"
	"collections-orchestrator/internal/workitem"
)

// Signal is an external event about an account raised by billing or compliance.
type Signal string

const (
	SignalPaymentReceived Signal = "payment_received"
	SignalComplianceHold  Signal = "compliance_hold"
)

var ErrUnknownSignal = errors.New("dialer: unknown signal")

// ParseSignal accepts snake_case and the CamelCase names used by the CRM.
func ParseSignal(s string) (Signal, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "paymentreceived", "payment":
		return SignalPaymentReceived, nil
	case "compliancehold", "suppress":
		return SignalComplianceHold, nil
	default:
		return "", ErrUnknownSignal
	}
}

var errNotEscalating = errors.New("dialer: item is not escalating")

// ReportCallStarted marks the voice connection as begun. Repeated reports are no-ops.
func (e *Engine) ReportCallStarted(ctx context.Context, workItemID string) error {
	item, err := e.store.Get(workItemID)
	if err != nil {
		return err
	}
	if item.State == workitem.StateInProgress {
		return nil
	}
	if _, err := e.store.Transition(workItemID, workitem.StateInProgress, nil); err != nil {
		return err
	}
	e.updateCall(workItemID, calls.CallStatusInProgress, "")
	e.log.Info("call started", "account_id", workItemID, "agent_id", item.AssignedAgentID)
	return nil
}

// ReportCallOutcome applies the result of a voice attempt. Connected resolves the item;
// every other outcome hands it to the escalation scheduler. An outcome arriving while the
// item is still Assigned passes through InProgress.
func (e *Engine) ReportCallOutcome(ctx context.Context, workItemID string, outcome calls.Outcome) error {
	outcome, err := calls.ParseOutcome(string(outcome))
	if err != nil {
		return err
	}
	item, err := e.store.Get(workItemID)
	if err != nil {
		return err
	}
	if item.State == workitem.StateAssigned {
		if item, err = e.store.Transition(workItemID, workitem.StateInProgress, nil); err != nil {
			return err
		}
	}
	if item.State != workitem.StateInProgress {
		return &workitem.TransitionError{AccountID: workItemID, From: item.State, To: workitem.StateAwaitingEscalation, Reason: "no call in progress"}
	}
	agentID := item.AssignedAgentID

	to := workitem.StateAwaitingEscalation
	if outcome.Reached() {
		to = workitem.StateResolved
	}
	now := e.now()
	if _, err := e.store.Transition(workItemID, to, func(it *workitem.WorkItem) error {
		it.LastContactAt = &now
		it.PreviousAttempts++
		return nil
	}); err != nil {
		return err
	}
	e.releaseAgent(ctx, agentID, outcome)
	e.updateCall(workItemID, "", outcome)
	e.recordAttempt(ctx, workitem.Attempt{
		AccountID: workItemID,
		At:        now,
		Kind:      workitem.AttemptVoice,
		AgentID:   agentID,
		StepIndex: workitem.NoCursor,
		Outcome:   string(outcome),
	})
	e.log.Info("call outcome", "account_id", workItemID, "agent_id", agentID, "outcome", outcome, "state", to)

	if to == workitem.StateResolved {
		e.scheduler.CancelAll(ctx, workItemID)
		return nil
	}
	e.escalate(ctx, workItemID)
	return nil
}

// escalate hands an AwaitingEscalation item to the scheduler, or sends it straight back
// to the voice queue when there is nothing to escalate through.
func (e *Engine) escalate(ctx context.Context, workItemID string) {
	if !e.opts.MultiChannelEnabled {
		e.requeue(ctx, workItemID, "multi_channel_disabled")
		return
	}
	err := e.scheduler.BeginSequence(ctx, workItemID, e.sequences.Current())
	switch {
	case err == nil:
	case errors.Is(err, escalation.ErrNoEnabledSteps):
		e.requeue(ctx, workItemID, "no_enabled_steps")
	case errors.Is(err, workitem.ErrInvalidTransition):
		// Resolved or suppressed between the outcome and the handoff.
		e.log.Info("escalation handoff skipped", "account_id", workItemID, "err", err)
	default:
		e.log.Error("escalation handoff failed", "account_id", workItemID, "err", err)
		e.requeue(ctx, workItemID, "escalation_failed")
	}
}

// requeueExhausted is the scheduler's OnExhausted hook.
func (e *Engine) requeueExhausted(ctx context.Context, workItemID string) {
	e.requeue(ctx, workItemID, "sequence_exhausted")
}

// requeue sends an escalating item back to Ready with a decayed recovery probability.
func (e *Engine) requeue(ctx context.Context, workItemID, reason string) {
	now := e.now()
	out, err := e.store.Transition(workItemID, workitem.StateReady, func(it *workitem.WorkItem) error {
		if it.State != workitem.StateAwaitingEscalation && it.State != workitem.StateEscalationActive {
			return errNotEscalating
		}
		it.RecoveryProbability *= e.opts.DecayFactor
		it.VoiceCycles++
		it.NotBefore = now.Add(e.opts.RequeueCooldown)
		return nil
	})
	if err != nil {
		e.log.Info("requeue skipped", "account_id", workItemID, "reason", reason, "err", err)
		return
	}
	e.log.Info("work item requeued", "account_id", workItemID, "reason", reason,
		"recovery_probability", out.RecoveryProbability, "voice_cycles", out.VoiceCycles, "not_before", out.NotBefore)
}

// ReportChannelOutcome applies an asynchronous gateway report for an escalation step.
// A response resolves the item when it refers to a step already dispatched; delivery
// and failure reports are recorded in the history only.
func (e *Engine) ReportChannelOutcome(ctx context.Context, workItemID string, stepIndex int, result channels.Result) error {
	result, err := channels.ParseResult(string(result))
	if err != nil {
		return err
	}
	item, err := e.store.Get(workItemID)
	if err != nil {
		return err
	}
	log := e.log.With("account_id", workItemID, "step_index", stepIndex, "result", result)

	kind := workitem.AttemptKind("channel")
	if seq, ok := e.scheduler.Bound(workItemID); ok && stepIndex >= 0 && stepIndex < len(seq.Steps) {
		kind = escalation.AttemptKind(seq.Steps[stepIndex].Channel)
	}
	e.recordAttempt(ctx, workitem.Attempt{
		AccountID: workItemID,
		At:        e.now(),
		Kind:      kind,
		StepIndex: stepIndex,
		Outcome:   string(result),
	})

	if result != channels.ResultResponded {
		log.Info("channel outcome recorded")
		return nil
	}
	if item.State != workitem.StateEscalationActive || stepIndex < 0 || stepIndex > item.EscalationCursor {
		log.Warn("channel response ignored", "state", item.State, "cursor", item.EscalationCursor)
		return nil
	}
	if _, err := e.terminate(ctx, workItemID, workitem.StateResolved); err != nil {
		return err
	}
	log.Info("debtor responded, item resolved")
	return nil
}

// ReportExternalSignal applies a payment or compliance signal. Signals for unknown
// accounts, and repeats of a signal already applied, are logged and ignored.
func (e *Engine) ReportExternalSignal(ctx context.Context, accountID string, signal Signal) error {
	signal, err := ParseSignal(string(signal))
	if err != nil {
		return err
	}
	to := workitem.StateResolved
	switch signal {
	case SignalPaymentReceived:
	case SignalComplianceHold:
		to = workitem.StateSuppressed
	default:
		return ErrUnknownSignal
	}
	log := e.log.With("account_id", accountID, "signal", signal)

	item, err := e.store.Get(accountID)
	if errors.Is(err, workitem.ErrNotFound) {
		log.Warn("signal for unknown account ignored")
		return nil
	}
	if err != nil {
		return err
	}
	if item.State == to {
		log.Info("signal already applied")
		return nil
	}
	if item.State.Terminal() {
		log.Warn("signal ignored for terminal item", "state", item.State)
		return nil
	}

	from := item.State
	agentID, err := e.terminate(ctx, accountID, to)
	if err != nil {
		return err
	}
	log.Info("signal applied", "from", from, "to", to, "released_agent", agentID)
	e.audit.Record(ctx, audit.EventTypeExternalSignal, accountID, agentID,
		fmt.Sprintf("%s: %s -> %s", signal, from, to), map[string]any{"signal": signal, "from": from, "to": to})
	return nil
}

// terminate moves the item to Resolved or Suppressed, releases its agent and cancels
// its escalations. It returns the released agent, if any.
func (e *Engine) terminate(ctx context.Context, workItemID string, to workitem.State) (string, error) {
	var agentID string
	if _, err := e.store.Transition(workItemID, to, func(it *workitem.WorkItem) error {
		agentID = it.AssignedAgentID
		return nil
	}); err != nil {
		return "", err
	}
	e.scheduler.CancelAll(ctx, workItemID)
	e.releaseAgent(ctx, agentID, "")
	e.updateCall(workItemID, calls.CallStatusCanceled, "")
	return agentID, nil
}
