package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collections-orchestrator/internal/agents"
	"collections-orchestrator/internal/calls"
	"collections-orchestrator/internal/channels"
	"collections-orchestrator/internal/dialer"
	"collections-orchestrator/internal/workitem"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository reads the append-only attempt history.
type Repository interface {
	ListAttempts(ctx context.Context, accountID string, from, to time.Time) ([]workitem.Attempt, error)
}

// QueueSource is the dialer's queue projection.
type QueueSource interface {
	QueueSnapshot() []dialer.QueueEntry
}

// AgentSource is the agent pool's read side.
type AgentSource interface {
	Snapshot() []agents.Agent
}

type Service struct {
	repo   Repository
	queue  QueueSource
	agents AgentSource

	Now func() time.Time
}

func NewService(repo Repository, queue QueueSource, agents AgentSource) *Service {
	return &Service{repo: repo, queue: queue, agents: agents, Now: time.Now}
}

// Dashboard summarises the live queue and agent pool.
func (s *Service) Dashboard(ctx context.Context) Dashboard {
	now := s.Now().UTC()
	out := Dashboard{
		GeneratedAt:      now,
		Items:            make(map[workitem.State]int),
		RoutingExhausted: []string{},
		BelowThreshold:   []string{},
		Alerts:           []Alert{},
	}

	ready, dispatchFailures := 0, 0
	for _, e := range s.queue.QueueSnapshot() {
		out.Items[e.State]++
		out.Total++
		out.PendingEscalations += len(e.Pending)
		if e.LastAttempt != nil && e.LastAttempt.Outcome == "dispatch_failed" {
			dispatchFailures++
		}
		if e.State != workitem.StateReady {
			continue
		}
		if now.Before(e.NotBefore) {
			out.CoolingDown++
			continue
		}
		ready++
		switch e.WaitReason {
		case dialer.WaitRoutingExhausted:
			out.RoutingExhausted = append(out.RoutingExhausted, e.AccountID)
		case dialer.WaitBelowThreshold:
			out.BelowThreshold = append(out.BelowThreshold, e.AccountID)
		}
	}

	for _, a := range s.agents.Snapshot() {
		out.Agents.Total++
		switch a.Status {
		case agents.StatusAvailable:
			out.Agents.Available++
		case agents.StatusOnCall:
			out.Agents.OnCall++
		case agents.StatusBreak:
			out.Agents.OnBreak++
		case agents.StatusOffline:
			out.Agents.Offline++
		}
	}
	if in := out.Agents.Total - out.Agents.Offline; in > 0 {
		out.Agents.Utilisation = float64(out.Agents.OnCall) / float64(in)
	}

	switch {
	case ready > 0 && out.Agents.Total-out.Agents.Offline == 0:
		out.Alerts = append(out.Alerts, Alert{Code: "no_agents_logged_in", Severity: SeverityCritical,
			Message: fmt.Sprintf("%d accounts ready and no agent is logged in", ready)})
	case ready > 0 && out.Agents.Available == 0:
		out.Alerts = append(out.Alerts, Alert{Code: "no_agents_available", Severity: SeverityWarning,
			Message: fmt.Sprintf("%d accounts ready and every agent is busy", ready)})
	}
	if n := len(out.RoutingExhausted); n > 0 {
		out.Alerts = append(out.Alerts, Alert{Code: "routing_exhausted", Severity: SeverityWarning,
			Message: fmt.Sprintf("%d accounts need skills no available agent has", n)})
	}
	if dispatchFailures > 0 {
		out.Alerts = append(out.Alerts, Alert{Code: "dispatch_failures", Severity: SeverityWarning,
			Message: fmt.Sprintf("%d accounts have a failed channel dispatch as last attempt", dispatchFailures)})
	}
	return out
}

// AttemptSummary aggregates the attempt history in a time range.
func (s *Service) AttemptSummary(ctx context.Context, req AttemptSummaryRequest) (AttemptSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return AttemptSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return AttemptSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAttempts(ctx, req.AccountID, req.Range.From, req.Range.To)
	if err != nil {
		return AttemptSummary{}, err
	}

	out := AttemptSummary{AccountID: req.AccountID, ChannelByKind: make(map[workitem.AttemptKind]int)}
	for _, a := range rows {
		if a.Kind == workitem.AttemptVoice {
			if a.Outcome == "dial_failed" {
				out.DialFailures++
				continue
			}
			out.VoiceAttempts++
			switch calls.Outcome(a.Outcome) {
			case calls.OutcomeConnected:
				out.Connected++
			case calls.OutcomeNoAnswer:
				out.NoAnswer++
			case calls.OutcomeBusy:
				out.Busy++
			case calls.OutcomeFailed:
				out.Failed++
			case calls.OutcomeAnsweringMachine:
				out.AnsweringMachine++
			}
			continue
		}
		switch a.Outcome {
		case "dispatched":
			out.ChannelDispatched++
			out.ChannelByKind[a.Kind]++
		case "dispatch_failed":
			out.DispatchFailures++
		case string(channels.ResultDelivered):
			out.ChannelDelivered++
		case string(channels.ResultResponded):
			out.ChannelResponded++
		}
	}
	if out.VoiceAttempts > 0 {
		out.ConnectionRate = float64(out.Connected) / float64(out.VoiceAttempts)
	}
	if out.ChannelDispatched > 0 {
		out.ResponseRate = float64(out.ChannelResponded) / float64(out.ChannelDispatched)
	}
	return out, nil
}
