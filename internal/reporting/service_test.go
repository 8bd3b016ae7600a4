package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"collections-orchestrator/internal/agents"
	"collections-orchestrator/internal/dialer"
	"collections-orchestrator/internal/escalation"
	"collections-orchestrator/internal/workitem"
)

type stubQueue []dialer.QueueEntry

func (q stubQueue) QueueSnapshot() []dialer.QueueEntry { return q }

type stubAgents []agents.Agent

func (a stubAgents) Snapshot() []agents.Agent { return a }

func TestDashboard_CountsAndAlerts(t *testing.T) {
	now := time.Unix(1760000000, 0).UTC()
	queue := stubQueue{
		{AccountID: "a", State: workitem.StateReady, WaitReason: dialer.WaitRoutingExhausted},
		{AccountID: "b", State: workitem.StateReady, WaitReason: dialer.WaitBelowThreshold},
		{AccountID: "c", State: workitem.StateReady, NotBefore: now.Add(time.Hour)},
		{AccountID: "d", State: workitem.StateEscalationActive, Pending: []escalation.Job{{ID: "j1"}},
			LastAttempt: &workitem.Attempt{Outcome: "dispatch_failed"}},
		{AccountID: "e", State: workitem.StateInProgress, AgentID: "ag-1"},
	}
	pool := stubAgents{
		{ID: "ag-1", Status: agents.StatusOnCall},
		{ID: "ag-2", Status: agents.StatusBreak},
		{ID: "ag-3", Status: agents.StatusOffline},
	}
	svc := NewService(nil, queue, pool)
	svc.Now = func() time.Time { return now }

	d := svc.Dashboard(context.Background())
	if d.Total != 5 || d.Items[workitem.StateReady] != 3 || d.CoolingDown != 1 || d.PendingEscalations != 1 {
		t.Fatalf("unexpected counts %+v", d)
	}
	if len(d.RoutingExhausted) != 1 || d.RoutingExhausted[0] != "a" || len(d.BelowThreshold) != 1 {
		t.Fatalf("unexpected wait lists %+v %+v", d.RoutingExhausted, d.BelowThreshold)
	}
	if d.Agents.Total != 3 || d.Agents.OnCall != 1 || d.Agents.Utilisation != 0.5 {
		t.Fatalf("unexpected agents %+v", d.Agents)
	}
	codes := map[string]Severity{}
	for _, a := range d.Alerts {
		codes[a.Code] = a.Severity
	}
	if codes["no_agents_available"] != SeverityWarning || codes["routing_exhausted"] != SeverityWarning || codes["dispatch_failures"] != SeverityWarning {
		t.Fatalf("unexpected alerts %+v", d.Alerts)
	}
}

func TestDashboard_NoAgentsLoggedInIsCritical(t *testing.T) {
	svc := NewService(nil, stubQueue{{AccountID: "a", State: workitem.StateReady}}, stubAgents{{ID: "ag-1", Status: agents.StatusOffline}})
	d := svc.Dashboard(context.Background())
	if len(d.Alerts) != 1 || d.Alerts[0].Code != "no_agents_logged_in" || d.Alerts[0].Severity != SeverityCritical {
		t.Fatalf("unexpected alerts %+v", d.Alerts)
	}
}

func TestAttemptSummary_Aggregates(t *testing.T) {
	repo := workitem.NewMemoryAttemptRepo()
	now := time.Unix(1760000000, 0).UTC()
	for _, a := range []workitem.Attempt{
		{AccountID: "a", At: now, Kind: workitem.AttemptVoice, Outcome: "connected"},
		{AccountID: "a", At: now, Kind: workitem.AttemptVoice, Outcome: "no_answer"},
		{AccountID: "b", At: now, Kind: workitem.AttemptVoice, Outcome: "dial_failed"},
		{AccountID: "b", At: now, Kind: workitem.AttemptSMS, Outcome: "dispatched"},
		{AccountID: "b", At: now, Kind: workitem.AttemptEmail, Outcome: "dispatch_failed"},
		{AccountID: "b", At: now, Kind: workitem.AttemptSMS, Outcome: "responded"},
		{AccountID: "b", At: now.Add(-48 * time.Hour), Kind: workitem.AttemptVoice, Outcome: "busy"},
	} {
		_ = repo.AppendAttempt(context.Background(), a)
	}
	svc := NewService(repo, stubQueue{}, stubAgents{})
	r := TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}

	out, err := svc.AttemptSummary(context.Background(), AttemptSummaryRequest{Range: r})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if out.VoiceAttempts != 2 || out.Connected != 1 || out.NoAnswer != 1 || out.DialFailures != 1 || out.Busy != 0 {
		t.Fatalf("unexpected voice metrics %+v", out)
	}
	if out.ChannelDispatched != 1 || out.DispatchFailures != 1 || out.ChannelResponded != 1 || out.ChannelByKind[workitem.AttemptSMS] != 1 {
		t.Fatalf("unexpected channel metrics %+v", out)
	}
	if out.ConnectionRate != 0.5 || out.ResponseRate != 1 {
		t.Fatalf("unexpected rates %+v", out)
	}

	one, err := svc.AttemptSummary(context.Background(), AttemptSummaryRequest{AccountID: "a", Range: r})
	if err != nil || one.VoiceAttempts != 2 || one.ChannelDispatched != 0 {
		t.Fatalf("unexpected account summary %+v, %v", one, err)
	}

	if _, err := svc.AttemptSummary(context.Background(), AttemptSummaryRequest{Range: TimeRange{From: now, To: now}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
