package routing

import (
	"context"

	"collections-orchestrator/internal/audit"
)

// AuditAdapter bridges the pin audit hook to the shared audit.Service.
//
// This keeps routing internals from depending on persistence.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogPinApplied(ctx context.Context, e PinAuditEvent) error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.Append(ctx, audit.Event{
		Type:      audit.EventTypePinApplied,
		ActorID:   e.CreatedBy,
		AccountID: e.AccountID,
		AgentID:   e.AgentID,
		Message:   "agent pin applied",
		CreatedAt: e.AppliedAt,
	})
}
