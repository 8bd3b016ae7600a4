package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"collections-orchestrator/internal/workitem"

	"github.com/google/uuid"
)

const TypeWorkItemTransitioned = "workitem.transitioned"

// Event is a lifecycle notification for downstream consumers (CRM timeline,
// analytics). Events are keyed by account so consumers see one account in order.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Publisher delivers events. Publish must not block on the broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// MemoryPublisher keeps events in memory. Useful for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// TransitionHook returns a workitem.Store OnChange hook publishing every committed
// transition. Publish failures are logged; they never fail the transition.
func TransitionHook(p Publisher, log *slog.Logger) func(workitem.Change) {
	if log == nil {
		log = slog.Default()
	}
	return func(c workitem.Change) {
		e := Event{
			ID:         uuid.NewString(),
			Type:       TypeWorkItemTransitioned,
			AccountID:  c.AccountID,
			OccurredAt: c.At,
			Data:       c,
		}
		if err := p.Publish(context.Background(), e); err != nil {
			log.Warn("event publish failed", "type", e.Type, "account_id", c.AccountID, "err", err)
		}
	}
}
