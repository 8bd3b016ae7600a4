package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Records are not exposed through the public API.
// - Callers treat audit logging as best-effort; Record logs failures instead of returning them.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log.With("component", "audit"), clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.Message == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Record appends an event attributed to the actor carried by ctx. details, when not
// nil, is stored as JSON metadata. Failures are logged and swallowed.
func (s *Service) Record(ctx context.Context, typ EventType, accountID, agentID, message string, details any) {
	if s == nil {
		return
	}
	actor := ActorFrom(ctx)
	e := Event{
		Type:      typ,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		IPAddress: actor.IP,
		AccountID: accountID,
		AgentID:   agentID,
		Message:   message,
	}
	if details != nil {
		b, err := json.Marshal(details)
		if err == nil {
			e.Metadata = string(b)
		}
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "type", typ, "account_id", accountID, "err", err)
	}
}
