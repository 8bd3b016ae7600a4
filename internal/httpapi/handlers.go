package httpapi

import (
	"context"
	"errors"
	"net/http"

	"collections-orchestrator/internal/agents"
	"collections-orchestrator/internal/audit"
	"collections-orchestrator/internal/auth"
	"collections-orchestrator/internal/calls"
	"collections-orchestrator/internal/channels"
	"collections-orchestrator/internal/dialer"
	"collections-orchestrator/internal/escalation"
	"collections-orchestrator/internal/reporting"
	"collections-orchestrator/internal/routing"
	"collections-orchestrator/internal/workitem"
	"collections-orchestrator/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Orchestrator is the dialer engine surface exposed over HTTP.
type Orchestrator interface {
	Enqueue(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error)
	Item(accountID string) (workitem.WorkItem, error)
	ReportCallStarted(ctx context.Context, workItemID string) error
	ReportCallOutcome(ctx context.Context, workItemID string, outcome calls.Outcome) error
	ReportChannelOutcome(ctx context.Context, workItemID string, stepIndex int, result channels.Result) error
	ReportExternalSignal(ctx context.Context, accountID string, signal dialer.Signal) error
	Sequence() escalation.Sequence
	ConfigureSequence(ctx context.Context, seq escalation.Sequence) (escalation.Sequence, error)
	QueueSnapshot() []dialer.QueueEntry
	ActiveCalls() []calls.Call
}

// AgentDirectory is the agent pool's administrative surface.
type AgentDirectory interface {
	Upsert(a agents.Agent) (agents.Agent, error)
	SetStatus(agentID string, status agents.Status) (agents.Agent, error)
	Get(agentID string) (agents.Agent, error)
	Snapshot() []agents.Agent
}

// PinManager stores supervisor pins.
type PinManager interface {
	Set(ctx context.Context, p routing.Pin) error
	Clear(ctx context.Context, accountID string) error
}

// Reports serves the dashboard and attempt summaries.
type Reports interface {
	Dashboard(ctx context.Context) reporting.Dashboard
	AttemptSummary(ctx context.Context, req reporting.AttemptSummaryRequest) (reporting.AttemptSummary, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Engine  Orchestrator
	Agents  AgentDirectory
	Pins    PinManager
	Reports Reports
	Audit   *audit.Service
}

// ActorMiddleware attaches the authenticated caller and client IP to the request
// context for audit records. It must run after auth.RequireAccessToken.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id, _ := auth.IdentityFrom(ctx)
		ctx = audit.WithActor(ctx, audit.Actor{ID: id.UserID, Role: id.Role, IP: c.ClientIP()})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workitem.ErrNotFound), errors.Is(err, agents.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, workitem.ErrInvalidTransition),
		errors.Is(err, workitem.ErrAlreadyExists),
		errors.Is(err, workitem.ErrSuppressed),
		errors.Is(err, agents.ErrAgentUnavailable):
		return http.StatusConflict
	case errors.Is(err, workitem.ErrInvalidItem),
		errors.Is(err, dialer.ErrInvalidPhone),
		errors.Is(err, dialer.ErrUnknownSignal),
		errors.Is(err, calls.ErrUnknownOutcome),
		errors.Is(err, channels.ErrUnknownResult),
		errors.Is(err, escalation.ErrInvalidSequence),
		errors.Is(err, agents.ErrInvalidAgent),
		errors.Is(err, agents.ErrInvalidStatus),
		errors.Is(err, routing.ErrInvalidPin),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
}
