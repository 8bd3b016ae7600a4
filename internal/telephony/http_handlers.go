package telephony

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"collections-orchestrator/internal/calls"
	"collections-orchestrator/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallEventSink receives call progress derived from provider callbacks.
type CallEventSink interface {
	ReportCallStarted(ctx context.Context, workItemID string) error
	ReportCallOutcome(ctx context.Context, workItemID string, outcome calls.Outcome) error
}

// TwilioWebhookHandler converts Twilio voice webhooks to internal call events and
// writes TwiML. No business logic here.
type TwilioWebhookHandler struct {
	Sink CallEventSink

	// AuthToken validates X-Twilio-Signature; empty disables validation (local only).
	AuthToken string
	// PublicBaseURL must match the URL Twilio signed.
	PublicBaseURL string

	AgentSIPDomain string
}

func (h TwilioWebhookHandler) verify(c *gin.Context) bool {
	if h.AuthToken == "" {
		return true
	}
	if err := c.Request.ParseForm(); err != nil {
		return false
	}
	full := strings.TrimRight(h.PublicBaseURL, "/") + c.Request.URL.RequestURI()
	return ValidateTwilioSignature(h.AuthToken, full, c.Request.PostForm, c.GetHeader("X-Twilio-Signature"))
}

// HandleBridge answers Twilio's fetch of BridgePath once the debtor picks up.
func (h TwilioWebhookHandler) HandleBridge(c *gin.Context) {
	log := logger.FromGin(c)
	if !h.verify(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}
	twiml, err := RenderAgentBridge(AgentSIPURI(c.Query("agent_id"), h.AgentSIPDomain))
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// HandleStatus maps a status callback to ReportCallStarted / ReportCallOutcome.
func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call sink not configured"})
		return
	}
	if !h.verify(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}
	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil || form.AccountID == "" {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ctx := c.Request.Context()
	status := form.Status()
	log = log.With("account_id", form.AccountID, "call_sid", form.CallSid, "call_status", status)

	if status == calls.CallStatusInProgress {
		err = h.Sink.ReportCallStarted(ctx, form.AccountID)
	} else if outcome, ok := calls.OutcomeFor(status, form.AnsweredBy); ok {
		err = h.Sink.ReportCallOutcome(ctx, form.AccountID, outcome)
	} else {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		// Twilio retries on 5xx only; stale or duplicate callbacks are acknowledged.
		log.Warn("call event rejected", "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "timeout"})
			return
		}
	}
	c.Status(http.StatusNoContent)
}
