package httpapi

import (
	"net/http"
	"time"

	"collections-orchestrator/internal/calls"
	"collections-orchestrator/internal/channels"
	"collections-orchestrator/internal/dialer"
	"collections-orchestrator/internal/workitem"

	"github.com/gin-gonic/gin"
)

type enqueueRequest struct {
	AccountID  string `json:"account_id" binding:"required,max=64"`
	DebtorName string `json:"debtor_name" binding:"max=200"`
	Phone      string `json:"phone" binding:"required,max=32"`
	Email      string `json:"email" binding:"omitempty,email"`
	WhatsApp   string `json:"whatsapp" binding:"max=32"`

	RequiredSkills []string `json:"required_skills" binding:"max=16,dive,required,max=64"`

	RecoveryProbability *float64   `json:"recovery_probability" binding:"required,gte=0,lte=100"`
	DaysPastDue         int        `json:"days_past_due" binding:"gte=0"`
	PreviousAttempts    int        `json:"previous_attempts" binding:"gte=0"`
	LastContactAt       *time.Time `json:"last_contact_at"`

	// BestCallWindow is "HH:MM-HH:MM" in Timezone (IANA, default UTC).
	BestCallWindow string `json:"best_call_window"`
	Timezone       string `json:"timezone"`
}

// EnqueueWorkItem puts an account into the voice queue.
func (h Handlers) EnqueueWorkItem(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	window, err := workitem.ParseCallWindow(req.BestCallWindow, req.Timezone)
	if err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.Engine.Enqueue(c.Request.Context(), workitem.WorkItem{
		AccountID:           req.AccountID,
		DebtorName:          req.DebtorName,
		Phone:               req.Phone,
		Email:               req.Email,
		WhatsApp:            req.WhatsApp,
		RequiredSkills:      req.RequiredSkills,
		RecoveryProbability: *req.RecoveryProbability,
		DaysPastDue:         req.DaysPastDue,
		PreviousAttempts:    req.PreviousAttempts,
		LastContactAt:       req.LastContactAt,
		BestCallWindow:      window,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h Handlers) GetWorkItem(c *gin.Context) {
	item, err := h.Engine.Item(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h Handlers) CallStarted(c *gin.Context) {
	if err := h.Engine.ReportCallStarted(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type callOutcomeRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

func (h Handlers) CallOutcome(c *gin.Context) {
	var req callOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	outcome, err := calls.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Engine.ReportCallOutcome(c.Request.Context(), c.Param("id"), outcome); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type channelOutcomeRequest struct {
	StepIndex *int   `json:"step_index" binding:"required,gte=0"`
	Result    string `json:"result" binding:"required"`
}

func (h Handlers) ChannelOutcome(c *gin.Context) {
	var req channelOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := channels.ParseResult(req.Result)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Engine.ReportChannelOutcome(c.Request.Context(), c.Param("id"), *req.StepIndex, result); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type signalRequest struct {
	AccountID string `json:"account_id" binding:"required,max=64"`
	Signal    string `json:"signal" binding:"required"`
}

// Signal applies a billing or compliance signal. Unknown accounts are accepted and
// ignored by the engine, so the caller always gets 202 for a well-formed signal.
func (h Handlers) Signal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sig, err := dialer.ParseSignal(req.Signal)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Engine.ReportExternalSignal(c.Request.Context(), req.AccountID, sig); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h Handlers) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Engine.QueueSnapshot(), "active_calls": h.Engine.ActiveCalls()})
}
