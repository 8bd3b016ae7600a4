package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"collections-orchestrator/internal/audit"
	"collections-orchestrator/internal/escalation"
	"collections-orchestrator/internal/routing"

	"github.com/gin-gonic/gin"
)

func (h Handlers) GetSequence(c *gin.Context) {
	c.JSON(http.StatusOK, h.Engine.Sequence())
}

// PutSequence replaces the channel sequence. Running escalations keep their snapshot.
func (h Handlers) PutSequence(c *gin.Context) {
	var seq escalation.Sequence
	if err := c.ShouldBindJSON(&seq); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Engine.ConfigureSequence(c.Request.Context(), seq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type pinRequest struct {
	AgentID   string    `json:"agent_id" binding:"required,max=64"`
	ExpiresAt time.Time `json:"expires_at" binding:"required"`
}

// PutPin asks the router to prefer one agent for an account until ExpiresAt.
func (h Handlers) PutPin(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	pin := routing.Pin{
		AccountID: c.Param("accountId"),
		AgentID:   req.AgentID,
		ExpiresAt: req.ExpiresAt.UTC(),
		CreatedBy: audit.ActorFrom(ctx).ID,
	}
	if _, err := h.Agents.Get(pin.AgentID); err != nil {
		writeError(c, err)
		return
	}
	if err := h.Pins.Set(ctx, pin); err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(ctx, audit.EventTypeAgentPin, pin.AccountID, pin.AgentID,
		fmt.Sprintf("pin set until %s", pin.ExpiresAt.Format(time.RFC3339)), pin)
	c.JSON(http.StatusOK, pin)
}

func (h Handlers) DeletePin(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := c.Param("accountId")
	if err := h.Pins.Clear(ctx, accountID); err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(ctx, audit.EventTypeAgentPin, accountID, "", "pin cleared", nil)
	c.Status(http.StatusNoContent)
}
