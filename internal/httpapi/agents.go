package httpapi

import (
	"fmt"
	"net/http"

	"collections-orchestrator/internal/agents"
	"collections-orchestrator/internal/audit"

	"github.com/gin-gonic/gin"
)

func (h Handlers) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": h.Agents.Snapshot()})
}

type agentProfileRequest struct {
	Name                   string         `json:"name" binding:"max=200"`
	Skills                 map[string]int `json:"skills" binding:"max=32,dive,keys,required,max=64,endkeys,gte=0,lte=100"`
	HistoricalRecoveryRate float64        `json:"historical_recovery_rate" binding:"gte=0,lte=1"`
}

// PutAgent registers an agent or updates its profile. New agents start Offline.
func (h Handlers) PutAgent(c *gin.Context) {
	var req agentProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.Agents.Upsert(agents.Agent{
		ID:                     c.Param("id"),
		Name:                   req.Name,
		Skills:                 req.Skills,
		HistoricalRecoveryRate: req.HistoricalRecoveryRate,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), audit.EventTypeAgentProfile, "", a.ID, "agent profile updated", req)
	c.JSON(http.StatusOK, a)
}

type agentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetAgentStatus changes an agent's presence. Break/Offline requested mid-call is
// applied when the call is released.
func (h Handlers) SetAgentStatus(c *gin.Context) {
	var req agentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	status, err := agents.ParseStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	a, err := h.Agents.SetStatus(c.Param("id"), status)
	if err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), audit.EventTypeAgentStatus, a.CurrentAssignment, a.ID,
		fmt.Sprintf("status %s requested", status), map[string]any{"requested": status, "status": a.Status, "pending": a.PendingStatus})
	c.JSON(http.StatusOK, a)
}
