package httpapi

import (
	"net/http"
	"time"

	"collections-orchestrator/internal/reporting"

	"github.com/gin-gonic/gin"
)

func (h Handlers) Dashboard(c *gin.Context) {
	c.JSON(http.StatusOK, h.Reports.Dashboard(c.Request.Context()))
}

type attemptSummaryQuery struct {
	AccountID string    `form:"account_id" binding:"max=64"`
	From      time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00" binding:"required"`
	To        time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00" binding:"required"`
}

// AttemptSummary aggregates contact attempts in [from, to).
func (h Handlers) AttemptSummary(c *gin.Context) {
	var q attemptSummaryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Reports.AttemptSummary(c.Request.Context(), reporting.AttemptSummaryRequest{
		AccountID: q.AccountID,
		Range:     reporting.TimeRange{From: q.From, To: q.To},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
