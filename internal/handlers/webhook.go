package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/workflow"
)

// InboundWebhook handles inbound email events from the provider. It always
// responds with 200: the provider retries on failure, and redelivery of a
// payload that was partially processed would duplicate sessions and sends.
// Idempotency lives in message-id dedup, not in the HTTP status.
func (h *Handlers) InboundWebhook(c *gin.Context) {
	var payload mail.InboundPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		logrus.Warnf("Ignoring malformed inbound payload: %v", err)
		c.JSON(http.StatusOK, workflow.Outcome{Status: workflow.OutcomeIgnored})
		return
	}

	outcome := h.workflow.HandleInbound(c.Request.Context(), &payload)
	c.JSON(http.StatusOK, outcome)
}

// RunNudgeSweep triggers one full nudge sweep. Idempotent and safe to
// invoke repeatedly on a schedule.
func (h *Handlers) RunNudgeSweep(c *gin.Context) {
	summary := h.sweeper.Sweep(c.Request.Context())
	c.JSON(http.StatusOK, summary)
}
