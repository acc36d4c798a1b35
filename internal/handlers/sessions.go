package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/max-delvita/scheduler-v4/internal/repository"
)

// GetSession returns one session by id. Sessions are never deleted, so
// terminal sessions stay queryable as an audit trail.
func (h *Handlers) GetSession(c *gin.Context) {
	session, err := h.repo.GetSession(c.Param("id"))
	if err == repository.ErrSessionNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetSessionMessages returns a session's messages in conversation order.
func (h *Handlers) GetSessionMessages(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.repo.GetSession(id); err == repository.ErrSessionNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	messages, err := h.repo.ListMessages(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": messages})
}

// GetQuarantine lists recently quarantined loop messages for forensic review.
func (h *Handlers) GetQuarantine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	quarantined, err := h.repo.ListQuarantined(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarantined": quarantined})
}
