package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime-chat/internal/repositories"
	"realtime-chat/internal/ws"
)

// ReactionHandler is the REST entry point for reaction toggles; the resulting
// delta is fanned out to the message's channel.
type ReactionHandler struct {
	fanout *ws.Fanout
}

// NewReactionHandler builds a ReactionHandler.
func NewReactionHandler(fanout *ws.Fanout) *ReactionHandler {
	return &ReactionHandler{fanout: fanout}
}

// Toggle flips the caller's reaction on a message and broadcasts the delta.
func (h *ReactionHandler) Toggle(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := c.GetString("userID")

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.fanout.ToggleReaction(c.Request.Context(), userID, messageID, req.Emoji)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		case errors.Is(err, ws.ErrNotChannelMember):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a channel member"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not toggle reaction"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"action": event.Action})
}
