package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime-chat/internal/presence"
)

// PresenceHandler serves the workspace presence snapshot; incremental updates
// arrive over the websocket.
type PresenceHandler struct {
	tracker *presence.Tracker
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(tracker *presence.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

// Snapshot returns the presence of every known workspace member.
func (h *PresenceHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presence": h.tracker.Snapshot()})
}
