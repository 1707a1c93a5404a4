package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime-chat/internal/models"
	"realtime-chat/internal/repositories"
)

// HistoryHandler serves channel and thread message history. The realtime
// client merges these fetches with live broadcasts.
type HistoryHandler struct {
	channels  repositories.ChannelRepository
	messages  repositories.MessageRepository
	reactions repositories.ReactionRepository
	users     repositories.UserRepository
}

// NewHistoryHandler builds a HistoryHandler.
func NewHistoryHandler(channels repositories.ChannelRepository, messages repositories.MessageRepository, reactions repositories.ReactionRepository, users repositories.UserRepository) *HistoryHandler {
	return &HistoryHandler{
		channels:  channels,
		messages:  messages,
		reactions: reactions,
		users:     users,
	}
}

// GetChannelMessages returns a channel's top-level messages with sender names
// and reaction sets resolved server-side.
func (h *HistoryHandler) GetChannelMessages(c *gin.Context) {
	channelID := c.Param("channel_id")
	userID := c.GetString("userID")

	if _, err := h.channels.GetChannel(c.Request.Context(), channelID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrChannelNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "channel not found"})
		return
	}

	member, err := h.channels.IsMember(c.Request.Context(), channelID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a channel member"})
		return
	}

	msgs, err := h.messages.ListChannelMessages(c.Request.Context(), channelID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	msgs, err = h.enrich(c, msgs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load message details"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetThreadMessages returns a parent message and its replies.
func (h *HistoryHandler) GetThreadMessages(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := c.GetString("userID")

	parent, err := h.messages.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}

	member, err := h.channels.IsMember(c.Request.Context(), parent.ChannelID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a channel member"})
		return
	}

	replies, err := h.messages.ListThreadMessages(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load thread"})
		return
	}

	all := append([]models.Message{parent}, replies...)
	all, err = h.enrich(c, all)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load message details"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"parent": all[0], "messages": all[1:]})
}

// enrich attaches sender display names and reaction sets.
func (h *HistoryHandler) enrich(c *gin.Context, msgs []models.Message) ([]models.Message, error) {
	senderIDs := make([]string, 0, len(msgs))
	messageIDs := make([]string, 0, len(msgs))
	seen := map[string]struct{}{}
	for _, m := range msgs {
		messageIDs = append(messageIDs, m.ID)
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	names, err := h.users.ResolveUsernames(c.Request.Context(), senderIDs)
	if err != nil {
		return nil, err
	}
	reactions, err := h.reactions.ListForMessages(c.Request.Context(), messageIDs)
	if err != nil {
		return nil, err
	}

	for i := range msgs {
		msgs[i].SenderName = names[msgs[i].SenderID]
		msgs[i].Reactions = reactions[msgs[i].ID]
	}
	return msgs, nil
}
