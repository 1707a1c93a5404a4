package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/repositories"
)

// ErrNotChannelMember is returned when the membership oracle rejects the user.
var ErrNotChannelMember = errors.New("not a member of this channel")

// Fanout delivers events to every live connection in a channel's registry
// set. Delivery is best-effort: no acks, no retries, no ordering across
// channels. Chat messages are persisted before they are broadcast; nothing
// else in the fanout path blocks on a remote acknowledgment.
type Fanout struct {
	registry  *Registry
	messages  repositories.MessageRepository
	reactions repositories.ReactionRepository
	users     repositories.UserRepository
	channels  repositories.ChannelRepository
}

// NewFanout constructs a Fanout.
func NewFanout(registry *Registry, messages repositories.MessageRepository, reactions repositories.ReactionRepository, users repositories.UserRepository, channels repositories.ChannelRepository) *Fanout {
	return &Fanout{
		registry:  registry,
		messages:  messages,
		reactions: reactions,
		users:     users,
		channels:  channels,
	}
}

// Publish sends one event to every connection in the channel. A write failure
// on one socket closes that socket and removes it from the registry; the
// remaining recipients still get the event.
func (f *Fanout) Publish(channelID string, event any) {
	for _, c := range f.registry.Connections(channelID) {
		if err := c.Send(event); err != nil {
			log.Printf("websocket write error: %v", err)
			c.Terminate()
			f.registry.RemoveConn(c)
			publishConnEvent(context.Background(), c, "ws_error", err.Error())
		}
	}
	observability.IncFanoutDelivery(eventName(event))
}

// HandleMessage persists a chat message, resolves the sender's display name,
// and broadcasts the canonical message. A persistence failure is reported to
// the sender only; no broadcast happens.
func (f *Fanout) HandleMessage(ctx context.Context, c *Conn, frame *models.MessageFrame) {
	if frame.Content == "" {
		_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Message content required"})
		return
	}
	if !f.registry.Contains(frame.ChannelID, c) {
		_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Not a member of this channel"})
		return
	}

	msg, err := f.messages.Insert(ctx, repositories.InsertMessageParams{
		ChannelID: frame.ChannelID,
		SenderID:  c.UserID(),
		ParentID:  frame.ParentID,
		Content:   frame.Content,
	})
	if err != nil {
		log.Printf("message insert failed: %v", err)
		_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Failed to send message"})
		return
	}

	username, err := f.users.ResolveUsername(ctx, c.UserID())
	if err != nil {
		log.Printf("username resolution failed: %v", err)
	}
	msg.SenderName = username
	msg.ClientID = frame.ClientID
	if _, isDM := c.Channel(); isDM {
		msg.DMID = msg.ChannelID
		msg.ChannelID = ""
	}

	f.Publish(frame.ChannelID, models.MessageEvent{Type: models.FrameMessage, Message: msg})
}

// HandleTyping resolves the display name and broadcasts immediately; typing
// announcements are never persisted and never rate limited server-side.
func (f *Fanout) HandleTyping(ctx context.Context, c *Conn, frame *models.TypingFrame) {
	if !f.registry.Contains(frame.ChannelID, c) {
		_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Not a member of this channel"})
		return
	}

	username, err := f.users.ResolveUsername(ctx, c.UserID())
	if err != nil {
		log.Printf("username resolution failed: %v", err)
	}

	f.Publish(frame.ChannelID, models.TypingEvent{
		Type:      models.FrameTyping,
		ChannelID: frame.ChannelID,
		UserID:    c.UserID(),
		Username:  username,
		Timestamp: time.Now().UTC(),
	})
}

// HandleRead broadcasts a read marker as-is.
func (f *Fanout) HandleRead(ctx context.Context, c *Conn, frame *models.ReadFrame) {
	if !f.registry.Contains(frame.ChannelID, c) {
		_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Not a member of this channel"})
		return
	}

	f.Publish(frame.ChannelID, models.ReadEvent{
		Type:      models.FrameRead,
		ChannelID: frame.ChannelID,
		MessageID: frame.MessageID,
		UserID:    c.UserID(),
	})
}

// ToggleReaction flips a user's reaction in the store first, then publishes
// the resulting delta to the message's channel. Entered via the REST handler.
func (f *Fanout) ToggleReaction(ctx context.Context, userID, messageID, emoji string) (models.ReactionEvent, error) {
	msg, err := f.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.ReactionEvent{}, err
	}

	member, err := f.channels.IsMember(ctx, msg.ChannelID, userID)
	if err != nil {
		return models.ReactionEvent{}, err
	}
	if !member {
		return models.ReactionEvent{}, ErrNotChannelMember
	}

	action, err := f.reactions.Toggle(ctx, messageID, userID, emoji)
	if err != nil {
		return models.ReactionEvent{}, err
	}

	event := models.ReactionEvent{
		Type:      models.FrameReaction,
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		Action:    action,
		ParentID:  msg.ParentID,
	}
	f.Publish(msg.ChannelID, event)
	return event, nil
}

func eventName(event any) string {
	switch event.(type) {
	case models.MessageEvent:
		return models.FrameMessage
	case models.TypingEvent:
		return models.FrameTyping
	case models.ReactionEvent:
		return models.FrameReaction
	case models.ReadEvent:
		return models.FrameRead
	case models.PresenceEvent:
		return models.FramePresence
	default:
		return "other"
	}
}
