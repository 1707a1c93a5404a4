package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame types exchanged over the websocket. Every frame is a flat JSON object
// tagged by "type"; each tag has its own payload struct and is decoded through
// an exhaustive switch instead of one loosely-typed catch-all.
const (
	FrameAuth     = "auth"
	FrameMessage  = "message"
	FrameTyping   = "typing"
	FrameRead     = "read"
	FrameJoined   = "joined"
	FrameReaction = "reaction"
	FramePresence = "presence"
	FrameError    = "error"
)

// Reaction delta actions.
const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

// ErrMalformedFrame reports a payload that could not be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// AuthFrame must be the first frame on every connection.
type AuthFrame struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	ChannelID string `json:"channel_id,omitempty"`
	IsDM      bool   `json:"is_dm,omitempty"`
}

// MessageFrame carries an outgoing chat message. ClientID is the sender's
// temporary id, echoed back in the broadcast so the sender can reconcile its
// optimistic copy.
type MessageFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	ChannelID string `json:"channel_id"`
	ParentID  string `json:"parent_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
}

// TypingFrame announces that the sender is typing in a channel.
type TypingFrame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// ReadFrame marks a message as read; it is broadcast as-is.
type ReadFrame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// JoinedFrame acknowledges a successful channel join.
type JoinedFrame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// ErrorFrame reports an error to one client. Terminal only during auth.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// MessageEvent is the broadcast form of a chat message.
type MessageEvent struct {
	Type string `json:"type"`
	Message
}

// TypingEvent is the broadcast form of a typing announcement.
type TypingEvent struct {
	Type      string    `json:"type"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// ReactionEvent is a delta, not a snapshot: every client applies the same
// idempotent merge instead of trusting a full reactions map that could race.
type ReactionEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	Action    string `json:"action"`
	ParentID  string `json:"parent_id,omitempty"`
}

// ReadEvent is the broadcast form of a read marker.
type ReadEvent struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

// PresenceEvent carries one workspace-scoped presence update.
type PresenceEvent struct {
	Type string `json:"type"`
	PresenceRecord
}

// DecodeClientFrame parses a frame received from a client into its typed
// variant.
func DecodeClientFrame(data []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch head.Type {
	case FrameAuth:
		var f AuthFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	case FrameMessage:
		var f MessageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	case FrameTyping:
		var f TypingFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	case FrameRead:
		var f ReadFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, head.Type)
	}
}

// DecodeServerFrame parses a frame received from the server into its typed
// variant. Used by the client package.
func DecodeServerFrame(data []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch head.Type {
	case FrameJoined:
		var f JoinedFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	case FrameMessage:
		var f MessageEvent
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	case FrameTyping:
		var f TypingEvent
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	case FrameReaction:
		var f ReactionEvent
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	case FrameRead:
		var f ReadEvent
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	case FramePresence:
		var f PresenceEvent
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	case FrameError:
		var f ErrorFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, head.Type)
	}
}
