package models

import "time"

// Message is the canonical chat message, shared by the server fanout path and
// the client-side store. Exactly one of ChannelID/DMID is set. Reactions maps
// an emoji to the set of user ids that currently carry it.
type Message struct {
	ID         string              `db:"id" json:"id"`
	Content    string              `db:"content" json:"content"`
	SenderID   string              `db:"sender_id" json:"sender_id"`
	SenderName string              `json:"sender_name,omitempty"`
	ChannelID  string              `db:"channel_id" json:"channel_id,omitempty"`
	DMID       string              `json:"dm_id,omitempty"`
	ParentID   string              `db:"parent_id" json:"parent_id,omitempty"`
	ClientID   string              `json:"client_id,omitempty"`
	Timestamp  time.Time           `db:"created_at" json:"timestamp"`
	Reactions  map[string][]string `json:"reactions,omitempty"`
	HasReplies bool                `db:"has_replies" json:"has_replies"`
	ReplyCount int                 `db:"reply_count" json:"reply_count"`
}

// Scope returns the conversation id the message belongs to.
func (m Message) Scope() string {
	if m.DMID != "" {
		return m.DMID
	}
	return m.ChannelID
}

// Channel is a named multi-member conversation. A DM is a two-member channel
// with IsDM set.
type Channel struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsDM      bool      `db:"is_dm" json:"is_dm"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
