package models

import "time"

// PresenceRecord is the workspace-scoped online state for one user.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}
