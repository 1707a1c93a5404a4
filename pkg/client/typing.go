package client

import (
	"sort"
	"sync"
	"time"

	"realtime-chat/internal/models"
)

// typingTimeout is how long a typing announcement stays visible; a newer
// announcement from the same user supersedes the previous one.
const typingTimeout = 3 * time.Second

// TypingView tracks who is currently typing in one channel. Announcements
// are transient and never stored beyond the timeout.
type TypingView struct {
	mu      sync.Mutex
	entries map[string]typingEntry
	now     func() time.Time
}

type typingEntry struct {
	username string
	at       time.Time
}

// NewTypingView builds an empty view.
func NewTypingView() *TypingView {
	return &TypingView{
		entries: make(map[string]typingEntry),
		now:     time.Now,
	}
}

// Apply records a typing announcement.
func (v *TypingView) Apply(ev models.TypingEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[ev.UserID] = typingEntry{username: ev.Username, at: v.now()}
}

// Active returns the usernames with a live (non-expired) announcement.
func (v *TypingView) Active() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	cutoff := v.now().Add(-typingTimeout)
	names := make([]string, 0, len(v.entries))
	for userID, e := range v.entries {
		if e.at.Before(cutoff) {
			delete(v.entries, userID)
			continue
		}
		names = append(names, e.username)
	}
	sort.Strings(names)
	return names
}
