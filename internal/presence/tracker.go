// Package presence tracks workspace-scoped online state. Updates are
// debounced per user so reconnect churn does not flood subscribers.
package presence

import (
	"sync"
	"time"

	"realtime-chat/internal/models"
)

// DefaultDebounce is the anti-flap window: announcements for the same user
// closer together than this are dropped.
const DefaultDebounce = time.Second

// Tracker is a process-wide user -> {online, lastSeen} map with a
// subscriber fan-out for incremental updates.
type Tracker struct {
	mu       sync.Mutex
	debounce time.Duration
	records  map[string]models.PresenceRecord
	accepted map[string]time.Time
	subs     map[int]chan models.PresenceRecord
	nextSub  int
	now      func() time.Time
}

// NewTracker builds a Tracker with the given debounce window.
func NewTracker(debounce time.Duration) *Tracker {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Tracker{
		debounce: debounce,
		records:  make(map[string]models.PresenceRecord),
		accepted: make(map[string]time.Time),
		subs:     make(map[int]chan models.PresenceRecord),
		now:      time.Now,
	}
}

// Announce records an online/offline transition for a user. It reports
// whether the announcement was accepted; announcements inside the debounce
// window of the previous accepted one are dropped.
func (t *Tracker) Announce(userID string, online bool) bool {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.accepted[userID]; ok && now.Sub(last) < t.debounce {
		t.mu.Unlock()
		return false
	}
	t.accepted[userID] = now

	rec := models.PresenceRecord{UserID: userID, IsOnline: online, LastSeen: now}
	t.records[userID] = rec

	subs := make([]chan models.PresenceRecord, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- rec:
		default:
			// Slow subscriber, drop rather than block the announcer.
		}
	}
	return true
}

// Snapshot returns the current presence of every known user.
func (t *Tracker) Snapshot() []models.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.PresenceRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out
}

// Subscribe registers for incremental updates. The returned id is passed to
// Unsubscribe when done.
func (t *Tracker) Subscribe() (int, <-chan models.PresenceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	sub := make(chan models.PresenceRecord, 64)
	t.subs[id] = sub
	return id, sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (t *Tracker) Unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(sub)
	}
}
