package client

import (
	"sort"
	"sync"

	"realtime-chat/internal/models"
)

// Store is the reconciliation layer: it merges optimistic sends, server
// broadcasts, and history fetches into one deduplicated message set. Views
// are ordered by timestamp at render time; insertion order only matters to
// the dedup bookkeeping.
//
// Optimistic rows are keyed by the client id attached at send time. The
// server echoes that id in the broadcast, so the echo replaces the temporary
// row instead of coexisting with it as a duplicate.
type Store struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	seen     map[string]struct{}
	pending  map[string]struct{}
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{
		messages: make(map[string]*models.Message),
		seen:     make(map[string]struct{}),
		pending:  make(map[string]struct{}),
	}
}

// ApplyOptimistic inserts the local copy of a just-sent message under its
// client id, before any server confirmation.
func (s *Store) ApplyOptimistic(msg models.Message) {
	if msg.ClientID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = msg.ClientID
	}
	if _, dup := s.seen[msg.ID]; dup {
		return
	}
	s.seen[msg.ID] = struct{}{}
	s.pending[msg.ClientID] = struct{}{}
	s.messages[msg.ID] = &msg
	s.bumpParentLocked(msg.ParentID)
}

// Apply merges one server event into the store.
func (s *Store) Apply(event any) {
	switch ev := event.(type) {
	case *models.MessageEvent:
		s.applyMessage(ev.Message)
	case models.MessageEvent:
		s.applyMessage(ev.Message)
	case *models.ReactionEvent:
		s.applyReaction(*ev)
	case models.ReactionEvent:
		s.applyReaction(ev)
	}
}

func (s *Store) applyMessage(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ClientID != "" {
		if _, ok := s.pending[m.ClientID]; ok {
			// Server echo of our own optimistic send: re-key the temporary
			// row to the server id. The parent counter was already bumped
			// when the optimistic row went in.
			delete(s.pending, m.ClientID)
			delete(s.messages, m.ClientID)
			s.seen[m.ID] = struct{}{}
			s.messages[m.ID] = &m
			return
		}
	}

	if _, dup := s.seen[m.ID]; dup {
		return
	}
	s.seen[m.ID] = struct{}{}
	s.messages[m.ID] = &m
	s.bumpParentLocked(m.ParentID)
}

// ApplyHistory merges a history fetch. Rows already known (by id) are kept
// as-is; new rows carry server-side counters, so no local parent bump.
func (s *Store) ApplyHistory(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		m := m
		s.seen[m.ID] = struct{}{}
		s.messages[m.ID] = &m
	}
}

func (s *Store) applyReaction(ev models.ReactionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[ev.MessageID]
	if !ok {
		return
	}

	switch ev.Action {
	case models.ReactionAdded:
		if msg.Reactions == nil {
			msg.Reactions = map[string][]string{}
		}
		for _, id := range msg.Reactions[ev.Emoji] {
			if id == ev.UserID {
				return
			}
		}
		msg.Reactions[ev.Emoji] = append(msg.Reactions[ev.Emoji], ev.UserID)
	case models.ReactionRemoved:
		users := msg.Reactions[ev.Emoji]
		for i, id := range users {
			if id == ev.UserID {
				users = append(users[:i], users[i+1:]...)
				break
			}
		}
		if len(users) == 0 {
			delete(msg.Reactions, ev.Emoji)
			if len(msg.Reactions) == 0 {
				msg.Reactions = nil
			}
		} else {
			msg.Reactions[ev.Emoji] = users
		}
	}
}

func (s *Store) bumpParentLocked(parentID string) {
	if parentID == "" {
		return
	}
	if parent, ok := s.messages[parentID]; ok {
		parent.ReplyCount++
		parent.HasReplies = true
	}
}

// cloneMessage copies a message along with its reactions map, so callers can
// mutate what they get back without reaching into store state.
func cloneMessage(m models.Message) models.Message {
	if m.Reactions != nil {
		reactions := make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			reactions[emoji] = append([]string(nil), users...)
		}
		m.Reactions = reactions
	}
	return m
}

// Message returns a copy of one message by id.
func (s *Store) Message(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.messages[id]; ok {
		return cloneMessage(*msg), true
	}
	return models.Message{}, false
}

// View returns the ordered messages for a channel, DM, or thread id:
// top-level messages of that conversation, or replies under that parent.
func (s *Store) View(id string) []models.Message {
	s.mu.Lock()
	out := make([]models.Message, 0)
	for _, msg := range s.messages {
		if (msg.Scope() == id && msg.ParentID == "") || msg.ParentID == id {
			out = append(out, cloneMessage(*msg))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
