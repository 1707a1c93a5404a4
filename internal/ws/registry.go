package ws

import "sync"

// Registry maps channel ids to the live, authenticated connections currently
// subscribed to them. It is an injected service, not a package singleton, so
// it can be sharded and mocked.
//
// Membership in a set means the membership oracle confirmed the user at join
// time; it is not re-verified per broadcast. A member revoked mid-session
// keeps receiving events until their socket closes, a deliberate staleness
// window bounded by reconnection frequency.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[*Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]map[*Conn]struct{})}
}

// Add registers a connection under a channel. The caller gates membership.
func (r *Registry) Add(channelID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelID]; !ok {
		r.channels[channelID] = make(map[*Conn]struct{})
	}
	r.channels[channelID][c] = struct{}{}
}

// Remove drops a connection from one channel; empty sets are deleted.
func (r *Registry) Remove(channelID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conns, ok := r.channels[channelID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.channels, channelID)
		}
	}
}

// RemoveConn drops a connection from every channel it belongs to. Runs on
// socket close; O(channels), acceptable at this scale.
func (r *Registry) RemoveConn(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for channelID, conns := range r.channels {
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.channels, channelID)
		}
	}
}

// Connections returns a copy of the channel's connection set so broadcasting
// tolerates concurrent join/leave.
func (r *Registry) Connections(channelID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.channels[channelID]))
	for c := range r.channels[channelID] {
		conns = append(conns, c)
	}
	return conns
}

// Contains reports whether the connection is subscribed to the channel.
func (r *Registry) Contains(channelID string, c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[channelID][c]
	return ok
}

// Len reports the number of connections in a channel's set.
func (r *Registry) Len(channelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channelID])
}
