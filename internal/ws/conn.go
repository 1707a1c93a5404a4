package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// netConn is the slice of *websocket.Conn the gateway needs. Tests substitute
// an in-memory fake.
type netConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is the ephemeral server-side handle to one socket. UserID stays empty
// until the auth frame succeeds; no other frame is processed before that.
type Conn struct {
	ws netConn

	mu        sync.Mutex
	userID    string
	channelID string
	isDM      bool
	alive     bool

	writeMu sync.Mutex

	ConnID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConn(ws netConn) *Conn {
	return &Conn{
		ws:          ws,
		alive:       true,
		ConnID:      uuid.NewString(),
		ConnectedAt: time.Now(),
	}
}

// UserID returns the authenticated user id, or "" before auth.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) setUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// Channel returns the channel this socket is scoped to and whether it is a DM.
func (c *Conn) Channel() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID, c.isDM
}

func (c *Conn) setChannel(channelID string, isDM bool) {
	c.mu.Lock()
	c.channelID = channelID
	c.isDM = isDM
	c.mu.Unlock()
}

// Alive reports whether the last heartbeat round was answered.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *Conn) setAlive(v bool) {
	c.mu.Lock()
	c.alive = v
	c.mu.Unlock()
}

// Send marshals and writes one frame. gorilla allows a single concurrent
// writer, so writes are serialized here. A send to a closed socket returns an
// error the caller may ignore.
func (c *Conn) Send(frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) ping(deadline time.Time) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// Terminate force-closes the underlying socket; the read loop observes the
// close and runs the normal cleanup path.
func (c *Conn) Terminate() {
	_ = c.ws.Close()
}
