package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"realtime-chat/internal/identity"
	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/telemetry"
)

const (
	// heartbeatInterval is how often every connection is pinged. A socket
	// that has not answered by the next tick is terminated; this is the only
	// mechanism for reclaiming half-open sockets.
	heartbeatInterval = 30 * time.Second
	pingWriteTimeout  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config tunes gateway timers; zero values take the defaults above.
type Config struct {
	HeartbeatInterval time.Duration
}

// Gateway accepts sockets, requires an auth frame before any other frame, and
// runs the liveness heartbeat. It owns the set of live connections and the
// per-user socket refcounts that drive presence.
type Gateway struct {
	cfg      Config
	registry *Registry
	fanout   *Fanout
	channels repositories.ChannelRepository
	verifier identity.TokenVerifier
	presence *presence.Tracker
	audit    *telemetry.AuditEmitter

	mu        sync.Mutex
	conns     map[*Conn]struct{}
	userConns map[string]int

	done chan struct{}
	once sync.Once
}

// NewGateway constructs a Gateway. Call Run in a goroutine to start the
// heartbeat and presence forwarding.
func NewGateway(cfg Config, registry *Registry, fanout *Fanout, channels repositories.ChannelRepository, verifier identity.TokenVerifier, tracker *presence.Tracker, audit *telemetry.AuditEmitter) *Gateway {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = heartbeatInterval
	}
	return &Gateway{
		cfg:       cfg,
		registry:  registry,
		fanout:    fanout,
		channels:  channels,
		verifier:  verifier,
		presence:  tracker,
		audit:     audit,
		conns:     make(map[*Conn]struct{}),
		userConns: make(map[string]int),
		done:      make(chan struct{}),
	}
}

// Serve upgrades the connection and starts its read loop.
func (g *Gateway) Serve(c *gin.Context) {
	ctx, span := otel.Tracer("realtime-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := newConn(raw)
	conn.DeviceID = observability.DeviceIDFromRequest(c.Request)
	conn.IP = observability.IPFromRequest(c.Request)
	conn.RequestID = observability.RequestIDFromRequest(c.Request)
	conn.TraceID = span.SpanContext().TraceID().String()

	raw.SetPongHandler(func(string) error {
		conn.setAlive(true)
		return nil
	})

	g.mu.Lock()
	g.conns[conn] = struct{}{}
	g.mu.Unlock()

	go g.readLoop(context.WithoutCancel(ctx), conn)
}

// Run drives the heartbeat ticker and forwards presence updates to every
// authenticated connection. Blocks until Close.
func (g *Gateway) Run() {
	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()

	subID, updates := g.presence.Subscribe()
	defer g.presence.Unsubscribe(subID)

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.heartbeat()
		case rec, ok := <-updates:
			if !ok {
				return
			}
			g.broadcastPresence(rec)
		}
	}
}

// Close stops Run.
func (g *Gateway) Close() {
	g.once.Do(func() { close(g.done) })
}

func (g *Gateway) heartbeat() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		if !c.Alive() {
			log.Printf("terminating unresponsive connection %s", c.ConnID)
			c.Terminate()
			continue
		}
		c.setAlive(false)
		if err := c.ping(time.Now().Add(pingWriteTimeout)); err != nil {
			c.Terminate()
		}
	}
}

func (g *Gateway) broadcastPresence(rec models.PresenceRecord) {
	event := models.PresenceEvent{Type: models.FramePresence, PresenceRecord: rec}
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		if c.UserID() != "" {
			conns = append(conns, c)
		}
	}
	g.mu.Unlock()

	for _, c := range conns {
		_ = c.Send(event)
	}
	observability.IncPresenceUpdate(rec.IsOnline)
}

func (g *Gateway) readLoop(ctx context.Context, c *Conn) {
	var closeReason string
	defer func() {
		g.cleanup(ctx, c, closeReason)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishConnEvent(ctx, c, "ws_error", closeReason)
			}
			return
		}

		frame, err := models.DecodeClientFrame(data)
		if err != nil {
			_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Invalid message format"})
			continue
		}

		switch f := frame.(type) {
		case *models.AuthFrame:
			if !g.handleAuth(ctx, c, f) {
				return
			}
		case *models.MessageFrame:
			if c.UserID() == "" {
				_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Not authenticated"})
				continue
			}
			g.fanout.HandleMessage(ctx, c, f)
		case *models.TypingFrame:
			if c.UserID() == "" {
				_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Not authenticated"})
				continue
			}
			g.fanout.HandleTyping(ctx, c, f)
		case *models.ReadFrame:
			if c.UserID() == "" {
				_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Not authenticated"})
				continue
			}
			g.fanout.HandleRead(ctx, c, f)
		}
	}
}

// handleAuth verifies the token and, when the frame names a channel, runs the
// join handshake. Returns false when the socket must close (bad token is
// terminal; a failed join is not).
func (g *Gateway) handleAuth(ctx context.Context, c *Conn, frame *models.AuthFrame) bool {
	userID, err := g.verifier.Verify(ctx, frame.Token)
	if err != nil {
		_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Invalid token"})
		g.audit.Emit(ctx, "WARN", "websocket auth rejected", c.RequestID, nil)
		return false
	}

	// Identity is fixed at first auth. A token for a different user would
	// desync the per-user refcounts that drive presence, so it is refused
	// and the socket keeps its original user.
	current := c.UserID()
	if current != "" && current != userID {
		_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Already authenticated"})
		return true
	}

	first := current == ""
	c.setUserID(userID)

	if first {
		g.mu.Lock()
		g.userConns[userID]++
		count := g.userConns[userID]
		g.mu.Unlock()
		if count == 1 {
			g.presence.Announce(userID, true)
		}
		observability.IncWSActive(connKind(c))
		publishConnEvent(ctx, c, "ws_connect", "")
	}

	if frame.ChannelID == "" {
		return true
	}

	member, err := g.channels.IsMember(ctx, frame.ChannelID, userID)
	if err != nil || !member {
		_ = c.Send(models.ErrorFrame{Type: models.FrameError, Error: "Not a member of this channel"})
		return true
	}

	c.setChannel(frame.ChannelID, frame.IsDM)
	g.registry.Add(frame.ChannelID, c)
	_ = c.Send(models.JoinedFrame{Type: models.FrameJoined, ChannelID: frame.ChannelID})
	return true
}

func (g *Gateway) cleanup(ctx context.Context, c *Conn, reason string) {
	g.registry.RemoveConn(c)

	g.mu.Lock()
	delete(g.conns, c)
	userID := c.UserID()
	var lastSocket bool
	if userID != "" {
		g.userConns[userID]--
		if g.userConns[userID] <= 0 {
			delete(g.userConns, userID)
			lastSocket = true
		}
	}
	g.mu.Unlock()

	if userID != "" {
		if lastSocket {
			g.presence.Announce(userID, false)
		}
		observability.DecWSActive(connKind(c))
		publishConnEvent(ctx, c, "ws_disconnect", reason)
	}
	_ = c.ws.Close()
}
