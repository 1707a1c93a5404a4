// Package client implements the browser-equivalent side of the realtime
// protocol: one websocket per active chat view with reconnect/backoff, and a
// local message store that reconciles optimistic sends with server
// broadcasts.
package client

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"realtime-chat/internal/models"
)

// State is the connection lifecycle of one socket.
type State string

const (
	StatePreparing    State = "preparing"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

const (
	// DefaultBackoffBase and DefaultBackoffCap give the reconnect schedule
	// min(base * 2^attempt, cap).
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second

	// DefaultNoticeDelay is how long an outage must persist before the
	// "reconnecting" signal is raised; instantaneous reconnects stay silent.
	DefaultNoticeDelay = 2 * time.Second
)

var (
	// ErrNotConnected is the synchronous send failure while offline. Sends
	// are never queued; the caller retries after reconnection.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed reports use of a socket after Close.
	ErrClosed = errors.New("socket closed")
	// ErrNoToken reports a connect attempt before a credential is available.
	ErrNoToken = errors.New("no auth token")
)

// Options configures a Socket.
type Options struct {
	URL       string
	Token     string
	ChannelID string
	IsDM      bool

	BackoffBase time.Duration
	BackoffCap  time.Duration
	NoticeDelay time.Duration
	Dialer      *websocket.Dialer

	// OnEvent receives every decoded server frame.
	OnEvent func(event any)
	// OnState receives lifecycle transitions.
	OnState func(state State)
	// OnReconnecting is raised (true) once an outage outlives NoticeDelay
	// and lowered (false) on recovery.
	OnReconnecting func(active bool)
}

// Socket owns exactly one websocket for one chat view. Abnormal closures
// trigger exponential-backoff reconnects with a single outstanding timer;
// normal closures (channel switch, Close) do not.
type Socket struct {
	opts Options

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	attempt        int
	gen            int
	closed         bool
	reconnectTimer *time.Timer
	noticeTimer    *time.Timer
	noticeShown    bool

	writeMu sync.Mutex
}

// New builds a Socket. The socket stays in PREPARING until a token is set and
// Connect is called.
func New(opts Options) *Socket {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	if opts.NoticeDelay <= 0 {
		opts.NoticeDelay = DefaultNoticeDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Socket{opts: opts, state: StatePreparing}
}

// backoffDelay computes min(base * 2^attempt, cap).
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetToken supplies the credential; the socket leaves PREPARING on the next
// Connect.
func (s *Socket) SetToken(token string) {
	s.mu.Lock()
	s.opts.Token = token
	s.mu.Unlock()
}

// Connect dials and authenticates. Safe to call repeatedly; a socket that is
// already connected or connecting is left alone.
func (s *Socket) Connect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opts.Token == "" {
		s.mu.Unlock()
		return ErrNoToken
	}
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateConnecting)
	gen := s.gen
	s.mu.Unlock()
	return s.dial(gen)
}

func (s *Socket) dial(gen int) error {
	s.mu.Lock()
	url, dialer := s.opts.URL, s.opts.Dialer
	s.mu.Unlock()

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		s.mu.Lock()
		if !s.closed && s.gen == gen {
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.setStateLocked(StateConnected)
	s.clearNoticeLocked()
	auth := models.AuthFrame{
		Type:      models.FrameAuth,
		Token:     s.opts.Token,
		ChannelID: s.opts.ChannelID,
		IsDM:      s.opts.IsDM,
	}
	noChannel := s.opts.ChannelID == ""
	s.mu.Unlock()

	if err := s.writeJSON(conn, auth); err != nil {
		s.abortDial(gen, conn)
		return err
	}
	if noChannel {
		// Nothing to join; the auth write itself completes the handshake.
		s.mu.Lock()
		if s.gen == gen {
			s.attempt = 0
		}
		s.mu.Unlock()
	}

	go s.readLoop(conn, gen)
	return nil
}

// abortDial tears down a half-open dial whose auth write failed. The socket
// was already marked connected and no read loop is watching the conn yet, so
// the reconnect schedule must be armed here.
func (s *Socket) abortDial(gen int, conn *websocket.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen || s.conn != conn {
		return
	}
	s.conn = nil
	s.scheduleReconnectLocked()
}

func (s *Socket) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}

		frame, err := models.DecodeServerFrame(data)
		if err != nil {
			continue
		}

		if _, ok := frame.(*models.JoinedFrame); ok {
			// Non-error auth response: the backoff schedule resets.
			s.mu.Lock()
			if s.gen == gen {
				s.attempt = 0
			}
			s.mu.Unlock()
		}

		s.mu.Lock()
		onEvent := s.opts.OnEvent
		s.mu.Unlock()
		if onEvent != nil {
			onEvent(frame)
		}
	}
}

func (s *Socket) handleClose(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		// Client-initiated teardown (Close or Switch) already handled this.
		return
	}
	s.conn = nil
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		s.setStateLocked(StateDisconnected)
		return
	}
	s.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer; a second abnormal
// close while one is pending must not stack another.
func (s *Socket) scheduleReconnectLocked() {
	s.setStateLocked(StateDisconnected)
	if s.reconnectTimer != nil {
		return
	}

	delay := backoffDelay(s.attempt, s.opts.BackoffBase, s.opts.BackoffCap)
	s.attempt++

	if s.noticeTimer == nil && !s.noticeShown && s.opts.OnReconnecting != nil {
		cb := s.opts.OnReconnecting
		s.noticeTimer = time.AfterFunc(s.opts.NoticeDelay, func() {
			s.mu.Lock()
			stillDown := !s.closed && s.state != StateConnected
			if stillDown {
				s.noticeShown = true
			}
			s.noticeTimer = nil
			s.mu.Unlock()
			if stillDown {
				cb(true)
			}
		})
	}

	gen := s.gen
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		if s.closed || s.gen != gen || s.state == StateConnected {
			s.mu.Unlock()
			return
		}
		s.setStateLocked(StateConnecting)
		s.mu.Unlock()
		_ = s.dial(gen)
	})
}

// Send transmits a chat message and returns the temporary client id the
// caller should render optimistically. Sending while offline fails
// synchronously and kicks an immediate reconnect; nothing is queued.
func (s *Socket) Send(content, parentID string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if s.state != StateConnected || s.conn == nil {
		s.mu.Unlock()
		s.kickReconnect()
		return "", ErrNotConnected
	}
	conn := s.conn
	frame := models.MessageFrame{
		Type:      models.FrameMessage,
		Content:   content,
		ChannelID: s.opts.ChannelID,
		ParentID:  parentID,
		ClientID:  uuid.NewString(),
	}
	s.mu.Unlock()

	if err := s.writeJSON(conn, frame); err != nil {
		return "", err
	}
	return frame.ClientID, nil
}

// SendTyping announces typing in the current channel.
func (s *Socket) SendTyping() error {
	s.mu.Lock()
	if s.state != StateConnected || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	frame := models.TypingFrame{Type: models.FrameTyping, ChannelID: s.opts.ChannelID}
	s.mu.Unlock()
	return s.writeJSON(conn, frame)
}

// SendRead marks a message as read.
func (s *Socket) SendRead(messageID string) error {
	s.mu.Lock()
	if s.state != StateConnected || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	frame := models.ReadFrame{Type: models.FrameRead, ChannelID: s.opts.ChannelID, MessageID: messageID}
	s.mu.Unlock()
	return s.writeJSON(conn, frame)
}

// Switch tears down the current socket with a normal close and dials a fresh
// one scoped to the new channel. Pending reconnect timers are cancelled.
func (s *Socket) Switch(channelID string, isDM bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	s.cancelTimersLocked()
	conn := s.conn
	s.conn = nil
	s.opts.ChannelID = channelID
	s.opts.IsDM = isDM
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	if conn != nil {
		closeNormal(conn)
	}
	return s.dial(gen)
}

// Close shuts the socket down for good with a normal close.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	s.cancelTimersLocked()
	conn := s.conn
	s.conn = nil
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if conn != nil {
		closeNormal(conn)
	}
	return nil
}

// kickReconnect collapses any pending backoff delay into an immediate
// attempt.
func (s *Socket) kickReconnect() {
	s.mu.Lock()
	if s.closed || s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.setStateLocked(StateConnecting)
	gen := s.gen
	s.mu.Unlock()
	go s.dial(gen)
}

func (s *Socket) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.opts.OnState != nil {
		go s.opts.OnState(state)
	}
}

func (s *Socket) clearNoticeLocked() {
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
		s.noticeTimer = nil
	}
	if s.noticeShown {
		s.noticeShown = false
		if s.opts.OnReconnecting != nil {
			go s.opts.OnReconnecting(false)
		}
	}
}

func (s *Socket) cancelTimersLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.clearNoticeLocked()
}

func (s *Socket) writeJSON(conn *websocket.Conn, frame any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
