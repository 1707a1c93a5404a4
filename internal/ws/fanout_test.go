package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-chat/internal/mocks"
	"realtime-chat/internal/models"
	"realtime-chat/internal/repositories"
)

// fakeSocket records everything written to it, standing in for a real
// websocket connection.
type fakeSocket struct {
	mu         sync.Mutex
	frames     [][]byte
	failWrites bool
	closed     bool
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("fake socket does not read")
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("write failed")
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (f *fakeSocket) SetPongHandler(h func(appData string) error) {}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) sent(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, raw := range f.frames {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		out = append(out, frame)
	}
	return out
}

func newTestConn(userID, channelID string, isDM bool) (*Conn, *fakeSocket) {
	socket := &fakeSocket{}
	conn := newConn(socket)
	conn.setUserID(userID)
	if channelID != "" {
		conn.setChannel(channelID, isDM)
	}
	return conn, socket
}

func newTestFanout(messages *mocks.MessageRepositoryMock, reactions *mocks.ReactionRepositoryMock, users *mocks.UserRepositoryMock, channels *mocks.ChannelRepositoryMock) (*Fanout, *Registry) {
	registry := NewRegistry()
	return NewFanout(registry, messages, reactions, users, channels), registry
}

func TestHandleMessageRequiresContent(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	fanout, registry := newTestFanout(messageRepo, nil, nil, nil)

	conn, socket := newTestConn("u1", "c1", false)
	registry.Add("c1", conn)

	fanout.HandleMessage(context.Background(), conn, &models.MessageFrame{Type: models.FrameMessage, ChannelID: "c1"})

	frames := socket.sent(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "Message content required", frames[0]["error"])
	messageRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestHandleMessageRejectsNonSubscriber(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	fanout, _ := newTestFanout(messageRepo, nil, nil, nil)

	conn, socket := newTestConn("u1", "", false)

	fanout.HandleMessage(context.Background(), conn, &models.MessageFrame{Type: models.FrameMessage, ChannelID: "c1", Content: "hi"})

	frames := socket.sent(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "Not a member of this channel", frames[0]["error"])
	messageRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestHandleMessageBroadcastsToEveryConnection(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	fanout, registry := newTestFanout(messageRepo, nil, userRepo, nil)

	sender, senderSocket := newTestConn("u1", "c1", false)
	peer, peerSocket := newTestConn("u2", "c1", false)
	registry.Add("c1", sender)
	registry.Add("c1", peer)

	stored := models.Message{ID: "m1", ChannelID: "c1", SenderID: "u1", Content: "hello", Timestamp: time.Now().UTC()}
	messageRepo.On("Insert", mock.Anything, repositories.InsertMessageParams{ChannelID: "c1", SenderID: "u1", Content: "hello"}).Return(stored, nil).Once()
	userRepo.On("ResolveUsername", mock.Anything, "u1").Return("alice", nil).Once()

	fanout.HandleMessage(context.Background(), sender, &models.MessageFrame{
		Type:      models.FrameMessage,
		ChannelID: "c1",
		Content:   "hello",
		ClientID:  "tmp-1",
	})

	for _, socket := range []*fakeSocket{senderSocket, peerSocket} {
		frames := socket.sent(t)
		require.Len(t, frames, 1)
		assert.Equal(t, "message", frames[0]["type"])
		assert.Equal(t, "m1", frames[0]["id"])
		assert.Equal(t, "alice", frames[0]["sender_name"])
		assert.Equal(t, "tmp-1", frames[0]["client_id"])
	}
	messageRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestHandleMessagePersistFailureReachesSenderOnly(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	fanout, registry := newTestFanout(messageRepo, nil, nil, nil)

	sender, senderSocket := newTestConn("u1", "c1", false)
	peer, peerSocket := newTestConn("u2", "c1", false)
	registry.Add("c1", sender)
	registry.Add("c1", peer)

	messageRepo.On("Insert", mock.Anything, mock.Anything).Return(models.Message{}, assert.AnError).Once()

	fanout.HandleMessage(context.Background(), sender, &models.MessageFrame{Type: models.FrameMessage, ChannelID: "c1", Content: "hello"})

	frames := senderSocket.sent(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "Failed to send message", frames[0]["error"])
	assert.Empty(t, peerSocket.sent(t))
	messageRepo.AssertExpectations(t)
}

func TestHandleMessageDMScopesAsDM(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	fanout, registry := newTestFanout(messageRepo, nil, userRepo, nil)

	sender, senderSocket := newTestConn("u1", "d1", true)
	registry.Add("d1", sender)

	stored := models.Message{ID: "m1", ChannelID: "d1", SenderID: "u1", Content: "psst"}
	messageRepo.On("Insert", mock.Anything, mock.Anything).Return(stored, nil).Once()
	userRepo.On("ResolveUsername", mock.Anything, "u1").Return("alice", nil).Once()

	fanout.HandleMessage(context.Background(), sender, &models.MessageFrame{Type: models.FrameMessage, ChannelID: "d1", Content: "psst"})

	frames := senderSocket.sent(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "d1", frames[0]["dm_id"])
	assert.Nil(t, frames[0]["channel_id"])
}

func TestHandleTypingBroadcastsDisplayName(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	fanout, registry := newTestFanout(nil, nil, userRepo, nil)

	sender, _ := newTestConn("u1", "c1", false)
	peer, peerSocket := newTestConn("u2", "c1", false)
	registry.Add("c1", sender)
	registry.Add("c1", peer)

	userRepo.On("ResolveUsername", mock.Anything, "u1").Return("alice", nil).Once()

	fanout.HandleTyping(context.Background(), sender, &models.TypingFrame{Type: models.FrameTyping, ChannelID: "c1"})

	frames := peerSocket.sent(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "typing", frames[0]["type"])
	assert.Equal(t, "u1", frames[0]["user_id"])
	assert.Equal(t, "alice", frames[0]["username"])
	userRepo.AssertExpectations(t)
}

func TestHandleReadBroadcastsMarker(t *testing.T) {
	fanout, registry := newTestFanout(nil, nil, nil, nil)

	sender, _ := newTestConn("u1", "c1", false)
	peer, peerSocket := newTestConn("u2", "c1", false)
	registry.Add("c1", sender)
	registry.Add("c1", peer)

	fanout.HandleRead(context.Background(), sender, &models.ReadFrame{Type: models.FrameRead, ChannelID: "c1", MessageID: "m1"})

	frames := peerSocket.sent(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "read", frames[0]["type"])
	assert.Equal(t, "m1", frames[0]["message_id"])
	assert.Equal(t, "u1", frames[0]["user_id"])
}

func TestToggleReactionRejectsNonMember(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	reactionRepo := new(mocks.ReactionRepositoryMock)
	channelRepo := new(mocks.ChannelRepositoryMock)
	fanout, _ := newTestFanout(messageRepo, reactionRepo, nil, channelRepo)

	messageRepo.On("GetMessage", mock.Anything, "m1").Return(models.Message{ID: "m1", ChannelID: "c1"}, nil).Once()
	channelRepo.On("IsMember", mock.Anything, "c1", "u9").Return(false, nil).Once()

	_, err := fanout.ToggleReaction(context.Background(), "u9", "m1", "thumbsup")
	require.ErrorIs(t, err, ErrNotChannelMember)
	reactionRepo.AssertNotCalled(t, "Toggle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestToggleReactionPublishesDelta(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	reactionRepo := new(mocks.ReactionRepositoryMock)
	channelRepo := new(mocks.ChannelRepositoryMock)
	fanout, registry := newTestFanout(messageRepo, reactionRepo, nil, channelRepo)

	subscriber, socket := newTestConn("u2", "c1", false)
	registry.Add("c1", subscriber)

	messageRepo.On("GetMessage", mock.Anything, "m1").Return(models.Message{ID: "m1", ChannelID: "c1", ParentID: "p1"}, nil).Once()
	channelRepo.On("IsMember", mock.Anything, "c1", "u1").Return(true, nil).Once()
	reactionRepo.On("Toggle", mock.Anything, "m1", "u1", "thumbsup").Return(models.ReactionAdded, nil).Once()

	event, err := fanout.ToggleReaction(context.Background(), "u1", "m1", "thumbsup")
	require.NoError(t, err)
	assert.Equal(t, models.ReactionAdded, event.Action)
	assert.Equal(t, "p1", event.ParentID)

	frames := socket.sent(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "reaction", frames[0]["type"])
	assert.Equal(t, "m1", frames[0]["message_id"])
	assert.Equal(t, "added", frames[0]["action"])

	messageRepo.AssertExpectations(t)
	channelRepo.AssertExpectations(t)
	reactionRepo.AssertExpectations(t)
}

func TestPublishDropsFailedSocket(t *testing.T) {
	fanout, registry := newTestFanout(nil, nil, nil, nil)

	healthy, healthySocket := newTestConn("u1", "c1", false)
	broken, brokenSocket := newTestConn("u2", "c1", false)
	brokenSocket.failWrites = true
	registry.Add("c1", healthy)
	registry.Add("c1", broken)

	fanout.Publish("c1", models.ReadEvent{Type: models.FrameRead, ChannelID: "c1", MessageID: "m1", UserID: "u1"})

	require.Len(t, healthySocket.sent(t), 1)
	assert.True(t, brokenSocket.closed)
	assert.False(t, registry.Contains("c1", broken))
	assert.True(t, registry.Contains("c1", healthy))
}
