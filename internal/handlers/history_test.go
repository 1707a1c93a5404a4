package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-chat/internal/mocks"
	"realtime-chat/internal/models"
	"realtime-chat/internal/repositories"
)

func setupHistoryRouter(handler *HistoryHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.GET("/channels/:channel_id/messages", handler.GetChannelMessages)
	r.GET("/channels/:channel_id/messages/:message_id/thread", handler.GetThreadMessages)
	return r
}

func TestGetChannelMessagesSuccess(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	reactionRepo := new(mocks.ReactionRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewHistoryHandler(channelRepo, messageRepo, reactionRepo, userRepo)
	router := setupHistoryRouter(handler)

	channelRepo.On("GetChannel", mock.Anything, "c1").Return(models.Channel{ID: "c1", Name: "general"}, nil).Once()
	channelRepo.On("IsMember", mock.Anything, "c1", "u1").Return(true, nil).Once()
	messageRepo.On("ListChannelMessages", mock.Anything, "c1").Return([]models.Message{
		{ID: "m1", ChannelID: "c1", SenderID: "u2", Content: "hi"},
	}, nil).Once()
	userRepo.On("ResolveUsernames", mock.Anything, []string{"u2"}).Return(map[string]string{"u2": "bob"}, nil).Once()
	reactionRepo.On("ListForMessages", mock.Anything, []string{"m1"}).Return(map[string]map[string][]string{
		"m1": {"thumbsup": {"u1"}},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/channels/c1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "bob", resp.Messages[0].SenderName)
	assert.Equal(t, []string{"u1"}, resp.Messages[0].Reactions["thumbsup"])

	channelRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
	reactionRepo.AssertExpectations(t)
}

func TestGetChannelMessagesForbiddenForNonMember(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewHistoryHandler(channelRepo, messageRepo, new(mocks.ReactionRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupHistoryRouter(handler)

	channelRepo.On("GetChannel", mock.Anything, "c1").Return(models.Channel{ID: "c1"}, nil).Once()
	channelRepo.On("IsMember", mock.Anything, "c1", "u1").Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/channels/c1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertNotCalled(t, "ListChannelMessages", mock.Anything, mock.Anything)
}

func TestGetChannelMessagesUnknownChannel(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := NewHistoryHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.ReactionRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupHistoryRouter(handler)

	channelRepo.On("GetChannel", mock.Anything, "nope").Return(models.Channel{}, repositories.ErrChannelNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/channels/nope/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	channelRepo.AssertNotCalled(t, "IsMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetThreadMessagesSuccess(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	reactionRepo := new(mocks.ReactionRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewHistoryHandler(channelRepo, messageRepo, reactionRepo, userRepo)
	router := setupHistoryRouter(handler)

	parent := models.Message{ID: "m1", ChannelID: "c1", SenderID: "u2", Content: "root"}
	messageRepo.On("GetMessage", mock.Anything, "m1").Return(parent, nil).Once()
	channelRepo.On("IsMember", mock.Anything, "c1", "u1").Return(true, nil).Once()
	messageRepo.On("ListThreadMessages", mock.Anything, "m1").Return([]models.Message{
		{ID: "m2", ChannelID: "c1", SenderID: "u1", ParentID: "m1", Content: "reply"},
	}, nil).Once()
	userRepo.On("ResolveUsernames", mock.Anything, []string{"u2", "u1"}).Return(map[string]string{"u1": "alice", "u2": "bob"}, nil).Once()
	reactionRepo.On("ListForMessages", mock.Anything, []string{"m1", "m2"}).Return(map[string]map[string][]string{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/channels/c1/messages/m1/thread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Parent   models.Message   `json:"parent"`
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "m1", resp.Parent.ID)
	assert.Equal(t, "bob", resp.Parent.SenderName)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "alice", resp.Messages[0].SenderName)

	messageRepo.AssertExpectations(t)
}

func TestGetThreadMessagesUnknownParent(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewHistoryHandler(channelRepo, messageRepo, new(mocks.ReactionRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupHistoryRouter(handler)

	messageRepo.On("GetMessage", mock.Anything, "nope").Return(models.Message{}, repositories.ErrMessageNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/channels/c1/messages/nope/thread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	channelRepo.AssertNotCalled(t, "IsMember", mock.Anything, mock.Anything, mock.Anything)
}
