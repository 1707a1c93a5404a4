package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"realtime-chat/internal/identity"
	"realtime-chat/internal/models"
	"realtime-chat/internal/repositories"
)

type ChannelRepositoryMock struct {
	mock.Mock
}

func (m *ChannelRepositoryMock) IsMember(ctx context.Context, channelID string, userID string) (bool, error) {
	args := m.Called(ctx, channelID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChannelRepositoryMock) GetChannel(ctx context.Context, channelID string) (models.Channel, error) {
	args := m.Called(ctx, channelID)
	var ch models.Channel
	if val := args.Get(0); val != nil {
		ch = val.(models.Channel)
	}
	return ch, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Insert(ctx context.Context, params repositories.InsertMessageParams) (models.Message, error) {
	args := m.Called(ctx, params)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListChannelMessages(ctx context.Context, channelID string) ([]models.Message, error) {
	args := m.Called(ctx, channelID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListThreadMessages(ctx context.Context, parentID string) ([]models.Message, error) {
	args := m.Called(ctx, parentID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type ReactionRepositoryMock struct {
	mock.Mock
}

func (m *ReactionRepositoryMock) Toggle(ctx context.Context, messageID, userID, emoji string) (string, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.String(0), args.Error(1)
}

func (m *ReactionRepositoryMock) ListForMessages(ctx context.Context, messageIDs []string) (map[string]map[string][]string, error) {
	args := m.Called(ctx, messageIDs)
	var result map[string]map[string][]string
	if val := args.Get(0); val != nil {
		result = val.(map[string]map[string][]string)
	}
	return result, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) ResolveUsername(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *UserRepositoryMock) ResolveUsernames(ctx context.Context, userIDs []string) (map[string]string, error) {
	args := m.Called(ctx, userIDs)
	var names map[string]string
	if val := args.Get(0); val != nil {
		names = val.(map[string]string)
	}
	return names, args.Error(1)
}

type TokenVerifierMock struct {
	mock.Mock
}

func (m *TokenVerifierMock) Verify(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

var _ repositories.ChannelRepository = (*ChannelRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ReactionRepository = (*ReactionRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ identity.TokenVerifier = (*TokenVerifierMock)(nil)
