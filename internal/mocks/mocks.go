package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chatsync/internal/backend/models"
	"chatsync/internal/backend/repositories"
	"chatsync/pkg/convstore"
	"chatsync/pkg/wire"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateOrGet(ctx context.Context, actorID, counterpartID string) (models.Conversation, error) {
	args := m.Called(ctx, actorID, counterpartID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, actorID string) ([]models.Conversation, error) {
	args := m.Called(ctx, actorID)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID, senderID, content, imageURL string) (wire.Message, error) {
	args := m.Called(ctx, conversationID, senderID, content, imageURL)
	var msg wire.Message
	if val := args.Get(0); val != nil {
		msg = val.(wire.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID string, limit int) ([]wire.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	var msgs []wire.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]wire.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	args := m.Called(ctx, conversationID, messageIDs)
	return args.Error(0)
}

type FetcherMock struct {
	mock.Mock
}

func (m *FetcherMock) Get(ctx context.Context, path string, out any) error {
	args := m.Called(ctx, path, out)
	return args.Error(0)
}

func (m *FetcherMock) SendJSON(ctx context.Context, method, path string, body, out any) error {
	args := m.Called(ctx, method, path, body, out)
	return args.Error(0)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ convstore.Fetcher = (*FetcherMock)(nil)
