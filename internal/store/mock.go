package store

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/capitalize-ai/realtime-sync/internal/model"
)

// MockStore is a testify mock of Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateConversation(ctx context.Context, conv model.Conversation) error {
	args := m.Called(ctx, conv)
	return args.Error(0)
}

func (m *MockStore) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Conversation), args.Error(1)
}

func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) AddParticipant(ctx context.Context, p model.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *MockStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).([]model.Participant), args.Error(1)
}

func (m *MockStore) InsertMessage(ctx context.Context, msg model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStore) GetMessage(ctx context.Context, id string) (model.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Message), args.Error(1)
}

func (m *MockStore) UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (model.Message, error) {
	args := m.Called(ctx, id, patch)
	return args.Get(0).(model.Message), args.Error(1)
}

func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MockStore) InsertReaction(ctx context.Context, r model.Reaction) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockStore) DeleteReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ListReactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).([]model.Reaction), args.Error(1)
}

func (m *MockStore) UpsertReactionAggregate(ctx context.Context, agg model.ReactionAggregate) error {
	args := m.Called(ctx, agg)
	return args.Error(0)
}

func (m *MockStore) GetReactionAggregate(ctx context.Context, messageID string) (model.ReactionAggregate, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(model.ReactionAggregate), args.Error(1)
}

func (m *MockStore) InsertNotification(ctx context.Context, n model.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockStore) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	args := m.Called(ctx, userID, limit)
	return args.Get(0).([]model.Notification), args.Error(1)
}

func (m *MockStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}
