package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) Roster(ctx context.Context, roomID string) ([]models.Participant, error) {
	args := m.Called(ctx, roomID)
	var roster []models.Participant
	if val := args.Get(0); val != nil {
		roster = val.([]models.Participant)
	}
	return roster, args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error) {
	args := m.Called(ctx, roomID, senderID, draft, correlationID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetPage(ctx context.Context, roomID, cursor string, limit int) (repositories.HistoryPage, error) {
	args := m.Called(ctx, roomID, cursor, limit)
	var page repositories.HistoryPage
	if val := args.Get(0); val != nil {
		page = val.(repositories.HistoryPage)
	}
	return page, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) EditMessage(ctx context.Context, roomID, messageID, senderID, content string) (models.Message, error) {
	args := m.Called(ctx, roomID, messageID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteMessage(ctx context.Context, roomID, messageID, senderID string) error {
	args := m.Called(ctx, roomID, messageID, senderID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) HasReplies(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Error(0)
}

func (m *MessageRepositoryMock) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SearchCandidates(ctx context.Context, roomIDs []string, terms []string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomIDs, terms, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type TokenValidatorMock struct {
	mock.Mock
}

func (m *TokenValidatorMock) ValidateToken(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}
