package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockDelayChatRepository struct {
	mock.Mock
}

func (m *MockDelayChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockDelayChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockDelayChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockDelayChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockDelayChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockDelayChatRepository) GetConversation(conversationId int) (Conversation, error) {
	args := m.Called(conversationId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockDelayChatRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	args := m.Called(params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockDelayChatRepository) ConversationsForUser(accountId int) ([]Conversation, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockDelayChatRepository) ParticipantsOf(conversationId int) (map[int]bool, error) {
	args := m.Called(conversationId)
	return args.Get(0).(map[int]bool), args.Error(1)
}
func (m *MockDelayChatRepository) BothSitesRepresented(conversationId int) (bool, error) {
	args := m.Called(conversationId)
	return args.Bool(0), args.Error(1)
}
func (m *MockDelayChatRepository) AddParticipant(accountId, conversationId int) error {
	args := m.Called(accountId, conversationId)
	return args.Error(0)
}
func (m *MockDelayChatRepository) SendMessage(params SendMessageParams) (Message, bool, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Bool(1), args.Error(2)
}
func (m *MockDelayChatRepository) GetMessage(messageId int) (Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockDelayChatRepository) ArrivedMessages(conversationIds []int, accountId int, isHabitat bool, asOf time.Time, afterId, limit int) ([]Message, error) {
	args := m.Called(conversationIds, accountId, isHabitat, asOf, afterId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockDelayChatRepository) OlderMessages(conversationIds []int, accountId int, isHabitat bool, before time.Time, beforeId, limit int) ([]Message, error) {
	args := m.Called(conversationIds, accountId, isHabitat, before, beforeId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockDelayChatRepository) MarkDelivered(conversationIds []int, accountId int, isHabitat bool, asOf time.Time) error {
	args := m.Called(conversationIds, accountId, isHabitat, asOf)
	return args.Error(0)
}
func (m *MockDelayChatRepository) Notifications(excludeConversationId, accountId int, isHabitat bool, asOf time.Time) ([]Notification, error) {
	args := m.Called(excludeConversationId, accountId, isHabitat, asOf)
	return args.Get(0).([]Notification), args.Error(1)
}
