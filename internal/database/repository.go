package database

import "time"

type DelayChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	GetConversation(conversationId int) (Conversation, error)
	CreateConversation(params CreateConversationParams) (Conversation, error)
	ConversationsForUser(accountId int) ([]Conversation, error)
	ParticipantsOf(conversationId int) (map[int]bool, error)
	BothSitesRepresented(conversationId int) (bool, error)
	AddParticipant(accountId, conversationId int) error
	SendMessage(params SendMessageParams) (Message, bool, error)
	GetMessage(messageId int) (Message, error)
	ArrivedMessages(conversationIds []int, accountId int, isHabitat bool, asOf time.Time, afterId, limit int) ([]Message, error)
	OlderMessages(conversationIds []int, accountId int, isHabitat bool, before time.Time, beforeId, limit int) ([]Message, error)
	MarkDelivered(conversationIds []int, accountId int, isHabitat bool, asOf time.Time) error
	Notifications(excludeConversationId, accountId int, isHabitat bool, asOf time.Time) ([]Notification, error)
}
