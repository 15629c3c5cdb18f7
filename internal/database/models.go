package database

import (
	"database/sql"
	"time"
)

const (
	KindText      = "text"
	KindImportant = "important"
	KindFile      = "file"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	IsHabitat    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	Id          int
	Name        string
	ParentId    sql.NullInt64
	LastMessage time.Time
	CreatedAt   time.Time
}

// Message is a stored chat message. RecvTimeHab and RecvTimeMcc are
// computed once at send time from the delay then in effect; they are
// never updated afterward.
type Message struct {
	Id               int
	ConversationId   int
	AccountId        int
	Username         string
	AuthorIsHabitat  bool
	Body             string
	Kind             string
	FileServerName   sql.NullString
	FileOriginalName sql.NullString
	FileMimeType     sql.NullString
	SentTime         time.Time
	RecvTimeHab      time.Time
	RecvTimeMcc      time.Time
}

// Notification is the pending-unread count for one conversation from a
// single viewer's perspective, counting only messages that have already
// arrived on the viewer's side.
type Notification struct {
	ConversationId int
	NumNew         int
	NumImportant   int
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
	IsHabitat    bool
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreateConversationParams struct {
	Name     string
	ParentId int
	OwnerId  int
}

type SendMessageParams struct {
	ConversationId   int
	AccountId        int
	AuthorIsHabitat  bool
	Body             string
	Kind             string
	FileServerName   string
	FileOriginalName string
	FileMimeType     string
	SentTime         time.Time
	Delay            time.Duration
}
