package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	IsHabitat    bool      `json:"is_habitat"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Conversation struct {
	Id          int       `json:"id"`
	Name        string    `json:"name"`
	ParentId    int       `json:"parent_id,omitempty"`
	LastMessage time.Time `json:"last_message,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Message is a single chat message as it appears on the wire. The two
// receive times are fixed when the message is sent and never change,
// even if the communication delay is reconfigured afterward.
type Message struct {
	Id              int       `json:"message_id"`
	ConversationId  int       `json:"conversation_id"`
	Author          string    `json:"author"`
	AuthorIsHabitat bool      `json:"author_is_habitat"`
	Body            string    `json:"body"`
	Kind            string    `json:"type"`
	FileName        string    `json:"file_name,omitempty"`
	FileMimeType    string    `json:"file_mime_type,omitempty"`
	SentTime        time.Time `json:"sent_time"`
	RecvTimeHab     time.Time `json:"recv_time_hab"`
	RecvTimeMcc     time.Time `json:"recv_time_mcc"`
	DeliveredStatus string    `json:"delivered_status"`
}

// NotificationCount is the pending-unread tally for one conversation
// from a single viewer's perspective.
type NotificationCount struct {
	NumNew       int `json:"num_new"`
	NumImportant int `json:"num_important"`
}

type Notification struct {
	ConversationId int               `json:"conversation_id"`
	NumMessages    NotificationCount `json:"num_messages"`
}

type DelayStatus struct {
	Delay    string `json:"delay"`
	Distance string `json:"distance"`
}
