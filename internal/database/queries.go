package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-delaychat/internal/delay"
)

// defaultDuplicateWindow is how far back the duplicate-send probe looks
// for an identical message from the same author.
const defaultDuplicateWindow = 3 * time.Second

const messageColumns = "m.id, m.conversation_id, m.account_id, a.username, a.is_habitat, " +
	"m.body, m.kind, m.file_server_name, m.file_original_name, m.file_mime_type, " +
	"m.sent_time, m.recv_time_hab, m.recv_time_mcc"

// recvTimeColumn selects the arrival-instant column for a viewer's site.
func recvTimeColumn(isHabitat bool) string {
	if isHabitat {
		return "recv_time_hab"
	}
	return "recv_time_mcc"
}

func (db *PgDelayChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, is_habitat, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, username, email, is_habitat",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		params.IsHabitat,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.IsHabitat,
	)

	return u, err
}

func (db *PgDelayChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, email, is_habitat",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.IsHabitat,
	)

	return u, err
}

func (db *PgDelayChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, is_habitat FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.IsHabitat,
	)

	return user, err
}

func (db *PgDelayChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, is_habitat, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.IsHabitat,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgDelayChatRepository) GetConversation(conversationId int) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, parent_id, last_message, created_at FROM conversations "+
			"WHERE id = $1 LIMIT 1",
		conversationId,
	)

	var convo Conversation
	err := row.Scan(
		&convo.Id,
		&convo.Name,
		&convo.ParentId,
		&convo.LastMessage,
		&convo.CreatedAt,
	)

	return convo, err
}

func (db *PgDelayChatRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var parentId sql.NullInt64
	if params.ParentId > 0 {
		parentId = sql.NullInt64{Int64: int64(params.ParentId), Valid: true}
	}

	res := tx.QueryRow(
		"INSERT INTO conversations (name, parent_id, last_message, created_at) "+
			"VALUES ($1, $2, $3, $3) RETURNING id, name, parent_id, last_message, created_at",
		params.Name,
		parentId,
		time.Now().UTC(),
	)

	var convo Conversation
	err = res.Scan(
		&convo.Id,
		&convo.Name,
		&convo.ParentId,
		&convo.LastMessage,
		&convo.CreatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}

	_, err = tx.Exec(
		"INSERT INTO participants (account_id, conversation_id) VALUES ($1, $2)",
		params.OwnerId,
		convo.Id,
	)
	if err != nil {
		return Conversation{}, err
	}

	if err = tx.Commit(); err != nil {
		return Conversation{}, err
	}

	return convo, nil
}

func (db *PgDelayChatRepository) ConversationsForUser(accountId int) ([]Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.name, c.parent_id, c.last_message, c.created_at "+
			"FROM participants p JOIN conversations c ON c.id = p.conversation_id "+
			"WHERE p.account_id = $1 ORDER BY c.id",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convos []Conversation
	for rows.Next() {
		var convo Conversation
		if err = rows.Scan(&convo.Id, &convo.Name, &convo.ParentId, &convo.LastMessage, &convo.CreatedAt); err != nil {
			return nil, err
		}

		convos = append(convos, convo)
	}

	return convos, rows.Err()
}

// ParticipantsOf returns every participant of a conversation mapped to
// whether they are on the habitat side.
func (db *PgDelayChatRepository) ParticipantsOf(conversationId int) (map[int]bool, error) {
	rows, err := db.conn.Query(
		"SELECT a.id, a.is_habitat FROM participants p "+
			"JOIN accounts a ON a.id = p.account_id WHERE p.conversation_id = $1",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make(map[int]bool)
	for rows.Next() {
		var (
			id        int
			isHabitat bool
		)
		if err = rows.Scan(&id, &isHabitat); err != nil {
			return nil, err
		}

		participants[id] = isHabitat
	}

	return participants, rows.Err()
}

func (db *PgDelayChatRepository) BothSitesRepresented(conversationId int) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT COUNT(DISTINCT a.is_habitat) FROM participants p "+
			"JOIN accounts a ON a.id = p.account_id WHERE p.conversation_id = $1",
		conversationId,
	)

	var sites int
	if err := row.Scan(&sites); err != nil {
		return false, err
	}

	return sites == 2, nil
}

// AddParticipant adds an account to a conversation and grants it access
// to the conversation's existing history by creating a pending-unread
// record for every prior message.
func (db *PgDelayChatRepository) AddParticipant(accountId, conversationId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"INSERT INTO participants (account_id, conversation_id) VALUES ($1, $2) "+
			"ON CONFLICT (account_id, conversation_id) DO NOTHING",
		accountId,
		conversationId,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		"INSERT INTO msg_status (message_id, account_id) "+
			"SELECT id, $1 FROM messages WHERE conversation_id = $2 "+
			"ON CONFLICT DO NOTHING",
		accountId,
		conversationId,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// SendMessage stores a new message with its two arrival instants and
// fans out one pending-unread record per participant, all in a single
// transaction. If an identical message from the same author landed on
// the author's own side within the duplicate window, the prior message
// is returned with no side effects; the second return value reports
// whether that happened.
func (db *PgDelayChatRepository) SendMessage(params SendMessageParams) (Message, bool, error) {
	window := db.dupWindow
	if window <= 0 {
		window = defaultDuplicateWindow
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// The author's own-side arrival instant equals the sent instant, so
	// probing the own-side column finds retries of the same submission.
	ownRecv := recvTimeColumn(params.AuthorIsHabitat)
	row := tx.QueryRow(
		"SELECT id FROM messages "+
			"WHERE account_id = $1 AND conversation_id = $2 AND body = $3 AND kind = $4 "+
			"AND "+ownRecv+" > $5 "+
			"ORDER BY id DESC LIMIT 1",
		params.AccountId,
		params.ConversationId,
		params.Body,
		params.Kind,
		params.SentTime.Add(-window),
	)

	var duplicateId int
	err = row.Scan(&duplicateId)
	if err == nil {
		if err = tx.Commit(); err != nil {
			return Message{}, false, err
		}

		msg, err := db.GetMessage(duplicateId)
		return msg, true, err
	}
	if err != sql.ErrNoRows {
		return Message{}, false, err
	}
	err = nil

	recvHab, recvMcc := delay.ArrivalTimes(params.SentTime, params.AuthorIsHabitat, params.Delay)

	msg := Message{
		ConversationId:  params.ConversationId,
		AccountId:       params.AccountId,
		AuthorIsHabitat: params.AuthorIsHabitat,
		Body:            params.Body,
		Kind:            params.Kind,
		SentTime:        params.SentTime,
		RecvTimeHab:     recvHab,
		RecvTimeMcc:     recvMcc,
	}
	if params.FileServerName != "" {
		msg.FileServerName = sql.NullString{String: params.FileServerName, Valid: true}
		msg.FileOriginalName = sql.NullString{String: params.FileOriginalName, Valid: true}
		msg.FileMimeType = sql.NullString{String: params.FileMimeType, Valid: true}
	}

	res := tx.QueryRow(
		"INSERT INTO messages (conversation_id, account_id, body, kind, "+
			"file_server_name, file_original_name, file_mime_type, "+
			"sent_time, recv_time_hab, recv_time_mcc) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id",
		msg.ConversationId,
		msg.AccountId,
		msg.Body,
		msg.Kind,
		msg.FileServerName,
		msg.FileOriginalName,
		msg.FileMimeType,
		msg.SentTime,
		msg.RecvTimeHab,
		msg.RecvTimeMcc,
	)
	if err = res.Scan(&msg.Id); err != nil {
		return Message{}, false, err
	}

	_, err = tx.Exec(
		"INSERT INTO msg_status (message_id, account_id) "+
			"SELECT $1, p.account_id FROM participants p WHERE p.conversation_id = $2",
		msg.Id,
		msg.ConversationId,
	)
	if err != nil {
		return Message{}, false, err
	}

	_, err = tx.Exec(
		"UPDATE conversations SET last_message = $2 WHERE id = $1",
		msg.ConversationId,
		msg.SentTime,
	)
	if err != nil {
		return Message{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, false, err
	}

	return msg, false, nil
}

func (db *PgDelayChatRepository) GetMessage(messageId int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages m "+
			"JOIN accounts a ON a.id = m.account_id WHERE m.id = $1",
		messageId,
	)

	return scanMessageRow(row)
}

// ArrivedMessages returns messages in the given conversations that have
// arrived on the viewer's side by asOf, newer than afterId. Visibility
// is evaluated against the asOf instant on every call; a message whose
// viewer-side arrival instant is still in the future is never returned.
func (db *PgDelayChatRepository) ArrivedMessages(conversationIds []int, accountId int, isHabitat bool, asOf time.Time, afterId, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 25
	}

	recv := recvTimeColumn(isHabitat)
	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages m "+
			"JOIN accounts a ON a.id = m.account_id "+
			"WHERE m.conversation_id = ANY($1) AND m.id > $2 AND m."+recv+" <= $3 "+
			"ORDER BY m."+recv+" ASC, m.id ASC LIMIT $4",
		pq.Array(conversationIds),
		afterId,
		asOf,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// OlderMessages pages backward through history: messages arrived on the
// viewer's side by the reference instant with ids below beforeId. Rows
// are fetched newest-first and returned in ascending order.
func (db *PgDelayChatRepository) OlderMessages(conversationIds []int, accountId int, isHabitat bool, before time.Time, beforeId, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	recv := recvTimeColumn(isHabitat)
	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages m "+
			"JOIN accounts a ON a.id = m.account_id "+
			"WHERE m.conversation_id = ANY($1) AND m.id < $2 AND m."+recv+" <= $3 "+
			"ORDER BY m."+recv+" DESC, m.id DESC LIMIT $4",
		pq.Array(conversationIds),
		beforeId,
		before,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// MarkDelivered clears the viewer's pending-unread records for every
// message in scope that has arrived on the viewer's side by asOf. It is
// called right after a batch of messages has been surfaced.
func (db *PgDelayChatRepository) MarkDelivered(conversationIds []int, accountId int, isHabitat bool, asOf time.Time) error {
	recv := recvTimeColumn(isHabitat)
	_, err := db.conn.Exec(
		"DELETE FROM msg_status USING messages m "+
			"WHERE msg_status.message_id = m.id AND msg_status.account_id = $1 "+
			"AND m.conversation_id = ANY($2) AND m."+recv+" <= $3",
		accountId,
		pq.Array(conversationIds),
		asOf,
	)

	return err
}

// Notifications counts the viewer's pending-unread messages per
// conversation, excluding the conversation currently open (it has its
// own delivery path) and any message not yet arrived on the viewer's
// side.
func (db *PgDelayChatRepository) Notifications(excludeConversationId, accountId int, isHabitat bool, asOf time.Time) ([]Notification, error) {
	recv := recvTimeColumn(isHabitat)
	rows, err := db.conn.Query(
		"SELECT m.conversation_id, COUNT(*), "+
			fmt.Sprintf("COUNT(*) FILTER (WHERE m.kind = '%s') ", KindImportant)+
			"FROM msg_status s JOIN messages m ON m.id = s.message_id "+
			"WHERE s.account_id = $1 AND m.conversation_id <> $2 AND m."+recv+" <= $3 "+
			"GROUP BY m.conversation_id ORDER BY m.conversation_id",
		accountId,
		excludeConversationId,
		asOf,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err = rows.Scan(&n.ConversationId, &n.NumNew, &n.NumImportant); err != nil {
			return nil, err
		}

		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.AccountId,
			&msg.Username,
			&msg.AuthorIsHabitat,
			&msg.Body,
			&msg.Kind,
			&msg.FileServerName,
			&msg.FileOriginalName,
			&msg.FileMimeType,
			&msg.SentTime,
			&msg.RecvTimeHab,
			&msg.RecvTimeMcc,
		)
		if err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func scanMessageRow(row *sql.Row) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.AccountId,
		&msg.Username,
		&msg.AuthorIsHabitat,
		&msg.Body,
		&msg.Kind,
		&msg.FileServerName,
		&msg.FileOriginalName,
		&msg.FileMimeType,
		&msg.SentTime,
		&msg.RecvTimeHab,
		&msg.RecvTimeMcc,
	)

	return msg, err
}
