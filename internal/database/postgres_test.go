package database

import (
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

// setupTestRepo connects to the database named by DELAYCHAT_TEST_DSN,
// applies migrations and resets all tables except the seeded
// conversation. Tests are skipped when no test database is configured.
func setupTestRepo(t *testing.T) *PgDelayChatRepository {
	t.Helper()

	dsn := os.Getenv("DELAYCHAT_TEST_DSN")
	if dsn == "" {
		t.Skip("DELAYCHAT_TEST_DSN not set, skipping database tests")
	}

	db, err := NewPgDelayChatRepository(dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	_, err = db.conn.Exec("TRUNCATE msg_status, messages, participants, accounts RESTART IDENTITY CASCADE")
	if err != nil {
		t.Fatalf("reset test database: %v", err)
	}
	_, err = db.conn.Exec("DELETE FROM conversations WHERE id <> 1")
	if err != nil {
		t.Fatalf("reset conversations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func createTestAccount(t *testing.T, db *PgDelayChatRepository, username string, isHabitat bool) User {
	t.Helper()

	user, err := db.CreateAccount(CreateAccountParams{
		Username:     username,
		EmailAddress: username + "@example.com",
		PasswordHash: "hashedpassword",
		IsHabitat:    isHabitat,
	})
	if err != nil {
		t.Fatalf("create account %q: %v", username, err)
	}

	if err := db.AddParticipant(user.Id, 1); err != nil {
		t.Fatalf("add participant %q: %v", username, err)
	}

	return user
}

func TestSendMessageDuplicateWindow(t *testing.T) {
	db := setupTestRepo(t)
	db.SetDuplicateWindow(3 * time.Second)

	hab := createTestAccount(t, db, "cdr", true)

	sent := time.Now().UTC().Truncate(time.Microsecond)
	params := SendMessageParams{
		ConversationId:  1,
		AccountId:       hab.Id,
		AuthorIsHabitat: true,
		Body:            "copy that",
		Kind:            KindText,
		SentTime:        sent,
		Delay:           600 * time.Second,
	}

	first, duplicate, err := db.SendMessage(params)
	assert.NoError(t, err, "expected first send to succeed")
	assert.False(t, duplicate, "expected first send to store a new message")

	// An identical retry inside the window returns the stored message
	// and leaves no new row behind.
	params.SentTime = sent.Add(time.Second)
	second, duplicate, err := db.SendMessage(params)
	assert.NoError(t, err, "expected retry to succeed")
	assert.True(t, duplicate, "expected retry within the window to be suppressed")
	assert.Equal(t, first.Id, second.Id, "expected the prior message to be returned")

	var count int
	err = db.conn.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id = 1").Scan(&count)
	assert.NoError(t, err, "expected message count query to succeed")
	assert.Equal(t, 1, count, "expected the suppressed retry to insert nothing")

	// The same text sent after the window has passed is a new message.
	params.SentTime = sent.Add(4 * time.Second)
	third, duplicate, err := db.SendMessage(params)
	assert.NoError(t, err, "expected send outside the window to succeed")
	assert.False(t, duplicate, "expected send outside the window to store a new message")
	assert.NotEqual(t, first.Id, third.Id, "expected a fresh message id")

	// A different body inside the window is not a duplicate either.
	params.SentTime = sent.Add(time.Second)
	params.Body = "say again"
	fourth, duplicate, err := db.SendMessage(params)
	assert.NoError(t, err, "expected send with different body to succeed")
	assert.False(t, duplicate, "expected a different body to store a new message")
	assert.NotEqual(t, first.Id, fourth.Id, "expected a fresh message id")
}

func TestArrivedMessagesVisibilityHorizon(t *testing.T) {
	db := setupTestRepo(t)

	hab := createTestAccount(t, db, "cdr", true)
	mcc := createTestAccount(t, db, "capcom", false)

	sent := time.Now().UTC().Truncate(time.Microsecond)
	msg, duplicate, err := db.SendMessage(SendMessageParams{
		ConversationId:  1,
		AccountId:       hab.Id,
		AuthorIsHabitat: true,
		Body:            "station status nominal",
		Kind:            KindText,
		SentTime:        sent,
		Delay:           600 * time.Second,
	})
	assert.NoError(t, err, "expected send to succeed")
	assert.False(t, duplicate, "expected send to store a new message")

	// The sender's own side sees the message the instant it is sent.
	msgs, err := db.ArrivedMessages([]int{1}, hab.Id, true, sent, 0, 10)
	assert.NoError(t, err, "expected own-side query to succeed")
	assert.Len(t, msgs, 1, "expected the message on the sender's side immediately")
	assert.Equal(t, msg.Id, msgs[0].Id)

	// The remote side sees nothing while the message is in transit.
	msgs, err = db.ArrivedMessages([]int{1}, mcc.Id, false, sent.Add(500*time.Second), 0, 10)
	assert.NoError(t, err, "expected in-transit query to succeed")
	assert.Empty(t, msgs, "expected no visibility before the delay has elapsed")

	// Once the arrival instant has passed, the message surfaces with
	// the arrival time stamped at send.
	msgs, err = db.ArrivedMessages([]int{1}, mcc.Id, false, sent.Add(601*time.Second), 0, 10)
	assert.NoError(t, err, "expected post-arrival query to succeed")
	assert.Len(t, msgs, 1, "expected visibility after the delay has elapsed")
	assert.WithinDuration(t, sent.Add(600*time.Second), msgs[0].RecvTimeMcc, time.Millisecond,
		"expected the remote arrival instant to be sent time plus delay")
}
