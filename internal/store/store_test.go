package store

import (
	"path/filepath"
	"testing"
	"time"

	"chatcore/internal/message"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestSaveMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &message.Message{
		ClientID: "temp_1", ChatID: "c1", SenderID: "u1",
		Type: message.TypeText, Content: "hello",
		Status: message.StatusSending, CreatedAt: 1000, FromMe: true,
	}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.GetMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent save)", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[0].CreatedAt != 1000 {
		t.Errorf("stored = %+v", msgs[0])
	}
}

func TestSaveMessagePreservesCreatedAt(t *testing.T) {
	db := testDB(t)

	m := &message.Message{ClientID: "temp_1", ChatID: "c1", SenderID: "u1", Status: message.StatusSending, CreatedAt: 1000}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}
	m.CreatedAt = 9999
	m.Status = message.StatusSent
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage("temp_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.CreatedAt != 1000 {
		t.Errorf("created_at = %d, want 1000 (immutable)", got.CreatedAt)
	}
	if got.Status != message.StatusSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
}

func TestAttachServerID(t *testing.T) {
	db := testDB(t)

	m := &message.Message{ClientID: "temp_1", ChatID: "c1", SenderID: "u1", Status: message.StatusSending, CreatedAt: 1000}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}

	attached, prior, err := db.AttachServerID("temp_1", "srv_1")
	if err != nil {
		t.Fatal(err)
	}
	if !attached || prior != "" {
		t.Errorf("first attach = (%v, %q), want (true, \"\")", attached, prior)
	}

	// Retrievable by both ids.
	for _, id := range []string{"temp_1", "srv_1"} {
		got, err := db.GetMessage(id)
		if err != nil {
			t.Fatalf("GetMessage(%s): %v", id, err)
		}
		if got.ClientID != "temp_1" || got.ServerID != "srv_1" {
			t.Errorf("GetMessage(%s) = %+v", id, got)
		}
	}

	// Reapplying the same pair is a no-op.
	attached, prior, err = db.AttachServerID("temp_1", "srv_1")
	if err != nil || attached || prior != "" {
		t.Errorf("reapply = (%v, %q, %v), want no-op", attached, prior, err)
	}

	// A different server id reports the existing mapping and keeps it.
	attached, prior, err = db.AttachServerID("temp_1", "srv_2")
	if err != nil {
		t.Fatal(err)
	}
	if attached || prior != "srv_1" {
		t.Errorf("conflict = (%v, %q), want (false, srv_1): first writer wins", attached, prior)
	}
	got, err := db.GetMessage("temp_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ServerID != "srv_1" {
		t.Errorf("server id = %q, want srv_1", got.ServerID)
	}

	// Unknown client id.
	if _, _, err := db.AttachServerID("temp_missing", "srv_9"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMessageStatusByEitherID(t *testing.T) {
	db := testDB(t)

	m := &message.Message{ClientID: "temp_1", ChatID: "c1", SenderID: "u1", Status: message.StatusSending, CreatedAt: 1000}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.AttachServerID("temp_1", "srv_1"); err != nil {
		t.Fatal(err)
	}

	if err := db.UpdateMessageStatus("srv_1", message.StatusDelivered); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetMessage("temp_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != message.StatusDelivered {
		t.Errorf("status = %s, want delivered", got.Status)
	}

	if err := db.UpdateMessageStatus("nope", message.StatusSeen); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetMessagesOrdering(t *testing.T) {
	db := testDB(t)

	for _, m := range []message.Message{
		{ClientID: "b", ChatID: "c1", SenderID: "u1", CreatedAt: 2000, Status: message.StatusSent},
		{ClientID: "a", ChatID: "c1", SenderID: "u1", CreatedAt: 1000, Status: message.StatusSent},
		{ClientID: "c", ChatID: "c1", SenderID: "u1", CreatedAt: 2000, Status: message.StatusSent},
		{ClientID: "other", ChatID: "c2", SenderID: "u1", CreatedAt: 500, Status: message.StatusSent},
	} {
		if err := db.SaveMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.GetMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ClientID)
	}
	want := []string{"a", "b", "c"}
	if len(ids) != 3 || ids[0] != want[0] || ids[1] != want[1] || ids[2] != want[2] {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestMessageExists(t *testing.T) {
	db := testDB(t)

	m := &message.Message{ClientID: "temp_1", ChatID: "c1", SenderID: "u1", CreatedAt: 1000, Status: message.StatusSending}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.AttachServerID("temp_1", "srv_1"); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		clientID, serverID string
		want               bool
	}{
		{"temp_1", "", true},
		{"", "srv_1", true},
		{"temp_1", "srv_1", true},
		{"temp_2", "srv_9", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, err := db.MessageExists(c.clientID, c.serverID)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("MessageExists(%q, %q) = %v, want %v", c.clientID, c.serverID, got, c.want)
		}
	}
}

func TestChatUnreadAndMarkRead(t *testing.T) {
	db := testDB(t)

	lm := message.LastMessage{ID: "m1", Preview: "hi", SenderID: "u2", CreatedAt: 1000}
	if err := db.ApplyLastMessage("c1", lm, true); err != nil {
		t.Fatal(err)
	}
	if err := db.ApplyLastMessage("c1", message.LastMessage{ID: "m2", Preview: "yo", SenderID: "u2", CreatedAt: 2000}, true); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", c.UnreadCount)
	}
	if c.LastMessage == nil || c.LastMessage.Preview != "yo" {
		t.Errorf("last message = %+v, want preview yo", c.LastMessage)
	}

	// A generic upsert must not reset unread.
	if err := db.UpsertChat(&message.Chat{ID: "c1", Type: message.ChatDirect}); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat("c1")
	if c.UnreadCount != 2 {
		t.Errorf("unread after upsert = %d, want 2", c.UnreadCount)
	}

	if err := db.MarkChatRead("c1"); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat("c1")
	if c.UnreadCount != 0 {
		t.Errorf("unread after mark read = %d, want 0", c.UnreadCount)
	}
}

func TestApplyLastMessageKeepsNewerSummary(t *testing.T) {
	db := testDB(t)

	if err := db.ApplyLastMessage("c1", message.LastMessage{ID: "m2", Preview: "newer", CreatedAt: 2000}, false); err != nil {
		t.Fatal(err)
	}
	// A late older message must not replace the summary.
	if err := db.ApplyLastMessage("c1", message.LastMessage{ID: "m1", Preview: "older", CreatedAt: 1000}, false); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessage.Preview != "newer" {
		t.Errorf("preview = %q, want newer", c.LastMessage.Preview)
	}
}

func TestListChatsSkipsArchived(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&message.Chat{ID: "c1", Type: message.ChatDirect, UpdatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&message.Chat{ID: "c2", Type: message.ChatGroup, UpdatedAt: 2000}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetChatArchived("c1", true); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].ID != "c2" {
		t.Errorf("chats = %+v, want only c2", chats)
	}
}

func TestQueueLifecycle(t *testing.T) {
	db := testDB(t)

	q := &message.QueuedSend{ClientID: "temp_1", ChatID: "c1", SenderID: "u1", Type: message.TypeText, Content: "hello"}
	if err := db.Enqueue(q); err != nil {
		t.Fatal(err)
	}
	// Duplicate enqueue is a no-op.
	if err := db.Enqueue(q); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.QueuedCount(); n != 1 {
		t.Fatalf("queued = %d, want 1", n)
	}

	due, err := db.DueQueued(time.Now(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ClientID != "temp_1" || due[0].RetryCount != 0 {
		t.Fatalf("due = %+v", due)
	}

	if err := db.BumpRetry("temp_1", time.Now()); err != nil {
		t.Fatal(err)
	}
	// Within the minimum inter-retry delay the entry is not due.
	due, err = db.DueQueued(time.Now(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("due = %d entries, want 0 inside min delay", len(due))
	}
	// Past the delay it becomes due again with the bumped count.
	due, err = db.DueQueued(time.Now().Add(6*time.Second), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].RetryCount != 1 {
		t.Fatalf("due = %+v, want retry_count 1", due)
	}

	if err := db.RemoveQueued("temp_1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.QueuedCount(); n != 0 {
		t.Errorf("queued = %d, want 0 after remove", n)
	}
}
