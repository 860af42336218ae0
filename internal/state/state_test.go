package state

import (
	"testing"

	"go.uber.org/zap"

	"chatcore/internal/bus"
	"chatcore/internal/message"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewStore(bus.New(), logger)
}

func msg(clientID, chatID string, createdAt int64) message.Message {
	return message.Message{
		ClientID: clientID, ChatID: chatID, SenderID: "u1",
		Type: message.TypeText, Content: "hello",
		Status: message.StatusSending, CreatedAt: createdAt, FromMe: true,
	}
}

func TestApplyMessageOrdersTimeline(t *testing.T) {
	s := testStore(t)
	s.ApplyMessage(msg("temp_2", "c1", 2000), false)
	s.ApplyMessage(msg("temp_1", "c1", 1000), false)

	msgs := s.Messages("c1")
	if len(msgs) != 2 || msgs[0].ClientID != "temp_1" || msgs[1].ClientID != "temp_2" {
		t.Errorf("timeline = %+v, want ascending by created_at", msgs)
	}
}

func TestApplyMessageUpsertsByEitherID(t *testing.T) {
	s := testStore(t)
	s.ApplyMessage(msg("temp_1", "c1", 1000), false)
	s.ApplyReconciled("c1", "temp_1", "srv_1")

	// Re-apply under the server id must not duplicate.
	m := msg("temp_1", "c1", 1000)
	m.ServerID = "srv_1"
	m.Status = message.StatusSent
	s.ApplyMessage(m, false)

	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Status != message.StatusSent || msgs[0].ServerID != "srv_1" {
		t.Errorf("message = %+v", msgs[0])
	}
	if _, ok := s.Message("c1", "srv_1"); !ok {
		t.Error("message must resolve via server id")
	}
	if _, ok := s.Message("c1", "temp_1"); !ok {
		t.Error("message must still resolve via client id")
	}
}

func TestApplyStatusForwardOnly(t *testing.T) {
	s := testStore(t)
	s.ApplyMessage(msg("temp_1", "c1", 1000), false)
	s.ApplyReconciled("c1", "temp_1", "m1")

	if !s.ApplyStatus("c1", "m1", message.StatusSent) {
		t.Fatal("sent not applied")
	}
	if !s.ApplyStatus("c1", "m1", message.StatusSeen) {
		t.Fatal("seen not applied")
	}
	// A late delivered event must not regress the displayed state.
	if s.ApplyStatus("c1", "m1", message.StatusDelivered) {
		t.Error("delivered after seen must be discarded")
	}
	m, _ := s.Message("c1", "m1")
	if m.Status != message.StatusSeen {
		t.Errorf("status = %s, want seen", m.Status)
	}
}

func TestApplyStatusRejectsWrongChat(t *testing.T) {
	s := testStore(t)
	s.ApplyMessage(msg("temp_1", "c1", 1000), false)

	if s.ApplyStatus("c2", "temp_1", message.StatusSent) {
		t.Error("status update scoped to another chat must be rejected")
	}
	m, _ := s.Message("c1", "temp_1")
	if m.Status != message.StatusSending {
		t.Errorf("status = %s, want sending", m.Status)
	}
}

func TestChatRankingFollowsActivity(t *testing.T) {
	s := testStore(t)
	s.ApplyMessage(msg("temp_1", "c1", 1000), false)
	s.ApplyMessage(msg("temp_2", "c2", 2000), false)

	chats := s.Chats()
	if len(chats) != 2 || chats[0].ID != "c2" {
		t.Fatalf("chats = %+v, want c2 first", chats)
	}

	// New activity in c1 moves it to the top.
	s.ApplyMessage(msg("temp_3", "c1", 3000), false)
	chats = s.Chats()
	if chats[0].ID != "c1" {
		t.Errorf("chats = %+v, want c1 first", chats)
	}
	if chats[0].LastMessage == nil || chats[0].LastMessage.ID != "temp_3" {
		t.Errorf("last message = %+v, want temp_3", chats[0].LastMessage)
	}
}

func TestUnreadBumpAndMarkRead(t *testing.T) {
	s := testStore(t)
	inbound := msg("m1", "c1", 1000)
	inbound.SenderID = "u2"
	inbound.FromMe = false
	s.ApplyMessage(inbound, true)
	inbound2 := inbound
	inbound2.ClientID = "m2"
	inbound2.CreatedAt = 2000
	s.ApplyMessage(inbound2, true)

	if got := s.Chats()[0].UnreadCount; got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}
	// Own outbound message never bumps unread.
	s.ApplyMessage(msg("temp_1", "c1", 3000), false)
	if got := s.Chats()[0].UnreadCount; got != 2 {
		t.Errorf("unread = %d, want 2 after own message", got)
	}

	s.MarkRead("c1")
	if got := s.Chats()[0].UnreadCount; got != 0 {
		t.Errorf("unread = %d, want 0 after mark read", got)
	}
}

func TestSetChatsMergePreservesNewerLocal(t *testing.T) {
	s := testStore(t)
	// Real-time message lands while a fetch is in flight.
	s.ApplyMessage(msg("temp_1", "c1", 9000), false)

	s.SetChats([]message.Chat{
		{ID: "c1", Type: message.ChatDirect, UpdatedAt: 5000, CreatedAt: 1},
		{ID: "c2", Type: message.ChatDirect, UpdatedAt: 7000, CreatedAt: 1},
	})

	chats := s.Chats()
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].ID != "c1" {
		t.Errorf("order = %s first, want c1 (local activity newer than fetch)", chats[0].ID)
	}
	if chats[0].LastMessage == nil {
		t.Error("local last message discarded by fetch merge")
	}
}

func TestStateChangeEvents(t *testing.T) {
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	s := NewStore(b, logger)

	ch, unsub := b.Subscribe(bus.KindStateChanged, 10)
	defer unsub()

	s.ApplyMessage(msg("temp_1", "c1", 1000), false)

	evt := <-ch
	change, ok := evt.Payload.(Change)
	if !ok {
		t.Fatalf("payload type %T", evt.Payload)
	}
	if change.Scope != "messages" || change.ChatID != "c1" {
		t.Errorf("change = %+v", change)
	}
}
