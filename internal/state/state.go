// Package state is the in-memory, UI-facing view of the conversation
// data: messages per chat and the ranked chat list. It is a cache over
// the durable store and is mutated only through the Apply methods here;
// every change is announced on the bus so the UI layer can re-render.
package state

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/bus"
	"chatcore/internal/chatlist"
	"chatcore/internal/message"
)

// Change is the payload of a state.changed event.
type Change struct {
	Scope  string // "messages" or "chats"
	ChatID string // set for message-scoped changes
}

// Store holds the reactive state.
type Store struct {
	mu       sync.RWMutex
	messages map[string][]message.Message // per chat, created-at ascending
	chats    []message.Chat               // ranked, most recent activity first
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewStore creates an empty state container.
func NewStore(b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		messages: make(map[string][]message.Message),
		bus:      b,
		logger:   logger,
	}
}

// Load seeds the container from the durable store's view.
func (s *Store) Load(chats []message.Chat, messagesByChat map[string][]message.Message) {
	s.mu.Lock()
	s.chats = chatlist.SortChats(chats)
	s.messages = make(map[string][]message.Message, len(messagesByChat))
	for chatID, msgs := range messagesByChat {
		s.messages[chatID] = chatlist.Deduplicate(msgs)
	}
	s.mu.Unlock()
	s.notify("chats", "")
}

// ApplyMessage upserts a message into its chat's timeline and refreshes
// the chat's last-message summary. bumpUnread increments the unread
// counter, used for inbound messages from other participants.
func (s *Store) ApplyMessage(m message.Message, bumpUnread bool) {
	s.mu.Lock()
	msgs := s.messages[m.ChatID]
	idx := -1
	for i := range msgs {
		if msgs[i].HasID(m.ClientID) || (m.ServerID != "" && msgs[i].HasID(m.ServerID)) {
			idx = i
			break
		}
	}
	if idx >= 0 {
		// Keep the attached server id; a re-apply never detaches it.
		if m.ServerID == "" {
			m.ServerID = msgs[idx].ServerID
		}
		msgs[idx] = m
	} else {
		msgs = append(msgs, m)
		sort.SliceStable(msgs, func(i, j int) bool {
			if msgs[i].CreatedAt != msgs[j].CreatedAt {
				return msgs[i].CreatedAt < msgs[j].CreatedAt
			}
			return msgs[i].ClientID < msgs[j].ClientID
		})
	}
	s.messages[m.ChatID] = msgs

	s.touchChatLocked(m.ChatID, message.LastMessage{
		ID:        m.CanonicalID(),
		Preview:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}, bumpUnread)
	s.mu.Unlock()
	s.notify("messages", m.ChatID)
}

// ApplyStatus advances a message's status, forward-only. The event must
// carry the chat the message belongs to; mismatched chats are rejected.
// It returns whether the status changed.
func (s *Store) ApplyStatus(chatID, id string, next message.Status) bool {
	s.mu.Lock()
	msgs := s.messages[chatID]
	applied := false
	for i := range msgs {
		if !msgs[i].HasID(id) {
			continue
		}
		if msgs[i].ChatID != chatID {
			s.logger.Warn("status update for wrong chat rejected",
				zap.String("id", id), zap.String("event_chat", chatID), zap.String("message_chat", msgs[i].ChatID))
			break
		}
		if st, ok := message.Advance(msgs[i].Status, next); ok {
			msgs[i].Status = st
			applied = true
		}
		break
	}
	s.mu.Unlock()
	if applied {
		s.notify("messages", chatID)
	}
	return applied
}

// ApplyReconciled attaches the server id to the message known under
// tempID so lookups succeed via either identifier.
func (s *Store) ApplyReconciled(chatID, tempID, serverID string) {
	s.mu.Lock()
	msgs := s.messages[chatID]
	changed := false
	for i := range msgs {
		if msgs[i].ClientID == tempID && msgs[i].ServerID == "" {
			msgs[i].ServerID = serverID
			changed = true
			break
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify("messages", chatID)
	}
}

// SetChats merges a freshly fetched chat list into the current one,
// keeping whichever side has the more recent activity per chat.
func (s *Store) SetChats(fetched []message.Chat) {
	s.mu.Lock()
	s.chats = chatlist.SortChats(chatlist.MergeChats(s.chats, fetched))
	s.mu.Unlock()
	s.notify("chats", "")
}

// UpsertChat inserts or replaces a single chat.
func (s *Store) UpsertChat(c message.Chat) {
	s.mu.Lock()
	replaced := false
	for i := range s.chats {
		if s.chats[i].ID == c.ID {
			s.chats[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		s.chats = append(s.chats, c)
	}
	if chatlist.NeedsResorting(s.chats) {
		s.chats = chatlist.SortChats(s.chats)
	}
	s.mu.Unlock()
	s.notify("chats", "")
}

// MarkRead resets a chat's unread counter. This is the only state
// operation that zeroes it.
func (s *Store) MarkRead(chatID string) {
	s.mu.Lock()
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			s.chats[i].UnreadCount = 0
			break
		}
	}
	s.mu.Unlock()
	s.notify("chats", "")
}

// SetArchived flips a chat's archival flag. Archived chats stay in the
// list; presentation decides their visibility.
func (s *Store) SetArchived(chatID string, archived bool) {
	s.mu.Lock()
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			s.chats[i].Archived = archived
			break
		}
	}
	s.mu.Unlock()
	s.notify("chats", "")
}

// Chats returns the ranked chat list. The returned slice is a copy.
func (s *Store) Chats() []message.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.Chat, len(s.chats))
	copy(out, s.chats)
	return out
}

// Messages returns a chat's timeline, created-at ascending. The returned
// slice is a copy.
func (s *Store) Messages(chatID string) []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[chatID]
	out := make([]message.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Message finds a message by either identifier.
func (s *Store) Message(chatID, id string) (message.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[chatID] {
		if m.HasID(id) {
			return m, true
		}
	}
	return message.Message{}, false
}

// touchChatLocked refreshes a chat's summary after a message lands.
// Caller holds s.mu.
func (s *Store) touchChatLocked(chatID string, lm message.LastMessage, bumpUnread bool) {
	idx := -1
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Chat created on first message exchange: its clock starts at the
		// message that created it.
		createdAt := lm.CreatedAt
		if createdAt == 0 {
			createdAt = time.Now().UnixMilli()
		}
		s.chats = append(s.chats, message.Chat{
			ID: chatID, Type: message.ChatDirect, CreatedAt: createdAt, UpdatedAt: createdAt,
		})
		idx = len(s.chats) - 1
	}
	c := &s.chats[idx]
	if c.LastMessage == nil || lm.CreatedAt >= c.LastMessage.CreatedAt {
		lmCopy := lm
		c.LastMessage = &lmCopy
	}
	if lm.CreatedAt > c.UpdatedAt {
		c.UpdatedAt = lm.CreatedAt
	}
	if bumpUnread {
		c.UnreadCount++
	}
	if chatlist.NeedsResorting(s.chats) {
		s.chats = chatlist.SortChats(s.chats)
	}
}

func (s *Store) notify(scope, chatID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindStateChanged,
		Timestamp: time.Now(),
		Payload:   Change{Scope: scope, ChatID: chatID},
	})
}
