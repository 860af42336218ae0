// Package message holds the messaging domain types: messages with their
// dual client/server identity, chats with their denormalized last-message
// summary, the durable queued-send entry, and the status order.
package message

import (
	"strings"

	"github.com/google/uuid"
)

// ClientIDPrefix marks identifiers generated locally, before any server
// round-trip. Records carrying only such an id are provisional.
const ClientIDPrefix = "temp_"

// NewClientID generates a fresh client-side message identifier.
func NewClientID() string {
	return ClientIDPrefix + uuid.NewString()
}

// IsClientID reports whether id is a locally generated identifier rather
// than a server-assigned one.
func IsClientID(id string) bool {
	return strings.HasPrefix(id, ClientIDPrefix)
}

// Message is a single chat message. ClientID is assigned at creation time
// and never changes; ServerID is attached once the backend acknowledges
// the message. A message with an empty ServerID has not been accepted by
// the server yet.
type Message struct {
	ClientID  string
	ServerID  string
	ChatID    string
	SenderID  string
	Type      Type
	Content   string
	MediaURL  string
	MediaMeta map[string]string
	Status    Status
	CreatedAt int64 // unix milliseconds, immutable after creation
	UpdatedAt int64 // unix milliseconds of the last local write
	FromMe    bool
}

// HasID reports whether the message is addressable by the given id,
// via either its client or its server identifier.
func (m *Message) HasID(id string) bool {
	return id != "" && (m.ClientID == id || m.ServerID == id)
}

// CanonicalID returns the server id when one is attached, else the client id.
func (m *Message) CanonicalID() string {
	if m.ServerID != "" {
		return m.ServerID
	}
	return m.ClientID
}

// ChatType distinguishes one-to-one chats from group chats.
type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// LastMessage is the denormalized summary of a chat's most recent message.
type LastMessage struct {
	ID        string
	Preview   string
	SenderID  string
	CreatedAt int64
}

// Chat is a conversation. UnreadCount is reset only by an explicit
// mark-read action. Chats are never hard-deleted; Archived hides them.
type Chat struct {
	ID           string
	Type         ChatType
	Participants []string
	LastMessage  *LastMessage
	UnreadCount  int
	Archived     bool
	CreatedAt    int64
	UpdatedAt    int64
}

// LastActivity is the timestamp chats are ranked by: the latest of the
// chat's update time, its last message time, and its creation time.
func (c *Chat) LastActivity() int64 {
	ts := c.UpdatedAt
	if c.CreatedAt > ts {
		ts = c.CreatedAt
	}
	if c.LastMessage != nil && c.LastMessage.CreatedAt > ts {
		ts = c.LastMessage.CreatedAt
	}
	return ts
}

// QueuedSend is a durable record of a send that could not reach the
// backend. It survives restarts and is drained by the queue sweeper.
type QueuedSend struct {
	ClientID    string
	ChatID      string
	SenderID    string
	Type        Type
	Content     string
	MediaURL    string
	MediaMeta   map[string]string
	RetryCount  int
	LastRetryAt int64
	CreatedAt   int64
}
