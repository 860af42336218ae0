// Package transport defines the real-time channel the delivery pipeline
// talks to, plus the inbound event taxonomy. The wire protocol belongs to
// the backing service; the core only requires that every event carries a
// message id, a chat id and a timestamp.
package transport

import "context"

// EventType classifies inbound transport events.
type EventType string

const (
	// EventMessage is a message received from another participant.
	EventMessage EventType = "message"
	// EventSentAck confirms an outbound message was accepted; it carries
	// the client id it answers and the server-assigned id.
	EventSentAck EventType = "sent_ack"
	// EventDelivered is a delivery receipt for an outbound message.
	EventDelivered EventType = "delivered"
	// EventSeen is a read receipt for an outbound message.
	EventSeen EventType = "seen"
	// EventStatus carries an explicit status value for a message.
	EventStatus EventType = "status"
	// EventConnection signals a connection state change.
	EventConnection EventType = "connection"
)

// Event is an inbound transport event.
type Event struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"message_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	SenderID  string    `json:"sender_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	MsgType   string    `json:"message_type,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Connected bool      `json:"connected,omitempty"`
}

// OutboundMessage is the payload handed to the transport for a
// best-effort send.
type OutboundMessage struct {
	ClientID string `json:"client_id"`
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`
	MsgType  string `json:"message_type"`
	Content  string `json:"content"`
	MediaURL string `json:"media_url,omitempty"`
}

// Transport is the real-time bidirectional channel. Implementations
// publish inbound events on the bus under the "transport." namespace.
type Transport interface {
	// Connect establishes the channel for the given user. It returns once
	// the channel is up; inbound events then flow on the bus.
	Connect(ctx context.Context, userID, token string) error
	// Send pushes a message over the channel, best-effort. The returned
	// flag only means the payload was accepted for transmission.
	Send(ctx context.Context, msg OutboundMessage) bool
	// IsConnected reports whether the channel is currently up.
	IsConnected() bool
	// Close tears the channel down.
	Close() error
}
