package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core. Subscribers filter by namespace
// prefix, e.g. "transport." or "message.".
const (
	// Inbound transport events, published by the transport adapter.
	KindTransportMessage    = "transport.message"
	KindTransportSentAck    = "transport.sent_ack"
	KindTransportDelivered  = "transport.delivered"
	KindTransportSeen       = "transport.seen"
	KindTransportStatus     = "transport.status"
	KindTransportConnection = "transport.connection"

	// Delivery pipeline events, consumed by the UI layer.
	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindMessageQueued     = "message.queued"
	KindMessageStatus     = "message.status_changed"

	// Reactive state change notifications.
	KindStateChanged = "state.changed"
)
