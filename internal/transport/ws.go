package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatcore/internal/bus"
)

const writeTimeout = 5 * time.Second

// WSTransport is the websocket implementation of Transport. A single
// reader goroutine decodes inbound frames into Events and publishes them
// on the bus; writes are serialized through a mutex.
type WSTransport struct {
	url     string
	bus     *bus.Bus
	machine *StateMachine
	logger  *zap.Logger

	mu     sync.Mutex // guards conn and writes
	conn   *websocket.Conn
	closed bool
}

// NewWSTransport creates a websocket transport for the given endpoint.
func NewWSTransport(url string, b *bus.Bus, logger *zap.Logger) *WSTransport {
	return &WSTransport{
		url:     url,
		bus:     b,
		machine: NewStateMachine(b),
		logger:  logger,
	}
}

// State exposes the connection state machine.
func (t *WSTransport) State() *StateMachine {
	return t.machine
}

// Connect dials the endpoint and starts the read loop.
func (t *WSTransport) Connect(ctx context.Context, userID, token string) error {
	if err := t.machine.Transition(Connecting); err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-User-ID", userID)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		_ = t.machine.Transition(Disconnected)
		return fmt.Errorf("dial %s: %w", t.url, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("transport closed")
	}
	t.conn = conn
	t.mu.Unlock()

	if err := t.machine.Transition(Connected); err != nil {
		t.logger.Warn("connection state transition rejected", zap.Error(err))
	}
	t.logger.Info("transport connected", zap.String("url", t.url), zap.String("user_id", userID))

	go t.readLoop(conn)
	return nil
}

// Send pushes a message frame over the channel, best-effort.
func (t *WSTransport) Send(_ context.Context, msg OutboundMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.machine.Current() != Connected {
		return false
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.conn.WriteJSON(msg); err != nil {
		t.logger.Warn("transport send failed", zap.Error(err), zap.String("client_id", msg.ClientID))
		return false
	}
	return true
}

// IsConnected reports whether the channel is currently up.
func (t *WSTransport) IsConnected() bool {
	return t.machine.Current() == Connected
}

// Close tears the channel down.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	_ = t.machine.Transition(Closed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			if !closed {
				t.logger.Warn("transport read failed, channel down", zap.Error(err))
				_ = t.machine.Transition(Reconnecting)
				_ = t.machine.Transition(Disconnected)
			}
			return
		}

		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.logger.Warn("dropping malformed transport frame", zap.Error(err))
			continue
		}
		t.publish(evt)
	}
}

func (t *WSTransport) publish(evt Event) {
	kind := ""
	switch evt.Type {
	case EventMessage:
		kind = bus.KindTransportMessage
	case EventSentAck:
		kind = bus.KindTransportSentAck
	case EventDelivered:
		kind = bus.KindTransportDelivered
	case EventSeen:
		kind = bus.KindTransportSeen
	case EventStatus:
		kind = bus.KindTransportStatus
	case EventConnection:
		kind = bus.KindTransportConnection
	default:
		t.logger.Warn("dropping transport event of unknown type", zap.String("type", string(evt.Type)))
		return
	}
	t.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: evt})
}
