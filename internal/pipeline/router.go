package pipeline

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"chatcore/internal/bus"
	"chatcore/internal/message"
	"chatcore/internal/reconcile"
	"chatcore/internal/state"
	"chatcore/internal/store"
	"chatcore/internal/transport"
)

// Waker is the queue sweeper's wake handle. Kick must never block.
type Waker interface {
	Kick()
}

// Router applies inbound transport events to the store and the reactive
// state. It runs a single goroutine, which serializes all event-driven
// mutations: status advancement needs no further locking here.
type Router struct {
	db     *store.DB
	st     *state.Store
	rec    *reconcile.Reconciler
	sweep  Waker
	bus    *bus.Bus
	logger *zap.Logger

	// Acks arrive on both the socket and the API response path; seen
	// short-circuits the duplicate within the TTL window.
	seen *gocache.Cache

	events <-chan bus.Event
	unsub  func()
	quit   chan struct{}
	done   chan struct{}
}

// NewRouter creates the inbound event router.
func NewRouter(db *store.DB, st *state.Store, rec *reconcile.Reconciler, sweep Waker, b *bus.Bus, logger *zap.Logger) *Router {
	return &Router{
		db: db, st: st, rec: rec, sweep: sweep, bus: b, logger: logger,
		seen: gocache.New(5*time.Minute, 10*time.Minute),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start subscribes to the transport namespace and begins routing.
func (r *Router) Start() {
	r.events, r.unsub = r.bus.Subscribe("transport.", 256)
	go r.loop()
}

// Stop unsubscribes and waits for the routing goroutine to exit.
func (r *Router) Stop() {
	if r.unsub != nil {
		r.unsub()
	}
	close(r.quit)
	<-r.done
}

func (r *Router) loop() {
	defer close(r.done)
	for {
		var evt bus.Event
		select {
		case evt = <-r.events:
		case <-r.quit:
			return
		}
		r.handle(evt)
	}
}

func (r *Router) handle(evt bus.Event) {
	ev, ok := evt.Payload.(transport.Event)
	if !ok {
		return
	}
	switch evt.Kind {
	case bus.KindTransportMessage:
		r.ingest(ev)
	case bus.KindTransportSentAck:
		r.ack(ev)
	case bus.KindTransportDelivered:
		r.receipt(ev, message.StatusDelivered)
	case bus.KindTransportSeen:
		r.receipt(ev, message.StatusSeen)
	case bus.KindTransportStatus:
		st := message.Status(ev.Status)
		if !st.Valid() {
			r.logger.Warn("unknown status in transport event", zap.String("status", ev.Status))
			return
		}
		r.receipt(ev, st)
	case bus.KindTransportConnection:
		if ev.Connected {
			r.sweep.Kick()
		}
	}
}

// ingest stores an inbound message from another participant and bumps
// the chat's unread counter. Redelivered frames are dropped.
func (r *Router) ingest(ev transport.Event) {
	if ev.MessageID == "" || ev.ChatID == "" {
		r.logger.Warn("inbound message missing ids", zap.String("chat_id", ev.ChatID))
		return
	}
	exists, err := r.db.MessageExists(ev.MessageID, ev.MessageID)
	if err != nil {
		r.logger.Error("dedup lookup failed", zap.Error(err), zap.String("id", ev.MessageID))
	}
	if exists {
		return
	}
	createdAt := ev.Timestamp
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	m := &message.Message{
		ClientID:  ev.MessageID,
		ServerID:  ev.MessageID,
		ChatID:    ev.ChatID,
		SenderID:  ev.SenderID,
		Type:      message.Type(ev.MsgType),
		Content:   ev.Content,
		MediaURL:  ev.MediaURL,
		Status:    message.StatusDelivered,
		CreatedAt: createdAt,
	}
	if m.Type == "" {
		m.Type = message.TypeText
	}
	if err := r.db.SaveMessage(m); err != nil {
		r.logger.Error("inbound persist failed", zap.Error(err), zap.String("id", ev.MessageID))
	}
	lm := message.LastMessage{ID: m.CanonicalID(), Preview: m.Content, SenderID: m.SenderID, CreatedAt: m.CreatedAt}
	if err := r.db.ApplyLastMessage(m.ChatID, lm, true); err != nil {
		r.logger.Error("chat summary update failed", zap.Error(err), zap.String("chat_id", m.ChatID))
	}
	r.st.ApplyMessage(*m, true)
	r.publish(bus.KindMessageUpserted, map[string]string{"chat_id": m.ChatID, "client_id": m.ClientID})
}

// ack reconciles a server ack for one of our sends: attach the server
// id, advance to sent.
func (r *Router) ack(ev transport.Event) {
	if ev.ClientID == "" || ev.MessageID == "" || ev.ChatID == "" {
		r.logger.Warn("ack missing ids dropped",
			zap.String("client_id", ev.ClientID), zap.String("server_id", ev.MessageID))
		return
	}
	key := "ack|" + ev.ClientID + "|" + ev.MessageID
	if _, dup := r.seen.Get(key); dup {
		return
	}
	r.seen.SetDefault(key, struct{}{})

	if _, err := r.rec.Apply(ev.ClientID, ev.MessageID, ev.ChatID); err != nil {
		r.logger.Error("ack reconcile failed", zap.Error(err),
			zap.String("client_id", ev.ClientID), zap.String("server_id", ev.MessageID))
		return
	}
	r.st.ApplyReconciled(ev.ChatID, ev.ClientID, ev.MessageID)
	r.advance(ev.ChatID, ev.ClientID, message.StatusSent)
	r.publish(bus.KindMessageSendAck, map[string]string{
		"chat_id": ev.ChatID, "client_id": ev.ClientID, "server_id": ev.MessageID,
	})
}

// receipt applies a delivery/read receipt to the referenced message.
// Every receipt must name both the message and its chat.
func (r *Router) receipt(ev transport.Event, next message.Status) {
	if ev.MessageID == "" || ev.ChatID == "" {
		r.logger.Warn("receipt missing ids dropped",
			zap.String("id", ev.MessageID), zap.String("chat_id", ev.ChatID))
		return
	}
	r.advance(ev.ChatID, ev.MessageID, next)
}

// advance moves a message's status forward in the store and state.
// Receipts for unknown messages and out-of-order regressions are
// dropped; receipts correlated to the wrong chat are rejected.
func (r *Router) advance(chatID, id string, next message.Status) {
	m, err := r.db.GetMessage(id)
	if err != nil {
		if err == store.ErrNotFound {
			r.logger.Debug("receipt for unknown message dropped", zap.String("id", id))
		} else {
			r.logger.Error("receipt lookup failed", zap.Error(err), zap.String("id", id))
		}
		return
	}
	if m.ChatID != chatID {
		r.logger.Warn("receipt correlated to wrong chat rejected",
			zap.String("id", id), zap.String("event_chat", chatID), zap.String("message_chat", m.ChatID))
		return
	}
	st, ok := message.Advance(m.Status, next)
	if !ok {
		return
	}
	if err := r.db.UpdateMessageStatus(id, st); err != nil {
		r.logger.Error("status persist failed", zap.Error(err), zap.String("id", id))
	}
	r.st.ApplyStatus(m.ChatID, id, st)
	r.publish(bus.KindMessageStatus, map[string]string{
		"chat_id": m.ChatID, "client_id": m.ClientID, "status": string(st),
	})
}

func (r *Router) publish(kind string, payload map[string]string) {
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
