// Package pipeline is the send orchestrator: it creates optimistic
// messages, drives them through the transport and the remote API,
// applies the retry policy, and converges the durable store and the
// in-memory state to a single view. Its Router half applies inbound
// transport events to the same records.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/api"
	"chatcore/internal/bus"
	"chatcore/internal/chatlist"
	"chatcore/internal/message"
	"chatcore/internal/reconcile"
	"chatcore/internal/state"
	"chatcore/internal/store"
	"chatcore/internal/transport"
)

// RetryPolicy bounds the in-line send attempts. Delay before attempt n+1
// is BaseDelay × n (progressive backoff: 1s, 2s, 3s with the defaults).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is the consolidated policy: 3 attempts, 1s step.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

// Orchestrator coordinates outbound sends.
type Orchestrator struct {
	db     *store.DB
	st     *state.Store
	api    api.Client
	tp     transport.Transport
	rec    *reconcile.Reconciler
	bus    *bus.Bus
	logger *zap.Logger
	policy RetryPolicy
}

// NewOrchestrator creates the send orchestrator.
func NewOrchestrator(db *store.DB, st *state.Store, apiClient api.Client, tp transport.Transport,
	rec *reconcile.Reconciler, b *bus.Bus, logger *zap.Logger, policy RetryPolicy) *Orchestrator {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	return &Orchestrator{
		db: db, st: st, api: apiClient, tp: tp,
		rec: rec, bus: b, logger: logger, policy: policy,
	}
}

// Send creates an optimistic message and delivers it. The message is
// persisted and visible in state, in "sending" status, before the first
// network suspension so the UI reflects the attempt immediately.
//
// The returned message reflects the outcome: status "sent" with the
// server id attached on success, "sending" when the send was queued for
// the offline sweep. On terminal failure the message is returned in
// "failed" status together with the error.
func (o *Orchestrator) Send(ctx context.Context, chatID, senderID string, p message.Payload) (*message.Message, error) {
	m := &message.Message{
		ClientID:  message.NewClientID(),
		ChatID:    chatID,
		SenderID:  senderID,
		Status:    message.StatusSending,
		CreatedAt: time.Now().UnixMilli(),
		FromMe:    true,
	}
	message.ApplyPayload(m, p)

	// Optimistic write. A store failure is degraded mode, not a reason to
	// drop the send: the network path still runs.
	if err := o.db.SaveMessage(m); err != nil {
		o.logger.Error("optimistic persist failed, continuing degraded",
			zap.Error(err), zap.String("client_id", m.ClientID))
	}
	if err := o.db.ApplyLastMessage(chatID, summaryOf(m), false); err != nil {
		o.logger.Error("chat summary update failed", zap.Error(err), zap.String("chat_id", chatID))
	}
	o.st.ApplyMessage(*m, false)
	o.publish(bus.KindMessageUpserted, map[string]string{"chat_id": chatID, "client_id": m.ClientID})

	return o.deliver(ctx, m)
}

// Retry re-runs delivery for a previously failed message. It starts a
// fresh attempt cycle; nothing is resumed from the earlier one.
func (o *Orchestrator) Retry(ctx context.Context, clientID string) (*message.Message, error) {
	m, err := o.db.GetMessage(clientID)
	if err != nil {
		return nil, err
	}
	if m.Status != message.StatusFailed {
		return nil, fmt.Errorf("retry %s: status is %s, not failed", clientID, m.Status)
	}
	m.Status = message.StatusSending
	if err := o.db.UpdateMessageStatus(m.ClientID, message.StatusSending); err != nil {
		o.logger.Error("retry status persist failed", zap.Error(err), zap.String("client_id", m.ClientID))
	}
	o.st.ApplyStatus(m.ChatID, m.ClientID, message.StatusSending)
	o.publish(bus.KindMessageUpserted, map[string]string{"chat_id": m.ChatID, "client_id": m.ClientID})

	return o.deliver(ctx, m)
}

// DeliverQueued runs a single delivery attempt for a queued send. The
// caller (the queue sweeper) owns pacing and the retry budget.
func (o *Orchestrator) DeliverQueued(ctx context.Context, q message.QueuedSend) error {
	m, err := o.db.GetMessage(q.ClientID)
	if err != nil {
		// The optimistic row was lost (degraded-mode write); rebuild it.
		m = &message.Message{
			ClientID: q.ClientID, ChatID: q.ChatID, SenderID: q.SenderID,
			Type: q.Type, Content: q.Content, MediaURL: q.MediaURL, MediaMeta: q.MediaMeta,
			Status: message.StatusSending, CreatedAt: q.CreatedAt, FromMe: true,
		}
		if err := o.db.SaveMessage(m); err != nil {
			o.logger.Error("queued message rebuild failed", zap.Error(err), zap.String("client_id", q.ClientID))
		}
	}
	if o.tp.IsConnected() {
		go o.tp.Send(context.WithoutCancel(ctx), outboundOf(m))
	}
	rec, err := o.api.SendMessage(ctx, m.ChatID, requestOf(m))
	if err != nil {
		return err
	}
	o.confirm(m, rec.ID)
	return nil
}

// MarkAsRead resets the chat's unread counter, in the store and in state.
func (o *Orchestrator) MarkAsRead(chatID string) error {
	if err := o.db.MarkChatRead(chatID); err != nil {
		return err
	}
	o.st.MarkRead(chatID)
	return nil
}

// SetChatArchived flips a chat's archival flag, durably and in state.
func (o *Orchestrator) SetChatArchived(chatID string, archived bool) error {
	if err := o.db.SetChatArchived(chatID, archived); err != nil {
		return err
	}
	o.st.SetArchived(chatID, archived)
	return nil
}

// RefreshChats fetches the chat list from the remote API and merges it
// into state; per-chat, whichever side has the more recent activity wins.
func (o *Orchestrator) RefreshChats(ctx context.Context) error {
	chats, err := o.api.GetUserChats(ctx)
	if err != nil {
		return err
	}
	for i := range chats {
		if err := o.db.UpsertChat(&chats[i]); err != nil {
			o.logger.Error("chat persist failed", zap.Error(err), zap.String("chat_id", chats[i].ID))
		}
	}
	o.st.SetChats(chats)
	return nil
}

// SyncChatMessages merges a chat's remote history page with the local
// cache, deduplicating temp/server variants of the same logical message.
func (o *Orchestrator) SyncChatMessages(ctx context.Context, chatID string, opts api.PageOptions) error {
	remote, err := o.api.GetChatMessages(ctx, chatID, opts)
	if err != nil {
		return err
	}
	local, err := o.db.GetMessages(chatID)
	if err != nil {
		o.logger.Error("local history read failed", zap.Error(err), zap.String("chat_id", chatID))
	}
	merged := chatlist.Deduplicate(append(local, remote...))
	for i := range merged {
		if err := o.db.SaveMessage(&merged[i]); err != nil {
			o.logger.Error("history persist failed", zap.Error(err), zap.String("client_id", merged[i].ClientID))
		}
		o.st.ApplyMessage(merged[i], false)
	}
	return nil
}

// deliver runs the concurrent transport + API delivery for m.
func (o *Orchestrator) deliver(ctx context.Context, m *message.Message) (*message.Message, error) {
	// Best-effort real-time path; the API path below is authoritative.
	if o.tp.IsConnected() {
		go o.tp.Send(context.WithoutCancel(ctx), outboundOf(m))
	}

	rec, err := o.createWithRetry(ctx, m)
	if err == nil {
		o.confirm(m, rec.ID)
		return m, nil
	}
	if !api.IsRetryable(err) {
		o.fail(m, err)
		return m, err
	}
	if !o.tp.IsConnected() {
		// Fully offline: park the send for the reconnect sweep instead of
		// failing it.
		o.enqueue(m)
		return m, nil
	}
	o.fail(m, err)
	return m, err
}

// createWithRetry calls the authoritative create with progressive
// backoff. Validation rejections abort immediately.
func (o *Orchestrator) createWithRetry(ctx context.Context, m *message.Message) (*api.MessageRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		rec, err := o.api.SendMessage(ctx, m.ChatID, requestOf(m))
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if !api.IsRetryable(err) {
			return nil, err
		}
		o.logger.Warn("send attempt failed",
			zap.Error(err), zap.String("client_id", m.ClientID), zap.Int("attempt", attempt))
		if attempt == o.policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(o.policy.BaseDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// confirm converges a message onto its server identity and "sent"
// status. Idempotent: the transport ack path may already have applied
// either half.
func (o *Orchestrator) confirm(m *message.Message, serverID string) {
	if _, err := o.rec.Apply(m.ClientID, serverID, m.ChatID); err != nil {
		o.logger.Error("reconcile failed", zap.Error(err),
			zap.String("client_id", m.ClientID), zap.String("server_id", serverID))
	}
	m.ServerID = serverID

	if cur, err := o.db.GetMessage(m.ClientID); err == nil {
		m.ServerID = cur.ServerID
		if st, ok := message.Advance(cur.Status, message.StatusSent); ok {
			if err := o.db.UpdateMessageStatus(m.ClientID, st); err != nil {
				o.logger.Error("sent status persist failed", zap.Error(err), zap.String("client_id", m.ClientID))
			}
		}
		m.Status = cur.Status
	}
	if st, ok := message.Advance(m.Status, message.StatusSent); ok {
		m.Status = st
	}

	o.st.ApplyReconciled(m.ChatID, m.ClientID, m.ServerID)
	o.st.ApplyStatus(m.ChatID, m.ClientID, message.StatusSent)
	if err := o.db.RemoveQueued(m.ClientID); err != nil {
		o.logger.Warn("queue cleanup failed", zap.Error(err), zap.String("client_id", m.ClientID))
	}
	o.publish(bus.KindMessageSendAck, map[string]string{
		"chat_id": m.ChatID, "client_id": m.ClientID, "server_id": m.ServerID,
	})
}

// fail marks a message terminally failed and surfaces it.
func (o *Orchestrator) fail(m *message.Message, cause error) {
	m.Status = message.StatusFailed
	if err := o.db.UpdateMessageStatus(m.ClientID, message.StatusFailed); err != nil {
		o.logger.Error("failed status persist failed", zap.Error(err), zap.String("client_id", m.ClientID))
	}
	o.st.ApplyStatus(m.ChatID, m.ClientID, message.StatusFailed)
	o.publish(bus.KindMessageSendFailed, map[string]string{
		"chat_id": m.ChatID, "client_id": m.ClientID, "error": cause.Error(),
	})
}

// enqueue parks an unreachable send in the durable queue.
func (o *Orchestrator) enqueue(m *message.Message) {
	q := &message.QueuedSend{
		ClientID: m.ClientID, ChatID: m.ChatID, SenderID: m.SenderID,
		Type: m.Type, Content: m.Content, MediaURL: m.MediaURL, MediaMeta: m.MediaMeta,
		CreatedAt: m.CreatedAt,
	}
	if err := o.db.Enqueue(q); err != nil {
		o.logger.Error("enqueue failed", zap.Error(err), zap.String("client_id", m.ClientID))
		return
	}
	o.logger.Info("send queued for offline sweep", zap.String("client_id", m.ClientID))
	o.publish(bus.KindMessageQueued, map[string]string{"chat_id": m.ChatID, "client_id": m.ClientID})
}

// FailQueued marks a queued send terminally failed once its retry budget
// is exhausted.
func (o *Orchestrator) FailQueued(q message.QueuedSend, cause error) {
	m := &message.Message{ClientID: q.ClientID, ChatID: q.ChatID, Status: message.StatusSending}
	o.fail(m, cause)
}

func (o *Orchestrator) publish(kind string, payload map[string]string) {
	o.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func summaryOf(m *message.Message) message.LastMessage {
	return message.LastMessage{
		ID:        m.CanonicalID(),
		Preview:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
}

func requestOf(m *message.Message) api.SendRequest {
	return api.SendRequest{
		ClientID:    m.ClientID,
		Content:     m.Content,
		MessageType: string(m.Type),
		MediaURL:    m.MediaURL,
	}
}

func outboundOf(m *message.Message) transport.OutboundMessage {
	return transport.OutboundMessage{
		ClientID: m.ClientID,
		ChatID:   m.ChatID,
		SenderID: m.SenderID,
		MsgType:  string(m.Type),
		Content:  m.Content,
		MediaURL: m.MediaURL,
	}
}
