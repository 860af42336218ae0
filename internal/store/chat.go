package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatcore/internal/message"
)

// UpsertChat inserts or updates a chat record. The unread counter is NOT
// written by a generic upsert: it changes only through ApplyLastMessage
// and MarkChatRead.
func (db *DB) UpsertChat(c *message.Chat) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	now := time.Now().UnixMilli()
	createdAt := c.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	updatedAt := c.UpdatedAt
	if updatedAt == 0 {
		updatedAt = now
	}
	var lmID, lmPreview, lmSender string
	var lmAt int64
	if c.LastMessage != nil {
		lmID, lmPreview, lmSender, lmAt = c.LastMessage.ID, c.LastMessage.Preview, c.LastMessage.SenderID, c.LastMessage.CreatedAt
	}
	_, err = db.Exec(`
		INSERT INTO chats (id, chat_type, participants, last_message_id, last_message_preview, last_message_sender, last_message_at, unread_count, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_type = excluded.chat_type,
			participants = excluded.participants,
			last_message_id = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_id ELSE chats.last_message_id END,
			last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			last_message_sender = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_sender ELSE chats.last_message_sender END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			archived = excluded.archived,
			updated_at = MAX(chats.updated_at, excluded.updated_at)`,
		c.ID, string(c.Type), string(participants), lmID, lmPreview, lmSender, lmAt,
		c.UnreadCount, c.Archived, createdAt, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert chat %s: %w", c.ID, err)
	}
	return nil
}

// ApplyLastMessage updates a chat's denormalized last-message summary,
// creating the chat if this is its first message. When bumpUnread is set
// the unread counter is incremented by one.
func (db *DB) ApplyLastMessage(chatID string, lm message.LastMessage, bumpUnread bool) error {
	now := time.Now().UnixMilli()
	bump := 0
	if bumpUnread {
		bump = 1
	}
	_, err := db.Exec(`
		INSERT INTO chats (id, last_message_id, last_message_preview, last_message_sender, last_message_at, unread_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_id = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_id ELSE chats.last_message_id END,
			last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			last_message_sender = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_sender ELSE chats.last_message_sender END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			unread_count = chats.unread_count + ?,
			updated_at = MAX(chats.updated_at, excluded.updated_at)`,
		chatID, lm.ID, lm.Preview, lm.SenderID, lm.CreatedAt, bump, now, now, bump)
	if err != nil {
		return fmt.Errorf("apply last message %s: %w", chatID, err)
	}
	return nil
}

// MarkChatRead resets a chat's unread counter. This is the only operation
// that zeroes it.
func (db *DB) MarkChatRead(chatID string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE chats SET unread_count = 0, updated_at = ? WHERE id = ?`, now, chatID)
	if err != nil {
		return fmt.Errorf("mark chat read %s: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChatArchived flips the archival flag. Chats are never hard-deleted.
func (db *DB) SetChatArchived(chatID string, archived bool) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE chats SET archived = ?, updated_at = ? WHERE id = ?`, archived, now, chatID)
	if err != nil {
		return fmt.Errorf("set archived %s: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetChat returns a single chat by id, or nil when absent.
func (db *DB) GetChat(id string) (*message.Chat, error) {
	row := db.QueryRow(chatSelect+` WHERE id = ?`, id)
	c, err := scanChat(row)
	if err == ErrNotFound {
		return nil, nil
	}
	return c, err
}

// ListChats returns all non-archived chats ordered by last activity,
// most recent first, with a deterministic id tie-break.
func (db *DB) ListChats() ([]message.Chat, error) {
	rows, err := db.Query(chatSelect + `
		WHERE archived = 0
		ORDER BY MAX(updated_at, last_message_at, created_at) DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []message.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

const chatSelect = `
	SELECT id, chat_type, participants, last_message_id, last_message_preview, last_message_sender, last_message_at, unread_count, archived, created_at, updated_at
	FROM chats`

func scanChat(row rowScanner) (*message.Chat, error) {
	var c message.Chat
	var participants string
	var lm message.LastMessage
	err := row.Scan(&c.ID, &c.Type, &participants, &lm.ID, &lm.Preview, &lm.SenderID, &lm.CreatedAt,
		&c.UnreadCount, &c.Archived, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	if lm.ID != "" || lm.CreatedAt > 0 {
		c.LastMessage = &lm
	}
	return &c, nil
}
