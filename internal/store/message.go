package store

import (
	"database/sql"
	"fmt"
	"time"

	"chatcore/internal/message"
)

// SaveMessage upserts a message keyed by client id. Safe to call multiple
// times for the same client id: created_at and the server id mapping are
// never touched by a re-save.
func (db *DB) SaveMessage(m *message.Message) error {
	meta, err := message.EncodeMeta(m.MediaMeta)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO messages (client_id, server_id, chat_id, sender_id, message_type, content, media_url, media_meta, status, from_me, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			content = excluded.content,
			media_url = excluded.media_url,
			media_meta = excluded.media_meta,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		m.ClientID, nullable(m.ServerID), m.ChatID, m.SenderID, string(m.Type),
		m.Content, m.MediaURL, meta, string(m.Status), m.FromMe, m.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("save message %s: %w", m.ClientID, err)
	}
	return nil
}

// GetMessage finds a message by either its client id or its server id.
func (db *DB) GetMessage(id string) (*message.Message, error) {
	row := db.QueryRow(messageSelect+` WHERE client_id = ? OR server_id = ?`, id, id)
	return scanMessage(row)
}

// GetMessages returns all persisted messages for a chat, ordered by
// creation time ascending with a deterministic tie-break on client id.
func (db *DB) GetMessages(chatID string) ([]message.Message, error) {
	rows, err := db.Query(messageSelect+`
		WHERE chat_id = ?
		ORDER BY created_at ASC, client_id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MessageExists reports whether a message is already stored under either
// identifier. Used to keep the send path and the inbound-event path from
// inserting the same message twice.
func (db *DB) MessageExists(clientID, serverID string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE (? != '' AND (client_id = ? OR server_id = ?))
		   OR (? != '' AND (client_id = ? OR server_id = ?))`,
		clientID, clientID, clientID, serverID, serverID, serverID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateMessageStatus sets the status of the message found by either id.
// It writes the status as given; forward-only ordering is enforced by the
// callers that observe events, not by the store.
func (db *DB) UpdateMessageStatus(id string, status message.Status) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE messages SET status = ?, updated_at = ?
		WHERE client_id = ? OR server_id = ?`,
		string(status), now, id, id)
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachServerID records the server-assigned id for a message, one-way.
// attached reports whether this call wrote the mapping; prior holds the
// previously attached id when a different mapping already exists. The
// stored mapping is never overwritten, and reapplying the same pair is a
// no-op with attached=false.
func (db *DB) AttachServerID(clientID, serverID string) (attached bool, prior string, err error) {
	tx, err := db.Begin()
	if err != nil {
		return false, "", err
	}
	defer func() { _ = tx.Rollback() }()

	var current sql.NullString
	err = tx.QueryRow(`SELECT server_id FROM messages WHERE client_id = ?`, clientID).Scan(&current)
	if err == sql.ErrNoRows {
		return false, "", ErrNotFound
	}
	if err != nil {
		return false, "", err
	}
	if current.Valid && current.String != "" {
		if current.String != serverID {
			return false, current.String, tx.Commit()
		}
		return false, "", tx.Commit()
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`UPDATE messages SET server_id = ?, updated_at = ? WHERE client_id = ?`,
		serverID, now, clientID); err != nil {
		return false, "", fmt.Errorf("attach server id %s -> %s: %w", clientID, serverID, err)
	}
	return true, "", tx.Commit()
}

const messageSelect = `
	SELECT client_id, server_id, chat_id, sender_id, message_type, content, media_url, media_meta, status, from_me, created_at, updated_at
	FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*message.Message, error) {
	var m message.Message
	var serverID sql.NullString
	var meta string
	err := row.Scan(&m.ClientID, &serverID, &m.ChatID, &m.SenderID, &m.Type,
		&m.Content, &m.MediaURL, &meta, &m.Status, &m.FromMe, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ServerID = serverID.String
	if m.MediaMeta, err = message.DecodeMeta(meta); err != nil {
		return nil, err
	}
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
