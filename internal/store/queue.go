package store

import (
	"fmt"
	"time"

	"chatcore/internal/message"
)

// Enqueue adds a send to the durable queue. Re-enqueueing the same client
// id is a no-op so racing code paths cannot duplicate an entry.
func (db *DB) Enqueue(q *message.QueuedSend) error {
	meta, err := message.EncodeMeta(q.MediaMeta)
	if err != nil {
		return err
	}
	createdAt := q.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	_, err = db.Exec(`
		INSERT INTO send_queue (client_id, chat_id, sender_id, message_type, content, media_url, media_meta, retry_count, last_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO NOTHING`,
		q.ClientID, q.ChatID, q.SenderID, string(q.Type), q.Content, q.MediaURL, meta,
		q.RetryCount, q.LastRetryAt, createdAt)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", q.ClientID, err)
	}
	return nil
}

// DueQueued returns queued sends whose last attempt is at least minDelay
// in the past, oldest first.
func (db *DB) DueQueued(now time.Time, minDelay time.Duration) ([]message.QueuedSend, error) {
	cutoff := now.Add(-minDelay).UnixMilli()
	rows, err := db.Query(`
		SELECT client_id, chat_id, sender_id, message_type, content, media_url, media_meta, retry_count, last_retry_at, created_at
		FROM send_queue
		WHERE last_retry_at <= ?
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []message.QueuedSend
	for rows.Next() {
		var q message.QueuedSend
		var meta string
		if err := rows.Scan(&q.ClientID, &q.ChatID, &q.SenderID, &q.Type, &q.Content,
			&q.MediaURL, &meta, &q.RetryCount, &q.LastRetryAt, &q.CreatedAt); err != nil {
			return nil, err
		}
		if q.MediaMeta, err = message.DecodeMeta(meta); err != nil {
			return nil, err
		}
		entries = append(entries, q)
	}
	return entries, rows.Err()
}

// BumpRetry records a failed attempt against a queued send.
func (db *DB) BumpRetry(clientID string, at time.Time) error {
	res, err := db.Exec(`
		UPDATE send_queue SET retry_count = retry_count + 1, last_retry_at = ?
		WHERE client_id = ?`, at.UnixMilli(), clientID)
	if err != nil {
		return fmt.Errorf("bump retry %s: %w", clientID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveQueued drops an entry from the queue, after confirmed success or
// once its retry budget is exhausted.
func (db *DB) RemoveQueued(clientID string) error {
	_, err := db.Exec(`DELETE FROM send_queue WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("remove queued %s: %w", clientID, err)
	}
	return nil
}

// QueuedCount returns the number of entries waiting in the queue.
func (db *DB) QueuedCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM send_queue`).Scan(&n)
	return n, err
}
