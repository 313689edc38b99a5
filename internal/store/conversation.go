package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const previewLen = 100

// RecordOpened inserts the conversation or refreshes its opened_at.
func (db *DB) RecordOpened(ctx context.Context, id, peer, local string, at time.Time) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO conversations (id, peer, local_user, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			opened_at = excluded.opened_at,
			updated_at = excluded.updated_at`,
		id, peer, local, at.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("record opened %s: %w", id, err)
	}
	return nil
}

// RecordActivity stores the newest message seen for id. An older activity
// never replaces a newer one.
func (db *DB) RecordActivity(ctx context.Context, id string, a Activity) error {
	res, err := db.ExecContext(ctx, `
		UPDATE conversations SET
			last_message_id = ?,
			last_message_at = ?,
			last_message_preview = ?,
			message_count = MAX(message_count, ?),
			updated_at = ?
		WHERE id = ? AND last_message_at <= ?`,
		a.MessageID, a.At, truncate(a.Preview, previewLen), a.Count, time.Now().UnixMilli(), id, a.At)
	if err != nil {
		return fmt.Errorf("record activity %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already newer; only the count may move.
		if _, err := db.ExecContext(ctx,
			`UPDATE conversations SET message_count = MAX(message_count, ?) WHERE id = ?`, a.Count, id); err != nil {
			return fmt.Errorf("record count %s: %w", id, err)
		}
	}
	return nil
}

// MarkRead moves the read marker of id forward to at.
func (db *DB) MarkRead(ctx context.Context, id string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE conversations SET last_read_at = MAX(last_read_at, ?), updated_at = ?
		WHERE id = ?`, at.UnixMilli(), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	return nil
}

// GetConversation returns the row for id, or nil when it was never opened.
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRowContext(ctx, `
		SELECT id, peer, local_user, opened_at, last_read_at, last_message_id,
			last_message_at, last_message_preview, message_count
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Peer, &c.LocalUser, &c.OpenedAt, &c.LastReadAt, &c.LastMessageID,
			&c.LastMessageAt, &c.LastMessagePreview, &c.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListConversations returns local's conversations, most recently active first.
func (db *DB) ListConversations(ctx context.Context, local string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, peer, local_user, opened_at, last_read_at, last_message_id,
			last_message_at, last_message_preview, message_count
		FROM conversations
		WHERE local_user = ?
		ORDER BY MAX(last_message_at, opened_at) DESC, id
		LIMIT ?`, local, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Peer, &c.LocalUser, &c.OpenedAt, &c.LastReadAt, &c.LastMessageID,
			&c.LastMessageAt, &c.LastMessagePreview, &c.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
