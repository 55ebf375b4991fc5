// Package sqlite stores the message cache in a local SQLite file so a
// restarted process comes back with the last known feed.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"friendclub/internal/domain"
	"friendclub/internal/observability"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_messages (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	text TEXT NOT NULL,
	media_url TEXT NOT NULL DEFAULT '',
	author_id TEXT NOT NULL,
	author_handle TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	cross_post_ref TEXT NOT NULL DEFAULT '',
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cached_messages_order ON cached_messages (created_at, seq);
`

// MessageRepository implements domain.MessageRepository on SQLite.
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates the schema if needed.
func NewMessageRepository(ctx context.Context, db *sql.DB) (*MessageRepository, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &MessageRepository{db: db}, nil
}

func (r *MessageRepository) Upsert(ctx context.Context, message *domain.ChatMessage, seq int64) error {
	defer observe("upsert")()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cached_messages (id, seq, text, media_url, author_id, author_handle, created_at, cross_post_ref, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			text = excluded.text,
			media_url = excluded.media_url,
			author_id = excluded.author_id,
			author_handle = excluded.author_handle,
			created_at = excluded.created_at,
			cross_post_ref = excluded.cross_post_ref,
			expires_at = excluded.expires_at`,
		message.ID, seq, message.Text, message.MediaURL, message.AuthorID,
		message.AuthorHandle, message.CreatedAt, message.CrossPostRef, message.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) Delete(ctx context.Context, id string) (bool, error) {
	defer observe("delete")()

	result, err := r.db.ExecContext(ctx, `DELETE FROM cached_messages WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *MessageRepository) List(ctx context.Context) ([]*domain.ChatMessage, error) {
	defer observe("list")()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, media_url, author_id, author_handle, created_at, cross_post_ref, expires_at
		FROM cached_messages
		ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.ChatMessage
	for rows.Next() {
		m := &domain.ChatMessage{}
		if err := rows.Scan(&m.ID, &m.Text, &m.MediaURL, &m.AuthorID, &m.AuthorHandle,
			&m.CreatedAt, &m.CrossPostRef, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *MessageRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cached_messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (r *MessageRepository) Prune(ctx context.Context, keep int) ([]string, error) {
	defer observe("prune")()

	rows, err := r.db.QueryContext(ctx, `
		DELETE FROM cached_messages
		WHERE id NOT IN (
			SELECT id FROM cached_messages
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)
		RETURNING id`, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to prune messages: %w", err)
	}
	defer rows.Close()

	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pruned id: %w", err)
		}
		removed = append(removed, id)
	}
	return removed, rows.Err()
}

func (r *MessageRepository) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM cached_messages`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read max seq: %w", err)
	}
	return seq, nil
}

// Close closes the underlying database; this adapter owns its file.
func (r *MessageRepository) Close() error {
	return r.db.Close()
}

func observe(operation string) func() {
	start := time.Now()
	return func() {
		observability.DBQueryDuration.WithLabelValues(operation, "sqlite").Observe(time.Since(start).Seconds())
	}
}
