package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"friendclub/internal/domain"
	"friendclub/internal/observability"
)

const (
	upsertMessageQuery = `
		INSERT INTO cached_messages (id, seq, text, media_url, author_id, author_handle, created_at, cross_post_ref, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			media_url = EXCLUDED.media_url,
			author_id = EXCLUDED.author_id,
			author_handle = EXCLUDED.author_handle,
			created_at = EXCLUDED.created_at,
			cross_post_ref = EXCLUDED.cross_post_ref,
			expires_at = EXCLUDED.expires_at
	`

	deleteMessageQuery = `DELETE FROM cached_messages WHERE id = $1`

	listMessagesQuery = `
		SELECT id, text, media_url, author_id, author_handle, created_at, cross_post_ref, expires_at
		FROM cached_messages
		ORDER BY created_at ASC, seq ASC
	`

	countMessagesQuery = `SELECT COUNT(*) FROM cached_messages`

	pruneMessagesQuery = `
		DELETE FROM cached_messages
		WHERE id NOT IN (
			SELECT id FROM cached_messages
			ORDER BY created_at DESC, seq DESC
			LIMIT $1
		)
		RETURNING id
	`

	maxSeqQuery = `SELECT COALESCE(MAX(seq), 0) FROM cached_messages`
)

// MessageRepository implements domain.MessageRepository for PostgreSQL
type MessageRepository struct {
	db         *sql.DB
	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
	listStmt   *sql.Stmt
	countStmt  *sql.Stmt
	pruneStmt  *sql.Stmt
	maxSeqStmt *sql.Stmt
}

// NewMessageRepository prepares every statement up front. The table must
// already exist (see Migrate).
func NewMessageRepository(db *sql.DB) (*MessageRepository, error) {
	repo := &MessageRepository{db: db}

	stmts := []struct {
		name  string
		query string
		dst   **sql.Stmt
	}{
		{"upsert", upsertMessageQuery, &repo.upsertStmt},
		{"delete", deleteMessageQuery, &repo.deleteStmt},
		{"list", listMessagesQuery, &repo.listStmt},
		{"count", countMessagesQuery, &repo.countStmt},
		{"prune", pruneMessagesQuery, &repo.pruneStmt},
		{"maxSeq", maxSeqQuery, &repo.maxSeqStmt},
	}

	for _, s := range stmts {
		stmt, err := db.Prepare(s.query)
		if err != nil {
			repo.closeStatements()
			return nil, fmt.Errorf("failed to prepare %s statement: %w", s.name, err)
		}
		*s.dst = stmt
	}

	return repo, nil
}

func (r *MessageRepository) Upsert(ctx context.Context, message *domain.ChatMessage, seq int64) error {
	defer observe("upsert")()

	_, err := r.upsertStmt.ExecContext(ctx,
		message.ID,
		seq,
		message.Text,
		message.MediaURL,
		message.AuthorID,
		message.AuthorHandle,
		message.CreatedAt,
		message.CrossPostRef,
		message.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) Delete(ctx context.Context, id string) (bool, error) {
	defer observe("delete")()

	result, err := r.deleteStmt.ExecContext(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns messages oldest first, ties broken by arrival order.
func (r *MessageRepository) List(ctx context.Context) ([]*domain.ChatMessage, error) {
	defer observe("list")()

	rows, err := r.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*domain.ChatMessage, 0)
	for rows.Next() {
		msg := &domain.ChatMessage{}
		if err := rows.Scan(
			&msg.ID,
			&msg.Text,
			&msg.MediaURL,
			&msg.AuthorID,
			&msg.AuthorHandle,
			&msg.CreatedAt,
			&msg.CrossPostRef,
			&msg.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Prune deletes everything but the newest keep rows and returns the removed ids.
func (r *MessageRepository) Prune(ctx context.Context, keep int) ([]string, error) {
	defer observe("prune")()

	rows, err := r.pruneStmt.QueryContext(ctx, keep)
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

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pruned ids: %w", err)
	}
	return removed, nil
}

func (r *MessageRepository) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.maxSeqStmt.QueryRowContext(ctx).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read max seq: %w", err)
	}
	return seq, nil
}

// Close releases the prepared statements. The *sql.DB is owned by the caller.
func (r *MessageRepository) Close() error {
	r.closeStatements()
	return nil
}

func (r *MessageRepository) closeStatements() {
	for _, stmt := range []*sql.Stmt{r.upsertStmt, r.deleteStmt, r.listStmt, r.countStmt, r.pruneStmt, r.maxSeqStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

func observe(operation string) func() {
	start := time.Now()
	return func() {
		observability.DBQueryDuration.WithLabelValues(operation, "postgres").Observe(time.Since(start).Seconds())
	}
}
