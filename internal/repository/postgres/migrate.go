package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// migrationLockID keys the advisory lock that serialises schema changes when
// several instances start against one database.
const migrationLockID int64 = 0x66636c7562 // "fclub"

const migrationLockQuery = `SELECT pg_advisory_xact_lock($1)`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cached_messages (
		id TEXT PRIMARY KEY,
		seq BIGINT NOT NULL,
		text TEXT NOT NULL,
		media_url TEXT NOT NULL DEFAULT '',
		author_id TEXT NOT NULL,
		author_handle TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		cross_post_ref TEXT NOT NULL DEFAULT '',
		expires_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_messages_order ON cached_messages (created_at, seq)`,
}

// Migrate creates the cache table and its ordering index. Every statement is
// idempotent, so instances racing at boot simply queue on the lock.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := applyMigration(ctx, db, schema); err != nil {
		return err
	}
	slog.Info("cache schema ready", slog.Int("statements", len(schema)))
	return nil
}

// applyMigration runs statements in one transaction holding the migration
// lock. The lock is released on commit or rollback.
func applyMigration(ctx context.Context, db *sql.DB, statements []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}

	if err := migrateTx(ctx, tx, statements); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back migration: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

func migrateTx(ctx context.Context, tx *sql.Tx, statements []string) error {
	if _, err := tx.ExecContext(ctx, migrationLockQuery, migrationLockID); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
