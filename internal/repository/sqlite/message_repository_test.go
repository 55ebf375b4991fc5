package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"friendclub/internal/config"
	"friendclub/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepository(t *testing.T, path string) *MessageRepository {
	t.Helper()

	db, err := config.NewSQLiteConnection(path)
	require.NoError(t, err)

	repo, err := NewMessageRepository(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func message(id string, createdAt int64) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:        id,
		Text:      "text " + id,
		AuthorID:  "did:plc:alice",
		CreatedAt: createdAt,
	}
}

func TestMessageRepository_UpsertAndList(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, ":memory:")

	require.NoError(t, repo.Upsert(ctx, message("b", 200), 1))
	require.NoError(t, repo.Upsert(ctx, message("a", 100), 2))
	require.NoError(t, repo.Upsert(ctx, message("c", 200), 3))

	messages, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{messages[0].ID, messages[1].ID, messages[2].ID})
}

func TestMessageRepository_UpsertReplacesAndKeepsSeq(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, ":memory:")

	require.NoError(t, repo.Upsert(ctx, message("x", 100), 1))
	require.NoError(t, repo.Upsert(ctx, message("y", 100), 2))

	replacement := message("x", 100)
	replacement.Text = "edited"
	replacement.ExpiresAt = 5000
	require.NoError(t, repo.Upsert(ctx, replacement, 3))

	messages, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "x", messages[0].ID)
	assert.Equal(t, "edited", messages[0].Text)
	assert.Equal(t, int64(5000), messages[0].ExpiresAt)

	seq, err := repo.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestMessageRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, ":memory:")
	require.NoError(t, repo.Upsert(ctx, message("abc123", 1), 1))

	deleted, err := repo.Delete(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMessageRepository_Prune(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, ":memory:")

	for i := 1; i <= 25; i++ {
		require.NoError(t, repo.Upsert(ctx, message(fmt.Sprintf("m%d", i), int64(i)), int64(i)))
	}

	removed, err := repo.Prune(ctx, 20)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3", "m4", "m5"}, removed)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	removed, err = repo.Prune(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestMessageRepository_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := config.NewSQLiteConnection(path)
	require.NoError(t, err)
	repo, err := NewMessageRepository(ctx, db)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, message("kept", 1), 9))
	require.NoError(t, repo.Close())

	reopened := newRepository(t, path)
	messages, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "kept", messages[0].ID)

	seq, err := reopened.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), seq)
}
