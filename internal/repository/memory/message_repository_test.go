package memory

import (
	"context"
	"testing"

	"friendclub/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRepository_OrdersByCreatedAtThenSeq(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()

	require.NoError(t, repo.Upsert(ctx, &domain.ChatMessage{ID: "late", CreatedAt: 300}, 1))
	require.NoError(t, repo.Upsert(ctx, &domain.ChatMessage{ID: "tie-b", CreatedAt: 100}, 3))
	require.NoError(t, repo.Upsert(ctx, &domain.ChatMessage{ID: "tie-a", CreatedAt: 100}, 2))

	messages, err := repo.List(ctx)
	require.NoError(t, err)
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"tie-a", "tie-b", "late"}, ids)
}

func TestMessageRepository_ReplaceKeepsSeq(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()

	require.NoError(t, repo.Upsert(ctx, &domain.ChatMessage{ID: "a", Text: "v1", CreatedAt: 1}, 1))
	require.NoError(t, repo.Upsert(ctx, &domain.ChatMessage{ID: "b", CreatedAt: 1}, 2))
	require.NoError(t, repo.Upsert(ctx, &domain.ChatMessage{ID: "a", Text: "v2", CreatedAt: 1}, 3))

	messages, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "a", messages[0].ID)
	assert.Equal(t, "v2", messages[0].Text)

	seq, err := repo.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestMessageRepository_ListReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	require.NoError(t, repo.Upsert(ctx, &domain.ChatMessage{ID: "a", Text: "original"}, 1))

	messages, err := repo.List(ctx)
	require.NoError(t, err)
	messages[0].Text = "mutated"

	again, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Text)
}

func TestMessageRepository_Prune(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, repo.Upsert(ctx, &domain.ChatMessage{ID: id, CreatedAt: int64(i)}, int64(i+1)))
	}

	removed, err := repo.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, removed)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err = repo.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestMessageRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	require.NoError(t, repo.Upsert(ctx, &domain.ChatMessage{ID: "a"}, 1))

	ok, err := repo.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
