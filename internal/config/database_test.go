package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPostgresConnection_InvalidURL(t *testing.T) {
	t.Run("invalid_database_url", func(t *testing.T) {
		db, err := NewPostgresConnection("invalid://malformed")
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("empty_database_url", func(t *testing.T) {
		db, err := NewPostgresConnection("")
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestNewSQLiteConnection(t *testing.T) {
	t.Run("creates_file_and_parent_directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "chat.db")

		db, err := NewSQLiteConnection(path)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, db.Ping())
		assert.FileExists(t, path)
	})

	t.Run("in_memory", func(t *testing.T) {
		db, err := NewSQLiteConnection(":memory:")
		require.NoError(t, err)
		defer db.Close()

		var n int
		require.NoError(t, db.QueryRow("SELECT 1").Scan(&n))
		assert.Equal(t, 1, n)
	})
}
