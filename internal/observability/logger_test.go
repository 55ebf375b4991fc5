package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("json_format_produces_json", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, "info", "json")

		l.Info("hello", slog.String("key", "value"))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "hello", line["msg"])
		assert.Equal(t, "value", line["key"])
	})

	t.Run("text_format_is_default", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, "info", "")

		l.Info("hello")

		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("level_filters_lower_records", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, "warn", "text")

		l.Info("hidden")
		l.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger = NewLogger(&buf, "info", "json")
	t.Cleanup(func() { logger = nil })

	t.Run("adds_session_attributes", func(t *testing.T) {
		buf.Reset()
		ctx := WithRequestID(context.Background(), "req-1")
		ctx = WithSession(ctx, "sess-1", "did:plc:alice")

		FromContext(ctx).Info("scoped")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "req-1", line["request_id"])
		assert.Equal(t, "sess-1", line["session_id"])
		assert.Equal(t, "did:plc:alice", line["did"])
	})

	t.Run("plain_context_adds_nothing", func(t *testing.T) {
		buf.Reset()
		FromContext(context.Background()).Info("bare")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.NotContains(t, line, "session_id")
		assert.NotContains(t, line, "request_id")
	})
}

func TestLogger_FallsBackToDefault(t *testing.T) {
	saved := logger
	logger = nil
	t.Cleanup(func() { logger = saved })

	assert.Equal(t, slog.Default(), Logger())
}
