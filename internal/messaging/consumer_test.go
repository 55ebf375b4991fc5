package messaging

import (
	"context"
	"errors"
	"testing"

	"friendclub/internal/domain"
	"friendclub/internal/testutil"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCache struct {
	upserted []*domain.ChatMessage
	err      error
}

func (c *recordingCache) Upsert(_ context.Context, m *domain.ChatMessage) error {
	if c.err != nil {
		return c.err
	}
	c.upserted = append(c.upserted, m)
	return nil
}

func envelope(t *testing.T, origin string, m *domain.ChatMessage) []byte {
	t.Helper()
	body, err := json.Marshal(RelayEnvelope{Origin: origin, Message: m, Timestamp: 1})
	require.NoError(t, err)
	return body
}

func TestRelayConsumer_Handle(t *testing.T) {
	tests := []struct {
		name        string
		body        func(t *testing.T) []byte
		cacheErr    error
		wantCached  int
		wantBcasted []string
	}{
		{
			name: "peer message is cached and broadcast",
			body: func(t *testing.T) []byte {
				return envelope(t, "peer", testutil.NewTestMessage(testutil.WithMessageID("m1")))
			},
			wantCached:  1,
			wantBcasted: []string{"m1"},
		},
		{
			name: "own message is skipped",
			body: func(t *testing.T) []byte {
				return envelope(t, "self", testutil.NewTestMessage(testutil.WithMessageID("m1")))
			},
		},
		{
			name: "malformed body is dropped",
			body: func(t *testing.T) []byte { return []byte("{nope") },
		},
		{
			name: "message without id is dropped",
			body: func(t *testing.T) []byte {
				return envelope(t, "peer", &domain.ChatMessage{Text: "no id"})
			},
		},
		{
			name: "cache failure suppresses broadcast",
			body: func(t *testing.T) []byte {
				return envelope(t, "peer", testutil.NewTestMessage(testutil.WithMessageID("m1")))
			},
			cacheErr: errors.New("disk full"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &recordingCache{err: tt.cacheErr}
			fanout := &testutil.RecordingBroadcaster{}
			c := &RelayConsumer{origin: "self", cache: cache, fanout: fanout}

			c.handle(context.Background(), tt.body(t))

			assert.Len(t, cache.upserted, tt.wantCached)
			assert.ElementsMatch(t, tt.wantBcasted, fanout.CreatedIDs())
		})
	}
}
