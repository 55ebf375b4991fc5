package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"friendclub/internal/cache"
	"friendclub/internal/repository/memory"
	"friendclub/internal/testutil"
	ws "friendclub/internal/websocket"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebSocketServer(t *testing.T, allowed []string) (*httptest.Server, *ws.Hub, *cache.Cache) {
	t.Helper()
	c, err := cache.New(context.Background(), memory.NewMessageRepository(), cache.DefaultSize)
	require.NoError(t, err)

	hub := ws.NewHub(c)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(cancel)

	h := NewWebSocketHandler(hub, allowed)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	t.Cleanup(srv.Close)
	return srv, hub, c
}

func TestWebSocketHandler_SnapshotThenLiveEvents(t *testing.T) {
	srv, hub, c := newWebSocketServer(t, []string{"*"})
	require.NoError(t, c.Upsert(context.Background(), testutil.NewTestMessage(testutil.WithMessageID("old"))))

	conn := testutil.DialWS(t, srv, "/ws")

	frame := testutil.ReadFrame(t, conn, 2*time.Second)
	assert.Equal(t, "connected", frame["type"])
	messages, ok := frame["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)

	hub.BroadcastDelete("old")
	frame = testutil.ReadFrame(t, conn, 2*time.Second)
	assert.Equal(t, "delete_message", frame["type"])
	assert.Equal(t, "old", frame["messageId"])
}

func TestWebSocketHandler_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantOK  bool
	}{
		{name: "no origin header", allowed: []string{"https://fc.example.com"}, wantOK: true},
		{name: "allowed origin", allowed: []string{"https://fc.example.com"}, origin: "https://fc.example.com", wantOK: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://elsewhere.example.com", wantOK: true},
		{name: "rejected origin", allowed: []string{"https://fc.example.com"}, origin: "https://evil.example.com", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newWebSocketServer(t, tt.allowed)

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}

			if !tt.wantOK {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			defer conn.Close()
			frame := testutil.ReadFrame(t, conn, 2*time.Second)
			assert.Equal(t, "connected", frame["type"])
		})
	}
}

func TestWebSocketHandler_ClientCount(t *testing.T) {
	srv, hub, _ := newWebSocketServer(t, []string{"*"})

	conn := testutil.DialWS(t, srv, "/ws")
	testutil.ReadFrame(t, conn, 2*time.Second)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
