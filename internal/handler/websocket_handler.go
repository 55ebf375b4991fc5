package handler

import (
	"context"
	"log/slog"
	"net/http"

	"friendclub/internal/middleware"
	ws "friendclub/internal/websocket"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades viewer connections and hands them to the hub.
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler accepts browsers from allowedOrigins ("*" for any).
// Clients that send no Origin header, such as fcctl, are always accepted.
func NewWebSocketHandler(hub *ws.Hub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if middleware.OriginAllowed(allowedOrigins, origin) {
					return true
				}
				slog.Warn("websocket origin rejected", slog.String("origin", origin))
				return false
			},
		},
	}
}

// HandleConnection handles WebSocket upgrade and connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	// the request context ends when this handler returns
	client := ws.NewClient(context.WithoutCancel(r.Context()), h.hub, conn)

	if err := h.hub.Join(r.Context(), client); err != nil {
		slog.Warn("websocket join failed",
			slog.String("client", client.ID()),
			slog.String("error", err.Error()))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
