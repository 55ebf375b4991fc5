// Package websocket implements the live fan-out to connected viewers.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"friendclub/internal/domain"
	"friendclub/internal/observability"
)

// SnapshotSize is the number of recent messages sent to a joining viewer.
const SnapshotSize = 20

// ErrHubClosed is returned by Join once the hub has shut down.
var ErrHubClosed = errors.New("hub closed")

// Store is the cache surface the hub needs: the join snapshot and the
// self-submission upsert.
type Store interface {
	Recent(ctx context.Context, limit int) ([]*domain.ChatMessage, error)
	Upsert(ctx context.Context, message *domain.ChatMessage) error
}

// Relay forwards self-submissions to peer instances.
type Relay interface {
	Publish(ctx context.Context, message *domain.ChatMessage) error
}

type outbound struct {
	data []byte
	kind string
	// echo receives the frame first; it is skipped in the general loop
	echo *Client
}

// Hub owns the set of joined viewers. All membership changes and deliveries
// happen on the Run goroutine, so a join snapshot can never interleave with
// a broadcast.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan *outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	store Store
	relay atomic.Pointer[relayHolder]

	count atomic.Int64
	now   func() time.Time
}

type relayHolder struct{ Relay }

// NewHub creates a hub reading snapshots from store.
func NewHub(store Store) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		store:      store,
		now:        time.Now,
	}
}

// SetRelay installs the cross-instance relay. It may be called while running.
func (h *Hub) SetRelay(r Relay) {
	if r == nil {
		h.relay.Store(nil)
		return
	}
	h.relay.Store(&relayHolder{r})
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()

		case client := <-h.register:
			h.join(ctx, client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Serve lets the hub run under a supervisor.
func (h *Hub) Serve(ctx context.Context) error {
	return h.Run(ctx)
}

// String names the hub in supervisor logs.
func (h *Hub) String() string {
	return "fanout-hub"
}

func (h *Hub) join(ctx context.Context, client *Client) {
	snapshotCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	recent, err := h.store.Recent(snapshotCtx, SnapshotSize)
	cancel()
	if err != nil {
		slog.Error("failed to load join snapshot",
			slog.String("client", client.id),
			slog.String("error", err.Error()))
		recent = nil
	}

	data, err := encodeConnected(recent)
	if err != nil {
		slog.Error("failed to encode join snapshot", slog.String("error", err.Error()))
		h.closeClientSend(client)
		return
	}

	// send buffer is empty on join, so this cannot block
	client.send <- data
	observability.WebSocketMessagesSent.WithLabelValues(TypeConnected).Inc()

	h.clients[client] = true
	h.count.Add(1)
	observability.WebSocketConnectionsActive.Inc()
	slog.Info("viewer joined",
		slog.String("client", client.id),
		slog.Int("snapshot", len(recent)))
}

func (h *Hub) deliver(msg *outbound) {
	if msg.echo != nil && h.clients[msg.echo] {
		h.trySend(msg.echo, msg)
	}
	for client := range h.clients {
		if client == msg.echo {
			continue
		}
		h.trySend(client, msg)
	}
}

func (h *Hub) trySend(client *Client, msg *outbound) {
	select {
	case client.send <- msg.data:
		observability.WebSocketMessagesSent.WithLabelValues(msg.kind).Inc()
	default:
		// slow viewer: drop it rather than stall everyone
		observability.WebSocketSlowConsumersDropped.Inc()
		slog.Warn("dropping slow viewer", slog.String("client", client.id))
		h.removeClient(client)
	}
}

// unregisterClient safely removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client]; ok {
		h.removeClient(client)
		slog.Info("viewer left", slog.String("client", client.id))
	}
}

func (h *Hub) removeClient(client *Client) {
	delete(h.clients, client)
	h.closeClientSend(client)
	h.count.Add(-1)
	observability.WebSocketConnectionsActive.Dec()
}

// closeClientSend closes a client's send channel exactly once.
func (h *Hub) closeClientSend(client *Client) {
	client.closeSend.Do(func() {
		close(client.send)
	})
}

func (h *Hub) shutdown() {
	close(h.done)

	for client := range h.clients {
		h.closeClientSend(client)
	}
	observability.WebSocketConnectionsActive.Sub(float64(len(h.clients)))
	h.count.Store(0)
	h.clients = make(map[*Client]bool)

	slog.Info("hub shutdown complete")
}

// Join sends the recent-messages snapshot to client and then subscribes it.
func (h *Hub) Join(ctx context.Context, client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave unsubscribes client. It is a no-op once the hub has stopped.
func (h *Hub) Leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastCreate delivers a new_message frame to every viewer.
func (h *Hub) BroadcastCreate(message *domain.ChatMessage) {
	data, err := encodeNewMessage(message)
	if err != nil {
		slog.Error("failed to encode message", slog.String("error", err.Error()))
		return
	}
	h.enqueue(&outbound{data: data, kind: TypeNewMessage})
}

// BroadcastDelete delivers a delete_message frame to every viewer.
func (h *Hub) BroadcastDelete(id string) {
	data, err := encodeDelete(id)
	if err != nil {
		slog.Error("failed to encode delete", slog.String("error", err.Error()))
		return
	}
	h.enqueue(&outbound{data: data, kind: TypeDeleteMessage})
}

// ClientCount returns the number of joined viewers.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) enqueue(msg *outbound) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// submit handles a viewer's own chat frame: cache first, then echo to the
// sender and fan out to everyone else, then relay to peers.
func (h *Hub) submit(ctx context.Context, from *Client, in *ClientMessage) error {
	message := &domain.ChatMessage{
		ID:           newMessageID(),
		Text:         in.Text,
		MediaURL:     in.Gif,
		AuthorID:     in.UserID,
		AuthorHandle: in.UserHandle,
		CreatedAt:    h.now().UnixMilli(),
	}
	if message.AuthorID == "" {
		message.AuthorID = "anonymous"
	}

	if err := h.store.Upsert(ctx, message); err != nil {
		return err
	}

	data, err := encodeNewMessage(message)
	if err != nil {
		return err
	}
	h.enqueue(&outbound{data: data, kind: TypeNewMessage, echo: from})

	if holder := h.relay.Load(); holder != nil {
		if err := holder.Publish(ctx, message); err != nil {
			slog.Warn("failed to relay message",
				slog.String("id", message.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
