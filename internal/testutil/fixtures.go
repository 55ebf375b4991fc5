package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"friendclub/internal/domain"
)

var idCounter atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, idCounter.Add(1))
}

// NewTestMessage creates a message with sensible defaults.
func NewTestMessage(opts ...func(*domain.ChatMessage)) *domain.ChatMessage {
	m := &domain.ChatMessage{
		ID:        nextID("rkey"),
		Text:      "hello friends",
		AuthorID:  "did:plc:alice",
		CreatedAt: time.Now().UnixMilli(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func WithMessageID(id string) func(*domain.ChatMessage) {
	return func(m *domain.ChatMessage) {
		m.ID = id
	}
}

func WithAuthor(did string) func(*domain.ChatMessage) {
	return func(m *domain.ChatMessage) {
		m.AuthorID = did
	}
}

func WithCreatedAt(ms int64) func(*domain.ChatMessage) {
	return func(m *domain.ChatMessage) {
		m.CreatedAt = ms
	}
}

func WithExpiresAt(t time.Time) func(*domain.ChatMessage) {
	return func(m *domain.ChatMessage) {
		m.ExpiresAt = t.UnixMilli()
	}
}

// NewTestSession creates a registry entry backed by a MockRepoClient.
func NewTestSession(did string) (*domain.Session, *MockRepoClient) {
	client := NewMockRepoClient(did)
	return &domain.Session{
		ID:        nextID("session-"),
		DID:       did,
		Handle:    "handle-" + did,
		CSRFToken: nextID("csrf-"),
		CreatedAt: time.Now(),
		Client:    client,
	}, client
}
