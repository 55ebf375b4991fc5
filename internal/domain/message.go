package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMessageNotFound = errors.New("message not found")
)

// ChatMessage is the cached projection of one record in a writer's repository.
// ID equals the record key. Timestamps are epoch milliseconds; a zero
// ExpiresAt means the message never expires.
type ChatMessage struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	MediaURL     string `json:"mediaUrl,omitempty"`
	AuthorID     string `json:"authorId"`
	AuthorHandle string `json:"authorHandle,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
	CrossPostRef string `json:"crossPostRef,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

// ExpiredAt reports whether the message carries an expiration strictly before now.
func (m *ChatMessage) ExpiredAt(now time.Time) bool {
	return m.ExpiresAt != 0 && m.ExpiresAt < now.UnixMilli()
}

// Clone returns a copy that callers may hold without sharing storage.
func (m *ChatMessage) Clone() *ChatMessage {
	c := *m
	return &c
}

// MessageRepository is the storage medium behind the bounded message cache.
// Implementations must order List by created_at ascending, then by seq.
// Upsert keeps the stored seq of an existing id so a replacement keeps its
// arrival position.
type MessageRepository interface {
	Upsert(ctx context.Context, message *ChatMessage, seq int64) error
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]*ChatMessage, error)
	Count(ctx context.Context) (int, error)
	Prune(ctx context.Context, keep int) ([]string, error)
	MaxSeq(ctx context.Context) (int64, error)
	Close() error
}
