// Package memory provides the default in-process message repository.
package memory

import (
	"context"
	"sort"
	"sync"

	"friendclub/internal/domain"
)

type entry struct {
	message *domain.ChatMessage
	seq     int64
}

// MessageRepository keeps messages in a map. It is lost on restart, which is
// acceptable for a cache that the firehose re-populates.
type MessageRepository struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewMessageRepository creates an empty repository.
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		entries: make(map[string]*entry),
	}
}

func (r *MessageRepository) Upsert(_ context.Context, message *domain.ChatMessage, seq int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[message.ID]; ok {
		existing.message = message.Clone()
		return nil
	}
	r.entries[message.ID] = &entry{message: message.Clone(), seq: seq}
	return nil
}

func (r *MessageRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false, nil
	}
	delete(r.entries, id)
	return true, nil
}

func (r *MessageRepository) List(_ context.Context) ([]*domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedLocked()
	messages := make([]*domain.ChatMessage, len(sorted))
	for i, e := range sorted {
		messages[i] = e.message.Clone()
	}
	return messages, nil
}

func (r *MessageRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), nil
}

// Prune removes the oldest entries until at most keep remain.
func (r *MessageRepository) Prune(_ context.Context, keep int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) <= keep {
		return nil, nil
	}

	sorted := r.sortedLocked()
	excess := len(sorted) - keep
	removed := make([]string, 0, excess)
	for _, e := range sorted[:excess] {
		delete(r.entries, e.message.ID)
		removed = append(removed, e.message.ID)
	}
	return removed, nil
}

func (r *MessageRepository) MaxSeq(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max int64
	for _, e := range r.entries {
		if e.seq > max {
			max = e.seq
		}
	}
	return max, nil
}

func (r *MessageRepository) Close() error {
	return nil
}

func (r *MessageRepository) sortedLocked() []*entry {
	sorted := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].message.CreatedAt != sorted[j].message.CreatedAt {
			return sorted[i].message.CreatedAt < sorted[j].message.CreatedAt
		}
		return sorted[i].seq < sorted[j].seq
	})
	return sorted
}
