// Package cache implements the bounded "recent messages" projection.
//
// The cache is a soft view of remote repositories: it may be rebuilt empty
// at any time and is re-populated from the event stream. It enforces three
// invariants on top of any domain.MessageRepository:
//
//   - one entry per id (upsert replaces in place),
//   - never more than Size entries after a mutation returns,
//   - expired entries are hidden from Recent even while still stored.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"friendclub/internal/domain"
	"friendclub/internal/observability"
)

// DefaultSize is the number of messages kept by default.
const DefaultSize = 20

// Cache serialises every mutation behind one mutex so eviction observes a
// consistent count.
type Cache struct {
	repo domain.MessageRepository
	size int
	now  func() time.Time

	mu  sync.Mutex
	seq int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the clock used for expiration checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache over repo holding at most size entries. Existing rows
// (a persistent adapter reopened after restart) are pruned to size.
func New(ctx context.Context, repo domain.MessageRepository, size int, opts ...Option) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}

	c := &Cache{
		repo: repo,
		size: size,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	seq, err := repo.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache sequence: %w", err)
	}
	c.seq = seq

	if _, err := repo.Prune(ctx, size); err != nil {
		return nil, fmt.Errorf("failed to prune cache: %w", err)
	}
	c.refreshGauge(ctx)

	return c, nil
}

// Size returns the configured capacity.
func (c *Cache) Size() int {
	return c.size
}

// Upsert inserts or replaces message by id and evicts the oldest entries
// until the cache is back within capacity. Expired entries count toward
// capacity.
func (c *Cache) Upsert(ctx context.Context, message *domain.ChatMessage) error {
	if message == nil || message.ID == "" {
		return domain.ErrInvalidInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.findLocked(ctx, message.ID)
	if err != nil {
		return err
	}

	c.seq++
	if err := c.repo.Upsert(ctx, message.Clone(), c.seq); err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}

	evicted, err := c.repo.Prune(ctx, c.size)
	if err != nil {
		// undo so the count never exceeds size; replacements keep their seq
		if existing == nil {
			if _, derr := c.repo.Delete(ctx, message.ID); derr != nil {
				slog.Error("failed to roll back upsert",
					slog.String("id", message.ID),
					slog.String("error", derr.Error()))
			}
		} else if rerr := c.repo.Upsert(ctx, existing, c.seq); rerr != nil {
			slog.Error("failed to roll back replacement",
				slog.String("id", message.ID),
				slog.String("error", rerr.Error()))
		}
		c.refreshGauge(ctx)
		return fmt.Errorf("failed to evict messages: %w", err)
	}
	if len(evicted) > 0 {
		observability.CacheEvictionsTotal.Add(float64(len(evicted)))
		slog.Debug("evicted cached messages",
			slog.Int("count", len(evicted)),
			slog.Any("ids", evicted))
	}

	c.refreshGauge(ctx)
	return nil
}

// Delete removes id. Deleting a missing id is a no-op.
func (c *Cache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	c.refreshGauge(ctx)
	return nil
}

// Get returns the stored entry for id, expired or not, or
// domain.ErrMessageNotFound.
func (c *Cache) Get(ctx context.Context, id string) (*domain.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.findLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrMessageNotFound
	}
	return m, nil
}

// Recent returns up to limit of the newest live entries, oldest first.
func (c *Cache) Recent(ctx context.Context, limit int) ([]*domain.ChatMessage, error) {
	all, err := c.list(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	live := make([]*domain.ChatMessage, 0, len(all))
	for _, m := range all {
		if !m.ExpiredAt(now) {
			live = append(live, m)
		}
	}

	if limit >= 0 && len(live) > limit {
		live = live[len(live)-limit:]
	}
	return live, nil
}

// All returns every stored entry regardless of expiration, oldest first.
// It backs the export endpoint only.
func (c *Cache) All(ctx context.Context) ([]*domain.ChatMessage, error) {
	return c.list(ctx)
}

// Expired returns the stored entries whose expiration has passed.
func (c *Cache) Expired(ctx context.Context) ([]*domain.ChatMessage, error) {
	all, err := c.list(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	expired := make([]*domain.ChatMessage, 0)
	for _, m := range all {
		if m.ExpiredAt(now) {
			expired = append(expired, m)
		}
	}
	return expired, nil
}

// Count returns the number of stored entries, expired ones included.
func (c *Cache) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (c *Cache) list(ctx context.Context) ([]*domain.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages, err := c.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// findLocked returns the entry for id or nil. mu must be held.
func (c *Cache) findLocked(ctx context.Context, id string) (*domain.ChatMessage, error) {
	messages, err := c.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	for _, m := range messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

// refreshGauge must be called with mu held.
func (c *Cache) refreshGauge(ctx context.Context) {
	n, err := c.repo.Count(ctx)
	if err != nil {
		return
	}
	observability.CacheEntries.Set(float64(n))
}
